package keypager

const (
	// NoLimit requests every matching record. It is honoured only when the
	// Policy allows unlimited results.
	NoLimit      = 0
	MaxLimit     = 100
	DefaultLimit = 10

	// DefaultTieBreaker is the unique column appended to every ordering.
	DefaultTieBreaker = "_id"
)

func IsNormalizedLimitMax(limit int, maxLimit int) (int, bool) {
	if limit <= 0 {
		return DefaultLimit, false
	} else if limit > maxLimit {
		return maxLimit, false
	}

	return limit, true
}

func NormalizeLimitMax(limit int, maxLimit int) int {
	ret, _ := IsNormalizedLimitMax(limit, maxLimit)
	return ret
}

func NormalizeLimit(limit int) int {
	return NormalizeLimitMax(limit, MaxLimit)
}

// Policy configures how a CursorPager treats client supplied limits and
// whether total counts are computed. The zero value falls back to the
// package defaults for every field except AllowUnlimited and SkipTotalCount.
type Policy struct {
	// DefaultLimit is used for negative limits and for NoLimit when
	// unlimited results are not allowed.
	DefaultLimit int `json:"defaultLimit" yaml:"defaultLimit" mapstructure:"default_limit"`
	// MaxLimit clamps larger limits.
	MaxLimit int `json:"maxLimit" yaml:"maxLimit" mapstructure:"max_limit"`
	// AllowUnlimited lets NoLimit return every matching record.
	AllowUnlimited bool `json:"allowUnlimited" yaml:"allowUnlimited" mapstructure:"allow_unlimited"`
	// SkipTotalCount disables the total count query in FindPaged and
	// AggregatePaged.
	SkipTotalCount bool `json:"skipTotalCount" yaml:"skipTotalCount" mapstructure:"skip_total_count"`
	// TieBreaker is the unique column closing every ordering.
	TieBreaker string `json:"tieBreaker" yaml:"tieBreaker" mapstructure:"tie_breaker"`
}

// DefaultPolicy returns the package defaults: default limit 10, unlimited results allowed, totals counted, "_id" as
// the tie-breaker.
func DefaultPolicy() Policy {
	return Policy{
		DefaultLimit:   DefaultLimit,
		MaxLimit:       MaxLimit,
		AllowUnlimited: true,
		TieBreaker:     DefaultTieBreaker,
	}
}

func (p Policy) defaultLimit() int {
	if p.DefaultLimit <= 0 {
		return DefaultLimit
	}

	return p.DefaultLimit
}

func (p Policy) maxLimit() int {
	if p.MaxLimit <= 0 {
		return MaxLimit
	}

	return p.MaxLimit
}

func (p Policy) tieBreaker() string {
	if p.TieBreaker == "" {
		return DefaultTieBreaker
	}

	return p.TieBreaker
}

// ResolveLimit applies the policy to a requested limit:
//   - negative → DefaultLimit;
//   - NoLimit → unlimited if AllowUnlimited, DefaultLimit otherwise;
//   - above MaxLimit → MaxLimit.
//
// The second return value is true when the result is unlimited, in which
// case the returned limit is NoLimit.
func (p Policy) ResolveLimit(limit int) (int, bool) {
	if limit == NoLimit && p.AllowUnlimited {
		return NoLimit, true
	}

	if limit <= 0 {
		return p.defaultLimit(), false
	}

	return NormalizeLimitMax(limit, p.maxLimit()), false
}
