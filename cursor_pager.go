package keypager

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RawCursorPager is intended for API payloads. For proper code generation, inline it:
//
//	type MyFilter struct {
//	    Paging RawCursorPager `json:",inline"`
//	}
type RawCursorPager struct {
	// Limit - maximum number of records to return in the response. Zero
	// requests every record when the Policy allows it.
	Limit int `json:"limit"`
	// Next - token obtained from PageResult.NextCursor.
	Next string `json:"next"`
	// Previous - token obtained from PageResult.PreviousCursor. It takes
	// precedence over Next when both are set.
	Previous string `json:"previous"`
}

// Decode converts RawCursorPager into *CursorPager using DefaultPolicy.
func (p RawCursorPager) Decode(orderBy ...OrderBy) (*CursorPager, error) {
	return p.DecodeWithPolicy(DefaultPolicy(), orderBy...)
}

// DecodeWithPolicy converts RawCursorPager into *CursorPager governed by
// policy. It fails with ErrCorruptCursor on a malformed token.
func (p RawCursorPager) DecodeWithPolicy(policy Policy, orderBy ...OrderBy) (*CursorPager, error) {
	pager, err := DecodeCursorPager(p.Limit, p.Next, p.Previous, orderBy...)
	if err != nil {
		return nil, err
	}

	return pager.WithPolicy(policy), nil
}

// CursorPager orchestrates one keyset page read: it normalizes the
// ordering, turns the cursor into a predicate, resolves the limit and
// finally turns the fetched window into a PageResult.
//
// A CursorPager holds no shared state and is not meant to be reused across
// requests.
type CursorPager struct {
	limit     int
	cursor    *Cursor
	direction PageDirection
	sort      Orderings
	policy    Policy
	log       *zap.Logger
}

func NewCursorPager() *CursorPager {
	return &CursorPager{
		policy: DefaultPolicy(),
		log:    zap.NewNop(),
	}
}

// DecodeCursorPager decodes the request tokens into *CursorPager. A
// previous token makes the pager read Backward; otherwise it reads Forward.
func DecodeCursorPager(limit int, next, previous string, orderBy ...OrderBy) (*CursorPager, error) {
	token, direction := next, Forward
	if previous != "" {
		token, direction = previous, Backward
	}

	cursor, err := DecodeCursor(token)
	if err != nil {
		return nil, err
	}

	return NewCursorPager().
		WithCursor(cursor, direction).
		WithSubstitutedSort(orderBy...).
		WithLimit(limit), nil
}

// WithPolicy sets limit resolution, counting and tie-breaker rules.
func (c *CursorPager) WithPolicy(policy Policy) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	c.policy = policy

	return c
}

// WithTieBreaker overrides the unique column closing the ordering.
func (c *CursorPager) WithTieBreaker(column string) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	c.policy.TieBreaker = column

	return c
}

// WithLogger sets the logger receiving pagination failures. Integration
// errors are logged at error level, client input errors at debug level.
func (c *CursorPager) WithLogger(log *zap.Logger) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	if log == nil {
		log = zap.NewNop()
	}
	c.log = log

	return c
}

// WithUnlimited asks for every record. It is honoured only when the policy
// allows unlimited results, otherwise the default limit applies.
func (c *CursorPager) WithUnlimited() *CursorPager {
	return c.WithLimit(NoLimit)
}

// WithLimit sets the requested number of records. The limit is resolved
// against the policy when the page is built (see Policy.ResolveLimit).
func (c *CursorPager) WithLimit(limit int) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	c.limit = limit

	return c
}

// WithCursor sets the cursor and the direction it is read in.
func (c *CursorPager) WithCursor(cursor *Cursor, direction PageDirection) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	c.cursor = cursor
	c.direction = direction

	return c
}

// WithNext continues after cursor.
func (c *CursorPager) WithNext(cursor *Cursor) *CursorPager {
	return c.WithCursor(cursor, Forward)
}

// WithPrevious continues before cursor.
func (c *CursorPager) WithPrevious(cursor *Cursor) *CursorPager {
	return c.WithCursor(cursor, Backward)
}

// WithSubstitutedSort resets previous orderings and applies the provided ones.
func (c *CursorPager) WithSubstitutedSort(orderBy ...OrderBy) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	c.sort = nil

	return c.WithSort(orderBy...)
}

// WithSort appends sort orderings without overwriting existing ones.
// Order is preserved as if calling:
//
//	OrderBy(o1).ThenBy(o2).ThenBy(o3)...
func (c *CursorPager) WithSort(orderBy ...OrderBy) *CursorPager {
	if c == nil {
		c = NewCursorPager()
	}

	for _, o := range orderBy {
		idx := slices.IndexFunc(c.sort, func(processed OrderBy) bool {
			return processed.Column == o.Column
		})

		// Remove previous occurrence (avoid duplication).
		if idx != -1 {
			c.sort = slices.Delete(c.sort, idx, idx+1)
		}

		c.sort = append(c.sort, o)
	}

	return c
}

// Request validates the pager and returns the page request it describes:
// normalized orderings, resolved limit, cursor and direction.
func (c *CursorPager) Request() (PageRequest, error) {
	if c == nil {
		return PageRequest{}, fmt.Errorf("cursor pager is nil")
	}

	sort, err := Normalize(c.sort, c.TieBreaker())
	if err != nil {
		return PageRequest{}, c.fail(err)
	}

	if err = c.cursor.validate(sort); err != nil {
		return PageRequest{}, c.fail(err)
	}

	limit, _ := c.policy.ResolveLimit(c.limit)

	return PageRequest{
		Sort:      sort,
		Limit:     limit,
		Cursor:    c.cursor,
		Direction: c.direction,
	}, nil
}

// Sort returns the normalized orderings.
func (c *CursorPager) Sort() (Orderings, error) {
	req, err := c.Request()
	if err != nil {
		return nil, err
	}

	return req.Sort, nil
}

// EffectiveSort returns the orderings the store must execute. They differ
// from Sort for Backward reads.
func (c *CursorPager) EffectiveSort() (Orderings, error) {
	req, err := c.Request()
	if err != nil {
		return nil, err
	}

	return req.EffectiveSort(), nil
}

// Predicate returns the filter selecting the rows past the cursor. It is
// empty when there is no cursor.
func (c *CursorPager) Predicate() (Predicate, error) {
	_, predicate, err := c.plan()

	return predicate, err
}

// plan returns the request together with its cursor predicate.
func (c *CursorPager) plan() (PageRequest, Predicate, error) {
	req, err := c.Request()
	if err != nil {
		return PageRequest{}, nil, err
	}

	predicate, err := BuildPredicate(req.Sort, c.TieBreaker(), req.Cursor.Values(), req.Direction)
	if err != nil {
		return PageRequest{}, nil, c.fail(err)
	}

	return req, predicate, nil
}

// Paginate applies the effective ordering, the cursor predicate and the
// dataset limit to a gorm query. Returns an error if pagination cannot be
// applied.
func (c *CursorPager) Paginate(db *gorm.DB) (*gorm.DB, error) {
	req, predicate, err := c.plan()
	if err != nil {
		return nil, fmt.Errorf("cannot paginate: %w", err)
	}

	db = req.EffectiveSort().Apply(db)
	if exp := predicate.toGORMExpression(); exp != nil {
		db = db.Clauses(exp)
	}

	// Fetch one extra record to determine whether another page exists.
	if limit := req.DatasetLimit(); limit != NoLimit {
		db = db.Limit(limit)
	}

	return db, nil
}

// TieBreaker returns the unique column closing the ordering.
func (c *CursorPager) TieBreaker() string {
	if c == nil {
		return DefaultTieBreaker
	}

	return c.policy.tieBreaker()
}

// GetPolicy returns the policy as it is stored in CursorPager.
func (c *CursorPager) GetPolicy() Policy {
	if c == nil {
		return DefaultPolicy()
	}

	return c.policy
}

// IsUnlimited returns true if the resolved limit is NoLimit.
func (c *CursorPager) IsUnlimited() bool {
	if c == nil {
		return false
	}

	_, unlimited := c.policy.ResolveLimit(c.limit)

	return unlimited
}

// GetLimit returns the limit resolved against the policy. NoLimit means
// no limit.
func (c *CursorPager) GetLimit() int {
	if c == nil {
		return 0
	}

	limit, _ := c.policy.ResolveLimit(c.limit)

	return limit
}

// GetDatasetLimit returns the number of rows to fetch:
//   - GetLimit() + 1 when limited, the extra row detects the next page;
//   - NoLimit when unlimited.
func (c *CursorPager) GetDatasetLimit() int {
	if c.IsUnlimited() {
		return NoLimit
	}

	return c.GetLimit() + 1
}

// GetCursor returns the cursor stored in CursorPager as-is.
func (c *CursorPager) GetCursor() *Cursor {
	if c == nil {
		return nil
	}

	return c.cursor
}

// GetDirection returns the direction the page is read in.
func (c *CursorPager) GetDirection() PageDirection {
	if c == nil {
		return Forward
	}

	return c.direction
}

func (c *CursorPager) logger() *zap.Logger {
	if c == nil || c.log == nil {
		return zap.NewNop()
	}

	return c.log
}

// fail logs err at a level matching its cause and returns it unchanged.
func (c *CursorPager) fail(err error) error {
	fields := []zap.Field{
		zap.Error(err),
		zap.Strings("sort", c.sort.Columns()),
		zap.Stringer("direction", c.direction),
	}

	if isIntegrationError(err) {
		c.logger().Error("pagination integration error", fields...)
	} else {
		c.logger().Debug("pagination request rejected", fields...)
	}

	return err
}

// NextPage trims the fetched window and builds the page with its cursors.
// rows must have been fetched using the pager (Paginate, FindOptions or
// Pipeline).
func NextPage[T any](pager *CursorPager, rows []T, extractor Extractor[T], totalCount *int64) (*PageResult[T], error) {
	req, err := pager.Request()
	if err != nil {
		return nil, fmt.Errorf("cannot build page: %w", err)
	}

	return BuildPage(rows, req, extractor, totalCount)
}
