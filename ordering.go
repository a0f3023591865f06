package keypager

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Direction defines the sort direction for the requested dataset.
type Direction string

const (
	DirectionASC  Direction = "ASC"
	DirectionDESC Direction = "DESC"
	// DirectionScore orders by a computed relevance score (e.g. a text search
	// score). It always sorts descending and its boundary comparison is
	// always "<", whichever way the page is read.
	DirectionScore Direction = "SCORE"
)

func (o Direction) Valid() bool {
	return o == DirectionASC || o == DirectionDESC || o == DirectionScore
}

// ForOperator returns the strict comparison selecting rows past a boundary
// when reading a page in the given direction.
func (o Direction) ForOperator(pd PageDirection) Operator {
	switch o {
	case DirectionASC:
		return lo.Ternary(pd == Backward, OperatorLT, OperatorGT)
	case DirectionDESC:
		return lo.Ternary(pd == Backward, OperatorGT, OperatorLT)
	case DirectionScore:
		return OperatorLT
	default:
		panic(fmt.Errorf("cannot map direction '%s' to operator", o))
	}
}

// Inverted swaps ASC and DESC. DirectionScore is returned unchanged.
func (o Direction) Inverted() Direction {
	switch o {
	case DirectionASC:
		return DirectionDESC
	case DirectionDESC:
		return DirectionASC
	default:
		return o
	}
}

type (
	Orderings []OrderBy
	OrderBy   struct {
		Column    string
		Direction Direction
	}

	ColumnAlias = string

	// ColumnMapping maps external column aliases to fully qualified column names.
	// Use it when bare column names could cause an "ambiguous column name" error.
	// Key is an external alias, value is an internal column name.
	ColumnMapping = map[ColumnAlias]string
)

var _availableColumnNameSymbols = append([]rune("_.'`\""), lo.AlphanumericCharset...)

func (o OrderBy) validate() error {
	if !o.Direction.Valid() {
		return fmt.Errorf("%w: invalid ordering direction '%s'", ErrInvalidSortSpec, o.Direction)
	}

	if o.Column == "" {
		return fmt.Errorf("%w: empty ordering column name", ErrInvalidSortSpec)
	}

	// Guard against injection by restricting allowed characters in column names.
	if !lo.Every(_availableColumnNameSymbols, []rune(o.Column)) {
		return fmt.Errorf("%w: ordering column name contains forbidden symbols '%s'", ErrInvalidSortSpec, o.Column)
	}

	return nil
}

// Normalize canonicalizes orderings into a strict total order closed by the
// tie-breaker column:
//   - a missing tie-breaker is appended ascending;
//   - a tie-breaker found elsewhere is moved to the end, keeping its
//     direction and the relative order of the remaining columns;
//   - empty orderings become [{tieBreaker ASC}].
//
// An empty tieBreaker means DefaultTieBreaker. Normalize is idempotent.
func Normalize(orderings Orderings, tieBreaker string) (Orderings, error) {
	if tieBreaker == "" {
		tieBreaker = DefaultTieBreaker
	}

	ret := make(Orderings, 0, len(orderings)+1)
	tie := OrderBy{Column: tieBreaker, Direction: DirectionASC}
	seen := make(map[string]struct{}, len(orderings))

	for _, ordering := range orderings {
		if err := ordering.validate(); err != nil {
			return nil, err
		}

		if _, ok := seen[ordering.Column]; ok {
			return nil, fmt.Errorf("%w: column '%s' is listed more than once", ErrInvalidSortSpec, ordering.Column)
		}
		seen[ordering.Column] = struct{}{}

		if ordering.Column != tieBreaker {
			ret = append(ret, ordering)
			continue
		}

		if ordering.Direction == DirectionScore {
			return nil, fmt.Errorf("%w: tie-breaker '%s' cannot be ordered by score", ErrInvalidSortSpec, tieBreaker)
		}
		tie = ordering
	}

	return append(ret, tie), nil
}

// checkNormalized verifies the precondition of BuildPredicate without
// fixing anything.
func (o Orderings) checkNormalized(tieBreaker string) error {
	if len(o) == 0 {
		return fmt.Errorf("%w: empty ordering list", ErrSortTieBreakerMissing)
	}

	for i, ordering := range o {
		if err := ordering.validate(); err != nil {
			return err
		}

		if ordering.Column == tieBreaker && i != len(o)-1 {
			return fmt.Errorf("%w: '%s' must be the last ordering column", ErrSortTieBreakerMissing, tieBreaker)
		}
	}

	if last := o[len(o)-1]; last.Column != tieBreaker {
		return fmt.Errorf("%w: '%s' is not the last ordering column", ErrSortTieBreakerMissing, tieBreaker)
	}

	return nil
}

// Effective returns the orderings the store must execute to read a page in
// the given direction. Backward pages scan from the boundary outwards, so
// ASC and DESC are swapped; score columns keep sorting descending.
func (o Orderings) Effective(pd PageDirection) Orderings {
	if pd != Backward {
		return o
	}

	return lo.Map(o, func(ordering OrderBy, _ int) OrderBy {
		return OrderBy{Column: ordering.Column, Direction: ordering.Direction.Inverted()}
	})
}

// Columns returns ordering column names in order.
func (o Orderings) Columns() []string {
	return lo.Map(o, func(ordering OrderBy, _ int) string { return ordering.Column })
}

// ToSQLSlice converts Orderings to a slice of strings in the form
// "<order_column> <order_direction>" suitable for SQL query builders.
// Score columns are rendered as DESC.
//
// Example: for Orderings: [{"a", "ASC"}, {"b", "DESC"}] returns ["a ASC", "b DESC"].
func (o Orderings) ToSQLSlice() []string {
	ret := make([]string, 0, len(o))
	for _, ordering := range o {
		direction := lo.Ternary(ordering.Direction == DirectionScore, DirectionDESC, ordering.Direction)
		ret = append(ret, fmt.Sprintf("%s %s", ordering.Column, direction))
	}

	return ret
}

// ToSQL converts Orderings to a single string
// "<order_column_1> <order_direction_1>, <order_column_2> <order_direction_2>"
// suitable for embedding into an SQL query.
// Example: for [{"a", "ASC"}, {"b", "DESC"}] returns "a ASC, b DESC".
//
// Usage:
//
//	query := fmt.Sprintf("SELECT * FROM table ORDER BY %s", orderings.ToSQL())
func (o Orderings) ToSQL() string {
	return strings.Join(o.ToSQLSlice(), ", ")
}

// Apply applies the ordering to a gorm query.
func (o Orderings) Apply(db *gorm.DB) *gorm.DB {
	return db.Order(o.ToSQL())
}

// ParseSort builds Orderings from a list of strings in the format
// "column asc|desc|score". Column aliases are resolved via ColumnMapping.
// Returns an error if an alias is not found in the mapping.
func ParseSort(stringsOrderings []string, columnMapping ColumnMapping) (Orderings, error) {
	ret := make([]OrderBy, 0, len(stringsOrderings))
	aliases := lo.Keys(columnMapping)

	for _, stringOrdering := range stringsOrderings {
		cutStringOrdering := strings.Fields(stringOrdering)
		if len(cutStringOrdering) != 2 {
			return nil, fmt.Errorf("%w: invalid ordering string format '%s'", ErrInvalidSortSpec, stringOrdering)
		}

		columnAlias := cutStringOrdering[0]
		direction := Direction(strings.ToUpper(cutStringOrdering[1]))
		if !direction.Valid() {
			return nil, fmt.Errorf("%w: invalid ordering direction '%s'", ErrInvalidSortSpec, cutStringOrdering[1])
		}

		columnName := columnMapping[columnAlias]
		if columnName == "" {
			return nil, fmt.Errorf("%w: invalid column alias. closest: '%s'", ErrInvalidSortSpec, closestAlias(columnAlias, aliases))
		}

		ret = append(ret, OrderBy{
			Column:    columnName,
			Direction: direction,
		})
	}

	return ret, nil
}

func closestAlias(input ColumnAlias, dataSet []ColumnAlias) ColumnAlias {
	minDist := math.MaxInt
	closest := ""

	for _, dataSetAlias := range dataSet {
		dist := levenshtein([]rune(dataSetAlias), []rune(input))
		if dist < minDist || (dist == minDist && dataSetAlias < closest) {
			minDist = dist
			closest = dataSetAlias
		}
	}

	return closest
}
