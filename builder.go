package keypager

import (
	"fmt"

	"github.com/samber/lo"
)

// BuildPredicate expands a boundary into the filter selecting the rows
// strictly past it in the order of normalized orderings.
//
// For columns C1..Cn with boundary values V1..Vn and per-column strict
// operators O1..On (see Direction.ForOperator) the result is:
//
//	(C1 O1 V1) OR (C1 = V1 AND C2 O2 V2) OR ... OR (C1 = V1 AND ... AND Cn On Vn)
//
// Cn is the tie-breaker, so the last disjunct always resolves ties. A
// single-column ordering yields the single comparison (C1 O1 V1). An empty
// boundary yields the empty, always true, predicate.
//
// The orderings must already be normalized; BuildPredicate fails with
// ErrSortTieBreakerMissing instead of fixing them.
func BuildPredicate(orderings Orderings, tieBreaker string, boundary []Value, pd PageDirection) (Predicate, error) {
	if tieBreaker == "" {
		tieBreaker = DefaultTieBreaker
	}

	if err := orderings.checkNormalized(tieBreaker); err != nil {
		return nil, err
	}

	if len(boundary) == 0 {
		return nil, nil
	}

	cursor := Cursor{values: boundary}
	if err := cursor.validate(orderings); err != nil {
		return nil, err
	}

	conditions := lo.Map(orderings, func(ordering OrderBy, i int) Condition {
		return Condition{
			Column:   ordering.Column,
			Operator: ordering.Direction.ForOperator(pd),
			Value:    boundary[i],
		}
	})

	if len(conditions) == 1 {
		return Predicate{{conditions[0]}}, nil
	}

	ret := make(Predicate, 0, len(conditions))
	for i := range conditions {
		equalities := lo.Map(conditions[:i], func(condition Condition, _ int) Condition {
			return condition.withEquality()
		})

		conjunction := make(Conjunction, 0, i+1)
		conjunction = append(conjunction, equalities...)
		conjunction = append(conjunction, conditions[i])

		ret = append(ret, conjunction)
	}

	return ret, nil
}

func (c Condition) withEquality() Condition {
	return Condition{
		Column:   c.Column,
		Operator: OperatorEQ,
		Value:    c.Value,
	}
}

// BuildPredicateFromToken decodes token and builds the predicate for it.
func BuildPredicateFromToken(orderings Orderings, tieBreaker string, token string, pd PageDirection) (Predicate, error) {
	if err := orderings.checkNormalized(lo.Ternary(tieBreaker == "", DefaultTieBreaker, tieBreaker)); err != nil {
		return nil, err
	}

	values, err := DecodeN(token, len(orderings))
	if err != nil {
		return nil, fmt.Errorf("cannot build predicate: %w", err)
	}

	return BuildPredicate(orderings, tieBreaker, values, pd)
}
