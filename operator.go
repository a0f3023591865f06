package keypager

import "fmt"

// Operator defines a comparison operator for filtering by column.
// Used in pagination filtering conditions.
type Operator string

func (o Operator) Valid() bool {
	return o == OperatorLT || o == OperatorGT || o == OperatorEQ
}

const (
	OperatorGT Operator = ">"
	OperatorLT Operator = "<"
	// OperatorEQ appears only in the leading conjuncts of a predicate
	// disjunct, never as the boundary comparison itself.
	OperatorEQ Operator = "="
)

// PageDirection tells which side of the cursor a page is read from.
type PageDirection int

const (
	// Forward reads the rows after the cursor. A request carrying a "next"
	// token, or no token at all, is Forward.
	Forward PageDirection = iota
	// Backward reads the rows before the cursor ("previous" token).
	Backward
)

func (d PageDirection) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("PageDirection(%d)", int(d))
	}
}
