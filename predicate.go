package keypager

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm/clause"
)

type (
	// Condition is the comparison Operator(Column, Value).
	Condition struct {
		Column   string
		Operator Operator
		Value    Value
	}

	// Conjunction is a list of conditions joined by AND.
	Conjunction []Condition

	// Predicate is a logical expression in disjunctive normal form (DNF).
	// Each conjunction is joined by OR, and each conjunction consists of a
	// list of conditions joined by AND.
	//
	// Thus:
	//
	//	DNF = X1 OR X2 ... OR Xn, where Xi = Ai1 AND Ai2 ... AND Aim.
	//	DNF = (A11 AND A12 AND A13) OR (A21 AND A22 AND A23), for n=2, m=3.
	//
	// The empty Predicate is always true.
	Predicate []Conjunction
)

// IsEmpty reports whether the predicate matches every row.
func (p Predicate) IsEmpty() bool {
	for _, conjunction := range p {
		if len(conjunction) > 0 {
			return false
		}
	}

	return true
}

// toGORMExpression converts a condition of the form Operator(Column, Value)
// into an SQL condition "Column Operator ?" represented as a clause.Expression.
//
// Example:
//
//	Condition = { Column: "id", Operator: ">", Value: Int(123)}
//
// Result:
//
//	"id > 123"
func (c Condition) toGORMExpression() clause.Expression {
	sqlClause, arg := c.toSQLClause()

	return clause.Expr{
		SQL:  sqlClause,
		Vars: []any{arg},
	}
}

// toSQLClause converts a condition to an SQL condition of the form
// "Column Operator ?" with the corresponding placeholder value.
//
// Example:
//
//	Condition = { Column: "id", Operator: ">", Value: Int(123)}
//
// Result:
//
//	("id > ?", int64(123))
func (c Condition) toSQLClause() (string, driver.Value) {
	return fmt.Sprintf("%s %s ?", c.Column, c.Operator), sqlValue(c.Value)
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Column, c.Operator, c.Value)
}

// sqlValue maps a Value onto a database/sql argument. Identifiers without
// a native SQL form are passed as their canonical strings.
func sqlValue(v Value) driver.Value {
	switch native := v.Interface().(type) {
	case primitive.ObjectID:
		return native.Hex()
	case uuid.UUID:
		return native.String()
	default:
		return native
	}
}

// toGORMExpression converts a conjunction (K1, K2, K3) into a gorm expression
// "K1 AND K2 AND K3" where each Ki is expanded via Condition.toGORMExpression.
func (c Conjunction) toGORMExpression() clause.Expression {
	andExpressions := make([]clause.Expression, 0, len(c))
	for _, condition := range c {
		andExpressions = append(andExpressions, condition.toGORMExpression())
	}

	if len(andExpressions) == 1 {
		return andExpressions[0]
	} else if len(andExpressions) > 1 {
		return clause.And(andExpressions...)
	}

	return nil
}

// toSQLClause converts a conjunction (K1, K2, K3) into an SQL condition
// "(K1 AND K2 AND K3)" with corresponding values.
//
// Example:
//
//	Conjunction = {
//		{Column: "id", Operator: ">", Value: Int(5)},
//		{Column: "name", Operator: "<", Value: Text("abc")}
//	}
//
// Result:
//
//	("(id > ? AND name < ?)", [5, "abc"])
func (c Conjunction) toSQLClause() (string, []driver.Value) {
	andClauses := make([]string, 0, len(c))
	andValues := make([]driver.Value, 0, len(c))

	for _, condition := range c {
		andClause, andValue := condition.toSQLClause()
		andClauses = append(andClauses, andClause)
		andValues = append(andValues, andValue)
	}

	if len(andClauses) >= 1 {
		return fmt.Sprintf("(%s)", strings.Join(andClauses, " AND ")), andValues
	}

	return "", nil
}

// Eval reports whether a row satisfies every condition. Missing columns
// compare as null. A condition with an unknown operator matches nothing.
func (c Conjunction) Eval(lookup func(column string) (Value, bool)) bool {
	for _, condition := range c {
		if !condition.Operator.Valid() {
			return false
		}

		v, ok := lookup(condition.Column)
		if !ok {
			v = Null()
		}

		res := v.Compare(condition.Value)
		switch condition.Operator {
		case OperatorEQ:
			if res != 0 {
				return false
			}
		case OperatorLT:
			if res >= 0 {
				return false
			}
		case OperatorGT:
			if res <= 0 {
				return false
			}
		}
	}

	return true
}

// toGORMExpression converts the predicate into a clause.Expression. For each
// conjunction it calls Conjunction.toGORMExpression and joins them with OR.
func (p Predicate) toGORMExpression() clause.Expression {
	orExpressions := make([]clause.Expression, 0, len(p))

	for _, conjunction := range p {
		andExpressions := conjunction.toGORMExpression()
		if andExpressions == nil {
			continue
		}

		orExpressions = append(orExpressions, andExpressions)
	}

	if len(orExpressions) == 1 {
		return orExpressions[0]
	} else if len(orExpressions) > 1 {
		return clause.Or(orExpressions...)
	}

	return nil
}

// ToSQL returns the predicate as an SQL condition with "?" placeholders
// and the matching values. The empty predicate is "TRUE".
//
// Usage:
//
//	where, args := p.ToSQL()
//	query := fmt.Sprintf("SELECT * FROM table WHERE %s", where)
//
// Example:
//
//	Predicate = {
//		{{Column: "id", Operator: "<", Value: Int(10)}},
//		{{Column: "id", Operator: "=", Value: Int(10)}, {Column: "name", Operator: "<", Value: Text("abc")}},
//	}
//
// Result:
//
//	("((id < ?) OR (id = ? AND name < ?))", [10, 10, "abc"])
func (p Predicate) ToSQL() (string, []driver.Value) {
	orClauses := make([]string, 0, len(p))
	values := make([]driver.Value, 0, len(p))

	for _, conjunction := range p {
		orClause, orValues := conjunction.toSQLClause()
		if orClause == "" {
			continue
		}

		orClauses = append(orClauses, orClause)
		values = append(values, orValues...)
	}

	if len(orClauses) >= 1 {
		return fmt.Sprintf("(%s)", strings.Join(orClauses, " OR ")), values
	}

	return "TRUE", nil
}

// Eval evaluates the predicate against a row in memory, using the order of
// Value.Compare.
func (p Predicate) Eval(lookup func(column string) (Value, bool)) bool {
	if p.IsEmpty() {
		return true
	}

	for _, conjunction := range p {
		if len(conjunction) > 0 && conjunction.Eval(lookup) {
			return true
		}
	}

	return false
}

// String renders the predicate for humans and logs, e.g.
//
//	createdAt < int:4 OR (createdAt = int:4 AND _id > int:7)
func (p Predicate) String() string {
	conjunctions := lo.Filter(p, func(conjunction Conjunction, _ int) bool {
		return len(conjunction) > 0
	})

	parts := make([]string, 0, len(conjunctions))
	for _, conjunction := range conjunctions {
		conditions := lo.Map(conjunction, func(condition Condition, _ int) string {
			return condition.String()
		})

		part := strings.Join(conditions, " AND ")
		if len(conjunction) > 1 && len(conjunctions) > 1 {
			part = "(" + part + ")"
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return "TRUE"
	}

	return strings.Join(parts, " OR ")
}
