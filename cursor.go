package keypager

import "fmt"

// Cursor is the decoded form of a pagination token: one boundary value per
// normalized ordering column, in ordering order. A nil or empty Cursor
// points at the start of the dataset.
//
// IMPORTANT:
// The last value ALWAYS belongs to the tie-breaker column!
type Cursor struct {
	values []Value
}

func NewCursor(values ...Value) *Cursor {
	return &Cursor{
		values: values,
	}
}

// DecodeCursor attempts to parse a token into *Cursor. The empty token
// yields a nil cursor without error.
func DecodeCursor(token string) (*Cursor, error) {
	values, err := Decode(token)
	if err != nil {
		return nil, err
	}

	if values == nil {
		return nil, nil
	}

	return &Cursor{
		values: values,
	}, nil
}

// String - implements fmt.Stringer. Returns the token.
func (c *Cursor) String() string {
	if c.IsEmpty() {
		return ""
	}

	return Encode(c.values...)
}

func (c *Cursor) IsEmpty() bool {
	return c == nil || len(c.values) == 0
}

// Values returns the boundary values.
func (c *Cursor) Values() []Value {
	if c == nil {
		return nil
	}

	return c.values
}

// Len returns the number of boundary values.
func (c *Cursor) Len() int {
	return len(c.Values())
}

// Equal reports whether both cursors carry equal values.
func (c *Cursor) Equal(other *Cursor) bool {
	if c.Len() != other.Len() {
		return false
	}

	for i, v := range c.Values() {
		if !v.Equal(other.values[i]) {
			return false
		}
	}

	return true
}

// validate checks the cursor against normalized orderings: same arity and
// score values exactly under score columns.
func (c *Cursor) validate(orderings Orderings) error {
	if c.IsEmpty() {
		return nil
	}

	// Do not allow a mismatch between the number of values in the cursor
	// and the number of ordering columns.
	if len(c.values) != len(orderings) {
		return fmt.Errorf("%w: cursor has %d values, ordering has %d columns", ErrCursorArityMismatch, len(c.values), len(orderings))
	}

	for i, v := range c.values {
		isScoreColumn := orderings[i].Direction == DirectionScore
		isScoreValue := v.Kind() == KindScore
		if isScoreColumn != isScoreValue {
			return fmt.Errorf("%w: unexpected %s value for column '%s'", ErrCorruptCursor, v.Kind(), orderings[i].Column)
		}
	}

	return nil
}

var _ fmt.Stringer = (*Cursor)(nil)
