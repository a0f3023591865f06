package keypager

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the type tag of a boundary Value. Its byte value is written into
// cursor tokens and must never change.
type Kind byte

const (
	KindInt      Kind = 'i'
	KindFloat    Kind = 'f'
	KindText     Kind = 's'
	KindTime     Kind = 't'
	KindObjectID Kind = 'o'
	KindUUID     Kind = 'u'
	KindScore    Kind = 'r'
	KindBool     Kind = 'b'
	KindNull     Kind = 'n'
)

var _kindNames = map[Kind]string{
	KindInt:      "int",
	KindFloat:    "float",
	KindText:     "text",
	KindTime:     "time",
	KindObjectID: "objectid",
	KindUUID:     "uuid",
	KindScore:    "score",
	KindBool:     "bool",
	KindNull:     "null",
}

func (k Kind) Valid() bool {
	_, ok := _kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := _kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%#x)", byte(k))
}

// Value is one boundary value of a cursor. It keeps its type tag through
// encoding so a decoded cursor compares against the store exactly as the
// original row value did.
//
// The zero Value is a null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time
	id   [16]byte
}

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func Text(v string) Value { return Value{kind: KindText, s: v} }

// Time is stored in UTC with nanosecond precision and without a monotonic
// clock reading.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v.UTC().Round(0)} }

func ObjectID(v primitive.ObjectID) Value {
	ret := Value{kind: KindObjectID}
	copy(ret.id[:], v[:])

	return ret
}

func UUID(v uuid.UUID) Value { return Value{kind: KindUUID, id: v} }

// Score is a relevance score boundary.
func Score(v float64) Value { return Value{kind: KindScore, f: v} }

func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}

	return Value{kind: KindBool, i: i}
}

func Null() Value { return Value{kind: KindNull} }

// ValueOf converts a Go value read from a row into a Value.
func ValueOf(v any) (Value, error) {
	switch vt := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return vt.normalized(), nil
	case *Value:
		if vt == nil {
			return Null(), nil
		}
		return vt.normalized(), nil
	case bool:
		return Bool(vt), nil
	case int:
		return Int(int64(vt)), nil
	case int8:
		return Int(int64(vt)), nil
	case int16:
		return Int(int64(vt)), nil
	case int32:
		return Int(int64(vt)), nil
	case int64:
		return Int(vt), nil
	case uint8:
		return Int(int64(vt)), nil
	case uint16:
		return Int(int64(vt)), nil
	case uint32:
		return Int(int64(vt)), nil
	case uint:
		return uintValue(uint64(vt))
	case uint64:
		return uintValue(vt)
	case float32:
		return Float(float64(vt)), nil
	case float64:
		return Float(vt), nil
	case string:
		return Text(vt), nil
	case time.Time:
		return Time(vt), nil
	case *time.Time:
		if vt == nil {
			return Null(), nil
		}
		return Time(*vt), nil
	case primitive.DateTime:
		return Time(vt.Time()), nil
	case primitive.ObjectID:
		return ObjectID(vt), nil
	case uuid.UUID:
		return UUID(vt), nil
	case primitive.Binary:
		if vt.Subtype == 0x04 && len(vt.Data) == 16 {
			return UUID(uuid.UUID(vt.Data)), nil
		}
	case primitive.Null:
		return Null(), nil
	}

	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func uintValue(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
	}

	return Int(int64(v)), nil
}

func (v Value) normalized() Value {
	if v.kind == 0 {
		return Null()
	}

	return v
}

// Kind returns the type tag. The zero Value reports KindNull.
func (v Value) Kind() Kind {
	if v.kind == 0 {
		return KindNull
	}

	return v.kind
}

// Interface returns the native Go value: int64, float64, string, time.Time,
// primitive.ObjectID, uuid.UUID, bool or nil.
func (v Value) Interface() any {
	switch v.Kind() {
	case KindInt:
		return v.i
	case KindFloat, KindScore:
		return v.f
	case KindText:
		return v.s
	case KindTime:
		return v.t
	case KindObjectID:
		var oid primitive.ObjectID
		copy(oid[:], v.id[:12])
		return oid
	case KindUUID:
		return uuid.UUID(v.id)
	case KindBool:
		return v.i == 1
	default:
		return nil
	}
}

// Equal reports whether both values carry the same tag and payload. Floats
// are compared bit for bit, so NaN equals itself.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}

	switch v.Kind() {
	case KindInt, KindBool:
		return v.i == other.i
	case KindFloat, KindScore:
		return math.Float64bits(v.f) == math.Float64bits(other.f)
	case KindText:
		return v.s == other.s
	case KindTime:
		return v.t.Equal(other.t)
	case KindObjectID, KindUUID:
		return v.id == other.id
	default:
		return true
	}
}

// Compare orders two values. Numbers (int, float, score) compare by numeric
// value; values of different non-numeric kinds compare by their type rank,
// following the MongoDB comparison order (null < numbers < text < objectid
// < bool < time), with uuid placed after text like BSON binary data.
func (v Value) Compare(other Value) int {
	rv, ro := v.rank(), other.rank()
	if rv != ro {
		return cmp.Compare(rv, ro)
	}

	switch v.Kind() {
	case KindInt, KindFloat, KindScore:
		if v.Kind() == KindInt && other.Kind() == KindInt {
			return cmp.Compare(v.i, other.i)
		}
		return cmp.Compare(v.number(), other.number())
	case KindText:
		return strings.Compare(v.s, other.s)
	case KindTime:
		return v.t.Compare(other.t)
	case KindObjectID, KindUUID:
		return bytes.Compare(v.id[:], other.id[:])
	case KindBool:
		return cmp.Compare(v.i, other.i)
	default:
		return 0
	}
}

func (v Value) rank() int {
	switch v.Kind() {
	case KindNull:
		return 0
	case KindInt, KindFloat, KindScore:
		return 1
	case KindText:
		return 2
	case KindUUID:
		return 3
	case KindObjectID:
		return 4
	case KindBool:
		return 5
	case KindTime:
		return 6
	default:
		return 7
	}
}

func (v Value) number() float64 {
	if v.Kind() == KindInt {
		return float64(v.i)
	}

	return v.f
}

// String renders the value as "<kind>:<literal>", the form accepted by
// ParseValue.
func (v Value) String() string {
	return v.Kind().String() + ":" + v.literal()
}

func (v Value) literal() string {
	switch v.Kind() {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat, KindScore:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindObjectID:
		return v.Interface().(primitive.ObjectID).Hex()
	case KindUUID:
		return uuid.UUID(v.id).String()
	case KindBool:
		return strconv.FormatBool(v.i == 1)
	default:
		return ""
	}
}

// ParseValue parses the "<kind>:<literal>" form produced by Value.String.
func ParseValue(s string) (Value, error) {
	name, literal, ok := strings.Cut(s, ":")
	if !ok {
		if name == "null" {
			return Null(), nil
		}
		return Value{}, fmt.Errorf("%w: '%s' is not in kind:value form", ErrUnsupportedValue, s)
	}

	var (
		ret Value
		err error
	)

	switch name {
	case "int":
		var i int64
		i, err = strconv.ParseInt(literal, 10, 64)
		ret = Int(i)
	case "float", "score":
		var f float64
		f, err = strconv.ParseFloat(literal, 64)
		ret = Float(f)
		if name == "score" {
			ret = Score(f)
		}
	case "text":
		ret = Text(literal)
	case "time":
		var t time.Time
		t, err = time.Parse(time.RFC3339Nano, literal)
		ret = Time(t)
	case "objectid":
		var oid primitive.ObjectID
		oid, err = primitive.ObjectIDFromHex(literal)
		ret = ObjectID(oid)
	case "uuid":
		var id uuid.UUID
		id, err = uuid.Parse(literal)
		ret = UUID(id)
	case "bool":
		var b bool
		b, err = strconv.ParseBool(literal)
		ret = Bool(b)
	case "null":
		ret = Null()
	default:
		return Value{}, fmt.Errorf("%w: unknown kind '%s'", ErrUnsupportedValue, name)
	}

	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}

	return ret, nil
}
