package keypager

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

var _encoder = base64.RawURLEncoding

// tokenVersion is the first byte of every decoded token.
const tokenVersion byte = 0x01

// Token layout, before base64url (no padding) encoding:
//
//	token   = version count element*
//	version = 0x01
//	count   = uvarint
//	element = tag:byte length:uvarint payload
//
// Payloads per tag:
//
//	'i' int      8 bytes big-endian two's complement
//	'f' float    8 bytes big-endian IEEE-754
//	's' text     UTF-8 bytes
//	't' time     8 bytes big-endian unix seconds, 4 bytes big-endian nanoseconds
//	'o' objectid 12 bytes
//	'u' uuid     16 bytes
//	'r' score    8 bytes big-endian IEEE-754
//	'b' bool     1 byte, 0 or 1
//	'n' null     empty
//
// The token is not meant to be sortable; ordering lives in the predicate.

// Encode serializes boundary values into an opaque URL-safe token. An empty
// tuple encodes to the empty string.
func Encode(values ...Value) string {
	if len(values) == 0 {
		return ""
	}

	buf := make([]byte, 0, 2+len(values)*10)
	buf = append(buf, tokenVersion)
	buf = binary.AppendUvarint(buf, uint64(len(values)))

	for _, v := range values {
		payload := v.payload()
		buf = append(buf, byte(v.Kind()))
		buf = binary.AppendUvarint(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	}

	return _encoder.EncodeToString(buf)
}

func (v Value) payload() []byte {
	switch v.Kind() {
	case KindInt:
		return binary.BigEndian.AppendUint64(nil, uint64(v.i))
	case KindFloat, KindScore:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.f))
	case KindText:
		return []byte(v.s)
	case KindTime:
		ret := binary.BigEndian.AppendUint64(nil, uint64(v.t.Unix()))
		return binary.BigEndian.AppendUint32(ret, uint32(v.t.Nanosecond()))
	case KindObjectID:
		return append([]byte(nil), v.id[:12]...)
	case KindUUID:
		return append([]byte(nil), v.id[:]...)
	case KindBool:
		return []byte{byte(v.i)}
	default:
		return nil
	}
}

// Decode parses a token produced by Encode. The empty token carries no
// cursor and decodes to nil.
func Decode(token string) ([]Value, error) {
	if len(token) == 0 {
		return nil, nil
	}

	raw, err := _encoder.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 encoded cursor: %w", ErrCorruptCursor, err)
	}

	if len(raw) == 0 || raw[0] != tokenVersion {
		return nil, fmt.Errorf("%w: unknown cursor version", ErrCorruptCursor)
	}
	raw = raw[1:]

	count, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("%w: malformed element count", ErrCorruptCursor)
	}
	raw = raw[n:]

	// Every element takes at least two bytes: the tag and its length.
	if count == 0 || count > uint64(len(raw)/2) {
		return nil, fmt.Errorf("%w: element count %d does not fit the token", ErrCorruptCursor, count)
	}

	values := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: truncated at element %d", ErrCorruptCursor, i)
		}
		kind := Kind(raw[0])
		raw = raw[1:]

		size, n := binary.Uvarint(raw)
		if n <= 0 || size > uint64(len(raw)-n) {
			return nil, fmt.Errorf("%w: truncated at element %d", ErrCorruptCursor, i)
		}
		payload := raw[n : n+int(size)]
		raw = raw[n+int(size):]

		v, err := decodeValue(kind, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %w", ErrCorruptCursor, i, err)
		}
		values = append(values, v)
	}

	if len(raw) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptCursor, len(raw))
	}

	return values, nil
}

// DecodeN is Decode for callers that know the arity of the ordering in
// force. A non-empty token with another element count fails with
// ErrCursorArityMismatch.
func DecodeN(token string, arity int) ([]Value, error) {
	values, err := Decode(token)
	if err != nil {
		return nil, err
	}

	if values != nil && len(values) != arity {
		return nil, fmt.Errorf("%w: cursor has %d values, ordering has %d columns", ErrCursorArityMismatch, len(values), arity)
	}

	return values, nil
}

func decodeValue(kind Kind, payload []byte) (Value, error) {
	if !kind.Valid() {
		return Value{}, fmt.Errorf("unknown type tag %#x", byte(kind))
	}

	if want, fixed := fixedPayloadSize(kind); fixed && len(payload) != want {
		return Value{}, fmt.Errorf("%s payload has %d bytes, want %d", kind, len(payload), want)
	}

	switch kind {
	case KindInt:
		return Int(int64(binary.BigEndian.Uint64(payload))), nil
	case KindFloat:
		return Float(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case KindScore:
		return Score(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case KindText:
		if !utf8.Valid(payload) {
			return Value{}, fmt.Errorf("text payload is not valid UTF-8")
		}
		return Text(string(payload)), nil
	case KindTime:
		sec := int64(binary.BigEndian.Uint64(payload[:8]))
		nsec := binary.BigEndian.Uint32(payload[8:])
		if nsec >= uint32(time.Second) {
			return Value{}, fmt.Errorf("time payload has %d nanoseconds", nsec)
		}
		return Time(time.Unix(sec, int64(nsec))), nil
	case KindObjectID:
		ret := Value{kind: KindObjectID}
		copy(ret.id[:], payload)
		return ret, nil
	case KindUUID:
		ret := Value{kind: KindUUID}
		copy(ret.id[:], payload)
		return ret, nil
	case KindBool:
		if payload[0] > 1 {
			return Value{}, fmt.Errorf("bool payload %#x", payload[0])
		}
		return Bool(payload[0] == 1), nil
	default:
		return Null(), nil
	}
}

func fixedPayloadSize(kind Kind) (int, bool) {
	switch kind {
	case KindInt, KindFloat, KindScore:
		return 8, true
	case KindTime:
		return 12, true
	case KindObjectID:
		return 12, true
	case KindUUID:
		return 16, true
	case KindBool:
		return 1, true
	case KindNull:
		return 0, true
	default:
		return 0, false
	}
}
