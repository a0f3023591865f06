package keypager

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Extractor reads the boundary values of a row, one per ordering column and
// in ordering order. They become the next/previous page cursors.
type Extractor[T any] interface {
	Extract(item T, orderings Orderings) ([]Value, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc[T any] func(item T, orderings Orderings) ([]Value, error)

func (f ExtractorFunc[T]) Extract(item T, orderings Orderings) ([]Value, error) {
	return f(item, orderings)
}

// Getters is a map of column getters for an object. List the columns the
// pagination is ordered by.
//
// Example:
//
//	keypager.Getters[models.Article]{
//		"_id":       func(a models.Article) any { return a.ID },
//		"createdAt": func(a models.Article) any { return a.CreatedAt },
//	}
type Getters[T any] map[string]func(T) any

func (g Getters[T]) Extract(item T, orderings Orderings) ([]Value, error) {
	ret := make([]Value, 0, len(orderings))
	for _, ordering := range orderings {
		getter, ok := g[ordering.Column]
		if !ok {
			return nil, fmt.Errorf("cannot find getter for column '%s' met in ordering", ordering.Column)
		}

		v, err := boundaryValue(ordering, getter(item))
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}

	return ret, nil
}

// DocumentExtractor reads boundary values from decoded BSON documents.
// Column names may be dotted paths into embedded documents.
type DocumentExtractor struct{}

func (DocumentExtractor) Extract(doc bson.M, orderings Orderings) ([]Value, error) {
	ret := make([]Value, 0, len(orderings))
	for _, ordering := range orderings {
		raw, ok := lookupPath(doc, strings.Split(ordering.Column, "."))
		if !ok {
			return nil, fmt.Errorf("document has no field '%s' met in ordering", ordering.Column)
		}

		v, err := boundaryValue(ordering, raw)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}

	return ret, nil
}

func lookupPath(doc any, path []string) (any, bool) {
	current := doc
	for _, key := range path {
		switch dt := current.(type) {
		case bson.M:
			next, ok := dt[key]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]any:
			next, ok := dt[key]
			if !ok {
				return nil, false
			}
			current = next
		case bson.D:
			found := false
			for _, elem := range dt {
				if elem.Key == key {
					current, found = elem.Value, true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}

	return current, true
}

// RawExtractor reads boundary values from undecoded BSON documents, as
// returned by aggregation cursors.
type RawExtractor struct{}

func (RawExtractor) Extract(doc bson.Raw, orderings Orderings) ([]Value, error) {
	ret := make([]Value, 0, len(orderings))
	for _, ordering := range orderings {
		rv, err := doc.LookupErr(strings.Split(ordering.Column, ".")...)
		if err != nil {
			return nil, fmt.Errorf("cannot read field '%s' met in ordering: %w", ordering.Column, err)
		}

		native, err := rawNative(rv)
		if err != nil {
			return nil, fmt.Errorf("cannot read field '%s' met in ordering: %w", ordering.Column, err)
		}

		v, err := boundaryValue(ordering, native)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}

	return ret, nil
}

func rawNative(rv bson.RawValue) (any, error) {
	switch rv.Type {
	case bson.TypeInt32:
		return rv.Int32(), nil
	case bson.TypeInt64:
		return rv.Int64(), nil
	case bson.TypeDouble:
		return rv.Double(), nil
	case bson.TypeString:
		return rv.StringValue(), nil
	case bson.TypeDateTime:
		return time.UnixMilli(rv.DateTime()).UTC(), nil
	case bson.TypeObjectID:
		return rv.ObjectID(), nil
	case bson.TypeBoolean:
		return rv.Boolean(), nil
	case bson.TypeNull:
		return nil, nil
	case bson.TypeBinary:
		subtype, data := rv.Binary()
		return bsonBinary(subtype, data), nil
	default:
		return nil, fmt.Errorf("%w: bson type %s", ErrUnsupportedValue, rv.Type)
	}
}

// boundaryValue converts a row value for the given ordering column.
// Numbers read under a score column become score values.
func boundaryValue(ordering OrderBy, raw any) (Value, error) {
	v, err := ValueOf(raw)
	if err != nil {
		return Value{}, fmt.Errorf("column '%s': %w", ordering.Column, err)
	}

	if ordering.Direction == DirectionScore && (v.Kind() == KindInt || v.Kind() == KindFloat) {
		return Score(v.number()), nil
	}

	return v, nil
}
