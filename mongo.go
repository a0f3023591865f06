package keypager

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	_metaKey   = "$meta"
	_textScore = "textScore"
)

var _operatorsBSON = map[Operator]string{
	OperatorEQ: "$eq",
	OperatorLT: "$lt",
	OperatorGT: "$gt",
}

// ToBSON converts Orderings into a MongoDB sort document. Score columns
// sort by {$meta: "textScore"}.
//
// Example: for [{"createdAt", "DESC"}, {"_id", "ASC"}] returns
// {createdAt: -1, _id: 1}.
func (o Orderings) ToBSON() bson.D {
	ret := make(bson.D, 0, len(o))
	for _, ordering := range o {
		var value any
		switch ordering.Direction {
		case DirectionDESC:
			value = -1
		case DirectionScore:
			value = bson.D{{Key: _metaKey, Value: _textScore}}
		default:
			value = 1
		}

		ret = append(ret, bson.E{Key: ordering.Column, Value: value})
	}

	return ret
}

// ParseSortDocument reads a MongoDB sort document into Orderings, keeping
// the document order. Accepted values are 1, -1, "asc", "ascending",
// "desc", "descending" and {$meta: "textScore"}.
func ParseSortDocument(doc bson.D) (Orderings, error) {
	ret := make(Orderings, 0, len(doc))
	for _, elem := range doc {
		direction, err := sortDocumentDirection(elem.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: column '%s': %w", ErrInvalidSortSpec, elem.Key, err)
		}

		ordering := OrderBy{Column: elem.Key, Direction: direction}
		if err = ordering.validate(); err != nil {
			return nil, err
		}

		ret = append(ret, ordering)
	}

	return ret, nil
}

func sortDocumentDirection(v any) (Direction, error) {
	if meta, ok := lookupPath(v, []string{_metaKey}); ok {
		if meta == _textScore {
			return DirectionScore, nil
		}
		return "", fmt.Errorf("unsupported $meta '%v'", meta)
	}

	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "ascending":
			return DirectionASC, nil
		case "desc", "descending":
			return DirectionDESC, nil
		}
		return "", fmt.Errorf("unsupported sort direction '%s'", s)
	}

	n, err := ValueOf(v)
	if err != nil || (n.Kind() != KindInt && n.Kind() != KindFloat) {
		return "", fmt.Errorf("unsupported sort direction '%v'", v)
	}

	switch n.number() {
	case 1:
		return DirectionASC, nil
	case -1:
		return DirectionDESC, nil
	default:
		return "", fmt.Errorf("unsupported sort direction '%v'", v)
	}
}

// ToBSON converts the predicate into a MongoDB query filter. The empty
// predicate is the empty document.
//
// MongoDB comparisons only match values of the boundary's type, while null
// sorts before every other value. A null boundary is therefore rendered as
// {$ne: null} for ">" and as a filter matching nothing for "<". A non-null
// boundary never matches nulls: keep nullable columns out of orderings, or
// read them ascending and forward only.
//
// Example:
//
//	createdAt < 4 OR (createdAt = 4 AND _id > 7)
//
// Result:
//
//	{$or: [{createdAt: {$lt: 4}}, {createdAt: {$eq: 4}, _id: {$gt: 7}}]}
func (p Predicate) ToBSON() bson.D {
	conjunctions := make(bson.A, 0, len(p))
	for _, conjunction := range p {
		if len(conjunction) == 0 {
			continue
		}
		conjunctions = append(conjunctions, conjunction.toBSON())
	}

	switch len(conjunctions) {
	case 0:
		return bson.D{}
	case 1:
		return conjunctions[0].(bson.D)
	default:
		return bson.D{{Key: "$or", Value: conjunctions}}
	}
}

func (c Conjunction) toBSON() bson.D {
	ret := make(bson.D, 0, len(c))
	for _, condition := range c {
		ret = append(ret, bson.E{Key: condition.Column, Value: condition.toBSON()})
	}

	return ret
}

func (c Condition) toBSON() bson.D {
	if c.Value.Kind() == KindNull {
		switch c.Operator {
		case OperatorGT:
			return bson.D{{Key: "$ne", Value: nil}}
		case OperatorLT:
			return bson.D{{Key: "$in", Value: bson.A{}}}
		}
	}

	return bson.D{{Key: _operatorsBSON[c.Operator], Value: bsonValue(c.Value)}}
}

// bsonValue maps a Value onto its BSON representation.
func bsonValue(v Value) any {
	if v.Kind() == KindUUID {
		return bsonBinary(bson.TypeBinaryUUID, v.id[:])
	}

	return v.Interface()
}

func bsonBinary(subtype byte, data []byte) primitive.Binary {
	return primitive.Binary{Subtype: subtype, Data: slices.Clone(data)}
}

// FindOptions merges opts (options.MergeFindOptions, later wins) and sets
// the effective sort and the dataset limit on the result, replacing any
// sort, limit or skip the caller gave.
//
// A caller projection is kept and completed: score columns are projected
// from the text score metadata, and an inclusion projection also gets the
// ordering columns the next cursor is read from. A projection that
// excludes an ordering column fails with
// ErrPipelineIdentityProjectionViolation.
func (c *CursorPager) FindOptions(opts ...*options.FindOptions) (*options.FindOptions, error) {
	req, err := c.Request()
	if err != nil {
		return nil, fmt.Errorf("cannot build find options: %w", err)
	}

	ret := options.MergeFindOptions(opts...)
	ret.Skip = nil
	ret.Limit = nil
	ret.SetSort(req.EffectiveSort().ToBSON())
	if limit := req.DatasetLimit(); limit != NoLimit {
		ret.SetLimit(int64(limit))
	}

	projection, err := completeProjection(ret.Projection, req.Sort, c.TieBreaker())
	if err != nil {
		return nil, fmt.Errorf("cannot build find options: %w", c.fail(err))
	}

	ret.Projection = nil
	if len(projection) > 0 {
		ret.SetProjection(projection)
	}

	return ret, nil
}

func completeProjection(projection any, orderings Orderings, tieBreaker string) (bson.D, error) {
	score := scoreProjection(orderings)
	if projection == nil {
		return score, nil
	}

	fields, ok := documentElements(projection)
	if !ok {
		return nil, fmt.Errorf("%w: projection must be a document, got %T", ErrPipelineIdentityProjectionViolation, projection)
	}

	if err := validateProjection(fields, tieBreaker); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPipelineIdentityProjectionViolation, err)
	}

	// Score columns are always taken from the metadata.
	ret := lo.Reject(fields, func(field bson.E, _ int) bool {
		return lo.ContainsBy(score, func(s bson.E) bool { return s.Key == field.Key })
	})

	inclusion := lo.ContainsBy(ret, func(field bson.E) bool {
		return field.Key != "_id" && !isExcluded(field.Value)
	})

	for _, ordering := range orderings {
		if ordering.Direction == DirectionScore {
			continue
		}

		idx := slices.IndexFunc(ret, func(field bson.E) bool { return field.Key == ordering.Column })
		switch {
		case idx != -1 && isExcluded(ret[idx].Value):
			return nil, fmt.Errorf("%w: projection excludes ordering column '%s'",
				ErrPipelineIdentityProjectionViolation, ordering.Column)
		case idx == -1 && inclusion && ordering.Column != "_id":
			ret = append(ret, bson.E{Key: ordering.Column, Value: 1})
		}
	}

	return append(ret, score...), nil
}

// Filter combines the cursor predicate with the caller's query:
//
//	{$and: [cursorFilter, query]}
//
// query may be nil. Without a cursor the query is returned as is.
func (c *CursorPager) Filter(query any) (any, error) {
	predicate, err := c.Predicate()
	if err != nil {
		return nil, fmt.Errorf("cannot build filter: %w", err)
	}

	if query == nil {
		query = bson.D{}
	}

	if predicate.IsEmpty() {
		return query, nil
	}

	return bson.D{{Key: "$and", Value: bson.A{predicate.ToBSON(), query}}}, nil
}

// Pipeline appends the pagination stages to an aggregation pipeline:
//
//	base... [$addFields score] [$match cursor] $sort [$limit]
//
// base is checked by ValidatePipeline first.
func (c *CursorPager) Pipeline(base mongo.Pipeline) (mongo.Pipeline, error) {
	req, predicate, err := c.plan()
	if err != nil {
		return nil, fmt.Errorf("cannot build pipeline: %w", err)
	}

	if err = ValidatePipeline(base, c.TieBreaker()); err != nil {
		return nil, fmt.Errorf("cannot build pipeline: %w", c.fail(err))
	}

	ret := make(mongo.Pipeline, 0, len(base)+4)
	ret = append(ret, base...)

	if projection := scoreProjection(req.Sort); len(projection) > 0 {
		ret = append(ret, bson.D{{Key: "$addFields", Value: projection}})
	}

	if !predicate.IsEmpty() {
		ret = append(ret, bson.D{{Key: "$match", Value: predicate.ToBSON()}})
	}

	ret = append(ret, bson.D{{Key: "$sort", Value: req.EffectiveSort().ToBSON()}})

	if limit := req.DatasetLimit(); limit != NoLimit {
		ret = append(ret, bson.D{{Key: "$limit", Value: int64(limit)}})
	}

	return ret, nil
}

// CountPipeline returns base followed by a $count stage writing "count".
func CountPipeline(base mongo.Pipeline) mongo.Pipeline {
	ret := make(mongo.Pipeline, 0, len(base)+1)
	ret = append(ret, base...)

	return append(ret, bson.D{{Key: "$count", Value: "count"}})
}

func scoreProjection(orderings Orderings) bson.D {
	ret := bson.D{}
	for _, ordering := range orderings {
		if ordering.Direction == DirectionScore {
			ret = append(ret, bson.E{Key: ordering.Column, Value: bson.D{{Key: _metaKey, Value: _textScore}}})
		}
	}

	return ret
}

// ValidatePipeline rejects external pipeline stages that would break the
// uniqueness of the ordering, failing with
// ErrPipelineIdentityProjectionViolation when a stage:
//   - excludes the tie-breaker ($project, $unset) or projects an inclusion
//     list without it;
//   - assigns the tie-breaker ($set, $addFields);
//   - replaces the document ($replaceRoot, $replaceWith, $count, $facet);
//   - groups documents without emitting the tie-breaker ($group, $bucket,
//     $bucketAuto, $sortByCount emit only "_id");
//   - sorts without the tie-breaker;
//   - unwinds arrays ($unwind), unless a later grouping stage emits the
//     tie-breaker again. Unwound rows share the tie-breaker of their source
//     document.
func ValidatePipeline(pipeline mongo.Pipeline, tieBreaker string) error {
	if tieBreaker == "" {
		tieBreaker = DefaultTieBreaker
	}

	unwound := -1
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return fmt.Errorf("%w: stage %d must have exactly one operator", ErrPipelineIdentityProjectionViolation, i)
		}

		name, spec := stage[0].Key, stage[0].Value
		if err := validateStage(name, spec, tieBreaker); err != nil {
			return fmt.Errorf("%w: stage %d (%s): %s", ErrPipelineIdentityProjectionViolation, i, name, err)
		}

		switch {
		case name == "$unwind" && unwound == -1:
			unwound = i
		case _groupingStages[name]:
			// Grouping emits one document per group key, unique again.
			unwound = -1
		}
	}

	if unwound != -1 {
		return fmt.Errorf("%w: stage %d ($unwind): duplicates '%s' across unwound documents",
			ErrPipelineIdentityProjectionViolation, unwound, tieBreaker)
	}

	return nil
}

var _groupingStages = map[string]bool{
	"$group":       true,
	"$bucket":      true,
	"$bucketAuto":  true,
	"$sortByCount": true,
}

func validateStage(name string, spec any, tieBreaker string) error {
	switch name {
	case "$project":
		return validateProjection(spec, tieBreaker)
	case "$unset":
		fields := lo.Map(asList(spec), func(item any, _ int) string { return fmt.Sprint(item) })
		if lo.ContainsBy(fields, func(field string) bool { return touches(field, tieBreaker) }) {
			return fmt.Errorf("removes '%s'", tieBreaker)
		}
	case "$set", "$addFields":
		fields, ok := documentElements(spec)
		if !ok {
			return fmt.Errorf("%s must be a document", name)
		}
		if lo.ContainsBy(fields, func(field bson.E) bool { return touches(field.Key, tieBreaker) }) {
			return fmt.Errorf("overwrites '%s'", tieBreaker)
		}
	case "$replaceRoot", "$replaceWith", "$count", "$facet":
		return fmt.Errorf("replaces documents, '%s' is lost", tieBreaker)
	case "$group":
		if tieBreaker == "_id" {
			return nil
		}
		if _, ok := lookupPath(spec, []string{tieBreaker}); !ok {
			return fmt.Errorf("does not emit '%s'", tieBreaker)
		}
	case "$bucket", "$bucketAuto", "$sortByCount":
		if tieBreaker != "_id" {
			return fmt.Errorf("does not emit '%s'", tieBreaker)
		}
	case "$sort":
		if _, ok := lookupPath(spec, []string{tieBreaker}); !ok {
			return fmt.Errorf("orders rows without '%s'", tieBreaker)
		}
	}

	return nil
}

// touches reports whether writing field changes column: the column itself,
// one of its parents or one of its children.
func touches(field, column string) bool {
	return field == column ||
		strings.HasPrefix(column, field+".") ||
		strings.HasPrefix(field, column+".")
}

func validateProjection(spec any, tieBreaker string) error {
	fields, ok := documentElements(spec)
	if !ok {
		return fmt.Errorf("projection must be a document")
	}

	inclusion := false
	for _, field := range fields {
		if field.Key == tieBreaker {
			if isExcluded(field.Value) {
				return fmt.Errorf("excludes '%s'", tieBreaker)
			}
			return nil
		}

		if field.Key != "_id" && !isExcluded(field.Value) {
			inclusion = true
		}
	}

	// "_id" survives projections unless excluded explicitly.
	if inclusion && tieBreaker != "_id" {
		return fmt.Errorf("inclusion projection omits '%s'", tieBreaker)
	}

	return nil
}

func documentElements(v any) (bson.D, bool) {
	switch dt := v.(type) {
	case bson.D:
		return dt, true
	case bson.M:
		return mapElements(dt), true
	case map[string]any:
		return mapElements(dt), true
	default:
		return nil, false
	}
}

func mapElements(m map[string]any) bson.D {
	keys := lo.Keys(m)
	slices.Sort(keys)

	return lo.Map(keys, func(key string, _ int) bson.E {
		return bson.E{Key: key, Value: m[key]}
	})
}

func asList(v any) []any {
	switch vt := v.(type) {
	case bson.A:
		return vt
	case []any:
		return vt
	case []string:
		return lo.ToAnySlice(vt)
	default:
		return []any{v}
	}
}

// isExcluded reports whether a projection value removes the field: false
// or a numeric zero.
func isExcluded(v any) bool {
	if b, ok := v.(bool); ok {
		return !b
	}

	n, err := ValueOf(v)
	if err != nil {
		return false
	}

	return (n.Kind() == KindInt || n.Kind() == KindFloat) && n.number() == 0
}
