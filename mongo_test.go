package keypager

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// testTime has BSON datetime precision.
var testTime = time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.UTC)

func stage(name string, value any) bson.D {
	return bson.D{{Key: name, Value: value}}
}

func mongoPipeline(stages ...bson.D) mongo.Pipeline {
	return mongo.Pipeline(stages)
}

func Test_Orderings_ToBSON(t *testing.T) {
	orderings := Orderings{
		{Column: "score", Direction: DirectionScore},
		{Column: "createdAt", Direction: DirectionDESC},
		{Column: "_id", Direction: DirectionASC},
	}

	require.Equal(t, bson.D{
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: 1},
	}, orderings.ToBSON())

	require.Equal(t, bson.D{}, Orderings(nil).ToBSON())
}

func Test_ParseSortDocument(t *testing.T) {
	got, err := ParseSortDocument(bson.D{
		{Key: "score", Value: bson.M{"$meta": "textScore"}},
		{Key: "createdAt", Value: -1},
		{Key: "name", Value: "Ascending"},
		{Key: "rank", Value: "desc"},
		{Key: "_id", Value: int32(1)},
	})
	require.NoError(t, err)
	require.Equal(t, Orderings{
		{Column: "score", Direction: DirectionScore},
		{Column: "createdAt", Direction: DirectionDESC},
		{Column: "name", Direction: DirectionASC},
		{Column: "rank", Direction: DirectionDESC},
		{Column: "_id", Direction: DirectionASC},
	}, got)

	bad := []bson.D{
		{{Key: "a", Value: 2}},
		{{Key: "a", Value: "up"}},
		{{Key: "a", Value: true}},
		{{Key: "a", Value: bson.D{{Key: "$meta", Value: "searchScore"}}}},
		{{Key: "a;b", Value: 1}},
	}
	for _, doc := range bad {
		_, err = ParseSortDocument(doc)
		require.ErrorIs(t, err, ErrInvalidSortSpec, "%v", doc)
	}
}

func Test_Predicate_ToBSON(t *testing.T) {
	oid := primitive.NewObjectID()
	id := uuid.New()

	tests := []struct {
		name      string
		predicate Predicate
		want      bson.D
	}{
		{
			name: "two conjunctions",
			predicate: Predicate{
				{{Column: "createdAt", Operator: OperatorLT, Value: Int(4)}},
				{
					{Column: "createdAt", Operator: OperatorEQ, Value: Int(4)},
					{Column: "_id", Operator: OperatorGT, Value: ObjectID(oid)},
				},
			},
			want: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: int64(4)}}}},
				bson.D{
					{Key: "createdAt", Value: bson.D{{Key: "$eq", Value: int64(4)}}},
					{Key: "_id", Value: bson.D{{Key: "$gt", Value: oid}}},
				},
			}}},
		},
		{
			name:      "single condition",
			predicate: Predicate{{{Column: "_id", Operator: OperatorLT, Value: Text("k")}}},
			want:      bson.D{{Key: "_id", Value: bson.D{{Key: "$lt", Value: "k"}}}},
		},
		{
			name:      "uuid becomes binary subtype 4",
			predicate: Predicate{{{Column: "_id", Operator: OperatorGT, Value: UUID(id)}}},
			want: bson.D{{Key: "_id", Value: bson.D{{Key: "$gt", Value: primitive.Binary{
				Subtype: bson.TypeBinaryUUID,
				Data:    id[:],
			}}}}},
		},
		{
			name: "null boundary",
			predicate: Predicate{
				{{Column: "deletedAt", Operator: OperatorGT, Value: Null()}},
				{
					{Column: "deletedAt", Operator: OperatorEQ, Value: Null()},
					{Column: "_id", Operator: OperatorGT, Value: Int(3)},
				},
			},
			want: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "deletedAt", Value: bson.D{{Key: "$ne", Value: nil}}}},
				bson.D{
					{Key: "deletedAt", Value: bson.D{{Key: "$eq", Value: nil}}},
					{Key: "_id", Value: bson.D{{Key: "$gt", Value: int64(3)}}},
				},
			}}},
		},
		{
			name:      "nothing sorts before null",
			predicate: Predicate{{{Column: "deletedAt", Operator: OperatorLT, Value: Null()}}},
			want:      bson.D{{Key: "deletedAt", Value: bson.D{{Key: "$in", Value: bson.A{}}}}},
		},
		{
			name:      "empty",
			predicate: nil,
			want:      bson.D{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.predicate.ToBSON())
		})
	}
}

func Test_CursorPager_FindOptions(t *testing.T) {
	opts, err := NewCursorPager().
		WithLimit(2).
		WithSort(OrderBy{Column: "createdAt", Direction: DirectionDESC}).
		FindOptions()
	require.NoError(t, err)
	require.Equal(t, bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}, opts.Sort)
	require.NotNil(t, opts.Limit)
	require.Equal(t, int64(3), *opts.Limit)
	require.Nil(t, opts.Projection)

	opts, err = NewCursorPager().
		WithUnlimited().
		WithPrevious(NewCursor(Score(0.5), Int(1))).
		WithSort(OrderBy{Column: "score", Direction: DirectionScore}).
		FindOptions()
	require.NoError(t, err)
	require.Nil(t, opts.Limit)
	require.Equal(t, bson.D{
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
		{Key: "_id", Value: -1},
	}, opts.Sort)
	require.Equal(t, bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}, opts.Projection)

	_, err = NewCursorPager().WithSort(OrderBy{Column: "", Direction: DirectionASC}).FindOptions()
	require.ErrorIs(t, err, ErrInvalidSortSpec)
}

func Test_CursorPager_FindOptions_CallerOptions(t *testing.T) {
	textScore := bson.D{{Key: "$meta", Value: "textScore"}}
	pager := NewCursorPager().
		WithLimit(2).
		WithSort(
			OrderBy{Column: "score", Direction: DirectionScore},
			OrderBy{Column: "createdAt", Direction: DirectionDESC},
		)

	opts, err := pager.FindOptions(
		options.Find().SetProjection(bson.D{{Key: "title", Value: 1}}).SetSkip(40),
		options.Find().SetLimit(1000).SetBatchSize(50),
	)
	require.NoError(t, err)
	require.Equal(t, bson.D{
		{Key: "title", Value: 1},
		{Key: "createdAt", Value: 1},
		{Key: "score", Value: textScore},
	}, opts.Projection)
	require.Equal(t, int64(3), *opts.Limit)
	require.Nil(t, opts.Skip)
	require.Equal(t, int32(50), *opts.BatchSize)
	require.Equal(t, bson.D{
		{Key: "score", Value: textScore},
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: 1},
	}, opts.Sort)

	opts, err = pager.FindOptions(options.Find().SetProjection(bson.M{"body": 0, "score": 1}))
	require.NoError(t, err)
	require.Equal(t, bson.D{{Key: "body", Value: 0}, {Key: "score", Value: textScore}}, opts.Projection)

	bad := []any{
		bson.D{{Key: "_id", Value: 0}},
		bson.D{{Key: "createdAt", Value: false}},
		"title",
	}
	for _, projection := range bad {
		_, err = pager.FindOptions(options.Find().SetProjection(projection))
		require.ErrorIs(t, err, ErrPipelineIdentityProjectionViolation, "%v", projection)
	}
}

func Test_CursorPager_Filter(t *testing.T) {
	query := bson.D{{Key: "author", Value: "ann"}}
	sort := OrderBy{Column: "createdAt", Direction: DirectionDESC}

	got, err := NewCursorPager().WithSort(sort).Filter(query)
	require.NoError(t, err)
	require.Equal(t, query, got)

	got, err = NewCursorPager().WithSort(sort).Filter(nil)
	require.NoError(t, err)
	require.Equal(t, bson.D{}, got)

	got, err = NewCursorPager().WithSort(sort).WithNext(NewCursor(Int(4), Int(7))).Filter(query)
	require.NoError(t, err)
	require.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: int64(4)}}}},
			bson.D{
				{Key: "createdAt", Value: bson.D{{Key: "$eq", Value: int64(4)}}},
				{Key: "_id", Value: bson.D{{Key: "$gt", Value: int64(7)}}},
			},
		}}},
		query,
	}}}, got)

	_, err = NewCursorPager().WithSort(sort).WithNext(NewCursor(Int(4))).Filter(query)
	require.ErrorIs(t, err, ErrCursorArityMismatch)
}

func Test_CursorPager_Pipeline(t *testing.T) {
	base := mongoPipeline(stage("$match", bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "go"}}}}))

	got, err := NewCursorPager().
		WithLimit(5).
		WithNext(NewCursor(Score(0.82), Int(7))).
		WithSort(OrderBy{Column: "score", Direction: DirectionScore}).
		Pipeline(base)
	require.NoError(t, err)

	textScore := bson.D{{Key: "$meta", Value: "textScore"}}
	require.Equal(t, mongoPipeline(
		base[0],
		stage("$addFields", bson.D{{Key: "score", Value: textScore}}),
		stage("$match", bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "score", Value: bson.D{{Key: "$lt", Value: 0.82}}}},
			bson.D{
				{Key: "score", Value: bson.D{{Key: "$eq", Value: 0.82}}},
				{Key: "_id", Value: bson.D{{Key: "$gt", Value: int64(7)}}},
			},
		}}}),
		stage("$sort", bson.D{{Key: "score", Value: textScore}, {Key: "_id", Value: 1}}),
		stage("$limit", int64(6)),
	), got)

	got, err = NewCursorPager().WithUnlimited().Pipeline(nil)
	require.NoError(t, err)
	require.Equal(t, mongoPipeline(stage("$sort", bson.D{{Key: "_id", Value: 1}})), got)

	_, err = NewCursorPager().Pipeline(mongoPipeline(stage("$project", bson.D{{Key: "_id", Value: 0}})))
	require.ErrorIs(t, err, ErrPipelineIdentityProjectionViolation)
}

func Test_CountPipeline(t *testing.T) {
	base := mongoPipeline(stage("$match", bson.D{{Key: "a", Value: 1}}))

	got := CountPipeline(base)
	require.Equal(t, mongoPipeline(base[0], stage("$count", "count")), got)
	require.Len(t, base, 1, "base pipeline is not modified")
}

func Test_ValidatePipeline(t *testing.T) {
	tests := []struct {
		name       string
		stage      bson.D
		tieBreaker string
		wantErr    bool
	}{
		{"match", stage("$match", bson.D{{Key: "a", Value: 1}}), "_id", false},
		{"add fields", stage("$addFields", bson.D{{Key: "b", Value: 1}}), "_id", false},
		{"lookup", stage("$lookup", bson.D{{Key: "from", Value: "users"}}), "_id", false},
		{"project excludes _id", stage("$project", bson.D{{Key: "_id", Value: 0}}), "_id", true},
		{"project excludes _id with false", stage("$project", bson.M{"_id": false, "a": 1}), "_id", true},
		{"project inclusion keeps _id", stage("$project", bson.D{{Key: "name", Value: 1}}), "_id", false},
		{"project inclusion omits tie-breaker", stage("$project", bson.D{{Key: "name", Value: 1}}), "id", true},
		{"project inclusion lists tie-breaker", stage("$project", bson.D{{Key: "name", Value: 1}, {Key: "id", Value: 1}}), "id", false},
		{"project exclusion of another field", stage("$project", bson.D{{Key: "secret", Value: 0}}), "id", false},
		{"project excludes tie-breaker", stage("$project", bson.D{{Key: "id", Value: int32(0)}}), "id", true},
		{"project is not a document", stage("$project", "name"), "_id", true},
		{"unset tie-breaker", stage("$unset", "_id"), "_id", true},
		{"unset list with tie-breaker", stage("$unset", bson.A{"a", "_id"}), "_id", true},
		{"unset other fields", stage("$unset", bson.A{"a", "b"}), "_id", false},
		{"replace root", stage("$replaceRoot", bson.D{{Key: "newRoot", Value: "$sub"}}), "_id", true},
		{"replace with", stage("$replaceWith", "$sub"), "_id", true},
		{"count", stage("$count", "n"), "_id", true},
		{"facet", stage("$facet", bson.D{}), "_id", true},
		{"group emits _id", stage("$group", bson.D{{Key: "_id", Value: "$author"}}), "_id", false},
		{"group without tie-breaker", stage("$group", bson.D{{Key: "_id", Value: "$author"}}), "id", true},
		{"group emitting tie-breaker", stage("$group", bson.D{{Key: "_id", Value: "$author"}, {Key: "id", Value: bson.D{{Key: "$first", Value: "$id"}}}}), "id", false},
		{"sort by count", stage("$sortByCount", "$author"), "_id", false},
		{"bucket without tie-breaker", stage("$bucket", bson.D{}), "id", true},
		{"sort without tie-breaker", stage("$sort", bson.D{{Key: "a", Value: 1}}), "_id", true},
		{"sort with tie-breaker", stage("$sort", bson.D{{Key: "a", Value: 1}, {Key: "_id", Value: 1}}), "_id", false},
		{"stage with two operators", bson.D{{Key: "$match", Value: bson.D{}}, {Key: "$sort", Value: bson.D{}}}, "_id", true},
		{"empty tie-breaker means _id", stage("$unset", "_id"), "", true},
		{"unset parent of tie-breaker", stage("$unset", "ref"), "ref.id", true},
		{"set overwrites tie-breaker", stage("$set", bson.D{{Key: "_id", Value: "$author"}}), "_id", true},
		{"add fields overwrites tie-breaker", stage("$addFields", bson.M{"_id": "$author"}), "_id", true},
		{"add fields overwrites tie-breaker child", stage("$addFields", bson.D{{Key: "_id.k", Value: 1}}), "_id", true},
		{"set other field", stage("$set", bson.D{{Key: "rank", Value: 1}}), "_id", false},
		{"set is not a document", stage("$set", "rank"), "_id", true},
		{"unwind", stage("$unwind", "$tags"), "_id", true},
		{"unwind document form", stage("$unwind", bson.D{{Key: "path", Value: "$tags"}}), "_id", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePipeline(mongoPipeline(tt.stage), tt.tieBreaker)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrPipelineIdentityProjectionViolation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func Test_ValidatePipeline_Unwind(t *testing.T) {
	regrouped := mongoPipeline(
		stage("$unwind", "$tags"),
		stage("$group", bson.D{{Key: "_id", Value: "$tags"}}),
		stage("$match", bson.D{{Key: "count", Value: 1}}),
	)
	require.NoError(t, ValidatePipeline(regrouped, "_id"))

	regroupedThenUnwound := mongoPipeline(
		stage("$unwind", "$tags"),
		stage("$sortByCount", "$tags"),
		stage("$unwind", "$items"),
	)
	err := ValidatePipeline(regroupedThenUnwound, "_id")
	require.ErrorIs(t, err, ErrPipelineIdentityProjectionViolation)
	require.Contains(t, err.Error(), "stage 2")

	grouping := mongoPipeline(
		stage("$unwind", "$tags"),
		stage("$group", bson.D{{Key: "_id", Value: "$tags"}}),
	)
	require.ErrorIs(t, ValidatePipeline(grouping, "id"), ErrPipelineIdentityProjectionViolation)
}

func Test_DocumentExtractor(t *testing.T) {
	oid := primitive.NewObjectID()
	doc := bson.M{
		"_id":    oid,
		"score":  int32(3),
		"author": bson.M{"name": "ann"},
		"meta":   bson.D{{Key: "rank", Value: 2.5}},
	}
	orderings := Orderings{
		{Column: "score", Direction: DirectionScore},
		{Column: "author.name", Direction: DirectionASC},
		{Column: "meta.rank", Direction: DirectionDESC},
		{Column: "_id", Direction: DirectionASC},
	}

	got, err := DocumentExtractor{}.Extract(doc, orderings)
	require.NoError(t, err)
	require.Equal(t, []Value{Score(3), Text("ann"), Float(2.5), ObjectID(oid)}, got)

	_, err = DocumentExtractor{}.Extract(doc, Orderings{{Column: "missing", Direction: DirectionASC}})
	require.Error(t, err)
}

func Test_RawExtractor(t *testing.T) {
	oid := primitive.NewObjectID()
	id := uuid.New()
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: oid},
		{Key: "createdAt", Value: primitive.NewDateTimeFromTime(testTime)},
		{Key: "uid", Value: primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: id[:]}},
		{Key: "flag", Value: true},
		{Key: "gone", Value: nil},
		{Key: "nested", Value: bson.D{{Key: "n", Value: int64(9)}}},
	})
	require.NoError(t, err)

	orderings := Orderings{
		{Column: "createdAt", Direction: DirectionDESC},
		{Column: "uid", Direction: DirectionASC},
		{Column: "flag", Direction: DirectionASC},
		{Column: "gone", Direction: DirectionASC},
		{Column: "nested.n", Direction: DirectionASC},
		{Column: "_id", Direction: DirectionASC},
	}

	got, err := RawExtractor{}.Extract(bson.Raw(raw), orderings)
	require.NoError(t, err)
	require.Equal(t, []Value{Time(testTime), UUID(id), Bool(true), Null(), Int(9), ObjectID(oid)}, got)

	_, err = RawExtractor{}.Extract(bson.Raw(raw), Orderings{{Column: "missing", Direction: DirectionASC}})
	require.Error(t, err)

	_, err = RawExtractor{}.Extract(bson.Raw(raw), Orderings{{Column: "nested", Direction: DirectionASC}})
	require.ErrorIs(t, err, ErrUnsupportedValue)
}
