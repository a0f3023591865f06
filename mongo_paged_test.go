package keypager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeCollection serves canned documents and records what it was asked.
type fakeCollection struct {
	mu sync.Mutex

	docs     []any
	count    int64
	findErr  error
	countErr error

	filters   []any
	findOpts  []*options.FindOptions
	counted   []any
	pipelines []mongo.Pipeline
}

func (f *fakeCollection) Find(_ context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filters = append(f.filters, filter)
	f.findOpts = append(f.findOpts, opts...)
	if f.findErr != nil {
		return nil, f.findErr
	}

	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func (f *fakeCollection) CountDocuments(_ context.Context, filter any, _ ...*options.CountOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counted = append(f.counted, filter)

	return f.count, f.countErr
}

func (f *fakeCollection) Aggregate(_ context.Context, pipeline any, _ ...*options.AggregateOptions) (*mongo.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := pipeline.(mongo.Pipeline)
	f.pipelines = append(f.pipelines, p)

	if last := p[len(p)-1]; last[0].Key == "$count" {
		if f.count == 0 {
			return mongo.NewCursorFromDocuments(nil, nil, nil)
		}
		return mongo.NewCursorFromDocuments([]any{bson.D{{Key: "count", Value: int32(f.count)}}}, nil, nil)
	}

	return mongo.NewCursorFromDocuments(f.docs, nil, nil)
}

func articles() []any {
	return []any{
		bson.D{{Key: "_id", Value: int64(1)}, {Key: "title", Value: "A"}, {Key: "createdAt", Value: int64(5)}},
		bson.D{{Key: "_id", Value: int64(2)}, {Key: "title", Value: "B"}, {Key: "createdAt", Value: int64(4)}},
		bson.D{{Key: "_id", Value: int64(3)}, {Key: "title", Value: "C"}, {Key: "createdAt", Value: int64(3)}},
	}
}

func Test_FindPaged(t *testing.T) {
	coll := &fakeCollection{docs: articles(), count: 3}
	query := bson.D{{Key: "published", Value: true}}

	pager := NewCursorPager().
		WithLimit(2).
		WithSort(OrderBy{Column: "createdAt", Direction: DirectionDESC})

	page, err := FindPaged(context.Background(), coll, pager, query, Extractor[bson.M](DocumentExtractor{}))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "A", page.Items[0]["title"])
	require.Equal(t, "B", page.Items[1]["title"])
	require.True(t, page.HasNext)
	require.False(t, page.HasPrevious)
	require.Equal(t, Encode(Int(4), Int(2)), page.NextCursor)
	require.NotNil(t, page.TotalCount)
	require.Equal(t, int64(3), *page.TotalCount)

	require.Equal(t, []any{query}, coll.filters, "no cursor, the query is used as is")
	require.Equal(t, []any{query}, coll.counted)
}

func Test_FindPaged_ProjectionWithScoreSort(t *testing.T) {
	coll := &fakeCollection{docs: []any{
		bson.D{{Key: "_id", Value: int64(1)}, {Key: "title", Value: "A"}, {Key: "score", Value: 0.9}},
		bson.D{{Key: "_id", Value: int64(2)}, {Key: "title", Value: "B"}, {Key: "score", Value: 0.7}},
	}}
	query := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "go"}}}}

	pager := NewCursorPager().
		WithPolicy(Policy{SkipTotalCount: true}).
		WithLimit(1).
		WithSort(OrderBy{Column: "score", Direction: DirectionScore})

	page, err := FindPaged(
		context.Background(), coll, pager, query, Extractor[bson.M](DocumentExtractor{}),
		options.Find().SetProjection(bson.D{{Key: "title", Value: 1}}),
	)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.True(t, page.HasNext)
	require.Equal(t, Encode(Score(0.9), Int(1)), page.NextCursor)

	require.Len(t, coll.findOpts, 1)
	require.Equal(t, bson.D{
		{Key: "title", Value: 1},
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
	}, coll.findOpts[0].Projection)
}

func Test_FindPaged_SkipTotalCount(t *testing.T) {
	coll := &fakeCollection{docs: articles()[2:]}

	pager := NewCursorPager().
		WithPolicy(Policy{SkipTotalCount: true}).
		WithLimit(2).
		WithNext(NewCursor(Int(4), Int(2))).
		WithSort(OrderBy{Column: "createdAt", Direction: DirectionDESC})

	page, err := FindPaged(context.Background(), coll, pager, nil, Extractor[bson.M](DocumentExtractor{}))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.False(t, page.HasNext)
	require.True(t, page.HasPrevious)
	require.Equal(t, Encode(Int(3), Int(3)), page.PreviousCursor)
	require.Nil(t, page.TotalCount)
	require.Empty(t, coll.counted)

	require.Len(t, coll.filters, 1)
	filter := coll.filters[0].(bson.D)
	require.Equal(t, "$and", filter[0].Key)
}

func Test_FindPaged_Errors(t *testing.T) {
	pager := NewCursorPager().WithSort(OrderBy{Column: "createdAt", Direction: DirectionDESC})
	extractor := Extractor[bson.M](DocumentExtractor{})

	findErr := errors.New("connection reset")
	_, err := FindPaged(context.Background(), &fakeCollection{findErr: findErr}, pager, nil, extractor)
	require.ErrorIs(t, err, findErr)

	countErr := errors.New("count timed out")
	_, err = FindPaged(context.Background(), &fakeCollection{docs: articles(), countErr: countErr}, pager, nil, extractor)
	require.ErrorIs(t, err, countErr)

	coll := &fakeCollection{}
	_, err = FindPaged(context.Background(), coll, pager.WithNext(NewCursor(Int(1))), nil, extractor)
	require.ErrorIs(t, err, ErrCursorArityMismatch)
	require.Empty(t, coll.filters, "nothing is queried for a bad cursor")
}

func Test_AggregatePaged(t *testing.T) {
	coll := &fakeCollection{docs: articles(), count: 3}
	base := mongoPipeline(stage("$match", bson.D{{Key: "published", Value: true}}))

	pager := NewCursorPager().
		WithLimit(2).
		WithSort(OrderBy{Column: "createdAt", Direction: DirectionDESC})

	page, err := AggregatePaged(context.Background(), coll, pager, base, Extractor[bson.Raw](RawExtractor{}))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasNext)
	require.Equal(t, Encode(Int(4), Int(2)), page.NextCursor)
	require.Equal(t, int64(3), *page.TotalCount)
	require.Len(t, coll.pipelines, 2)

	title, err := page.Items[0].LookupErr("title")
	require.NoError(t, err)
	require.Equal(t, "A", title.StringValue())
}

func Test_AggregatePaged_EmptyCount(t *testing.T) {
	coll := &fakeCollection{}

	page, err := AggregatePaged(context.Background(), coll, NewCursorPager(), nil, Extractor[bson.Raw](RawExtractor{}))
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.NotNil(t, page.TotalCount)
	require.Equal(t, int64(0), *page.TotalCount)
}

func Test_AggregatePaged_InvalidPipeline(t *testing.T) {
	coll := &fakeCollection{}
	base := mongoPipeline(stage("$unset", "_id"))

	_, err := AggregatePaged(context.Background(), coll, NewCursorPager(), base, Extractor[bson.Raw](RawExtractor{}))
	require.ErrorIs(t, err, ErrPipelineIdentityProjectionViolation)
	require.Empty(t, coll.pipelines)
}
