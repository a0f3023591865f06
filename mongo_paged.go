package keypager

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// Collection is the subset of *mongo.Collection used to read pages.
type Collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	CountDocuments(ctx context.Context, filter any, opts ...*options.CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline any, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

var _ Collection = (*mongo.Collection)(nil)

// FindPaged reads one page with find(). query is the caller's filter and
// may be nil; opts may carry a projection, collation or hints (see
// CursorPager.FindOptions). The total count of documents matching query is
// computed concurrently unless the pager policy skips it.
func FindPaged[T any](
	ctx context.Context,
	coll Collection,
	pager *CursorPager,
	query any,
	extractor Extractor[T],
	opts ...*options.FindOptions,
) (*PageResult[T], error) {
	filter, err := pager.Filter(query)
	if err != nil {
		return nil, err
	}

	findOpts, err := pager.FindOptions(opts...)
	if err != nil {
		return nil, err
	}

	if query == nil {
		query = bson.D{}
	}

	var (
		rows  []T
		total *int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cursor, err := coll.Find(gctx, filter, findOpts)
		if err != nil {
			return fmt.Errorf("find page: %w", err)
		}

		return decodeAll(gctx, cursor, &rows)
	})

	if !pager.GetPolicy().SkipTotalCount {
		g.Go(func() error {
			count, err := coll.CountDocuments(gctx, query)
			if err != nil {
				return fmt.Errorf("count documents: %w", err)
			}

			total = &count

			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}

	return NextPage(pager, rows, extractor, total)
}

// AggregatePaged reads one page through an aggregation pipeline. The total
// is counted by running base followed by {$count: "count"}.
func AggregatePaged[T any](
	ctx context.Context,
	coll Collection,
	pager *CursorPager,
	base mongo.Pipeline,
	extractor Extractor[T],
	opts ...*options.AggregateOptions,
) (*PageResult[T], error) {
	pipeline, err := pager.Pipeline(base)
	if err != nil {
		return nil, err
	}

	var (
		rows  []T
		total *int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cursor, err := coll.Aggregate(gctx, pipeline, opts...)
		if err != nil {
			return fmt.Errorf("aggregate page: %w", err)
		}

		return decodeAll(gctx, cursor, &rows)
	})

	if !pager.GetPolicy().SkipTotalCount {
		g.Go(func() error {
			cursor, err := coll.Aggregate(gctx, CountPipeline(base), opts...)
			if err != nil {
				return fmt.Errorf("aggregate count: %w", err)
			}

			var counts []struct {
				Count int64 `bson:"count"`
			}
			if err = decodeAll(gctx, cursor, &counts); err != nil {
				return err
			}

			// $count emits no document at all for an empty input.
			var count int64
			if len(counts) > 0 {
				count = counts[0].Count
			}
			total = &count

			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}

	return NextPage(pager, rows, extractor, total)
}

func decodeAll[T any](ctx context.Context, cursor *mongo.Cursor, out *[]T) error {
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("decode documents: %w", err)
	}

	return nil
}
