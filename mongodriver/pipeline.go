package mongodriver

import (
	"context"
	"fmt"
	"time"

	"github.com/dosco/graphjin/aggregate/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregate implements aggregate.Sink. The returned cursor decodes with
// the compiler's registry.
func (c *Conn) Aggregate(ctx context.Context, req aggregate.Request) (aggregate.ResultCursor, error) {
	if req.Collection == "" {
		return nil, fmt.Errorf("mongodriver: aggregate requires collection")
	}

	start := time.Now()
	cursor, err := c.collection(req.Collection).Aggregate(ctx, req.Stages, aggregateOptions(req.Options))
	if err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate on %s: %w", req.Collection, err)
	}

	c.log.Debug("aggregate",
		zap.String("collection", req.Collection),
		zap.Int("stages", len(req.Stages)),
		zap.Duration("elapsed", time.Since(start)))

	return cursor, nil
}

// Run compiles p and runs it, decoding every result into T.
func Run[T any](ctx context.Context, c *Conn, p aggregate.Pipeline) ([]T, error) {
	cur, err := aggregate.Execute[T](ctx, c.compiler, c, p)
	if err != nil {
		return nil, err
	}
	return cur.All(ctx)
}

// AggregateMany runs several requests concurrently and returns the raw
// result documents of each, in request order. The first failure cancels
// the rest.
func (c *Conn) AggregateMany(ctx context.Context, reqs []aggregate.Request) ([][]bson.Raw, error) {
	results := make([][]bson.Raw, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for i, req := range reqs {
		g.Go(func() error {
			docs, err := c.collect(ctx, req)
			if err != nil {
				return err
			}
			results[i] = docs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Conn) collect(ctx context.Context, req aggregate.Request) ([]bson.Raw, error) {
	cursor, err := c.collection(req.Collection).Aggregate(ctx, req.Stages, aggregateOptions(req.Options))
	if err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate on %s: %w", req.Collection, err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			c.log.Warn("cursor close", zap.String("collection", req.Collection), zap.Error(err))
		}
	}()

	var docs []bson.Raw
	for cursor.Next(ctx) {
		// Current is only valid until the next call to Next
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate results on %s: %w", req.Collection, err)
	}
	return docs, nil
}

// aggregateOptions maps pipeline options onto the driver's.
func aggregateOptions(o aggregate.Options) *options.AggregateOptionsBuilder {
	opts := options.Aggregate()

	if o.AllowDiskUse {
		opts.SetAllowDiskUse(true)
	}
	if o.BatchSize > 0 {
		opts.SetBatchSize(o.BatchSize)
	}
	if o.BypassDocumentValidation {
		opts.SetBypassDocumentValidation(true)
	}
	if o.Collation != nil {
		opts.SetCollation(&options.Collation{
			Locale:          o.Collation.Locale,
			CaseLevel:       o.Collation.CaseLevel,
			CaseFirst:       o.Collation.CaseFirst,
			Strength:        int(o.Collation.Strength),
			NumericOrdering: o.Collation.NumericOrdering,
			Alternate:       o.Collation.Alternate,
			MaxVariable:     o.Collation.MaxVariable,
			Normalization:   o.Collation.Normalization,
			Backwards:       o.Collation.Backwards,
		})
	}
	if o.Comment != "" {
		opts.SetComment(o.Comment)
	}
	if o.Hint != nil {
		opts.SetHint(o.Hint)
	}
	if o.Let != nil {
		opts.SetLet(o.Let)
	}
	if o.MaxAwaitTime > 0 {
		opts.SetMaxAwaitTime(o.MaxAwaitTime)
	}
	return opts
}
