package aggregate

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Request is a compiled pipeline ready to run.
type Request struct {
	Collection string
	Stages     []bson.Raw
	Options    Options
}

// ResultCursor iterates result documents. *mongo.Cursor satisfies it.
type ResultCursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Sink runs compiled pipelines.
type Sink interface {
	Aggregate(ctx context.Context, req Request) (ResultCursor, error)
}

// Cursor decodes each result document into a T.
type Cursor[T any] struct {
	rc  ResultCursor
	cur T
	err error
}

// NewCursor wraps rc.
func NewCursor[T any](rc ResultCursor) *Cursor[T] {
	return &Cursor[T]{rc: rc}
}

// Next advances to the next document and decodes it. It returns false at
// the end of the results or on the first error.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil || !c.rc.Next(ctx) {
		return false
	}
	var v T
	if err := c.rc.Decode(&v); err != nil {
		c.err = err
		return false
	}
	c.cur = v
	return true
}

// Value is the document decoded by the last successful Next.
func (c *Cursor[T]) Value() T {
	return c.cur
}

func (c *Cursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rc.Err()
}

func (c *Cursor[T]) Close(ctx context.Context) error {
	return c.rc.Close(ctx)
}

// All drains and closes the cursor.
func (c *Cursor[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for c.Next(ctx) {
		out = append(out, c.Value())
	}
	err := c.Err()
	if cerr := c.Close(ctx); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Execute compiles p with c and runs it on sink. Nothing reaches the sink
// if compilation fails.
func Execute[T any](ctx context.Context, c *Compiler, sink Sink, p Pipeline) (*Cursor[T], error) {
	if sink == nil {
		return nil, errors.New("aggregate: nil sink")
	}
	req, err := c.Request(p)
	if err != nil {
		return nil, err
	}
	rc, err := sink.Aggregate(ctx, req)
	if err != nil {
		return nil, err
	}
	return NewCursor[T](rc), nil
}
