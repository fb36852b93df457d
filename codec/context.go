package codec

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Context carries the registry and encoding position through a recursive
// encode. It is a value: every narrowing method returns a copy, so a
// nested encode can never change what its parent or siblings see.
type Context struct {
	reg          *Registry
	resolver     CollectionResolver
	stage        string
	path         []string
	accumulators bool
	driver       bool
}

// NewContext returns the root context for one compile call. resolver may
// be nil when no stage targets a mapped type.
func NewContext(reg *Registry, resolver CollectionResolver) Context {
	return Context{reg: reg, resolver: resolver}
}

// Encode dispatches v to its registered encoder. A nil v is written as
// null.
func (c Context) Encode(vw bson.ValueWriter, v any) error {
	if v == nil {
		return vw.WriteNull()
	}
	t := reflect.TypeOf(v)
	enc, err := c.reg.Lookup(t)
	if err != nil {
		if c.driver {
			return BSONEncoder{}.Encode(c.Child(), vw, v)
		}
		return &UnsupportedTypeError{Type: t, Stage: c.stage, Path: c.Path()}
	}
	return enc.Encode(c.Child(), vw, v)
}

// Child returns a context sharing the registry and position but no
// backing storage with c.
func (c Context) Child() Context {
	c.path = slices.Clip(c.path)
	return c
}

// WithStage returns a context positioned at the top of the named stage
// body. Accumulators are disallowed until a grouping codec enables them.
func (c Context) WithStage(name string) Context {
	c.stage = name
	c.path = nil
	c.accumulators = false
	c.driver = false
	return c
}

// WithField returns a context one path segment deeper.
func (c Context) WithField(name string) Context {
	c.path = append(slices.Clip(c.path), name)
	return c
}

// WithAccumulators returns a context where accumulator-only operators are
// (or are not) allowed.
func (c Context) WithAccumulators(allowed bool) Context {
	c.accumulators = allowed
	return c
}

// WithDriverFallback returns a context that hands types missing from the
// registry to the driver's own encoders instead of failing. Values the
// registry knows still go through it.
func (c Context) WithDriverFallback() Context {
	c.driver = true
	return c
}

func (c Context) AccumulatorsAllowed() bool {
	return c.accumulators
}

// Stage is the operator name of the stage being encoded, e.g. "$group".
func (c Context) Stage() string {
	return c.stage
}

// Path is the dotted position inside the stage body.
func (c Context) Path() string {
	return strings.Join(c.path, ".")
}

func (c Context) Registry() *Registry {
	return c.reg
}

// CollectionName resolves the collection an entity type is stored in.
func (c Context) CollectionName(t reflect.Type) (string, error) {
	if c.resolver == nil {
		return "", fmt.Errorf("%w: %s", ErrNoResolver, t)
	}
	return c.resolver.ResolveCollection(t)
}
