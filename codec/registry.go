package codec

import (
	"maps"
	"reflect"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Registry maps runtime types to encoders.
//
// Lookups never take a lock: the encoder table is replaced wholesale on
// every registration and readers load it through an atomic pointer.
// Registration is expected at startup, before pipelines are compiled.
type Registry struct {
	mu       sync.Mutex
	encoders atomic.Pointer[map[reflect.Type]Encoder]
	bson     *bson.Registry
}

// NewRegistry returns a registry holding the builtin scalar and container
// encoders.
func NewRegistry() *Registry {
	r := &Registry{bson: bson.NewRegistry()}
	table := make(map[reflect.Type]Encoder)
	r.encoders.Store(&table)
	registerBuiltins(r)
	return r
}

// Register installs enc for values whose dynamic type is exactly t.
// A later registration for the same type replaces the earlier one, which
// is how callers shadow a builtin encoder.
func (r *Registry) Register(t reflect.Type, enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.encoders.Load()
	next := make(map[reflect.Type]Encoder, len(cur)+1)
	maps.Copy(next, cur)
	next[t] = enc
	r.encoders.Store(&next)
}

// RegisterType installs a typed encoder function for T.
func RegisterType[T any](r *Registry, fn func(ctx Context, vw bson.ValueWriter, v T) error) {
	r.Register(reflect.TypeFor[T](), EncoderFunc(func(ctx Context, vw bson.ValueWriter, v any) error {
		return fn(ctx, vw, v.(T))
	}))
}

// Lookup returns the encoder for t. Exact registrations win, then the
// Marshaler capability, then the encoder of a pointer's element type.
func (r *Registry) Lookup(t reflect.Type) (Encoder, error) {
	if t == nil {
		return nullEncoder{}, nil
	}
	if enc, ok := (*r.encoders.Load())[t]; ok {
		return enc, nil
	}
	if t.Implements(marshalerType) {
		return marshalerEncoder{}, nil
	}
	if t.Kind() == reflect.Pointer {
		elem, err := r.Lookup(t.Elem())
		if err != nil {
			return nil, &UnsupportedTypeError{Type: t}
		}
		return pointerEncoder{elem: elem}, nil
	}
	return nil, &UnsupportedTypeError{Type: t}
}

// LookupValue is Lookup on the dynamic type of v.
func (r *Registry) LookupValue(v any) (Encoder, error) {
	return r.Lookup(reflect.TypeOf(v))
}

// BSON returns the driver registry the builtin encoders delegate to. The
// same registry is used to decode aggregation results.
func (r *Registry) BSON() *bson.Registry {
	return r.bson
}
