// Package codec turns pipeline values into BSON through a registry of
// type-keyed encoders.
//
// Every value reachable from a stage body is written by exactly one encoder
// found in a Registry. There is no reflective fallback: a value whose type
// was never registered (and does not implement Marshaler) fails with an
// UnsupportedTypeError before anything is handed to the database.
package codec

import (
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Encoder writes a single value to vw.
type Encoder interface {
	Encode(ctx Context, vw bson.ValueWriter, v any) error
}

// EncoderFunc adapts an ordinary function to the Encoder interface.
type EncoderFunc func(ctx Context, vw bson.ValueWriter, v any) error

// Encode calls fn(ctx, vw, v).
func (fn EncoderFunc) Encode(ctx Context, vw bson.ValueWriter, v any) error {
	return fn(ctx, vw, v)
}

// Marshaler is implemented by values that know how to write themselves.
// Types implementing it need no registration.
type Marshaler interface {
	EncodePipelineValue(ctx Context, vw bson.ValueWriter) error
}

// CollectionResolver maps an entity type to the collection it is stored in.
// Lookup and Out stages use it when they target a type instead of a name.
type CollectionResolver interface {
	ResolveCollection(t reflect.Type) (string, error)
}

var marshalerType = reflect.TypeFor[Marshaler]()

type marshalerEncoder struct{}

func (marshalerEncoder) Encode(ctx Context, vw bson.ValueWriter, v any) error {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return vw.WriteNull()
	}
	return v.(Marshaler).EncodePipelineValue(ctx, vw)
}

type pointerEncoder struct {
	elem Encoder
}

func (p pointerEncoder) Encode(ctx Context, vw bson.ValueWriter, v any) error {
	rv := reflect.ValueOf(v)
	if rv.IsNil() {
		return vw.WriteNull()
	}
	return p.elem.Encode(ctx, vw, rv.Elem().Interface())
}

type nullEncoder struct{}

func (nullEncoder) Encode(_ Context, vw bson.ValueWriter, _ any) error {
	return vw.WriteNull()
}
