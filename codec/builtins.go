package codec

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// BSONEncoder writes a value with the driver's own encoder for its type.
// Scalars and mapped entity structs are registered with it.
type BSONEncoder struct{}

// Encode looks up the driver encoder for v and runs it.
func (BSONEncoder) Encode(ctx Context, vw bson.ValueWriter, v any) error {
	reg := ctx.Registry().BSON()
	rv := reflect.ValueOf(v)
	enc, err := reg.LookupEncoder(rv.Type())
	if err != nil {
		return &UnsupportedTypeError{Type: rv.Type(), Stage: ctx.Stage(), Path: ctx.Path()}
	}
	return enc.EncodeValue(bson.EncodeContext{Registry: reg}, vw, rv)
}

var scalarTypes = []reflect.Type{
	reflect.TypeFor[string](),
	reflect.TypeFor[bool](),
	reflect.TypeFor[int](),
	reflect.TypeFor[int8](),
	reflect.TypeFor[int16](),
	reflect.TypeFor[int32](),
	reflect.TypeFor[int64](),
	reflect.TypeFor[uint](),
	reflect.TypeFor[uint8](),
	reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](),
	reflect.TypeFor[uint64](),
	reflect.TypeFor[float32](),
	reflect.TypeFor[float64](),
	reflect.TypeFor[time.Time](),
	reflect.TypeFor[bson.ObjectID](),
	reflect.TypeFor[bson.Decimal128](),
	reflect.TypeFor[bson.DateTime](),
	reflect.TypeFor[bson.Regex](),
	reflect.TypeFor[bson.Timestamp](),
	reflect.TypeFor[bson.Binary](),
	reflect.TypeFor[bson.Raw](),
}

func registerBuiltins(r *Registry) {
	for _, t := range scalarTypes {
		r.Register(t, BSONEncoder{})
	}

	RegisterType(r, encodeSeq[any])
	RegisterType(r, encodeSeq[string])
	RegisterType(r, encodeSeq[int])
	RegisterType(r, encodeSeq[int32])
	RegisterType(r, encodeSeq[int64])
	RegisterType(r, encodeSeq[float64])
	RegisterType(r, func(ctx Context, vw bson.ValueWriter, v bson.A) error {
		return encodeSeq(ctx, vw, []any(v))
	})

	RegisterType(r, encodeSeq[bson.D])
	RegisterType(r, encodeSeq[bson.M])
	RegisterType(r, func(ctx Context, vw bson.ValueWriter, v []bson.E) error {
		return encodeD(ctx, vw, bson.D(v))
	})

	RegisterType(r, encodeD)
	RegisterType(r, encodeMap)
	RegisterType(r, func(ctx Context, vw bson.ValueWriter, v bson.M) error {
		return encodeMap(ctx, vw, map[string]any(v))
	})
}

func encodeSeq[T any](ctx Context, vw bson.ValueWriter, items []T) error {
	aw, err := vw.WriteArray()
	if err != nil {
		return err
	}
	for i, item := range items {
		ev, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := ctx.WithField(strconv.Itoa(i)).Encode(ev, item); err != nil {
			return err
		}
	}
	return aw.WriteArrayEnd()
}

func encodeD(ctx Context, vw bson.ValueWriter, d bson.D) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, e := range d {
		if err := WriteElement(ctx, dw, e.Key, e.Value); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

// maps have no order, keys are written sorted so output stays deterministic
func encodeMap(ctx Context, vw bson.ValueWriter, m map[string]any) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := WriteElement(ctx, dw, k, m[k]); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

// WriteElement writes name into dw and encodes v as its value, with the
// context narrowed to that field.
func WriteElement(ctx Context, dw bson.DocumentWriter, name string, v any) error {
	ev, err := dw.WriteDocumentElement(name)
	if err != nil {
		return err
	}
	return ctx.WithField(name).Encode(ev, v)
}
