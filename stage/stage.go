// Package stage holds the aggregation stage catalog.
//
// Each stage kind is an immutable value built with chained methods; every
// method returns a modified copy. Stage is sealed and each kind has exactly
// one body encoder, installed into a codec.Registry by Register. A compiled
// stage is the single-key document {"<Name()>": <body>}.
package stage

import (
	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Operator names.
const (
	NameProject     = "$project"
	NameAddFields   = "$addFields"
	NameGroup       = "$group"
	NameBucket      = "$bucket"
	NameAutoBucket  = "$bucketAuto"
	NameLookup      = "$lookup"
	NameGraphLookup = "$graphLookup"
	NameSort        = "$sort"
	NameSample      = "$sample"
	NameLimit       = "$limit"
	NameSkip        = "$skip"
	NameOut         = "$out"
	NameMatch       = "$match"
	NameUnwind      = "$unwind"
	NameCount       = "$count"
	NameReplaceRoot = "$replaceRoot"
)

// Stage is one step of a pipeline.
type Stage interface {
	// Name is the stage operator, e.g. "$group".
	Name() string

	// Validate reports a MalformedStageError when a required part of the
	// stage was never set.
	Validate() error

	stageNode()
}

// Register installs the body encoder of every stage kind into reg.
func Register(reg *codec.Registry) {
	register(reg, encodeProjection)
	register(reg, encodeAddFields)
	register(reg, encodeGroup)
	register(reg, encodeBucket)
	register(reg, encodeAutoBucket)
	register(reg, encodeLookup)
	register(reg, encodeGraphLookup)
	register(reg, encodeSort)
	register(reg, encodeSample)
	register(reg, encodeLimit)
	register(reg, encodeSkip)
	register(reg, encodeOut)
	register(reg, encodeMatch)
	register(reg, encodeUnwind)
	register(reg, encodeCount)
	register(reg, encodeReplaceRoot)
}

// register wraps body so a stage is validated before any of it is
// written.
func register[S Stage](reg *codec.Registry, body func(ctx codec.Context, vw bson.ValueWriter, s S) error) {
	codec.RegisterType(reg, func(ctx codec.Context, vw bson.ValueWriter, s S) error {
		if err := s.Validate(); err != nil {
			return err
		}
		return body(ctx, vw, s)
	})
}

func missing(stage, field string) error {
	return &codec.MalformedStageError{Stage: stage, Field: field}
}

func invalid(stage, field, reason string) error {
	return &codec.MalformedStageError{Stage: stage, Field: field, Reason: reason}
}

// namedValue is one ordered output field of a stage body.
type namedValue[V any] struct {
	name  string
	value V
}

// upsert replaces the value of an existing name in place, or appends.
func upsert[V any](fields []namedValue[V], name string, v V) []namedValue[V] {
	for i := range fields {
		if fields[i].name == name {
			out := append([]namedValue[V](nil), fields...)
			out[i].value = v
			return out
		}
	}
	out := make([]namedValue[V], len(fields), len(fields)+1)
	copy(out, fields)
	return append(out, namedValue[V]{name: name, value: v})
}

// writeAccumulators writes grouping output fields. Only accumulators are
// accepted and accumulator-only operators are enabled for them.
func writeAccumulators(ctx codec.Context, dw bson.DocumentWriter, fields []namedValue[expr.Accumulator]) error {
	actx := ctx.WithAccumulators(true)
	for _, f := range fields {
		if !expr.IsAccumulator(f.value.Operator) {
			return &codec.InvalidExpressionPlacementError{
				Operator: "$" + f.value.Operator,
				Stage:    ctx.Stage(),
				Path:     f.name,
			}
		}
		if err := codec.WriteElement(actx, dw, f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

func validateNames[V any](stage string, fields []namedValue[V]) error {
	for _, f := range fields {
		if f.name == "" {
			return invalid(stage, "field", "empty field name")
		}
	}
	return nil
}
