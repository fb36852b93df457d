package stage

import (
	"reflect"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Group folds documents sharing an id:
// {"$group": {"_id": id | null, field: accumulator, ...}}.
type Group struct {
	id     expr.Expression
	fields []namedValue[expr.Accumulator]
}

// NewGroup groups by id. A nil id puts every document in one group.
func NewGroup(id expr.Expression) Group {
	return Group{id: id}
}

// GroupByFields groups by a composite id built from the named fields:
// {"_id": {a: "$a", b: "$b"}}.
func GroupByFields(names ...string) Group {
	id := make(bson.D, 0, len(names))
	for _, n := range names {
		id = append(id, bson.E{Key: n, Value: expr.Field(n)})
	}
	return Group{id: expr.Document(id)}
}

// ID is a field reference usable as a group id, as in NewGroup(ID("author")).
func ID(name string) expr.FieldRef {
	return expr.Field(name)
}

// Field adds an output field computed by acc.
func (g Group) Field(name string, acc expr.Accumulator) Group {
	g.fields = upsert(g.fields, name, acc)
	return g
}

func (Group) Name() string { return NameGroup }

func (g Group) Validate() error {
	for _, f := range g.fields {
		if f.name == idField {
			return invalid(NameGroup, idField, "output field name is reserved for the group id")
		}
	}
	return validateNames(NameGroup, g.fields)
}

func (Group) stageNode() {}

// checkReserved rejects output names that would repeat a settings key of
// the stage body.
func checkReserved(stage string, fields []namedValue[expr.Accumulator], reserved ...string) error {
	for _, f := range fields {
		for _, r := range reserved {
			if f.name == r {
				return invalid(stage, f.name, "output field name is reserved")
			}
		}
	}
	return nil
}

func encodeGroup(ctx codec.Context, vw bson.ValueWriter, g Group) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	if err := codec.WriteElement(ctx, dw, idField, g.id); err != nil {
		return err
	}
	if err := writeAccumulators(ctx, dw, g.fields); err != nil {
		return err
	}
	return dw.WriteDocumentEnd()
}

// Bucket groups documents into ranges of groupBy delimited by
// boundaries. Output accumulators are written at the top level of the
// body after the bucket settings:
// {"$bucket": {"groupBy": e, "boundaries": [...], "default": v, field: acc}}.
//
// Boundary order is not checked here; the engine rejects unsorted
// boundaries when the pipeline runs.
type Bucket struct {
	groupBy    expr.Expression
	boundaries []expr.Expression
	def        any
	outputs    []namedValue[expr.Accumulator]
}

func NewBucket() Bucket {
	return Bucket{}
}

func (b Bucket) GroupBy(e expr.Expression) Bucket {
	b.groupBy = e
	return b
}

// Boundaries sets the bucket lower bounds, replacing earlier ones.
func (b Bucket) Boundaries(bounds ...expr.Expression) Bucket {
	b.boundaries = append([]expr.Expression(nil), bounds...)
	return b
}

// Default names the bucket for values outside the boundaries. A nil
// value, nil pointer or nil literal leaves it unset and the key is
// omitted.
func (b Bucket) Default(v any) Bucket {
	if isNil(v) {
		v = nil
	}
	b.def = v
	return b
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	if lit, ok := v.(expr.LiteralValue); ok {
		return isNil(lit.Value)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// Output adds an accumulated field to each bucket document.
func (b Bucket) Output(name string, acc expr.Accumulator) Bucket {
	b.outputs = upsert(b.outputs, name, acc)
	return b
}

func (Bucket) Name() string { return NameBucket }

func (b Bucket) Validate() error {
	if b.groupBy == nil {
		return missing(NameBucket, "groupBy")
	}
	if len(b.boundaries) == 0 {
		return missing(NameBucket, "boundaries")
	}
	if len(b.boundaries) < 2 {
		return invalid(NameBucket, "boundaries", "at least two boundaries are required")
	}
	if err := checkReserved(NameBucket, b.outputs, "groupBy", "boundaries", "default"); err != nil {
		return err
	}
	return validateNames(NameBucket, b.outputs)
}

func (Bucket) stageNode() {}

func encodeBucket(ctx codec.Context, vw bson.ValueWriter, b Bucket) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	if err := codec.WriteElement(ctx, dw, "groupBy", b.groupBy); err != nil {
		return err
	}
	if err := codec.WriteElement(ctx, dw, "boundaries", b.boundaries); err != nil {
		return err
	}
	if b.def != nil {
		if err := codec.WriteElement(ctx, dw, "default", b.def); err != nil {
			return err
		}
	}
	if err := writeAccumulators(ctx, dw, b.outputs); err != nil {
		return err
	}
	return dw.WriteDocumentEnd()
}

// AutoBucket spreads documents over a fixed number of buckets:
// {"$bucketAuto": {"groupBy": e, "buckets": n, "output": {field: acc}}}.
// The output document is omitted when no field is declared.
type AutoBucket struct {
	groupBy     expr.Expression
	buckets     int
	granularity string
	outputs     []namedValue[expr.Accumulator]
}

func NewAutoBucket() AutoBucket {
	return AutoBucket{}
}

func (a AutoBucket) GroupBy(e expr.Expression) AutoBucket {
	a.groupBy = e
	return a
}

func (a AutoBucket) Buckets(n int) AutoBucket {
	a.buckets = n
	return a
}

// Granularity selects a preferred number series such as "R5" or "1-2-5".
func (a AutoBucket) Granularity(series string) AutoBucket {
	a.granularity = series
	return a
}

func (a AutoBucket) Output(name string, acc expr.Accumulator) AutoBucket {
	a.outputs = upsert(a.outputs, name, acc)
	return a
}

func (AutoBucket) Name() string { return NameAutoBucket }

func (a AutoBucket) Validate() error {
	if a.groupBy == nil {
		return missing(NameAutoBucket, "groupBy")
	}
	if a.buckets <= 0 {
		return invalid(NameAutoBucket, "buckets", "must be a positive integer")
	}
	return validateNames(NameAutoBucket, a.outputs)
}

func (AutoBucket) stageNode() {}

func encodeAutoBucket(ctx codec.Context, vw bson.ValueWriter, a AutoBucket) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	if err := codec.WriteElement(ctx, dw, "groupBy", a.groupBy); err != nil {
		return err
	}
	if err := codec.WriteElement(ctx, dw, "buckets", a.buckets); err != nil {
		return err
	}
	if a.granularity != "" {
		if err := codec.WriteElement(ctx, dw, "granularity", a.granularity); err != nil {
			return err
		}
	}
	if len(a.outputs) > 0 {
		ow, err := dw.WriteDocumentElement("output")
		if err != nil {
			return err
		}
		odw, err := ow.WriteDocument()
		if err != nil {
			return err
		}
		if err := writeAccumulators(ctx.WithField("output"), odw, a.outputs); err != nil {
			return err
		}
		if err := odw.WriteDocumentEnd(); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}
