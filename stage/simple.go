package stage

import (
	"reflect"
	"strings"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Sort orders documents: {"$sort": {field: 1 | -1, ...}}. Keys keep their
// declaration order, which the engine uses as sort precedence.
type Sort struct {
	fields []namedValue[int32]
}

func SortOn() Sort {
	return Sort{}
}

func (s Sort) Ascending(names ...string) Sort {
	for _, n := range names {
		s.fields = upsert(s.fields, n, 1)
	}
	return s
}

func (s Sort) Descending(names ...string) Sort {
	for _, n := range names {
		s.fields = upsert(s.fields, n, -1)
	}
	return s
}

func (Sort) Name() string { return NameSort }

func (s Sort) Validate() error {
	if len(s.fields) == 0 {
		return invalid(NameSort, "fields", "at least one sort key is required")
	}
	return validateNames(NameSort, s.fields)
}

func (Sort) stageNode() {}

func encodeSort(ctx codec.Context, vw bson.ValueWriter, s Sort) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, f := range s.fields {
		ev, err := dw.WriteDocumentElement(f.name)
		if err != nil {
			return err
		}
		if err := ev.WriteInt32(f.value); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

// Sample picks random documents: {"$sample": {"size": n}}.
type Sample struct {
	size int
}

func SampleOf(size int) Sample {
	return Sample{size: size}
}

func (Sample) Name() string { return NameSample }

func (s Sample) Validate() error {
	if s.size <= 0 {
		return invalid(NameSample, "size", "must be a positive integer")
	}
	return nil
}

func (Sample) stageNode() {}

func encodeSample(ctx codec.Context, vw bson.ValueWriter, s Sample) error {
	return ctx.Encode(vw, bson.D{{Key: "size", Value: s.size}})
}

// Limit passes the first n documents: {"$limit": n}. Its body is a bare
// integer, not a document.
type Limit struct {
	n int64
}

func LimitOf(n int64) Limit {
	return Limit{n: n}
}

func (Limit) Name() string { return NameLimit }

func (l Limit) Validate() error {
	if l.n <= 0 {
		return invalid(NameLimit, "limit", "must be a positive integer")
	}
	return nil
}

func (Limit) stageNode() {}

func encodeLimit(_ codec.Context, vw bson.ValueWriter, l Limit) error {
	return writeCount(vw, l.n)
}

// Skip drops the first n documents: {"$skip": n}.
type Skip struct {
	n int64
}

func SkipOf(n int64) Skip {
	return Skip{n: n}
}

func (Skip) Name() string { return NameSkip }

func (s Skip) Validate() error {
	if s.n < 0 {
		return invalid(NameSkip, "skip", "must not be negative")
	}
	return nil
}

func (Skip) stageNode() {}

func encodeSkip(_ codec.Context, vw bson.ValueWriter, s Skip) error {
	return writeCount(vw, s.n)
}

// writeCount uses the smallest integer width that holds n.
func writeCount(vw bson.ValueWriter, n int64) error {
	if n >= -1<<31 && n < 1<<31 {
		return vw.WriteInt32(int32(n))
	}
	return vw.WriteInt64(n)
}

// Out writes the pipeline result to a collection. The body is the
// collection name, or {"db": db, "coll": coll} when a database is given.
type Out struct {
	to       collectionRef
	database string
}

func OutTo(collection string) Out {
	return Out{to: collectionRef{name: collection}}
}

func OutToType(t reflect.Type) Out {
	return Out{to: collectionRef{typ: t}}
}

// OutOf targets the collection T is mapped to.
func OutOf[T any]() Out {
	return OutToType(reflect.TypeFor[T]())
}

// InDatabase targets a collection in another database.
func (o Out) InDatabase(db string) Out {
	o.database = db
	return o
}

func (Out) Name() string { return NameOut }

func (o Out) Validate() error {
	if o.to.isZero() {
		return missing(NameOut, "coll")
	}
	return nil
}

func (Out) stageNode() {}

func encodeOut(ctx codec.Context, vw bson.ValueWriter, o Out) error {
	coll, err := o.to.resolve(ctx)
	if err != nil {
		return err
	}
	if o.database == "" {
		return vw.WriteString(coll)
	}
	return ctx.Encode(vw, bson.D{{Key: "db", Value: o.database}, {Key: "coll", Value: coll}})
}

// Match filters documents with an already built query filter. The filter
// is passed through as is: {"$match": filter}. Values the registry has no
// encoder for are written by the driver.
type Match struct {
	filter any
}

// MatchOn wraps filter, typically a bson.D, bson.M or bson.Raw.
func MatchOn(filter any) Match {
	return Match{filter: filter}
}

func (Match) Name() string { return NameMatch }

func (m Match) Validate() error {
	if m.filter == nil {
		return missing(NameMatch, "filter")
	}
	return nil
}

func (Match) stageNode() {}

func encodeMatch(ctx codec.Context, vw bson.ValueWriter, m Match) error {
	return ctx.WithDriverFallback().Encode(vw, m.filter)
}

// Unwind emits one document per array element. Without options the body
// is the bare field path: {"$unwind": "$path"}.
type Unwind struct {
	path              string
	includeArrayIndex string
	preserve          *bool
}

func UnwindOn(path string) Unwind {
	return Unwind{path: strings.TrimPrefix(path, "$")}
}

// IncludeArrayIndex stores each element's index in the named field.
func (u Unwind) IncludeArrayIndex(name string) Unwind {
	u.includeArrayIndex = name
	return u
}

// PreserveNullAndEmptyArrays keeps documents whose array is missing, null
// or empty.
func (u Unwind) PreserveNullAndEmptyArrays(preserve bool) Unwind {
	u.preserve = &preserve
	return u
}

func (Unwind) Name() string { return NameUnwind }

func (u Unwind) Validate() error {
	if u.path == "" {
		return missing(NameUnwind, "path")
	}
	return nil
}

func (Unwind) stageNode() {}

func encodeUnwind(ctx codec.Context, vw bson.ValueWriter, u Unwind) error {
	path := expr.Field(u.path)
	if u.includeArrayIndex == "" && u.preserve == nil {
		return ctx.Encode(vw, path)
	}
	body := bson.D{{Key: "path", Value: path}}
	if u.includeArrayIndex != "" {
		body = append(body, bson.E{Key: "includeArrayIndex", Value: u.includeArrayIndex})
	}
	if u.preserve != nil {
		body = append(body, bson.E{Key: "preserveNullAndEmptyArrays", Value: *u.preserve})
	}
	return ctx.Encode(vw, body)
}

// Count replaces the stream with one document holding the number of
// documents seen: {"$count": field}.
type Count struct {
	field string
}

func CountInto(field string) Count {
	return Count{field: field}
}

func (Count) Name() string { return NameCount }

func (c Count) Validate() error {
	switch {
	case c.field == "":
		return missing(NameCount, "field")
	case strings.HasPrefix(c.field, "$"), strings.Contains(c.field, "."):
		return invalid(NameCount, "field", "must not start with $ or contain a dot")
	}
	return nil
}

func (Count) stageNode() {}

func encodeCount(_ codec.Context, vw bson.ValueWriter, c Count) error {
	return vw.WriteString(c.field)
}

// ReplaceRoot promotes a document to the top level:
// {"$replaceRoot": {"newRoot": expression}}.
type ReplaceRoot struct {
	newRoot expr.Expression
}

func ReplaceRootWith(e expr.Expression) ReplaceRoot {
	return ReplaceRoot{newRoot: e}
}

func (ReplaceRoot) Name() string { return NameReplaceRoot }

func (r ReplaceRoot) Validate() error {
	if r.newRoot == nil {
		return missing(NameReplaceRoot, "newRoot")
	}
	return nil
}

func (ReplaceRoot) stageNode() {}

func encodeReplaceRoot(ctx codec.Context, vw bson.ValueWriter, r ReplaceRoot) error {
	return ctx.Encode(vw, bson.D{{Key: "newRoot", Value: r.newRoot}})
}
