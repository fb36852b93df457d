package stage

import (
	"reflect"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// collectionRef names a collection either literally or through the
// entity type stored in it.
type collectionRef struct {
	name string
	typ  reflect.Type
}

func (c collectionRef) isZero() bool {
	return c.name == "" && c.typ == nil
}

func (c collectionRef) resolve(ctx codec.Context) (string, error) {
	if c.name != "" {
		return c.name, nil
	}
	return ctx.CollectionName(c.typ)
}

// Lookup joins another collection:
// {"$lookup": {"from": coll, "localField": a, "foreignField": b, "as": out}}.
type Lookup struct {
	from         collectionRef
	localField   string
	foreignField string
	as           string
}

// LookupFrom joins the named collection.
func LookupFrom(collection string) Lookup {
	return Lookup{from: collectionRef{name: collection}}
}

// LookupFromType joins the collection t is mapped to.
func LookupFromType(t reflect.Type) Lookup {
	return Lookup{from: collectionRef{typ: t}}
}

// LookupOf joins the collection T is mapped to.
func LookupOf[T any]() Lookup {
	return LookupFromType(reflect.TypeFor[T]())
}

func (l Lookup) LocalField(name string) Lookup {
	l.localField = name
	return l
}

func (l Lookup) ForeignField(name string) Lookup {
	l.foreignField = name
	return l
}

// As names the array field the joined documents are written to.
func (l Lookup) As(name string) Lookup {
	l.as = name
	return l
}

func (Lookup) Name() string { return NameLookup }

func (l Lookup) Validate() error {
	switch {
	case l.from.isZero():
		return missing(NameLookup, "from")
	case l.localField == "":
		return missing(NameLookup, "localField")
	case l.foreignField == "":
		return missing(NameLookup, "foreignField")
	case l.as == "":
		return missing(NameLookup, "as")
	}
	return nil
}

func (Lookup) stageNode() {}

func encodeLookup(ctx codec.Context, vw bson.ValueWriter, l Lookup) error {
	from, err := l.from.resolve(ctx)
	if err != nil {
		return err
	}
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, f := range []namedValue[string]{
		{"from", from},
		{"localField", l.localField},
		{"foreignField", l.foreignField},
		{"as", l.as},
	} {
		if err := codec.WriteElement(ctx, dw, f.name, f.value); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

// GraphLookup runs a recursive search over a collection:
// {"$graphLookup": {"from", "startWith", "connectFromField",
// "connectToField", "as", "maxDepth"?, "depthField"?, "restrictSearchWithMatch"?}}.
type GraphLookup struct {
	from             collectionRef
	startWith        expr.Expression
	connectFromField string
	connectToField   string
	as               string
	maxDepth         *int
	depthField       string
	restrict         any
}

func GraphLookupFrom(collection string) GraphLookup {
	return GraphLookup{from: collectionRef{name: collection}}
}

func GraphLookupOf[T any]() GraphLookup {
	return GraphLookup{from: collectionRef{typ: reflect.TypeFor[T]()}}
}

func (g GraphLookup) StartWith(e expr.Expression) GraphLookup {
	g.startWith = e
	return g
}

func (g GraphLookup) ConnectFromField(name string) GraphLookup {
	g.connectFromField = name
	return g
}

func (g GraphLookup) ConnectToField(name string) GraphLookup {
	g.connectToField = name
	return g
}

func (g GraphLookup) As(name string) GraphLookup {
	g.as = name
	return g
}

// MaxDepth limits recursion; zero means direct matches only.
func (g GraphLookup) MaxDepth(n int) GraphLookup {
	g.maxDepth = &n
	return g
}

func (g GraphLookup) DepthField(name string) GraphLookup {
	g.depthField = name
	return g
}

// RestrictSearchWithMatch filters the documents considered at each step.
func (g GraphLookup) RestrictSearchWithMatch(filter any) GraphLookup {
	g.restrict = filter
	return g
}

func (GraphLookup) Name() string { return NameGraphLookup }

func (g GraphLookup) Validate() error {
	switch {
	case g.from.isZero():
		return missing(NameGraphLookup, "from")
	case g.startWith == nil:
		return missing(NameGraphLookup, "startWith")
	case g.connectFromField == "":
		return missing(NameGraphLookup, "connectFromField")
	case g.connectToField == "":
		return missing(NameGraphLookup, "connectToField")
	case g.as == "":
		return missing(NameGraphLookup, "as")
	case g.maxDepth != nil && *g.maxDepth < 0:
		return invalid(NameGraphLookup, "maxDepth", "must not be negative")
	}
	return nil
}

func (GraphLookup) stageNode() {}

func encodeGraphLookup(ctx codec.Context, vw bson.ValueWriter, g GraphLookup) error {
	from, err := g.from.resolve(ctx)
	if err != nil {
		return err
	}
	body := bson.D{
		{Key: "from", Value: from},
		{Key: "startWith", Value: g.startWith},
		{Key: "connectFromField", Value: g.connectFromField},
		{Key: "connectToField", Value: g.connectToField},
		{Key: "as", Value: g.as},
	}
	if g.maxDepth != nil {
		body = append(body, bson.E{Key: "maxDepth", Value: *g.maxDepth})
	}
	if g.depthField != "" {
		body = append(body, bson.E{Key: "depthField", Value: g.depthField})
	}
	if g.restrict != nil {
		body = append(body, bson.E{Key: "restrictSearchWithMatch", Value: g.restrict})
	}
	return ctx.Encode(vw, body)
}
