// Package aggregate builds MongoDB aggregation pipelines from typed stages
// and compiles them to the ordered BSON documents the server expects.
//
//	p := aggregate.New("books").Then(
//		stage.NewGroup(stage.ID("author")).Field("count", expr.Sum(expr.Literal(1))),
//		stage.SortOn().Descending("count"),
//		stage.LimitOf(10),
//	)
//	docs, err := p.Compile()
//
// Compilation is pure and synchronous. It either returns one document per
// stage, in declaration order, or an error and no documents at all.
// Running the compiled pipeline is the job of a Sink such as
// mongodriver.Conn.
package aggregate

import (
	"reflect"
	"slices"
	"strings"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Pipeline is an immutable, ordered list of stages bound to a source
// collection.
type Pipeline struct {
	collection string
	typ        reflect.Type
	stages     []stage.Stage
	opts       Options
}

// New starts a pipeline over the named collection.
func New(collection string, stages ...stage.Stage) Pipeline {
	return Pipeline{collection: collection}.Then(stages...)
}

// For starts a pipeline over the collection T is mapped to. The name is
// resolved when the pipeline is turned into a Request.
func For[T any](stages ...stage.Stage) Pipeline {
	return Pipeline{typ: reflect.TypeFor[T]()}.Then(stages...)
}

// Then returns a pipeline with stages appended.
func (p Pipeline) Then(stages ...stage.Stage) Pipeline {
	p.stages = append(slices.Clip(p.stages), stages...)
	return p
}

// WithOptions returns a pipeline carrying opts. Options travel next to the
// compiled stages and are never written into them.
func (p Pipeline) WithOptions(opts Options) Pipeline {
	p.opts = opts
	return p
}

func (p Pipeline) Options() Options {
	return p.opts
}

// Stages returns a copy of the stage list.
func (p Pipeline) Stages() []stage.Stage {
	return slices.Clone(p.stages)
}

func (p Pipeline) Len() int {
	return len(p.stages)
}

// Collection returns the literal source collection name, empty when the
// pipeline was started with For.
func (p Pipeline) Collection() string {
	return p.collection
}

// Stage returns the first stage with the given operator name. The leading
// "$" is optional.
func (p Pipeline) Stage(name string) (stage.Stage, bool) {
	if !strings.HasPrefix(name, "$") {
		name = "$" + name
	}
	for _, s := range p.stages {
		if s != nil && s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Compile compiles p with the default registry and no collection
// resolver.
func (p Pipeline) Compile() ([]bson.Raw, error) {
	return defaultCompiler().Compile(p)
}

// NewRegistry returns a registry with the builtin value encoders plus the
// expression and stage encoders.
func NewRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	expr.Register(reg)
	stage.Register(reg)
	return reg
}
