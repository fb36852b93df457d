package aggregate

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Compiler turns pipelines into wire documents. It is safe for concurrent
// use once built. The zero value compiles with a shared default registry
// and no resolver.
type Compiler struct {
	reg      *codec.Registry
	resolver codec.CollectionResolver
}

// Option configures a Compiler.
type Option func(*Compiler) error

// WithRegistry sets the encoder registry. It should come from NewRegistry
// so stages and expressions can be encoded.
func WithRegistry(reg *codec.Registry) Option {
	return func(c *Compiler) error {
		if reg == nil {
			return errors.New("aggregate: registry is nil")
		}
		c.reg = reg
		return nil
	}
}

// WithResolver sets how entity types map to collection names.
func WithResolver(r codec.CollectionResolver) Option {
	return func(c *Compiler) error {
		c.resolver = r
		return nil
	}
}

// NewCompiler creates a compiler. Without WithRegistry it uses a fresh
// NewRegistry.
func NewCompiler(options ...Option) (*Compiler, error) {
	c := &Compiler{}
	for _, op := range options {
		if err := op(c); err != nil {
			return nil, err
		}
	}
	if c.reg == nil {
		c.reg = NewRegistry()
	}
	return c, nil
}

var (
	defaultRegistry = sync.OnceValue(NewRegistry)
	defaultCompiler = sync.OnceValue(func() *Compiler {
		return &Compiler{reg: defaultRegistry()}
	})
)

func (c *Compiler) Registry() *codec.Registry {
	if c.reg == nil {
		return defaultRegistry()
	}
	return c.reg
}

// Compile returns one {"$stage": body} document per stage in declaration
// order. Every stage is validated before any is encoded, and on error no
// documents are returned.
func (c *Compiler) Compile(p Pipeline) ([]bson.Raw, error) {
	for i, s := range p.stages {
		if s == nil {
			return nil, &codec.MalformedStageError{
				Field:  fmt.Sprintf("stages[%d]", i),
				Reason: "nil stage",
			}
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("aggregate: stage %d (%s): %w", i, s.Name(), err)
		}
	}

	ctx := codec.NewContext(c.Registry(), c.resolver)
	docs := make([]bson.Raw, 0, len(p.stages))

	for i, s := range p.stages {
		doc, err := compileStage(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("aggregate: stage %d (%s): %w", i, s.Name(), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func compileStage(ctx codec.Context, s stage.Stage) (bson.Raw, error) {
	var buf bytes.Buffer
	vw := bson.NewDocumentWriter(&buf)

	dw, err := vw.WriteDocument()
	if err != nil {
		return nil, err
	}
	ev, err := dw.WriteDocumentElement(s.Name())
	if err != nil {
		return nil, err
	}
	if err := ctx.WithStage(s.Name()).Encode(ev, s); err != nil {
		return nil, err
	}
	if err := dw.WriteDocumentEnd(); err != nil {
		return nil, err
	}
	return bson.Raw(buf.Bytes()), nil
}

// CollectionName returns the source collection of p, resolving it through
// the compiler's resolver when p was started with For.
func (c *Compiler) CollectionName(p Pipeline) (string, error) {
	if p.collection != "" {
		return p.collection, nil
	}
	if p.typ == nil {
		return "", errors.New("aggregate: pipeline has no source collection")
	}
	return codec.NewContext(c.Registry(), c.resolver).CollectionName(p.typ)
}

// Request compiles p and packages it for a Sink.
func (c *Compiler) Request(p Pipeline) (Request, error) {
	coll, err := c.CollectionName(p)
	if err != nil {
		return Request{}, err
	}
	docs, err := c.Compile(p)
	if err != nil {
		return Request{}, err
	}
	return Request{Collection: coll, Stages: docs, Options: p.opts}, nil
}

// ExtJSON renders compiled stages as a relaxed Extended JSON array, the
// form used by the mongo shell and in logs.
func ExtJSON(docs []bson.Raw) (string, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			sb.WriteByte(',')
		}
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return "", err
		}
		sb.Write(b)
	}
	sb.WriteByte(']')
	return sb.String(), nil
}
