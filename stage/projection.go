package stage

import (
	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const idField = "_id"

type projectionMode int

const (
	projectInclude projectionMode = iota
	projectExclude
	projectCompute
)

type projected struct {
	mode projectionMode
	expr expr.Expression
}

// Projection reshapes documents: {"$project": {field: 1 | 0 | expression}}.
// Fields are written in the order they were first declared.
type Projection struct {
	fields     []namedValue[projected]
	suppressID bool
}

func Project() Projection {
	return Projection{}
}

// Include keeps the named fields. Dotted names project nested fields.
func (p Projection) Include(names ...string) Projection {
	for _, n := range names {
		p = p.set(n, projected{mode: projectInclude})
	}
	return p
}

// Exclude drops the named fields.
func (p Projection) Exclude(names ...string) Projection {
	for _, n := range names {
		if n == idField {
			p = p.SuppressID()
			continue
		}
		p = p.set(n, projected{mode: projectExclude})
	}
	return p
}

// Compute adds name with the value of e.
func (p Projection) Compute(name string, e expr.Expression) Projection {
	return p.set(name, projected{mode: projectCompute, expr: e})
}

// SuppressID emits "_id": 0. Once suppressed, later calls naming _id are
// ignored.
func (p Projection) SuppressID() Projection {
	p = p.set(idField, projected{mode: projectExclude})
	p.suppressID = true
	return p
}

func (p Projection) set(name string, v projected) Projection {
	if name == idField && p.suppressID {
		return p
	}
	p.fields = upsert(p.fields, name, v)
	return p
}

func (Projection) Name() string { return NameProject }

func (p Projection) Validate() error {
	if len(p.fields) == 0 {
		return invalid(NameProject, "fields", "at least one field is required")
	}
	for _, f := range p.fields {
		if f.value.mode == projectCompute && f.value.expr == nil {
			return missing(NameProject, f.name)
		}
	}
	return validateNames(NameProject, p.fields)
}

func (Projection) stageNode() {}

func encodeProjection(ctx codec.Context, vw bson.ValueWriter, p Projection) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, f := range p.fields {
		var v any
		switch f.value.mode {
		case projectInclude:
			v = 1
		case projectExclude:
			v = 0
		default:
			v = f.value.expr
		}
		if err := codec.WriteElement(ctx, dw, f.name, v); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}

// AddFields appends computed fields: {"$addFields": {field: expression}}.
type AddFields struct {
	fields []namedValue[expr.Expression]
}

func NewAddFields() AddFields {
	return AddFields{}
}

// Field sets name to the value of e. Redeclaring a name replaces its
// expression but keeps its position.
func (a AddFields) Field(name string, e expr.Expression) AddFields {
	a.fields = upsert(a.fields, name, e)
	return a
}

func (AddFields) Name() string { return NameAddFields }

func (a AddFields) Validate() error {
	if len(a.fields) == 0 {
		return invalid(NameAddFields, "fields", "at least one field is required")
	}
	for _, f := range a.fields {
		if f.value == nil {
			return missing(NameAddFields, f.name)
		}
	}
	return validateNames(NameAddFields, a.fields)
}

func (AddFields) stageNode() {}

func encodeAddFields(ctx codec.Context, vw bson.ValueWriter, a AddFields) error {
	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	for _, f := range a.fields {
		if err := codec.WriteElement(ctx, dw, f.name, f.value); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}
