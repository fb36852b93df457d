// Package expr is the expression model used inside stage bodies: field
// references, literal values, operator calls and accumulators.
//
// Expression is sealed. The only implementations are FieldRef,
// LiteralValue, Call and Accumulator, so encoders and the pipeline file
// loader can switch over them exhaustively.
package expr

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Expression is a computation the query engine evaluates per document.
type Expression interface {
	expressionNode()
}

// FieldRef addresses a field of the input document by dotted path.
type FieldRef struct {
	Path string
}

// LiteralValue is a constant. Its Value is encoded by registry dispatch
// on its own runtime type, so it may be a slice or document holding
// further values (including expressions).
type LiteralValue struct {
	Value any
}

// Call is a general operator call such as $add or $concat.
type Call struct {
	Operator string
	Args     []Expression
}

// Accumulator is a reduction operator call. Accumulators are the only
// values a grouping stage accepts for its output fields.
type Accumulator struct {
	Operator string
	Args     []Expression
}

func (FieldRef) expressionNode()     {}
func (LiteralValue) expressionNode() {}
func (Call) expressionNode()         {}
func (Accumulator) expressionNode()  {}

// Field returns a reference to path. A leading "$" is accepted and
// dropped, so Field("price") and Field("$price") are the same reference.
func Field(path string) FieldRef {
	return FieldRef{Path: strings.TrimPrefix(path, "$")}
}

// Var references an aggregation variable such as ROOT or CURRENT.
func Var(name string) FieldRef {
	return FieldRef{Path: "$" + strings.TrimPrefix(name, "$$")}
}

func Literal(v any) LiteralValue {
	return LiteralValue{Value: v}
}

// Document is a literal object whose values may themselves be
// expressions, e.g. Document(bson.D{{Key: "title", Value: Field("title")}}).
func Document(d bson.D) LiteralValue {
	return LiteralValue{Value: d}
}

// Op builds a call to an arbitrary operator. name may be given with or
// without its leading "$".
func Op(name string, args ...Expression) Call {
	return Call{Operator: strings.TrimPrefix(name, "$"), Args: args}
}
