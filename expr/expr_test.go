package expr_test

import (
	"bytes"
	"testing"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func newContext() codec.Context {
	reg := codec.NewRegistry()
	expr.Register(reg)
	return codec.NewContext(reg, nil).WithStage("$project")
}

func encode(ctx codec.Context, e expr.Expression) (string, error) {
	var buf bytes.Buffer
	if err := ctx.Encode(bson.NewDocumentWriter(&buf), bson.D{{Key: "v", Value: e}}); err != nil {
		return "", err
	}
	out, err := bson.MarshalExtJSON(bson.Raw(buf.Bytes()), false, false)
	return string(out), err
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		e    expr.Expression
		want string
	}{
		{"field", expr.Field("price"), `{"v":"$price"}`},
		{"field with dollar", expr.Field("$price"), `{"v":"$price"}`},
		{"nested field", expr.Field("author.name"), `{"v":"$author.name"}`},
		{"variable", expr.Var("ROOT"), `{"v":"$$ROOT"}`},
		{"variable with dollars", expr.Var("$$CURRENT"), `{"v":"$$CURRENT"}`},
		{"literal", expr.Literal(3), `{"v":3}`},
		{"literal list", expr.Literal([]any{1, expr.Field("a")}), `{"v":[1,"$a"]}`},
		{"single operand", expr.ToUpper(expr.Field("title")), `{"v":{"$toUpper":"$title"}}`},
		{"two operands", expr.Add(expr.Field("a"), expr.Literal(1)), `{"v":{"$add":["$a",1]}}`},
		{"no operands", expr.Op("rand"), `{"v":{"$rand":{}}}`},
		{"op name with dollar", expr.Op("$abs", expr.Field("n")), `{"v":{"$abs":"$n"}}`},
		{
			"nested calls",
			expr.Cond(expr.Gte(expr.Field("qty"), expr.Literal(250)), expr.Literal(30), expr.Literal(20)),
			`{"v":{"$cond":[{"$gte":["$qty",250]},30,20]}}`,
		},
		{
			"concat",
			expr.Concat(expr.Field("first"), expr.Literal(" "), expr.Field("last")),
			`{"v":{"$concat":["$first"," ","$last"]}}`,
		},
		{"not", expr.Not(expr.Field("done")), `{"v":{"$not":["$done"]}}`},
		{"escape", expr.Escape("$notAField"), `{"v":{"$literal":"$notAField"}}`},
		{
			"document",
			expr.Document(bson.D{{Key: "t", Value: expr.Field("title")}, {Key: "n", Value: 1}}),
			`{"v":{"t":"$title","n":1}}`,
		},
		{"sum outside grouping", expr.Sum(expr.Field("x")), `{"v":{"$sum":"$x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encode(newContext(), tt.e)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccumulatorOnlyPlacement(t *testing.T) {
	tests := []struct {
		name string
		e    expr.Expression
		op   string
	}{
		{"push", expr.Push(expr.Field("x")), "$push"},
		{"count", expr.Count(), "$count"},
		{"addToSet as call", expr.Op("addToSet", expr.Field("x")), "$addToSet"},
		{"nested in operand", expr.Size(expr.Push(expr.Field("x"))), "$push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encode(newContext(), tt.e)
			require.Error(t, err)

			var pe *codec.InvalidExpressionPlacementError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.op, pe.Operator)
			assert.Equal(t, "$project", pe.Stage)
			assert.True(t, pe.Accumulator)
		})
	}
}

func TestAccumulatorsAllowedInGroupingContext(t *testing.T) {
	ctx := newContext().WithAccumulators(true)

	got, err := encode(ctx, expr.Count())
	require.NoError(t, err)
	assert.Equal(t, `{"v":{"$count":{}}}`, got)

	got, err = encode(ctx, expr.Push(expr.Field("title")))
	require.NoError(t, err)
	assert.Equal(t, `{"v":{"$push":"$title"}}`, got)

	// operands never accept accumulator-only operators
	_, err = encode(ctx, expr.Push(expr.Push(expr.Field("title"))))
	assert.True(t, codec.IsInvalidPlacement(err))
}

func TestMalformedExpressions(t *testing.T) {
	_, err := encode(newContext(), expr.FieldRef{})
	assert.True(t, codec.IsMalformedStage(err))

	_, err = encode(newContext(), expr.Call{})
	assert.True(t, codec.IsMalformedStage(err))
}

func TestNewAccumulator(t *testing.T) {
	acc, err := expr.NewAccumulator("$avg", expr.Field("price"))
	require.NoError(t, err)
	assert.Equal(t, "avg", acc.Operator)

	_, err = expr.NewAccumulator("add", expr.Field("price"))
	var pe *codec.InvalidExpressionPlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "$add", pe.Operator)
	assert.False(t, pe.Accumulator)
}

func TestAccumulatorNames(t *testing.T) {
	assert.True(t, expr.IsAccumulator("$sum"))
	assert.True(t, expr.IsAccumulator("push"))
	assert.False(t, expr.IsAccumulator("add"))

	assert.False(t, expr.IsAccumulatorOnly("sum"))
	assert.True(t, expr.IsAccumulatorOnly("$push"))
	assert.True(t, expr.IsAccumulatorOnly("count"))
}

func TestExpressionValuesAreComparable(t *testing.T) {
	assert.Equal(t, expr.Field("a"), expr.Field("$a"))
	assert.Equal(t, expr.Call{Operator: "add", Args: []expr.Expression{expr.Field("a"), expr.Literal(1)}},
		expr.Add(expr.Field("a"), expr.Literal(1)))
}
