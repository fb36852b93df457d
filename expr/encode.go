package expr

import (
	"strconv"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Register installs the expression encoders into reg.
func Register(reg *codec.Registry) {
	codec.RegisterType(reg, encodeField)
	codec.RegisterType(reg, encodeLiteral)
	codec.RegisterType(reg, encodeCall)
	codec.RegisterType(reg, encodeAccumulator)
	codec.RegisterType(reg, encodeList)
}

func encodeField(ctx codec.Context, vw bson.ValueWriter, f FieldRef) error {
	if f.Path == "" {
		return &codec.MalformedStageError{Stage: ctx.Stage(), Field: ctx.Path(), Reason: "empty field path"}
	}
	return vw.WriteString("$" + f.Path)
}

func encodeLiteral(ctx codec.Context, vw bson.ValueWriter, l LiteralValue) error {
	return ctx.Encode(vw, l.Value)
}

func encodeList(ctx codec.Context, vw bson.ValueWriter, list []Expression) error {
	aw, err := vw.WriteArray()
	if err != nil {
		return err
	}
	for i, e := range list {
		ev, err := aw.WriteArrayElement()
		if err != nil {
			return err
		}
		if err := ctx.WithField(strconv.Itoa(i)).Encode(ev, e); err != nil {
			return err
		}
	}
	return aw.WriteArrayEnd()
}

func encodeCall(ctx codec.Context, vw bson.ValueWriter, c Call) error {
	if IsAccumulatorOnly(c.Operator) && !ctx.AccumulatorsAllowed() {
		return &codec.InvalidExpressionPlacementError{
			Operator:    "$" + c.Operator,
			Stage:       ctx.Stage(),
			Path:        ctx.Path(),
			Accumulator: true,
		}
	}
	return writeOperator(ctx, vw, c.Operator, c.Args)
}

func encodeAccumulator(ctx codec.Context, vw bson.ValueWriter, a Accumulator) error {
	if IsAccumulatorOnly(a.Operator) && !ctx.AccumulatorsAllowed() {
		return &codec.InvalidExpressionPlacementError{
			Operator:    "$" + a.Operator,
			Stage:       ctx.Stage(),
			Path:        ctx.Path(),
			Accumulator: true,
		}
	}
	return writeOperator(ctx, vw, a.Operator, a.Args)
}

// writeOperator writes {"$name": operands}. No operands is an empty
// document, one operand is written bare and more become an array.
func writeOperator(ctx codec.Context, vw bson.ValueWriter, name string, args []Expression) error {
	if name == "" {
		return &codec.MalformedStageError{Stage: ctx.Stage(), Field: ctx.Path(), Reason: "empty operator name"}
	}
	key := "$" + name

	dw, err := vw.WriteDocument()
	if err != nil {
		return err
	}
	ev, err := dw.WriteDocumentElement(key)
	if err != nil {
		return err
	}

	// operands never accept accumulators, even inside $group
	octx := ctx.WithAccumulators(false).WithField(key)

	switch len(args) {
	case 0:
		empty, err := ev.WriteDocument()
		if err != nil {
			return err
		}
		if err := empty.WriteDocumentEnd(); err != nil {
			return err
		}
	case 1:
		if err := octx.Encode(ev, args[0]); err != nil {
			return err
		}
	default:
		aw, err := ev.WriteArray()
		if err != nil {
			return err
		}
		for i, arg := range args {
			av, err := aw.WriteArrayElement()
			if err != nil {
				return err
			}
			if err := octx.WithField(strconv.Itoa(i)).Encode(av, arg); err != nil {
				return err
			}
		}
		if err := aw.WriteArrayEnd(); err != nil {
			return err
		}
	}
	return dw.WriteDocumentEnd()
}
