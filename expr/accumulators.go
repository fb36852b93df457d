package expr

import (
	"strings"

	"github.com/dosco/graphjin/aggregate/v3/codec"
)

// accumulators lists every operator usable as a grouping output field.
// The true entries are only valid there.
var accumulators = map[string]bool{
	"sum":          false,
	"avg":          false,
	"min":          false,
	"max":          false,
	"first":        false,
	"last":         false,
	"stdDevPop":    false,
	"stdDevSamp":   false,
	"mergeObjects": false,
	"firstN":       false,
	"lastN":        false,
	"maxN":         false,
	"minN":         false,
	"median":       false,
	"percentile":   false,
	"push":         true,
	"addToSet":     true,
	"count":        true,
	"top":          true,
	"bottom":       true,
	"topN":         true,
	"bottomN":      true,
}

// IsAccumulator reports whether name is a grouping reduction operator.
func IsAccumulator(name string) bool {
	_, ok := accumulators[strings.TrimPrefix(name, "$")]
	return ok
}

// IsAccumulatorOnly reports whether name may only appear as a grouping
// stage output field.
func IsAccumulatorOnly(name string) bool {
	return accumulators[strings.TrimPrefix(name, "$")]
}

// NewAccumulator builds an accumulator by operator name. It fails with an
// InvalidExpressionPlacementError when name is not a reduction operator.
func NewAccumulator(name string, args ...Expression) (Accumulator, error) {
	name = strings.TrimPrefix(name, "$")
	if !IsAccumulator(name) {
		return Accumulator{}, &codec.InvalidExpressionPlacementError{Operator: "$" + name}
	}
	return Accumulator{Operator: name, Args: args}, nil
}

func acc(name string, args ...Expression) Accumulator {
	return Accumulator{Operator: name, Args: args}
}

func Sum(e Expression) Accumulator          { return acc("sum", e) }
func Avg(e Expression) Accumulator          { return acc("avg", e) }
func Min(e Expression) Accumulator          { return acc("min", e) }
func Max(e Expression) Accumulator          { return acc("max", e) }
func First(e Expression) Accumulator        { return acc("first", e) }
func Last(e Expression) Accumulator         { return acc("last", e) }
func StdDevPop(e Expression) Accumulator    { return acc("stdDevPop", e) }
func StdDevSamp(e Expression) Accumulator   { return acc("stdDevSamp", e) }
func MergeObjects(e Expression) Accumulator { return acc("mergeObjects", e) }
func Push(e Expression) Accumulator         { return acc("push", e) }
func AddToSet(e Expression) Accumulator     { return acc("addToSet", e) }

// Count counts the documents in each group. It takes no operand and is
// encoded as {"$count": {}}.
func Count() Accumulator { return acc("count") }
