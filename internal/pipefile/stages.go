package pipefile

import (
	"fmt"
	"math"
	"strings"

	"github.com/dosco/graphjin/aggregate/v3/codec"
	"github.com/dosco/graphjin/aggregate/v3/expr"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"gopkg.in/yaml.v3"
)

type stageParser func(v any) (stage.Stage, error)

var parsers map[string]stageParser

func init() {
	parsers = map[string]stageParser{
		"match":       parseMatch,
		"project":     parseProject,
		"addFields":   parseAddFields,
		"group":       parseGroup,
		"bucket":      parseBucket,
		"bucketAuto":  parseAutoBucket,
		"lookup":      parseLookup,
		"graphLookup": parseGraphLookup,
		"sort":        parseSort,
		"sample":      parseSample,
		"limit":       parseLimit,
		"skip":        parseSkip,
		"unwind":      parseUnwind,
		"count":       parseCount,
		"out":         parseOut,
		"replaceRoot": parseReplaceRoot,
	}
}

func parseStage(n *yaml.Node) (stage.Stage, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, fmt.Errorf("line %d: a stage is a mapping with exactly one key", n.Line)
	}
	name := strings.TrimPrefix(n.Content[0].Value, "$")
	parse, ok := parsers[name]
	if !ok {
		return nil, fmt.Errorf("line %d: unknown stage %q", n.Line, name)
	}
	v, err := nodeValue(n.Content[1])
	if err != nil {
		return nil, err
	}
	s, err := parse(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

func parseMatch(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	return stage.MatchOn(d), nil
}

// parseProject reads {field: 1 | 0 | true | false | expression}.
func parseProject(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	p := stage.Project()
	for _, e := range d {
		switch val := e.Value.(type) {
		case bool:
			if val {
				p = p.Include(e.Key)
			} else {
				p = p.Exclude(e.Key)
			}
		case int:
			if val != 0 {
				p = p.Include(e.Key)
			} else {
				p = p.Exclude(e.Key)
			}
		default:
			x, err := toExpr(e.Value)
			if err != nil {
				return nil, err
			}
			p = p.Compute(e.Key, x)
		}
	}
	return p, nil
}

func parseAddFields(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	a := stage.NewAddFields()
	for _, e := range d {
		x, err := toExpr(e.Value)
		if err != nil {
			return nil, err
		}
		a = a.Field(e.Key, x)
	}
	return a, nil
}

func parseGroup(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	var id expr.Expression
	if raw, ok := field(d, "_id"); ok && raw != nil {
		if id, err = toExpr(raw); err != nil {
			return nil, err
		}
	}
	g := stage.NewGroup(id)
	for _, e := range d {
		if e.Key == "_id" {
			continue
		}
		acc, err := toAccumulator(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		g = g.Field(e.Key, acc)
	}
	return g, nil
}

// parseBucket accepts output accumulators either under "output" or as
// extra top level keys.
func parseBucket(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	b := stage.NewBucket()
	for _, e := range d {
		switch e.Key {
		case "groupBy":
			x, err := toExpr(e.Value)
			if err != nil {
				return nil, err
			}
			b = b.GroupBy(x)
		case "boundaries":
			list, ok := e.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("boundaries must be a list")
			}
			bounds := make([]expr.Expression, 0, len(list))
			for _, item := range list {
				x, err := toExpr(item)
				if err != nil {
					return nil, err
				}
				bounds = append(bounds, x)
			}
			b = b.Boundaries(bounds...)
		case "default":
			b = b.Default(e.Value)
		default:
			err := eachOutput(e, func(name string, acc expr.Accumulator) {
				b = b.Output(name, acc)
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func parseAutoBucket(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	a := stage.NewAutoBucket()
	for _, e := range d {
		switch e.Key {
		case "groupBy":
			x, err := toExpr(e.Value)
			if err != nil {
				return nil, err
			}
			a = a.GroupBy(x)
		case "buckets":
			n, err := toInt(e.Value)
			if err != nil {
				return nil, fmt.Errorf("buckets: %w", err)
			}
			a = a.Buckets(int(n))
		case "granularity":
			s, _ := e.Value.(string)
			a = a.Granularity(s)
		default:
			err := eachOutput(e, func(name string, acc expr.Accumulator) {
				a = a.Output(name, acc)
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// eachOutput handles an "output" mapping or a single flattened output
// field.
func eachOutput(e bson.E, fn func(name string, acc expr.Accumulator)) error {
	if e.Key != "output" {
		acc, err := toAccumulator(e.Key, e.Value)
		if err != nil {
			return err
		}
		fn(e.Key, acc)
		return nil
	}
	d, err := asDoc(e.Value)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	for _, o := range d {
		acc, err := toAccumulator(o.Key, o.Value)
		if err != nil {
			return err
		}
		fn(o.Key, acc)
	}
	return nil
}

func parseLookup(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	l := stage.LookupFrom(str(d, "from")).
		LocalField(str(d, "localField")).
		ForeignField(str(d, "foreignField")).
		As(str(d, "as"))
	return l, nil
}

func parseGraphLookup(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	g := stage.GraphLookupFrom(str(d, "from")).
		ConnectFromField(str(d, "connectFromField")).
		ConnectToField(str(d, "connectToField")).
		As(str(d, "as")).
		DepthField(str(d, "depthField"))

	if raw, ok := field(d, "startWith"); ok {
		x, err := toExpr(raw)
		if err != nil {
			return nil, err
		}
		g = g.StartWith(x)
	}
	if raw, ok := field(d, "maxDepth"); ok {
		n, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("maxDepth: %w", err)
		}
		g = g.MaxDepth(int(n))
	}
	if raw, ok := field(d, "restrictSearchWithMatch"); ok {
		g = g.RestrictSearchWithMatch(raw)
	}
	return g, nil
}

func parseSort(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	s := stage.SortOn()
	for _, e := range d {
		n, err := toInt(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		switch n {
		case 1:
			s = s.Ascending(e.Key)
		case -1:
			s = s.Descending(e.Key)
		default:
			return nil, fmt.Errorf("%s: sort order must be 1 or -1", e.Key)
		}
	}
	return s, nil
}

func parseSample(v any) (stage.Stage, error) {
	if d, ok := v.(bson.D); ok {
		v, _ = field(d, "size")
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	return stage.SampleOf(int(n)), nil
}

func parseLimit(v any) (stage.Stage, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return stage.LimitOf(n), nil
}

func parseSkip(v any) (stage.Stage, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	return stage.SkipOf(n), nil
}

func parseUnwind(v any) (stage.Stage, error) {
	if s, ok := v.(string); ok {
		return stage.UnwindOn(s), nil
	}
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	u := stage.UnwindOn(str(d, "path"))
	if name := str(d, "includeArrayIndex"); name != "" {
		u = u.IncludeArrayIndex(name)
	}
	if raw, ok := field(d, "preserveNullAndEmptyArrays"); ok {
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("preserveNullAndEmptyArrays must be a boolean")
		}
		u = u.PreserveNullAndEmptyArrays(b)
	}
	return u, nil
}

func parseCount(v any) (stage.Stage, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("count takes a field name")
	}
	return stage.CountInto(s), nil
}

func parseOut(v any) (stage.Stage, error) {
	if s, ok := v.(string); ok {
		return stage.OutTo(s), nil
	}
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	return stage.OutTo(str(d, "coll")).InDatabase(str(d, "db")), nil
}

func parseReplaceRoot(v any) (stage.Stage, error) {
	d, err := asDoc(v)
	if err != nil {
		return nil, err
	}
	raw, ok := field(d, "newRoot")
	if !ok {
		return stage.ReplaceRootWith(nil), nil
	}
	x, err := toExpr(raw)
	if err != nil {
		return nil, err
	}
	return stage.ReplaceRootWith(x), nil
}

// toExpr converts a decoded YAML value into an expression.
func toExpr(v any) (expr.Expression, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") {
			return expr.Field(val), nil
		}
		return expr.Literal(val), nil
	case []any:
		list := make([]any, 0, len(val))
		for _, item := range val {
			x, err := toExpr(item)
			if err != nil {
				return nil, err
			}
			list = append(list, x)
		}
		return expr.Literal(list), nil
	case bson.D:
		if len(val) == 1 && strings.HasPrefix(val[0].Key, "$") {
			return toOperator(val[0].Key, val[0].Value)
		}
		doc := make(bson.D, 0, len(val))
		for _, e := range val {
			x, err := toExpr(e.Value)
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: e.Key, Value: x})
		}
		return expr.Document(doc), nil
	default:
		return expr.Literal(val), nil
	}
}

// toOperator builds a call. A list value is the operand list, anything
// else is the single operand. Reduction operators become accumulators so
// they can be used in both grouping and ordinary stages.
func toOperator(key string, v any) (expr.Expression, error) {
	name := strings.TrimPrefix(key, "$")
	if name == "literal" {
		return expr.Escape(v), nil
	}

	var args []expr.Expression
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			x, err := toExpr(item)
			if err != nil {
				return nil, err
			}
			args = append(args, x)
		}
	case bson.D:
		if len(val) > 0 {
			x, err := toExpr(val)
			if err != nil {
				return nil, err
			}
			args = append(args, x)
		}
	default:
		x, err := toExpr(val)
		if err != nil {
			return nil, err
		}
		args = append(args, x)
	}

	if expr.IsAccumulator(name) {
		return expr.NewAccumulator(name, args...)
	}
	return expr.Op(name, args...), nil
}

// toAccumulator converts a grouping output field.
func toAccumulator(field string, v any) (expr.Accumulator, error) {
	x, err := toExpr(v)
	if err != nil {
		return expr.Accumulator{}, err
	}
	if acc, ok := x.(expr.Accumulator); ok {
		return acc, nil
	}
	op := "literal"
	if c, ok := x.(expr.Call); ok {
		op = c.Operator
	}
	return expr.Accumulator{}, &codec.InvalidExpressionPlacementError{Operator: "$" + op, Path: field}
}

func asDoc(v any) (bson.D, error) {
	d, ok := v.(bson.D)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
	return d, nil
}

func field(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func str(d bson.D, key string) string {
	v, _ := field(d, key)
	s, _ := v.(string)
	return s
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d is out of range", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
