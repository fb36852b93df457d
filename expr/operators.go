package expr

// Arithmetic

func Add(args ...Expression) Call      { return Op("add", args...) }
func Subtract(a, b Expression) Call    { return Op("subtract", a, b) }
func Multiply(args ...Expression) Call { return Op("multiply", args...) }
func Divide(a, b Expression) Call      { return Op("divide", a, b) }
func Mod(a, b Expression) Call         { return Op("mod", a, b) }

// Strings

func Concat(args ...Expression) Call { return Op("concat", args...) }
func ToLower(e Expression) Call      { return Op("toLower", e) }
func ToUpper(e Expression) Call      { return Op("toUpper", e) }

// Comparison

func Eq(a, b Expression) Call  { return Op("eq", a, b) }
func Ne(a, b Expression) Call  { return Op("ne", a, b) }
func Gt(a, b Expression) Call  { return Op("gt", a, b) }
func Gte(a, b Expression) Call { return Op("gte", a, b) }
func Lt(a, b Expression) Call  { return Op("lt", a, b) }
func Lte(a, b Expression) Call { return Op("lte", a, b) }

// Boolean

func And(args ...Expression) Call { return Op("and", args...) }
func Or(args ...Expression) Call  { return Op("or", args...) }

// Not is encoded with its operand array-wrapped, which is the only shape
// the engine accepts for $not.
func Not(e Expression) Call { return Op("not", Literal([]any{e})) }

// Arrays

func Size(e Expression) Call                     { return Op("size", e) }
func ArrayElemAt(arr, idx Expression) Call       { return Op("arrayElemAt", arr, idx) }
func In(needle, haystack Expression) Call        { return Op("in", needle, haystack) }
func Cond(cond, then, otherwise Expression) Call { return Op("cond", cond, then, otherwise) }
func IfNull(e, replacement Expression) Call      { return Op("ifNull", e, replacement) }

// Escape wraps v in $literal so the engine does not interpret strings
// starting with "$" as field paths.
func Escape(v any) Call { return Op("literal", Literal(v)) }
