package workflow

// Condition is an IfStep's guard: exactly one of Truthy, Comparison, or
// Logical is set on the wire (spec §3 IfStep / §4.2.2). The executor's
// condition evaluator (internal/exec) interprets the populated variant.
type Condition struct {
	// Truthy names a variable whose rendered value is tested for truthiness.
	Truthy string `json:"truthy,omitempty"`

	Comparison *Comparison `json:"comparison,omitempty"`
	Logical    *Logical    `json:"logical,omitempty"`
}

// Comparison operators, matching spec §4.2.2's enumerated operator set.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpIn           = "in"
	OpNotIn        = "not in"
)

// Comparison renders Left and Right (template strings or literal values) and
// applies Operator.
type Comparison struct {
	Left     string `json:"left"`
	Operator string `json:"operator"`
	Right    string `json:"right"`
}

// Logical operators: and/or combine Operands, not takes exactly one.
const (
	LogicalAnd = "and"
	LogicalOr  = "or"
	LogicalNot = "not"
)

// Logical combines nested conditions.
type Logical struct {
	Operator string      `json:"operator"`
	Operands []Condition `json:"operands"`
}
