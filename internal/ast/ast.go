// Package ast defines the syntax tree of reconstructed QSC script source.
package ast

// Operator is a unary or binary QSC operator.
type Operator uint8

const (
	ILLEGAL Operator = iota

	// Unary.
	PLUS  // +x
	MINUS // -x
	INV   // ~x
	NOT   // !x

	// Binary.
	MUL
	DIV
	ADD
	SUB
	SHL
	SHR
	LT
	LE
	GT
	GE
	EQ
	NE
	AND
	XOR
	OR
	LAND
	LOR
	ASSIGN
)

var operators = [...]string{
	ILLEGAL: "?",
	PLUS:    "+", MINUS: "-", INV: "~", NOT: "!",
	MUL: "*", DIV: "/",
	ADD: "+", SUB: "-",
	SHL: "<<", SHR: ">>",
	LT: "<", LE: "<=", GT: ">", GE: ">=",
	EQ: "==", NE: "!=",
	AND: "&", XOR: "^", OR: "|",
	LAND: "&&", LOR: "||",
	ASSIGN: "=",
}

func (op Operator) String() string {
	if int(op) < len(operators) {
		return operators[op]
	}
	return "?"
}

// Lowest and UnaryPrec bound the binary precedences below.
const (
	Lowest    = 0
	UnaryPrec = 12
)

// Precedence returns the binding strength of a binary operator. Higher
// binds tighter. Unary operators and ILLEGAL return Lowest.
func (op Operator) Precedence() int {
	switch op {
	case MUL, DIV:
		return 11
	case ADD, SUB:
		return 10
	case SHL, SHR:
		return 9
	case LT, LE, GT, GE:
		return 8
	case EQ, NE:
		return 7
	case AND:
		return 6
	case XOR:
		return 5
	case OR:
		return 4
	case LAND:
		return 3
	case LOR:
		return 2
	case ASSIGN:
		return 1
	}
	return Lowest
}

// RightAssoc reports whether op groups right to left.
func (op Operator) RightAssoc() bool { return op == ASSIGN }

// IsUnary reports whether op is a prefix operator.
func (op Operator) IsUnary() bool { return op >= PLUS && op <= NOT }

// Expr is an expression node.
type Expr interface{ exprNode() }

// LitKind is the type of a literal, fixed by the opcode that pushed it.
type LitKind uint8

const (
	IntLit LitKind = iota
	FloatLit
	StringLit
)

type (
	// Literal is a constant value.
	Literal struct {
		Kind  LitKind
		Int   int64
		Float float32
		Str   string
	}

	// Var is a reference to a named variable or function.
	Var struct {
		Name string
	}

	// Unary is a prefix operation.
	Unary struct {
		Op Operator
		X  Expr
	}

	// Binary is an infix operation. Assignment is a Binary with op ASSIGN
	// and the target in X.
	Binary struct {
		Op   Operator
		X, Y Expr
	}

	// Call is a function call.
	Call struct {
		Fn   Expr
		Args []Expr
	}

	// Opaque stands in for code that could not be reconstructed.
	Opaque struct {
		Offset int
	}
)

func (*Literal) exprNode() {}
func (*Var) exprNode()     {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}
func (*Call) exprNode()    {}
func (*Opaque) exprNode()  {}

// Int returns an integer literal.
func Int(v int64) *Literal { return &Literal{Kind: IntLit, Int: v} }

// Float returns a float literal.
func Float(v float32) *Literal { return &Literal{Kind: FloatLit, Float: v} }

// String returns a string literal holding the raw (unescaped) value.
func String(s string) *Literal { return &Literal{Kind: StringLit, Str: s} }

// Not returns the logical negation of x, folding a double negation.
func Not(x Expr) Expr {
	if u, ok := x.(*Unary); ok && u.Op == NOT {
		return u.X
	}
	return &Unary{Op: NOT, X: x}
}

// Stmt is a statement node.
type Stmt interface{ stmtNode() }

type (
	// ExprStmt evaluates an expression for its effect.
	ExprStmt struct {
		X Expr
	}

	// If is a conditional. Else is nil for a single-armed if.
	If struct {
		Cond Expr
		Then []Stmt
		Else []Stmt
	}

	// While is a pre-tested loop.
	While struct {
		Cond Expr
		Body []Stmt
	}

	Break    struct{}
	Continue struct{}

	// Return ends the script. Value is nil for a bare return.
	Return struct {
		Value Expr
	}

	// Goto transfers control to a Label.
	Goto struct {
		Label string
	}

	// Label marks a goto target.
	Label struct {
		Name string
	}
)

func (*ExprStmt) stmtNode() {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*Break) stmtNode()    {}
func (*Continue) stmtNode() {}
func (*Return) stmtNode()   {}
func (*Goto) stmtNode()     {}
func (*Label) stmtNode()    {}
