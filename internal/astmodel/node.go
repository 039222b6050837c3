// Package astmodel defines the generic AST sum type every analysis package
// in this repository consumes. The core never parses source text itself
// (spec.md §6 Ingress); it only walks values of this type, produced by an
// Ingress Adapter (internal/ingress) or by a test fixture builder.
package astmodel

// Kind distinguishes the four alternatives of the AST sum type.
type Kind int

const (
	KindLiteral Kind = iota
	KindVariableRef
	KindCall
	KindConstructor
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindVariableRef:
		return "variable_reference"
	case KindCall:
		return "call"
	case KindConstructor:
		return "constructor"
	default:
		return "unknown"
	}
}

// Metadata carries source-position and identity information that travels
// with every node regardless of alternative.
type Metadata struct {
	Line     int
	Column   int
	ASTID    string // pre-assigned ID, if the ingress adapter supplies one
	EndLine  int
	Source   string // verbatim source snippet, for CPGNode.source_snippet
}

// Node is one alternative of the AST sum type described in spec.md §6.
//
// Only the fields relevant to Kind are meaningful; callers switch on Kind
// before reading Callee/Args/ConstructorKind/Children.
type Node struct {
	Kind Kind
	Meta Metadata

	// KindLiteral
	LiteralValue any

	// KindVariableRef
	VarName string

	// KindCall: Mod.fun(args) or a bare fun(args).
	CalleeModule string // empty when unresolved at parse time
	CalleeFunc   string
	Args         []*Node

	// KindConstructor: the generic bucket for everything else — if/case/
	// cond/try/after/fn/pattern/assignment/pipe/block/etc. ConstructorKind
	// names the concrete shape (e.g. "if", "case_clause", "assignment",
	// "anon_fn", "pipe"); Children is the ordered child list the
	// identifier and builders traverse positionally.
	ConstructorKind string
	Children        []*Node

	// Attrs holds construct-specific scalar data that doesn't need its own
	// child node: the bound name of an assignment target, a guard
	// expression's textual form, a pattern's literal shape, etc.
	Attrs map[string]any
}

// Attr fetches a string-typed attribute, returning "" if absent or of a
// different type.
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	s, _ := n.Attrs[key].(string)
	return s
}

// AttrBool fetches a bool-typed attribute.
func (n *Node) AttrBool(key string) bool {
	if n == nil || n.Attrs == nil {
		return false
	}
	b, _ := n.Attrs[key].(bool)
	return b
}

// IsBareCall reports whether a call's target module could not be resolved
// at parse time (spec.md §4.2: "a bare fun(args) records module=nil").
func (n *Node) IsBareCall() bool {
	return n.Kind == KindCall && n.CalleeModule == ""
}

// Common ConstructorKind values, shared by internal/analyzer, internal/cfg
// and internal/dfg so none of them hardcode string literals independently.
const (
	CKModule    = "module"
	CKFunction  = "function"
	CKClause    = "clause"
	CKIf        = "if"
	CKCase      = "case"
	CKCaseClause = "case_clause"
	CKCond      = "cond"
	CKCondClause = "cond_clause"
	CKTry       = "try"
	CKRescue    = "rescue_clause"
	CKCatch     = "catch_clause"
	CKAfter     = "after_block"
	CKPipe      = "pipe"
	CKAnonFn    = "anon_fn"
	CKAssign    = "assignment"
	CKPattern   = "pattern"
	CKBlock     = "block"
	CKReturn    = "return"
	CKGuard     = "guard"
)
