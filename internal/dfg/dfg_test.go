package dfg

import (
	"testing"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func param(name string) *astmodel.Node {
	return &astmodel.Node{Kind: astmodel.KindVariableRef, VarName: name}
}

func assign(target string, astID string, line int, rhs *astmodel.Node) *astmodel.Node {
	return &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKAssign,
		Attrs:    map[string]any{"target": target},
		Children: []*astmodel.Node{rhs},
		Meta:     astmodel.Metadata{ASTID: astID, Line: line},
	}
}

func ref(name string, astID string, line int) *astmodel.Node {
	return &astmodel.Node{Kind: astmodel.KindVariableRef, VarName: name, Meta: astmodel.Metadata{ASTID: astID, Line: line}}
}

// TestSimpleAssignmentDFG grounds end-to-end scenario 1 of spec.md §8:
// definitions a_0 (parameter), x_0 (assignment), y_0 (assignment).
func TestSimpleAssignmentDFG(t *testing.T) {
	fn := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Attrs: map[string]any{"params": []*astmodel.Node{param("a")}},
		Children: []*astmodel.Node{
			assign("x", "asgn1", 1, ref("a", "use_a", 1)),
			assign("y", "asgn2", 2, ref("x", "use_x", 2)),
			ref("y", "use_y_final", 3),
		},
	}
	d := Build(fn, ident.FunctionKey{Module: "M", Name: "f", Arity: 1})

	names := map[string]bool{}
	for _, def := range d.Definitions {
		names[def.Variable.SSAName()] = true
	}
	assert.True(t, names["a_0"])
	assert.True(t, names["x_0"])
	assert.True(t, names["y_0"])

	var finalUse *Use
	for _, u := range d.Uses {
		if u.ASTID == "use_y_final" {
			finalUse = u
		}
	}
	require.NotNil(t, finalUse)
	require.NotNil(t, finalUse.ReachingDefinition)
	assert.Equal(t, "y_0", finalUse.ReachingDefinition.Variable.SSAName())
}

// TestIfElseRebindingDFG grounds scenario 2: x_0 (then), x_1 (else), phi
// x_2 at merge with sources {x_0, x_1}; final use of x reaches x_2.
func TestIfElseRebindingDFG(t *testing.T) {
	thenBranch := &astmodel.Node{ConstructorKind: "then", Kind: astmodel.KindConstructor, Children: []*astmodel.Node{
		assign("x", "asgn_then", 1, &astmodel.Node{Kind: astmodel.KindLiteral, LiteralValue: "A"}),
	}}
	elseBranch := &astmodel.Node{ConstructorKind: "else", Kind: astmodel.KindConstructor, Children: []*astmodel.Node{
		assign("x", "asgn_else", 1, &astmodel.Node{Kind: astmodel.KindLiteral, LiteralValue: "B"}),
	}}
	ifNode := &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKIf, Children: []*astmodel.Node{thenBranch, elseBranch}, Meta: astmodel.Metadata{ASTID: "if1"}}
	fn := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Attrs:    map[string]any{"params": []*astmodel.Node{param("a")}},
		Children: []*astmodel.Node{ifNode, ref("x", "use_x_final", 3)},
	}
	d := Build(fn, ident.FunctionKey{Module: "M", Name: "f", Arity: 1})

	require.Len(t, d.Phis, 1)
	phi := d.Phis[0]
	assert.GreaterOrEqual(t, len(phi.Sources), 2, "phi must have >= 2 distinct source versions")
	assert.Equal(t, "Φ(x)", phi.Label())

	var finalUse *Use
	for _, u := range d.Uses {
		if u.ASTID == "use_x_final" {
			finalUse = u
		}
	}
	require.NotNil(t, finalUse)
	require.NotNil(t, finalUse.ReachingDefinition)
	assert.Equal(t, DefPhi, finalUse.ReachingDefinition.Kind)
	assert.Equal(t, phi.Target.SSAName(), finalUse.ReachingDefinition.Variable.SSAName())
}

// TestCaseClauseScopingDFG grounds scenario 3: d_0 defined in clause 1 does
// not leak to clause 2's scope (neither leaks to the merge scope).
func TestCaseClauseScopingDFG(t *testing.T) {
	clause1 := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKCaseClause,
		Attrs: map[string]any{"pattern_vars": []string{"d"}},
		Meta:  astmodel.Metadata{ASTID: "clause1"},
	}
	clause2 := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKCaseClause,
		Attrs: map[string]any{"pattern_vars": []string{"r"}},
		Meta:  astmodel.Metadata{ASTID: "clause2"},
	}
	caseNode := &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKCase, Children: []*astmodel.Node{clause1, clause2}, Meta: astmodel.Metadata{ASTID: "case1"}}
	fn := &astmodel.Node{
		Kind:     astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Attrs:    map[string]any{"params": []*astmodel.Node{param("v")}},
		Children: []*astmodel.Node{caseNode, ref("d", "use_d_after", 5)},
	}
	d := Build(fn, ident.FunctionKey{Module: "M", Name: "f", Arity: 1})

	var dScope, rScope string
	for _, def := range d.Definitions {
		if def.Variable.OriginalName == "d" {
			dScope = def.ScopeID
		}
		if def.Variable.OriginalName == "r" {
			rScope = def.ScopeID
		}
	}
	assert.Equal(t, "clause1", dScope)
	assert.Equal(t, "clause2", rScope)
	assert.NotEqual(t, dScope, rScope)
	assert.Empty(t, d.Phis, "neither d nor r is live past the case, so no phi is created")

	var afterUse *Use
	for _, u := range d.Uses {
		if u.ASTID == "use_d_after" {
			afterUse = u
		}
	}
	require.NotNil(t, afterUse)
	assert.Nil(t, afterUse.ReachingDefinition, "d is bound only in clause1 and must not leak to the post-case scope")
	assert.Equal(t, -1, afterUse.Variable.Version, "a post-case read of a clause-local binding must resolve as unbound, not to clause1's d")
}

func TestSSAUniqueness(t *testing.T) {
	fn := &astmodel.Node{
		Kind:  astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Attrs: map[string]any{"params": []*astmodel.Node{param("a")}},
		Children: []*astmodel.Node{
			assign("x", "a1", 1, ref("a", "u1", 1)),
			assign("x", "a2", 2, ref("x", "u2", 2)),
		},
	}
	d := Build(fn, ident.FunctionKey{Module: "M", Name: "f", Arity: 1})
	seen := map[string]bool{}
	for _, def := range d.Definitions {
		name := def.Variable.SSAName()
		require.False(t, seen[name], "duplicate ssa_name %s", name)
		seen[name] = true
	}
}
