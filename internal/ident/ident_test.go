package ident

import (
	"testing"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFn() *astmodel.Node {
	// f(a) { x = a + 1; y = x * 2; y }
	return &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKFunction,
		Meta:            astmodel.Metadata{Line: 1},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKAssign, Meta: astmodel.Metadata{Line: 1}},
			{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKAssign, Meta: astmodel.Metadata{Line: 2}},
			{Kind: astmodel.KindVariableRef, VarName: "y", Meta: astmodel.Metadata{Line: 3}},
		},
	}
}

func TestAssignIDsStability(t *testing.T) {
	ctx := Context{Strategy: config.IDStrategyPath, Key: FunctionKey{Module: "M", Name: "f", Arity: 1}}

	first := AssignIDs(sampleFn(), ctx)
	var idsFirst []string
	collect(first, &idsFirst)

	second := AssignIDs(sampleFn(), ctx)
	var idsSecond []string
	collect(second, &idsSecond)

	assert.Equal(t, idsFirst, idsSecond, "re-running Node Identifier on an unchanged function must yield identical IDs")

	seen := map[string]bool{}
	for _, id := range idsFirst {
		require.False(t, seen[id], "duplicate ast_id within one function: %s", id)
		seen[id] = true
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	ctx := Context{Strategy: config.IDStrategyPath, Key: FunctionKey{Module: "M", Name: "f", Arity: 1}}
	root := AssignIDs(sampleFn(), ctx)

	parsed, err := ParseID(root.Children[0].Meta.ASTID)
	require.NoError(t, err)
	assert.Equal(t, "M", parsed.Module)
	assert.Equal(t, "f", parsed.Function)
	assert.Equal(t, 1, parsed.Arity)
}

func TestAssignIDsCoversParams(t *testing.T) {
	ctx := Context{Strategy: config.IDStrategyPath, Key: FunctionKey{Module: "M", Name: "f", Arity: 2}}
	fn := &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKFunction,
		Attrs: map[string]any{"params": []*astmodel.Node{
			{Kind: astmodel.KindVariableRef, VarName: "a"},
			{Kind: astmodel.KindVariableRef, VarName: "b"},
		}},
	}
	AssignIDs(fn, ctx)

	params := fn.Attrs["params"].([]*astmodel.Node)
	require.NotEmpty(t, params[0].Meta.ASTID, "first parameter must get a non-empty ast_id")
	require.NotEmpty(t, params[1].Meta.ASTID, "second parameter must get a non-empty ast_id")
	assert.NotEqual(t, params[0].Meta.ASTID, params[1].Meta.ASTID, "each parameter must get a distinct ast_id")
	assert.Contains(t, params[0].Meta.ASTID, "params[0]")
	assert.Contains(t, params[1].Meta.ASTID, "params[1]")
}

func TestFunctionKeyMFA(t *testing.T) {
	k := FunctionKey{Module: "M2", Name: "g", Arity: 1}
	assert.Equal(t, "M2.g/1", k.MFA())
}

func collect(n *astmodel.Node, out *[]string) {
	if n == nil {
		return
	}
	*out = append(*out, n.Meta.ASTID)
	for _, c := range n.Args {
		collect(c, out)
	}
	for _, c := range n.Children {
		collect(c, out)
	}
}
