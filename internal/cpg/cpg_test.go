package cpg

import (
	"strings"
	"testing"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/cfg"
	"github.com/nshkrdotcom/cpgengine/internal/dfg"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleAssignmentFn() *astmodel.Node {
	return &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta:  astmodel.Metadata{ASTID: "M:f:1:root"},
		Attrs: map[string]any{"params": []*astmodel.Node{{Kind: astmodel.KindVariableRef, VarName: "a", Meta: astmodel.Metadata{ASTID: "M:f:1:params[0]"}}}},
		Children: []*astmodel.Node{
			{
				Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKAssign,
				Attrs: map[string]any{"target": "x"},
				Meta:  astmodel.Metadata{ASTID: "M:f:1:body[0]", Line: 1},
				Children: []*astmodel.Node{
					{Kind: astmodel.KindVariableRef, VarName: "a", Meta: astmodel.Metadata{ASTID: "M:f:1:body[0].rhs"}},
				},
			},
		},
	}
}

func TestFuseCompleteness(t *testing.T) {
	fn := buildSimpleAssignmentFn()
	key := ident.FunctionKey{Module: "M", Name: "f", Arity: 1}

	c := cfg.Build(fn, key)
	d := dfg.Build(fn, key)
	g := Fuse(fn, c, d, nil, key)

	// Every CFG node id must be in cfg_id -> cpg_id.
	for id := range c.Nodes {
		_, ok := g.Mappings.CFGToCPG[id]
		assert.True(t, ok, "CFG node %s not mapped to a CPG node", id)
	}
	// Every definition and use must be mapped.
	for _, def := range d.Definitions {
		key := def.Variable.SSAName() + "@" + def.ASTID
		_, ok := g.Mappings.DefToCPG[key]
		assert.True(t, ok, "definition %s not mapped", key)
	}
	for _, use := range d.Uses {
		if use.Variable.Version < 0 {
			continue // phantom uses have no reaching definition to map
		}
		key := use.Variable.SSAName() + "@" + use.ASTID
		_, ok := g.Mappings.UseToCPG[key]
		assert.True(t, ok, "use %s not mapped", key)
	}
	// No edge references a missing node except symbolic ones.
	for _, e := range g.Edges {
		_, fromOK := g.Nodes[e.From]
		require.True(t, fromOK, "edge source %s missing", e.From)
		if e.Symbolic {
			assert.True(t, strings.HasPrefix(e.To, "func_target:"))
			continue
		}
		_, toOK := g.Nodes[e.To]
		assert.True(t, toOK, "edge target %s missing", e.To)
	}
}

func TestFuseDeterministicNodeIDs(t *testing.T) {
	key := ident.FunctionKey{Module: "M", Name: "f", Arity: 1}
	fn1 := buildSimpleAssignmentFn()
	c1 := cfg.Build(fn1, key)
	d1 := dfg.Build(fn1, key)
	g1 := Fuse(fn1, c1, d1, nil, key)

	fn2 := buildSimpleAssignmentFn()
	c2 := cfg.Build(fn2, key)
	d2 := dfg.Build(fn2, key)
	g2 := Fuse(fn2, c2, d2, nil, key)

	assert.Equal(t, len(g1.Nodes), len(g2.Nodes))
	assert.Equal(t, len(g1.Edges), len(g2.Edges))
	for astID, cpgID := range g1.Mappings.ASTToCPG {
		assert.Equal(t, cpgID, g2.Mappings.ASTToCPG[astID])
	}
}

func TestSymbolicCallEdge(t *testing.T) {
	fn := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta:     astmodel.Metadata{ASTID: "M1:f:1:root"},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindCall, CalleeModule: "M2", CalleeFunc: "g", Args: []*astmodel.Node{}, Meta: astmodel.Metadata{ASTID: "M1:f:1:body[0]"}},
		},
	}
	key := ident.FunctionKey{Module: "M1", Name: "f", Arity: 1}
	c := cfg.Build(fn, key)
	d := dfg.Build(fn, key)
	calls := []analyzer.CallRef{{Module: "M2", Func: "g", Arity: 1, CallSiteASTID: "M1:f:1:body[0]"}}
	g := Fuse(fn, c, d, calls, key)

	var found bool
	for _, e := range g.Edges {
		if e.Kind == EdgeCall {
			found = true
			assert.True(t, e.Symbolic)
			assert.Equal(t, "func_target:M2.g/1", e.To)
		}
	}
	assert.True(t, found, "expected one symbolic call edge")
}
