package analyzer

import (
	"testing"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// caseFn builds a case/v with n clauses, grounding end-to-end scenario 3
// of spec.md §8 ("Case with three clauses" → cyclomatic = 3).
func caseFn(nClauses int) *astmodel.Node {
	clauses := make([]*astmodel.Node, nClauses)
	for i := range clauses {
		clauses[i] = &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKCaseClause}
	}
	return &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKFunction,
		Attrs:           map[string]any{"name": "f", "params": []*astmodel.Node{{Kind: astmodel.KindVariableRef, VarName: "v"}}},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKCase, Children: clauses},
		},
	}
}

func TestAnalyzeFunctionCaseComplexity(t *testing.T) {
	key := ident.FunctionKey{Module: "M", Name: "f", Arity: 1}
	ff, err := AnalyzeFunction(caseFn(3), key)
	require.Nil(t, err)
	assert.Equal(t, 3, ff.ComplexityPreliminary, "three clauses => two extra decision points + base 1")
	assert.Equal(t, 3, ff.PatternMatches)
}

func TestAnalyzeFunctionIfComplexity(t *testing.T) {
	key := ident.FunctionKey{Module: "M", Name: "f", Arity: 1}
	fnAST := &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKFunction,
		Attrs:           map[string]any{"name": "f", "params": []*astmodel.Node{}},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKIf},
		},
	}
	ff, err := AnalyzeFunction(fnAST, key)
	require.Nil(t, err)
	assert.Equal(t, 2, ff.ComplexityPreliminary)
}

func TestAnalyzeFunctionBareCallRecordsUnresolvedModule(t *testing.T) {
	key := ident.FunctionKey{Module: "M", Name: "f", Arity: 0}
	fnAST := &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKFunction,
		Attrs:           map[string]any{"name": "f", "params": []*astmodel.Node{}},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindCall, CalleeFunc: "helper", Args: []*astmodel.Node{}},
		},
	}
	ff, err := AnalyzeFunction(fnAST, key)
	require.Nil(t, err)
	require.Len(t, ff.DirectCalls, 1)
	assert.Equal(t, "", ff.DirectCalls[0].Module)
	assert.Equal(t, "helper", ff.DirectCalls[0].Func)
}
