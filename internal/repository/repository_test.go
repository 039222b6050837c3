package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

func callerModule() analyzer.ModuleFacts {
	key := ident.FunctionKey{Module: "M1", Name: "f", Arity: 1}
	fnAST := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta: astmodel.Metadata{ASTID: "M1:f:1:root"},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindCall, CalleeModule: "M2", CalleeFunc: "g", Args: []*astmodel.Node{{}}, Meta: astmodel.Metadata{ASTID: "M1:f:1:body[0]"}},
		},
	}
	return analyzer.ModuleFacts{
		Name: "M1", FilePath: "m1.ex", ContentHash: "h1",
		Functions: []analyzer.FunctionFacts{
			{
				ASTID: "M1:f:1:root", Key: key, Signature: key.MFA(), AST: fnAST,
				DirectCalls: []analyzer.CallRef{{Module: "M2", Func: "g", Arity: 1, CallSiteASTID: "M1:f:1:body[0]"}},
			},
		},
	}
}

func calleeModule() analyzer.ModuleFacts {
	key := ident.FunctionKey{Module: "M2", Name: "g", Arity: 1}
	fnAST := &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction, Meta: astmodel.Metadata{ASTID: "M2:g:1:root"}}
	return analyzer.ModuleFacts{
		Name: "M2", FilePath: "m2.ex", ContentHash: "h2",
		Functions: []analyzer.FunctionFacts{
			{ASTID: "M2:g:1:root", Key: key, Signature: key.MFA(), AST: fnAST},
		},
	}
}

// TestCallerQuery grounds end-to-end scenario 6 of spec.md §8: given M1.f/1
// calls M2.g/1, find_callers_of({M2,g,1}) returns exactly one reference
// pointing at the call site in M1.f/1 with the correct AST node id.
func TestCallerQuery(t *testing.T) {
	repo := NewRepository(config.Default())
	require.NoError(t, repo.PutModule(callerModule()))
	require.NoError(t, repo.PutModule(calleeModule()))

	refs := repo.FindCallersOf("M2.g/1")
	require.Len(t, refs, 1)
	assert.Equal(t, "M1", refs[0].Caller.Module)
	assert.Equal(t, "f", refs[0].Caller.Name)
	assert.Equal(t, "M1:f:1:body[0]", refs[0].CallSiteASTID)
}

// TestIndexPrimaryConsistency grounds spec.md §8's "Index/primary
// consistency" invariant: the called_mfa index reflects exactly the calls
// present in the primary store, and file_path -> module is a total map
// over live modules.
func TestIndexPrimaryConsistency(t *testing.T) {
	repo := NewRepository(config.Default())
	require.NoError(t, repo.PutModule(callerModule()))
	require.NoError(t, repo.PutModule(calleeModule()))

	for _, mf := range []string{"m1.ex", "m2.ex"} {
		_, ok := repo.ModuleForFile(mf)
		assert.True(t, ok, "file_path index missing entry for %s", mf)
	}

	require.NoError(t, repo.DeleteModule("M1"))
	assert.Empty(t, repo.FindCallersOf("M2.g/1"), "deleting the caller module must remove its call-index entries")
	_, ok := repo.ModuleForFile("m1.ex")
	assert.False(t, ok, "file_path index must drop deleted module's file")
}

func TestLazyGraphConstructionAndCaching(t *testing.T) {
	repo := NewRepository(config.Default())
	require.NoError(t, repo.PutModule(calleeModule()))
	key := ident.FunctionKey{Module: "M2", Name: "g", Arity: 1}

	c1, err := repo.GetCFG(key)
	require.NoError(t, err)
	c2, err := repo.GetCFG(key)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "repeated GetCFG must return the cached graph")

	g, err := repo.GetCPG(key)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestPutModuleInvalidatesChangedFunctionGraphs(t *testing.T) {
	repo := NewRepository(config.Default())
	require.NoError(t, repo.PutModule(calleeModule()))
	key := ident.FunctionKey{Module: "M2", Name: "g", Arity: 1}

	c1, err := repo.GetCFG(key)
	require.NoError(t, err)

	changed := calleeModule()
	changed.Functions[0].DirectCalls = append(changed.Functions[0].DirectCalls, analyzer.CallRef{Module: "M3", Func: "h", Arity: 0})
	require.NoError(t, repo.PutModule(changed))

	c2, err := repo.GetCFG(key)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2, "a content-changed function's cached CFG must be invalidated")
}

func TestFindCPGNodeByASTID(t *testing.T) {
	repo := NewRepository(config.Default())
	require.NoError(t, repo.PutModule(calleeModule()))

	node, key, ok := repo.FindCPGNodeByASTID("M2:g:1:root")
	require.True(t, ok)
	assert.Equal(t, "M2", key.Module)
	assert.NotNil(t, node)

	_, _, ok = repo.FindCPGNodeByASTID("does-not-exist")
	assert.False(t, ok)
}
