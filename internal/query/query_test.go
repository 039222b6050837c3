package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

func seedRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo := repository.NewRepository(config.Default())

	mk := func(mod, name string, arity, complexity int) analyzer.ModuleFacts {
		key := ident.FunctionKey{Module: mod, Name: name, Arity: arity}
		fnAST := &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction, Meta: astmodel.Metadata{ASTID: mod + ":" + name + ":root"}}
		return analyzer.ModuleFacts{
			Name: mod, FilePath: mod + ".ex", ContentHash: mod + "-hash",
			Functions: []analyzer.FunctionFacts{{
				ASTID: mod + ":" + name + ":root", Key: key, Signature: key.MFA(), AST: fnAST,
				ComplexityPreliminary: complexity,
			}},
		}
	}
	require.NoError(t, repo.PutModule(mk("Low", "f", 1, 1)))
	require.NoError(t, repo.PutModule(mk("High", "g", 2, 9)))
	return repo
}

func TestExecuteFunctionsEqFilter(t *testing.T) {
	repo := seedRepo(t)
	res, err := Execute(repo, Spec{From: FromFunctions, Where: []Condition{{FieldPath: "module", Op: OpEq, Value: "High"}}})
	require.Nil(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "High", res.Rows[0]["module"])
}

func TestExecuteFunctionsGteFilter(t *testing.T) {
	repo := seedRepo(t)
	res, err := Execute(repo, Spec{From: FromFunctions, Where: []Condition{{FieldPath: "cyclomatic", Op: OpGte, Value: 5}}})
	require.Nil(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "High", res.Rows[0]["module"])
}

func TestExecuteOrderByAndLimit(t *testing.T) {
	repo := seedRepo(t)
	res, err := Execute(repo, Spec{From: FromFunctions, OrderBy: []OrderTerm{{FieldPath: "cyclomatic", Direction: Desc}}, Limit: 1})
	require.Nil(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "High", res.Rows[0]["module"])
}

func TestExecuteUnknownFieldPathWarns(t *testing.T) {
	repo := seedRepo(t)
	res, err := Execute(repo, Spec{From: FromFunctions, Where: []Condition{{FieldPath: "nonexistent", Op: OpEq, Value: 1}}})
	require.Nil(t, err)
	assert.Empty(t, res.Rows)
	assert.Contains(t, res.Warning, "unknown field path")
}

func TestExecuteUnsupportedFromErrors(t *testing.T) {
	repo := seedRepo(t)
	_, err := Execute(repo, Spec{From: "bogus"})
	require.NotNil(t, err)
	assert.Equal(t, "query_error", string(err.Kind))
}

func TestExecuteInvalidRegexErrors(t *testing.T) {
	repo := seedRepo(t)
	_, err := Execute(repo, Spec{From: FromFunctions, Where: []Condition{{FieldPath: "module", Op: OpMatchesRgx, Value: "("}}})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "invalid_regex")
}

func TestExecuteCPGPatternMatch(t *testing.T) {
	repo := repository.NewRepository(config.Default())
	key := ident.FunctionKey{Module: "Caller", Name: "f", Arity: 1}
	fnAST := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta: astmodel.Metadata{ASTID: "Caller:f:1:root"},
		Children: []*astmodel.Node{
			{Kind: astmodel.KindCall, CalleeModule: "Callee", CalleeFunc: "g", Args: []*astmodel.Node{}, Meta: astmodel.Metadata{ASTID: "Caller:f:1:body[0]"}},
		},
	}
	require.NoError(t, repo.PutModule(analyzer.ModuleFacts{
		Name: "Caller", FilePath: "caller.ex", ContentHash: "h",
		Functions: []analyzer.FunctionFacts{{
			ASTID: "Caller:f:1:root", Key: key, Signature: key.MFA(), AST: fnAST,
			DirectCalls: []analyzer.CallRef{{Module: "Callee", Func: "g", Arity: 0, CallSiteASTID: "Caller:f:1:body[0]"}},
		}},
	}))

	res, err := Execute(repo, Spec{
		From: FromCPGNodes,
		CPGPattern: &CPGPattern{
			Node:  PatternNode{NodeType: "ast"},
			Edges: []PatternEdge{{Kind: "call"}},
		},
	})
	require.Nil(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "cpg:Caller:f:1:body[0]", res.Rows[0]["node_id"])
}

func TestExecuteCPGPatternRejectsNonCPGNodesFrom(t *testing.T) {
	repo := seedRepo(t)
	_, err := Execute(repo, Spec{From: FromFunctions, CPGPattern: &CPGPattern{Node: PatternNode{NodeType: "ast"}}})
	require.NotNil(t, err)
}

func TestExecuteProjection(t *testing.T) {
	repo := seedRepo(t)
	res, err := Execute(repo, Spec{From: FromFunctions, Select: []string{"module"}})
	require.Nil(t, err)
	for _, row := range res.Rows {
		assert.Len(t, row, 1)
		_, ok := row["module"]
		assert.True(t, ok)
	}
}
