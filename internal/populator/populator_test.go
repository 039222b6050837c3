package populator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/ingress"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// stubConverter stands in for a real Elixir grammar-to-astmodel
// conversion (none exists in the example pack), synthesizing one
// zero-arity function per file so the Populator's orchestration — not
// grammar semantics — is what this test exercises.
func stubConverter(root *sitter.Node, src []byte, filePath string) (*astmodel.Node, string, error) {
	name := filepath.Base(filePath)
	fn := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta:  astmodel.Metadata{ASTID: name + ":f:0:root", Line: 1},
		Attrs: map[string]any{"name": "f", "params": []*astmodel.Node{}},
	}
	mod := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKModule,
		Children: []*astmodel.Node{fn},
	}
	return mod, name, nil
}

func newTestParser() *ingress.Parser {
	return ingress.NewParser(golang.GetLanguage(), stubConverter)
}

func TestPopulateDiscoversAndAnalyzesAllFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.ex", "b.ex"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package main\n"), 0o644))
	}

	repo := repository.NewRepository(config.Default())
	pop := New(repo, newTestParser())

	res := pop.Populate(context.Background(), dir, Options{
		IncludeGlobs: []string{"**/*.ex"},
		IDStrategy:   config.IDStrategyPath,
	})

	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.FunctionsAnalyzed)
	assert.Equal(t, StatusOK, res.Status)
	assert.Empty(t, res.Errors)

	_, ok := repo.GetModule("a.ex")
	assert.True(t, ok)
}

func TestPopulateRecordsPerFileErrorsWithoutAbortingBatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.ex"), []byte("package main\n"), 0o644))

	repo := repository.NewRepository(config.Default())
	failingConverter := func(root *sitter.Node, src []byte, filePath string) (*astmodel.Node, string, error) {
		if filepath.Base(filePath) == "good.ex" {
			return stubConverter(root, src, filePath)
		}
		return nil, "", assertErr{}
	}
	pop := New(repo, ingress.NewParser(golang.GetLanguage(), failingConverter))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.ex"), []byte("package main\n"), 0o644))

	res := pop.Populate(context.Background(), dir, Options{
		IncludeGlobs: []string{"**/*.ex"},
		IDStrategy:   config.IDStrategyPath,
	})

	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Processed)
	assert.NotEmpty(t, res.Errors)
	assert.Equal(t, StatusPartialOK, res.Status)
}

type assertErr struct{}

func (assertErr) Error() string { return "stub conversion failure" }
