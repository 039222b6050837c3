package syncer

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

// nameFromSource stands in for a real grammar conversion: the "module
// name" is read from the first line of source, letting tests simulate a
// rename by changing file content.
func nameFromSource(root *sitter.Node, src []byte, filePath string) (*astmodel.Node, string, error) {
	name := string(src)
	for i, b := range src {
		if b == '\n' {
			name = string(src[:i])
			break
		}
	}
	fn := &astmodel.Node{
		Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKFunction,
		Meta:  astmodel.Metadata{ASTID: name + ":f:0:root", Line: 1},
		Attrs: map[string]any{"name": "f", "params": []*astmodel.Node{}},
	}
	mod := &astmodel.Node{Kind: astmodel.KindConstructor, ConstructorKind: astmodel.CKModule, Children: []*astmodel.Node{fn}}
	return mod, name, nil
}

func newTestParser() *ingress.Parser {
	return ingress.NewParser(golang.GetLanguage(), nameFromSource)
}

// TestIncrementalRename grounds end-to-end scenario 5 of spec.md §8: a
// modified event whose new content renames the module from A to B leaves
// get_module(A) not_found, get_module(B) present, and the file_path index
// pointing at B.
func TestIncrementalRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ex")
	require.NoError(t, os.WriteFile(path, []byte("A\nbody\n"), 0o644))

	repo := repository.NewRepository(config.Default())
	s := New(repo, newTestParser())

	res := s.Sync(context.Background(), []Event{{Path: path, Kind: EventCreated}}, config.IDStrategyPath)
	require.Len(t, res.Results, 1)
	require.Nil(t, res.Results[0].Err)
	_, ok := repo.GetModule("A")
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("B\nbody\n"), 0o644))
	res = s.Sync(context.Background(), []Event{{Path: path, Kind: EventModified}}, config.IDStrategyPath)
	require.Len(t, res.Results, 1)
	assert.Equal(t, ResolutionRenamed, res.Results[0].Resolution)

	_, ok = repo.GetModule("A")
	assert.False(t, ok, "old module A must be gone after rename")
	_, ok = repo.GetModule("B")
	assert.True(t, ok, "new module B must be present after rename")

	name, ok := repo.ModuleForFile(path)
	require.True(t, ok)
	assert.Equal(t, "B", name)
}

// TestSynchronizerIdempotence grounds spec.md §8's "Synchronizer
// idempotence" invariant: applying the same modified event twice is
// equivalent to applying it once.
func TestSynchronizerIdempotence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ex")
	require.NoError(t, os.WriteFile(path, []byte("A\nbody\n"), 0o644))

	repo := repository.NewRepository(config.Default())
	s := New(repo, newTestParser())
	s.Sync(context.Background(), []Event{{Path: path, Kind: EventCreated}}, config.IDStrategyPath)

	first := s.Sync(context.Background(), []Event{{Path: path, Kind: EventModified}}, config.IDStrategyPath)
	second := s.Sync(context.Background(), []Event{{Path: path, Kind: EventModified}}, config.IDStrategyPath)

	require.Len(t, first.Results, 1)
	require.Len(t, second.Results, 1)
	assert.Equal(t, ResolutionUnchanged, first.Results[0].Resolution)
	assert.Equal(t, ResolutionUnchanged, second.Results[0].Resolution)
}

func TestDeletedEventResolvesViaFilePathIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ex")
	require.NoError(t, os.WriteFile(path, []byte("A\nbody\n"), 0o644))

	repo := repository.NewRepository(config.Default())
	s := New(repo, newTestParser())
	s.Sync(context.Background(), []Event{{Path: path, Kind: EventCreated}}, config.IDStrategyPath)

	res := s.Sync(context.Background(), []Event{{Path: path, Kind: EventDeleted}}, config.IDStrategyPath)
	assert.Equal(t, ResolutionDeleted, res.Results[0].Resolution)
	_, ok := repo.GetModule("A")
	assert.False(t, ok)
}

func TestCreateDeleteWithinBatchCollapsesToNoop(t *testing.T) {
	events := collapse([]Event{
		{Path: "x.ex", Kind: EventCreated},
		{Path: "x.ex", Kind: EventDeleted},
	})
	assert.Empty(t, events)
}
