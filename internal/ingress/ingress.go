// Package ingress implements the Ingress Adapter (C10, SPEC_FULL.md §4.10):
// the file-system discovery, reading, content hashing, and parse-to-AST
// seam the core consumes through spec.md §6's "Parsed AST provider" and
// "File system" interfaces.
//
// Grounded on viant-linager's inspector/golang/inspector_tree_sitter.go,
// which drives github.com/smacker/go-tree-sitter the same way: construct a
// parser, parse bytes into a concrete syntax tree, then walk it into a
// richer model. That repo hardcodes the Go grammar import
// (go-tree-sitter/golang); this package cannot, since no example repo
// carries an Elixir tree-sitter grammar binding, so the grammar and the
// concrete-syntax-tree-to-astmodel.Node conversion are both supplied by the
// caller (see DESIGN.md's C10 entry). Directory walking and glob matching
// follow the bmatcuk/doublestar convention seen in the pack's manifest
// files (other_examples/manifests/*/go.mod).
package ingress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/minio/highwayhash"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
)

// hashKey is a fixed, arbitrary 32-byte key for HighwayHash. Content
// hashes are used for change detection within one process's lifetime, not
// as a security primitive, so a fixed key is appropriate.
var hashKey = make([]byte, 32)

// Converter turns a tree-sitter concrete syntax tree into the rooted,
// generic astmodel.Node the rest of the engine consumes. Grammar-specific
// knowledge (which node types are calls, which are pattern clauses, what
// the module name attribute is called) lives entirely in the Converter
// supplied by the caller — ingress itself is grammar-agnostic.
type Converter func(root *sitter.Node, src []byte, filePath string) (moduleAST *astmodel.Node, moduleName string, err error)

// ASTParser is spec.md §6's parse(source_bytes, file_path) -> AST |
// parse_error seam. *Parser below is the tree-sitter-backed implementation;
// internal/elixirlang's heuristic lexer satisfies it too, so the Populator
// and Synchronizer can be handed either without depending on tree-sitter
// directly.
type ASTParser interface {
	Parse(ctx context.Context, src []byte, filePath string) (*astmodel.Node, string, *cpgerr.Error)
}

// Parser wraps a tree-sitter language and a Converter into spec.md §6's
// parse(source_bytes, file_path) -> AST | parse_error seam.
type Parser struct {
	Language *sitter.Language
	Convert  Converter
}

var _ ASTParser = (*Parser)(nil)

// NewParser constructs a Parser for a given grammar and conversion
// function.
func NewParser(lang *sitter.Language, convert Converter) *Parser {
	return &Parser{Language: lang, Convert: convert}
}

// Parse implements spec.md §6's parse(source_bytes, file_path).
func (p *Parser) Parse(ctx context.Context, src []byte, filePath string) (*astmodel.Node, string, *cpgerr.Error) {
	parser := sitter.NewParser()
	parser.SetLanguage(p.Language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, "", cpgerr.Wrap(cpgerr.KindParse, cpgerr.Locator{File: filePath}, "tree-sitter parse failed", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, "", cpgerr.New(cpgerr.KindParse, cpgerr.Locator{File: filePath}, "source contains syntax errors")
	}

	moduleAST, moduleName, cerr := p.Convert(root, src, filePath)
	if cerr != nil {
		return nil, "", cpgerr.Wrap(cpgerr.KindParse, cpgerr.Locator{File: filePath}, "AST conversion failed", cerr)
	}
	return moduleAST, moduleName, nil
}

// Read implements spec.md §6's read(file_path) -> bytes | io_error.
func Read(filePath string) ([]byte, *cpgerr.Error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, cpgerr.Wrap(cpgerr.KindResource, cpgerr.Locator{File: filePath}, "read failed", err)
	}
	return b, nil
}

// ContentHash computes a deterministic digest of file
// contents using HighwayHash, the fast non-cryptographic hash the
// Synchronizer's "modified" resolution (spec.md §4.8) uses to detect a
// no-op write.
func ContentHash(src []byte) string {
	h, _ := highwayhash.New(hashKey)
	h.Write(src)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Discover implements spec.md §6's discover(root, include_globs,
// ignore_globs) -> [file_path]: a deduplicated, sorted list of files under
// root matching at least one include glob and no ignore glob.
func Discover(root string, includeGlobs, ignoreGlobs []string) ([]string, *cpgerr.Error) {
	seen := map[string]bool{}
	var out []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		included := false
		for _, g := range includeGlobs {
			if ok, _ := doublestar.Match(g, rel); ok {
				included = true
				break
			}
		}
		if !included {
			return nil
		}
		for _, g := range ignoreGlobs {
			if ok, _ := doublestar.Match(g, rel); ok {
				return nil
			}
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, cpgerr.Wrap(cpgerr.KindResource, cpgerr.Locator{File: root}, "discovery failed", err)
	}
	sort.Strings(out)
	return out, nil
}
