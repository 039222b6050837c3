// Package ident implements the Node Identifier (C1, spec.md §4.1): stable,
// reproducible ast_ids of the form "Module:function:arity:path", and the
// inverse parser for cheap context extraction.
//
// Grounded on overkam-code-property-graph/ids.go's stable-ID-by-string-
// composition idiom (FuncID/StmtID/BlockID), generalized from Go AST/SSA
// identity (file+line+package path) to the generic astmodel positional
// path spec.md §4.1 defines.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/config"
)

// FunctionKey identifies a function as (module, name, arity) — spec.md §3.
type FunctionKey struct {
	Module string
	Name   string
	Arity  int
}

func (k FunctionKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Module, k.Name, k.Arity)
}

// MFA renders the symbolic call-target string spec.md §4.5 phase 4 and §9
// use: "func_target:Mod.fun/arity".
func (k FunctionKey) MFA() string {
	return fmt.Sprintf("%s.%s/%d", k.Module, k.Name, k.Arity)
}

// ParsedID is the result of parse_id(ast_id) — spec.md §4.1.
type ParsedID struct {
	Module   string
	Function string
	Arity    int
	Path     string
	Line     int // 0 if the strategy does not embed a line
}

// Context carries the per-function state assign_ids needs: the strategy
// and the function key. Anonymous-function nested identifier scopes need
// no extra state: their body IDs are prefixed by the outer ast_id of the
// fn construct (see assign).
type Context struct {
	Strategy config.IDStrategy
	Key      FunctionKey
}

// AssignIDs traverses fnAST once and attaches an ast_id to every node it
// reaches, of any kind (spec.md §4.1 "assign_ids"). It returns the same tree (IDs are
// attached in place via Meta.ASTID) for convenience.
func AssignIDs(fnAST *astmodel.Node, ctx Context) *astmodel.Node {
	prefix := fmt.Sprintf("%s:%s:%d", ctx.Key.Module, ctx.Key.Name, ctx.Key.Arity)
	assign(fnAST, ctx, prefix, "")
	return fnAST
}

func assign(n *astmodel.Node, ctx Context, prefix, path string) {
	if n == nil {
		return
	}
	n.Meta.ASTID = buildID(ctx, prefix, path, n)

	childPrefix := prefix
	if n.Kind == astmodel.KindConstructor && n.ConstructorKind == astmodel.CKAnonFn {
		// Nested identifier scope: inner body IDs are prefixed by the
		// outer ast_id of the fn construct (spec.md §4.1 edge case).
		childPrefix = n.Meta.ASTID
	}

	switch n.Kind {
	case astmodel.KindCall:
		for i, c := range n.Args {
			childPath := joinPath(path, "args", i)
			assign(c, ctx, childPrefix, childPath)
		}
	case astmodel.KindConstructor:
		if n.ConstructorKind == astmodel.CKFunction {
			if params, ok := n.Attrs["params"].([]*astmodel.Node); ok {
				for i, p := range params {
					childPath := joinPath(path, "params", i)
					assign(p, ctx, childPrefix, childPath)
				}
			}
		}
		for i, c := range n.Children {
			childPath := joinPath(path, n.ConstructorKind, i)
			assign(c, ctx, childPrefix, childPath)
		}
	}
}

func joinPath(path, kind string, index int) string {
	suffix := fmt.Sprintf("%s[%d]", kind, index)
	if path == "" {
		return suffix
	}
	return path + "." + suffix
}

func buildID(ctx Context, prefix, path string, n *astmodel.Node) string {
	switch ctx.Strategy {
	case config.IDStrategyContentHash:
		h := sha256.Sum256([]byte(prefix + "|" + path + "|" + n.Meta.Source))
		return prefix + ":" + hex.EncodeToString(h[:])[:16]
	case config.IDStrategyPathHashLine:
		base := path
		if base == "" {
			base = "root"
		}
		return fmt.Sprintf("%s:%s@%d", prefix, base, n.Meta.Line)
	default: // IDStrategyPath
		base := path
		if base == "" {
			base = "root"
		}
		if n.Meta.Line > 0 {
			return fmt.Sprintf("%s:%s@%d", prefix, base, n.Meta.Line)
		}
		return prefix + ":" + base
	}
}

// ParseID is the inverse of AssignIDs — spec.md §4.1 "parse_id".
func ParseID(id string) (ParsedID, error) {
	parts := strings.SplitN(id, ":", 4)
	if len(parts) < 4 {
		return ParsedID{}, fmt.Errorf("ident: malformed ast_id %q", id)
	}
	arity, err := strconv.Atoi(parts[2])
	if err != nil {
		return ParsedID{}, fmt.Errorf("ident: malformed arity in %q: %w", id, err)
	}
	pathPart := parts[3]
	line := 0
	path := pathPart
	if i := strings.LastIndex(pathPart, "@"); i >= 0 {
		if l, err := strconv.Atoi(pathPart[i+1:]); err == nil {
			line = l
			path = pathPart[:i]
		}
	}
	return ParsedID{
		Module:   parts[0],
		Function: parts[1],
		Arity:    arity,
		Path:     path,
		Line:     line,
	}, nil
}
