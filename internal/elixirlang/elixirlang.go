// Package elixirlang is the default parse(source_bytes, file_path) -> AST
// binding cmd/cpgctl wires by default: a heuristic, line-oriented lexer for
// Elixir source that lowers directly to astmodel.Node, bypassing
// tree-sitter entirely.
//
// No repo in the example pack (nor the ecosystem snapshot available to this
// build) carries a cgo tree-sitter-elixir grammar binding, so
// internal/ingress.Parser's *sitter.Language seam (see DESIGN.md's C10
// entry) has nothing to parameterize over yet. This package is the stopgap
// that makes the engine usable today: it recognizes defmodule/def/defp
// blocks, do/end and case/cond clause nesting, pipe chains, and MFA calls
// by structural line-matching rather than a real grammar. Swapping in a
// real tree-sitter-elixir binding later means replacing this package's
// Parse with one built on internal/ingress.Parser — the astmodel.Node
// output shape does not change.
package elixirlang

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/ingress"
)

// Parser implements ingress.ASTParser without any tree-sitter dependency.
type Parser struct{}

var _ ingress.ASTParser = Parser{}

// New constructs the default Elixir lexer binding.
func New() Parser { return Parser{} }

var (
	reModule   = regexp.MustCompile(`^(\s*)defmodule\s+([\w.]+)\s+do\s*$`)
	reDef      = regexp.MustCompile(`^(\s*)(def|defp)\s+([\w?!]+)\s*(\(([^)]*)\))?\s*(when\s+(.+?))?\s*do\s*$`)
	reDirective = regexp.MustCompile(`^(\s*)(import|alias|require|use)\s+([\w.]+)`)
	reAttr     = regexp.MustCompile(`^(\s*)@(\w+)\s+(.*)$`)
	reEnd      = regexp.MustCompile(`^\s*end\s*$`)
	reCaseOpen = regexp.MustCompile(`^(\s*)case\s+(.+?)\s+do\s*$`)
	reCondOpen = regexp.MustCompile(`^(\s*)cond\s+do\s*$`)
	reIfOpen   = regexp.MustCompile(`^(\s*)(if|unless)\s+(.+?)\s+do\s*$`)
	reClause   = regexp.MustCompile(`^(\s*)(.+?)\s*->\s*(.*)$`)
	reAssign   = regexp.MustCompile(`^(\s*)([\w?!]+)\s*=\s*(.+)$`)
	reMFACall  = regexp.MustCompile(`^([\w.]+)\.([\w?!]+)\((.*)\)$`)
	reBareCall = regexp.MustCompile(`^([\w?!]+)\((.*)\)$`)
	rePipe     = regexp.MustCompile(`\|>`)
)

// Parse implements spec.md §6's parse(source_bytes, file_path).
func (Parser) Parse(_ context.Context, src []byte, filePath string) (*astmodel.Node, string, *cpgerr.Error) {
	lines := strings.Split(string(src), "\n")

	start := -1
	var moduleName string
	for i, ln := range lines {
		if m := reModule.FindStringSubmatch(ln); m != nil {
			start = i
			moduleName = m[2]
			break
		}
	}
	if start < 0 {
		return nil, "", cpgerr.New(cpgerr.KindParse, cpgerr.Locator{File: filePath}, "no defmodule header found")
	}

	end := matchEnd(lines, start)
	if end < 0 {
		return nil, "", cpgerr.New(cpgerr.KindParse, cpgerr.Locator{File: filePath, Line: start + 1}, "unterminated defmodule block")
	}

	body := lines[start+1 : end]
	children := parseStatements(body, start+1)

	mod := &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKModule,
		Meta:            astmodel.Metadata{Line: start + 1, EndLine: end + 1},
		Children:        children,
	}
	return mod, moduleName, nil
}

// matchEnd returns the index of the `end` line closing the block opened at
// lines[openIdx] (a line ending in "do"), or -1 if unterminated.
func matchEnd(lines []string, openIdx int) int {
	depth := 1
	for i := openIdx + 1; i < len(lines); i++ {
		ln := lines[i]
		if opensBlock(ln) {
			depth++
		} else if reEnd.MatchString(ln) {
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func opensBlock(ln string) bool {
	trimmed := strings.TrimRight(ln, " \t")
	if strings.HasSuffix(trimmed, " do") || strings.HasSuffix(trimmed, "\tdo") || trimmed == "do" {
		return true
	}
	return false
}

// parseStatements lowers a flat span of lines (a do/end body) into a
// sequence of astmodel.Node siblings, recursing into nested do/end blocks
// and case/cond/if clause structure as it goes. lineOffset is the 0-based
// source line of lines[0], for Meta.Line bookkeeping.
func parseStatements(lines []string, lineOffset int) []*astmodel.Node {
	var out []*astmodel.Node
	i := 0
	for i < len(lines) {
		ln := lines[i]
		trimmed := strings.TrimSpace(ln)
		lineNo := lineOffset + i + 1

		switch {
		case trimmed == "":
			i++

		case reDef.MatchString(ln):
			m := reDef.FindStringSubmatch(ln)
			endIdx := matchEnd(lines, i)
			if endIdx < 0 {
				endIdx = len(lines) - 1
			}
			fnBody := parseStatements(lines[i+1:endIdx], lineOffset+i+1)
			params := parseParams(m[5])
			guard := strings.TrimSpace(m[7])
			attrs := map[string]any{"name": m[3], "params": params}
			if m[2] == "defp" {
				attrs["private"] = true
			}
			if guard != "" {
				attrs["guard"] = guard
			}
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: astmodel.CKFunction,
				Meta:            astmodel.Metadata{Line: lineNo, EndLine: lineOffset + endIdx + 1, Source: trimmed},
				Children:        fnBody,
				Attrs:           attrs,
			})
			i = endIdx + 1

		case reDirective.MatchString(ln):
			m := reDirective.FindStringSubmatch(ln)
			kind := m[2]
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: kind,
				Meta:            astmodel.Metadata{Line: lineNo},
				Attrs:           map[string]any{"target": m[3]},
			})
			i++

		case reAttr.MatchString(ln):
			m := reAttr.FindStringSubmatch(ln)
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: "module_attribute",
				Meta:            astmodel.Metadata{Line: lineNo},
				Attrs:           map[string]any{"key": m[2], "value": m[3]},
			})
			i++

		case reCaseOpen.MatchString(ln):
			m := reCaseOpen.FindStringSubmatch(ln)
			endIdx := matchEnd(lines, i)
			if endIdx < 0 {
				endIdx = len(lines) - 1
			}
			clauses := parseClauses(lines[i+1:endIdx], lineOffset+i+1, astmodel.CKCaseClause)
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: astmodel.CKCase,
				Meta:            astmodel.Metadata{Line: lineNo},
				Attrs:           map[string]any{"subject": strings.TrimSpace(m[2])},
				Children:        clauses,
			})
			i = endIdx + 1

		case reCondOpen.MatchString(ln):
			endIdx := matchEnd(lines, i)
			if endIdx < 0 {
				endIdx = len(lines) - 1
			}
			clauses := parseClauses(lines[i+1:endIdx], lineOffset+i+1, astmodel.CKCondClause)
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: astmodel.CKCond,
				Meta:            astmodel.Metadata{Line: lineNo},
				Children:        clauses,
			})
			i = endIdx + 1

		case reIfOpen.MatchString(ln):
			m := reIfOpen.FindStringSubmatch(ln)
			endIdx := matchEnd(lines, i)
			if endIdx < 0 {
				endIdx = len(lines) - 1
			}
			branchBody := parseStatements(lines[i+1:endIdx], lineOffset+i+1)
			out = append(out, &astmodel.Node{
				Kind:            astmodel.KindConstructor,
				ConstructorKind: astmodel.CKIf,
				Meta:            astmodel.Metadata{Line: lineNo},
				Attrs:           map[string]any{"kind": m[1], "condition": strings.TrimSpace(m[3])},
				Children:        branchBody,
			})
			i = endIdx + 1

		case reEnd.MatchString(ln):
			// Stray end at this nesting level; skip (shouldn't occur given
			// matchEnd-driven slicing, but keeps the scanner from stalling
			// on malformed input).
			i++

		default:
			out = append(out, parseExpression(trimmed, lineNo))
			i++
		}
	}
	return out
}

// parseClauses splits a case/cond body into `pattern [when guard] -> body`
// clauses, each becoming one clauseKind node whose Children is the parsed
// clause body.
func parseClauses(lines []string, lineOffset int, clauseKind string) []*astmodel.Node {
	var clauses []*astmodel.Node
	var heads []int
	for i, ln := range lines {
		if reClause.MatchString(ln) {
			heads = append(heads, i)
		}
	}
	for idx, h := range heads {
		m := reClause.FindStringSubmatch(lines[h])
		headExpr := m[2]
		pattern, guard := headExpr, ""
		if parts := strings.SplitN(headExpr, " when ", 2); len(parts) == 2 {
			pattern, guard = parts[0], parts[1]
		}
		bodyStart := h
		bodyEnd := len(lines)
		if idx+1 < len(heads) {
			bodyEnd = heads[idx+1]
		}
		var bodyLines []string
		if trailing := strings.TrimSpace(m[3]); trailing != "" {
			bodyLines = append(bodyLines, trailing)
		}
		bodyLines = append(bodyLines, lines[bodyStart+1:bodyEnd]...)

		attrs := map[string]any{"pattern": strings.TrimSpace(pattern)}
		if guard != "" {
			attrs["guard"] = strings.TrimSpace(guard)
		}
		clauses = append(clauses, &astmodel.Node{
			Kind:            astmodel.KindConstructor,
			ConstructorKind: clauseKind,
			Meta:            astmodel.Metadata{Line: lineOffset + h + 1},
			Attrs:           attrs,
			Children:        parseStatements(bodyLines, lineOffset+bodyStart+1),
		})
	}
	return clauses
}

// parseExpression lowers one non-block statement line: an assignment, a
// pipe chain, an MFA/bare call, or a bare literal/variable reference.
func parseExpression(trimmed string, line int) *astmodel.Node {
	if m := reAssign.FindStringSubmatch(trimmed); m != nil {
		return &astmodel.Node{
			Kind:            astmodel.KindConstructor,
			ConstructorKind: astmodel.CKAssign,
			Meta:            astmodel.Metadata{Line: line, Source: trimmed},
			Attrs:           map[string]any{"target": m[2]},
			Children:        []*astmodel.Node{parseExpression(strings.TrimSpace(m[3]), line)},
		}
	}

	if rePipe.MatchString(trimmed) {
		stages := strings.Split(trimmed, "|>")
		var kids []*astmodel.Node
		for _, s := range stages {
			kids = append(kids, parseExpression(strings.TrimSpace(s), line))
		}
		return &astmodel.Node{
			Kind:            astmodel.KindConstructor,
			ConstructorKind: astmodel.CKPipe,
			Meta:            astmodel.Metadata{Line: line, Source: trimmed},
			Children:        kids,
		}
	}

	if m := reMFACall.FindStringSubmatch(trimmed); m != nil {
		return &astmodel.Node{
			Kind:         astmodel.KindCall,
			Meta:         astmodel.Metadata{Line: line, Source: trimmed},
			CalleeModule: m[1],
			CalleeFunc:   m[2],
			Args:         parseArgExprs(m[3], line),
		}
	}
	if m := reBareCall.FindStringSubmatch(trimmed); m != nil {
		return &astmodel.Node{
			Kind:       astmodel.KindCall,
			Meta:       astmodel.Metadata{Line: line, Source: trimmed},
			CalleeFunc: m[1],
			Args:       parseArgExprs(m[2], line),
		}
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return &astmodel.Node{Kind: astmodel.KindLiteral, Meta: astmodel.Metadata{Line: line}, LiteralValue: n}
	}
	if isIdent(trimmed) {
		return &astmodel.Node{Kind: astmodel.KindVariableRef, Meta: astmodel.Metadata{Line: line}, VarName: trimmed}
	}
	return &astmodel.Node{
		Kind:            astmodel.KindConstructor,
		ConstructorKind: astmodel.CKBlock,
		Meta:            astmodel.Metadata{Line: line, Source: trimmed},
	}
}

// parseArgExprs splits a call's argument list on top-level commas (ignoring
// commas nested inside parens/brackets) and lowers each argument.
func parseArgExprs(argList string, line int) []*astmodel.Node {
	argList = strings.TrimSpace(argList)
	if argList == "" {
		return nil
	}
	var args []*astmodel.Node
	depth := 0
	start := 0
	for i, r := range argList {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, parseExpression(strings.TrimSpace(argList[start:i]), line))
				start = i + 1
			}
		}
	}
	args = append(args, parseExpression(strings.TrimSpace(argList[start:]), line))
	return args
}

// parseParams turns a def header's raw parameter-list text into the
// []*astmodel.Node shape internal/analyzer expects in Attrs["params"].
func parseParams(raw string) []*astmodel.Node {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []*astmodel.Node{}
	}
	parts := splitTopLevel(raw)
	params := make([]*astmodel.Node, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		name := p
		if idx := strings.Index(p, "\\\\"); idx >= 0 {
			name = strings.TrimSpace(p[:idx])
		}
		params = append(params, &astmodel.Node{
			Kind:    astmodel.KindVariableRef,
			VarName: name,
		})
	}
	return params
}

func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(', '[', '{', '%':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

var reIdent = regexp.MustCompile(`^[a-z_][\w?!]*$`)

func isIdent(s string) bool {
	return reIdent.MatchString(s)
}
