// Package query implements the Query Executor (C9, spec.md §4.9):
// evaluation of a structured query spec against the Repository.
//
// Grounded on overkam-code-property-graph/server/db_ops.go's
// method-on-handle shape ((db *DB) Search/Subgraph/Slice(params) (Result,
// error)), generalized from SQL queries against a DB handle to in-memory
// filtering against a *repository.Repository. The filter phase uses
// github.com/expr-lang/expr, since no pack repo hand-rolls a
// field-path/operator evaluator and expr is the ecosystem's standard
// embeddable expression evaluator for exactly this shape of problem.
package query

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/cpg"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// Op is one of the comparison operators spec.md §4.9 allows in a where
// clause.
type Op string

const (
	OpEq          Op = "eq"
	OpNeq         Op = "neq"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpIn          Op = "in"
	OpNin         Op = "nin"
	OpContains    Op = "contains"
	OpStartsWith  Op = "starts_with"
	OpEndsWith    Op = "ends_with"
	OpMatchesRgx  Op = "matches_regex"
)

// From selects the entity collection a query spec runs over.
type From string

const (
	FromModules        From = "modules"
	FromFunctions       From = "functions"
	FromCPGNodes        From = "cpg_nodes"
	FromCallReferences  From = "call_references"
)

// Condition is one {field_path, op, value} where-clause term; terms
// combine with an implicit AND (spec.md §4.9).
type Condition struct {
	FieldPath string `json:"field_path"`
	Op        Op     `json:"op"`
	Value     any    `json:"value"`
}

// Direction is an order_by sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// OrderTerm is one order_by entry; multi-key sort is stable and evaluated
// right-to-left (spec.md §4.9 "Execution phases").
type OrderTerm struct {
	FieldPath string    `json:"field_path"`
	Direction Direction `json:"direction"`
}

// CPGNodeRecord pairs a CPG node with the function it belongs to, so a
// cpg_nodes query can filter/select across functions uniformly.
type CPGNodeRecord struct {
	Function ident.FunctionKey
	Node     cpg.Node
}

// Spec is spec.md §4.9's structured query spec (closed field set).
type Spec struct {
	From       From        `json:"from"`
	Where      []Condition `json:"where,omitempty"`
	OrderBy    []OrderTerm `json:"order_by,omitempty"`
	Offset     int         `json:"offset,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Select     []string    `json:"select,omitempty"` // nil or ["all"] means "all fields"
	CPGPattern *CPGPattern `json:"cpg_pattern,omitempty"`
}

// PatternNode is one node constraint of a CPGPattern: a type/label filter
// over a cpg.Node. A zero-value PatternNode matches any node.
type PatternNode struct {
	NodeType      string `json:"node_type,omitempty"`
	LabelContains string `json:"label_contains,omitempty"`
}

// PatternEdge requires the matched node to have at least one outgoing edge
// of Kind reaching a node satisfying To.
type PatternEdge struct {
	Kind string      `json:"kind"`
	To   PatternNode `json:"to"`
}

// CPGPattern is spec.md §4.9's "structural pattern over node/edge types",
// valid only when Spec.From == FromCPGNodes. A row survives the pattern
// match phase when its node satisfies Node and, for every entry in Edges,
// has at least one matching outgoing edge.
type CPGPattern struct {
	Node  PatternNode   `json:"node"`
	Edges []PatternEdge `json:"edges,omitempty"`
}

// Result is the outcome of executing a Spec.
type Result struct {
	Rows    []map[string]any `json:"rows"`
	Warning string           `json:"warning,omitempty"`
}

// Execute implements spec.md §4.9's execution phases in order: initial
// fetch, filter, CPG pattern match, sort, offset/limit, projection. (join
// and group_by are named "future" in spec.md §4.9 and are not implemented.)
func Execute(repo *repository.Repository, spec Spec) (Result, *cpgerr.Error) {
	rows, err := fetch(repo, spec.From)
	if err != nil {
		return Result{}, err
	}

	for _, cond := range spec.Where {
		if cond.Op != OpMatchesRgx {
			continue
		}
		pattern, ok := cond.Value.(string)
		if !ok {
			return Result{}, cpgerr.New(cpgerr.KindQuery, cpgerr.Locator{}, "invalid_regex: pattern must be a string")
		}
		if _, rerr := regexp.Compile(pattern); rerr != nil {
			return Result{}, cpgerr.Wrap(cpgerr.KindQuery, cpgerr.Locator{}, "invalid_regex", rerr)
		}
	}

	filtered, warn := filterRows(rows, spec.Where)

	if spec.CPGPattern != nil {
		if spec.From != FromCPGNodes {
			return Result{}, cpgerr.New(cpgerr.KindQuery, cpgerr.Locator{}, "cpg_pattern is only valid when from=cpg_nodes")
		}
		var perr *cpgerr.Error
		filtered, perr = patternMatchRows(repo, filtered, spec.CPGPattern)
		if perr != nil {
			return Result{}, perr
		}
	}

	sortRows(filtered, spec.OrderBy)

	filtered = paginate(filtered, spec.Offset, spec.Limit)

	return Result{Rows: project(filtered, spec.Select), Warning: warn}, nil
}

func fetch(repo *repository.Repository, from From) ([]map[string]any, *cpgerr.Error) {
	switch from {
	case FromModules:
		var rows []map[string]any
		for _, mf := range repo.AllModules() {
			rows = append(rows, moduleRow(mf))
		}
		return rows, nil
	case FromFunctions:
		var rows []map[string]any
		for _, ff := range repo.AllFunctions() {
			rows = append(rows, functionRow(ff))
		}
		return rows, nil
	case FromCallReferences:
		var rows []map[string]any
		for _, ref := range repo.AllCallReferences() {
			rows = append(rows, callReferenceRow(ref))
		}
		return rows, nil
	case FromCPGNodes:
		var rows []map[string]any
		for _, ff := range repo.AllFunctions() {
			g, gerr := repo.GetCPG(ff.Key)
			if gerr != nil {
				continue // unresolvable function graph: skip rather than abort the query
			}
			ids := make([]string, 0, len(g.Nodes))
			for id := range g.Nodes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				rows = append(rows, cpgNodeRow(ff.Key, *g.Nodes[id]))
			}
		}
		return rows, nil
	default:
		return nil, cpgerr.New(cpgerr.KindQuery, cpgerr.Locator{}, fmt.Sprintf("unsupported from target %q", from))
	}
}

func moduleRow(mf analyzer.ModuleFacts) map[string]any {
	return map[string]any{
		"module":            mf.Name,
		"file_path":         mf.FilePath,
		"content_hash":      mf.ContentHash,
		"function_count":    len(mf.Functions),
		"module_complexity": mf.ModuleComplexity,
	}
}

func functionRow(ff analyzer.FunctionFacts) map[string]any {
	return map[string]any{
		"module":     ff.Key.Module,
		"name":       ff.Key.Name,
		"arity":      ff.Key.Arity,
		"signature":  ff.Signature,
		"cyclomatic": ff.ComplexityPreliminary,
		"clauses":    ff.Clauses,
		"ast_id":     ff.ASTID,
	}
}

func callReferenceRow(ref repository.CallReference) map[string]any {
	return map[string]any{
		"caller_module":   ref.Caller.Module,
		"caller_name":     ref.Caller.Name,
		"caller_arity":    ref.Caller.Arity,
		"call_site_ast_id": ref.CallSiteASTID,
		"target_module":   ref.Call.Module,
		"target_func":     ref.Call.Func,
		"target_arity":    ref.Call.Arity,
	}
}

func cpgNodeRow(key ident.FunctionKey, n cpg.Node) map[string]any {
	return map[string]any{
		"module":    key.Module,
		"function":  key.Name,
		"arity":     key.Arity,
		"node_id":   n.ID,
		"node_type": string(n.Type),
		"label":     n.Label,
		"line":      n.Line,
	}
}

// patternMatchRows is spec.md §4.9's "CPG pattern match" phase: it re-fetches
// each surviving row's underlying cpg.Node and drops rows whose node/edge
// shape doesn't satisfy pattern. Graphs are fetched at most once per
// function within a call.
func patternMatchRows(repo *repository.Repository, rows []map[string]any, pattern *CPGPattern) ([]map[string]any, *cpgerr.Error) {
	cache := map[ident.FunctionKey]*cpg.CPG{}
	var out []map[string]any
	for _, row := range rows {
		key := ident.FunctionKey{
			Module: fmt.Sprint(row["module"]),
			Name:   fmt.Sprint(row["function"]),
		}
		if arity, ok := row["arity"].(int); ok {
			key.Arity = arity
		}
		g, ok := cache[key]
		if !ok {
			var gerr error
			g, gerr = repo.GetCPG(key)
			if gerr != nil {
				continue
			}
			cache[key] = g
		}
		nodeID, _ := row["node_id"].(string)
		n, exists := g.Nodes[nodeID]
		if !exists || !matchNode(pattern.Node, n) || !matchEdges(g, nodeID, pattern.Edges) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func matchNode(pn PatternNode, n *cpg.Node) bool {
	if pn.NodeType != "" && string(n.Type) != pn.NodeType {
		return false
	}
	if pn.LabelContains != "" && !strings.Contains(n.Label, pn.LabelContains) {
		return false
	}
	return true
}

// matchEdges requires an outgoing edge of each pattern edge's kind whose
// target satisfies its node constraint; symbolic call edges (cpg.go phase 4)
// have no concrete target node, so they only satisfy an edge pattern whose
// To constraint is empty.
func matchEdges(g *cpg.CPG, fromID string, edges []PatternEdge) bool {
	for _, pe := range edges {
		satisfied := false
		for _, e := range g.Edges {
			if e.From != fromID || string(e.Kind) != pe.Kind {
				continue
			}
			if e.Symbolic {
				if pe.To.NodeType == "" && pe.To.LabelContains == "" {
					satisfied = true
					break
				}
				continue
			}
			if to, ok := g.Nodes[e.To]; ok && matchNode(pe.To, to) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// filterRows applies spec.md §4.9's implicit-AND where clause by a linear
// scan over every fetched row: matches_regex is evaluated with regexp, and
// every other operator through github.com/expr-lang/expr. No index is
// consulted; fetch always returns the whole collection, including for the
// indexable cyclomatic and module fields.
func filterRows(rows []map[string]any, where []Condition) ([]map[string]any, string) {
	if len(where) == 0 {
		return rows, ""
	}
	var warning string
	var out []map[string]any
	for _, row := range rows {
		ok := true
		for _, cond := range where {
			v, present := lookupFieldPath(row, cond.FieldPath)
			if !present {
				warning = fmt.Sprintf("unknown field path %q", cond.FieldPath)
				ok = false
				break
			}
			match, err := evalCondition(v, cond)
			if err != nil {
				warning = err.Error()
				ok = false
				break
			}
			if !match {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, warning
}

func lookupFieldPath(row map[string]any, fieldPath string) (any, bool) {
	parts := strings.Split(fieldPath, ".")
	var cur any = row
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func evalCondition(v any, cond Condition) (bool, error) {
	switch cond.Op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn, OpNin, OpContains, OpStartsWith, OpEndsWith:
		return evalBuiltin(v, cond)
	case OpMatchesRgx:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, fmt.Errorf("invalid_regex: pattern must be a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid_regex: %w", err)
		}
		return re.MatchString(fmt.Sprint(v)), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", cond.Op)
	}
}

// evalBuiltin handles the comparison/membership/string operators via expr,
// compiling a tiny boolean expression per call with v and cond.Value bound
// as environment variables.
func evalBuiltin(v any, cond Condition) (bool, error) {
	env := map[string]any{"v": v, "value": cond.Value}
	var exprStr string
	switch cond.Op {
	case OpEq:
		exprStr = "v == value"
	case OpNeq:
		exprStr = "v != value"
	case OpLt:
		exprStr = "v < value"
	case OpLte:
		exprStr = "v <= value"
	case OpGt:
		exprStr = "v > value"
	case OpGte:
		exprStr = "v >= value"
	case OpIn:
		exprStr = "value in v || v in value"
	case OpNin:
		exprStr = "!(value in v || v in value)"
	case OpContains:
		exprStr = "v contains value"
	case OpStartsWith:
		exprStr = "v startsWith value"
	case OpEndsWith:
		exprStr = "v endsWith value"
	default:
		return false, fmt.Errorf("unsupported operator %q", cond.Op)
	}
	program, err := expr.Compile(exprStr, expr.Env(env))
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func sortRows(rows []map[string]any, order []OrderTerm) {
	if len(order) == 0 {
		return
	}
	// Stable, right-to-left multi-key sort (spec.md §4.9): applying each
	// key in reverse order with a stable sort yields a correct multi-key
	// ordering where earlier keys take precedence.
	for i := len(order) - 1; i >= 0; i-- {
		term := order[i]
		sort.SliceStable(rows, func(a, b int) bool {
			va, _ := lookupFieldPath(rows[a], term.FieldPath)
			vb, _ := lookupFieldPath(rows[b], term.FieldPath)
			less := lessValue(va, vb)
			if term.Direction == Desc {
				return lessValue(vb, va)
			}
			return less
		})
	}
}

func lessValue(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func paginate(rows []map[string]any, offset, limit int) []map[string]any {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func project(rows []map[string]any, fields []string) []map[string]any {
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "all") {
		return rows
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		projected := map[string]any{}
		for _, f := range fields {
			if v, ok := lookupFieldPath(row, f); ok {
				projected[f] = v
			}
		}
		out[i] = projected
	}
	return out
}
