// Package dfg implements the DFG Builder (C4, spec.md §4.4): an SSA-form
// Data Flow Graph, including phi nodes at control-flow joins, for a single
// function.
//
// Grounded on overkam-code-property-graph/ssa_cfg.go's SSA value/referrer
// walking idiom (def-use discovery via Referrers()), hand-adapted from
// go/ssa's built-in SSA form to a recursive builder over astmodel (the
// source language has no go/ssa equivalent — SPEC_FULL.md §9). Phi-node
// synthesis (label "Φ(name)") is grounded directly in
// original_source/5-cpg_builder.ex's create_cpg_node_for_phi.
//
// AST conventions this builder relies on (defined alongside astmodel's
// generic sum type, since the source language has no fixed Go-level
// grammar to read field names off of):
//   - a function/anon_fn node's Attrs["params"] is []*astmodel.Node, each a
//     KindVariableRef naming a bound parameter (or a nested pattern under
//     Children for destructuring, in which case variable refs under it are
//     param bindings too).
//   - astmodel.CKAssign nodes carry Attrs["target"] (bound name) and a
//     single Children[0] holding the RHS expression to walk for uses.
//   - astmodel.CKCaseClause / astmodel.CKCondClause nodes carry
//     Attrs["pattern_vars"] ([]string of names the clause's pattern binds)
//     and Attrs["guard"] (textual guard, walked for pattern_guard uses).
//   - astmodel.CKAnonFn nodes open a new captured-variable scope; any free
//     variable read resolves in an enclosing scope and is recorded as a
//     closure capture.
package dfg

import (
	"fmt"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

type DefKind string

const (
	DefParameter    DefKind = "parameter"
	DefAssignment   DefKind = "assignment"
	DefPatternMatch DefKind = "pattern_match"
	DefPhi          DefKind = "phi"
)

type UseKind string

const (
	UseRead           UseKind = "read"
	UseClosureCapture UseKind = "closure_capture"
	UsePatternGuard   UseKind = "pattern_guard"
)

type FlowKind string

const (
	FlowDirect    FlowKind = "direct"
	FlowThroughPhi FlowKind = "through_phi"
	FlowClosure   FlowKind = "closure"
)

// VariableVersion is spec.md §3 "Variable Version (SSA)".
type VariableVersion struct {
	OriginalName   string
	Version        int
	ScopeID        string
	DefiningNodeID string
	IsParameter    bool
	IsCaptured     bool
}

func (v VariableVersion) SSAName() string {
	if v.Version < 0 {
		return fmt.Sprintf("%s_phantom", v.OriginalName)
	}
	return fmt.Sprintf("%s_%d", v.OriginalName, v.Version)
}

// Definition is spec.md §3 "Definition".
type Definition struct {
	Variable      VariableVersion
	ASTID         string
	Kind          DefKind
	SourceExprAST string
	Line          int
	ScopeID       string
}

// Use is spec.md §3 "Use".
type Use struct {
	Variable          VariableVersion
	ASTID             string
	Kind              UseKind
	Line              int
	ScopeID           string
	ReachingDefinition *Definition // nil only for a phantom (version == -1)
}

// DataFlowEdge is spec.md §3 "Data Flow Edge".
type DataFlowEdge struct {
	FromDef *Definition
	ToUse   *Use
	Kind    FlowKind
}

// Phi is spec.md §3 "Phi Node".
type Phi struct {
	Target          VariableVersion
	Sources         []VariableVersion
	MergePointASTID string
	ScopeID         string
}

func (p *Phi) Label() string { return fmt.Sprintf("Φ(%s)", p.Target.OriginalName) }

// Analyses are the auxiliary analyses of spec.md §4.4.
type Analyses struct {
	LiveOut              map[string][]string // scope_id -> live-out variable names
	UnusedDefinitions    []*Definition
	UninitializedUses    []*Use
}

// DFG is the output of build_dfg, spec.md §4.4.
type DFG struct {
	VariablesByName map[string][]VariableVersion
	Definitions     []*Definition
	Uses            []*Use
	DataFlows       []*DataFlowEdge
	Phis            []*Phi
	Warnings        []string
	Analyses        Analyses
}

// binding is the per-scope lookup environment: name -> currently reaching
// VariableVersion. Child scopes copy their parent's bindings on entry
// (spec.md §4.4 "Lookup is lexical").
type binding map[string]VariableVersion

func (b binding) clone() binding {
	c := make(binding, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

type builder struct {
	dfg        *DFG
	nextVer    map[string]int
	key        ident.FunctionKey
	uses       map[*Definition]int // def -> use count, for unused-definition warnings
	capturedIn map[string]bool     // names captured in some anon fn, informational
}

// Build runs build_dfg for one function (spec.md §4.4).
func Build(fnAST *astmodel.Node, key ident.FunctionKey) *DFG {
	b := &builder{
		dfg: &DFG{
			VariablesByName: map[string][]VariableVersion{},
			Analyses:        Analyses{LiveOut: map[string][]string{}},
		},
		nextVer: map[string]int{},
		key:     key,
		uses:    map[*Definition]int{},
	}

	funcScope := "function"
	env := binding{}

	if params, ok := fnAST.Attrs["params"].([]*astmodel.Node); ok {
		for _, p := range params {
			b.bindParams(p, funcScope, env)
		}
	}

	b.walkSeq(fnAST.Children, funcScope, env, false)

	for def, n := range b.uses {
		if n == 0 {
			b.dfg.Analyses.UnusedDefinitions = append(b.dfg.Analyses.UnusedDefinitions, def)
		}
	}
	return b.dfg
}

func (b *builder) bindParams(n *astmodel.Node, scope string, env binding) {
	if n == nil {
		return
	}
	if n.Kind == astmodel.KindVariableRef {
		v := b.newVersion(n.VarName, scope, n.Meta.ASTID, true, false)
		def := &Definition{Variable: v, ASTID: n.Meta.ASTID, Kind: DefParameter, Line: n.Meta.Line, ScopeID: scope}
		b.record(def)
		env[n.VarName] = v
		return
	}
	for _, c := range n.Children {
		b.bindParams(c, scope, env)
	}
}

func (b *builder) newVersion(name, scope, definingNode string, isParam, isCaptured bool) VariableVersion {
	v := b.nextVer[name]
	b.nextVer[name] = v + 1
	vv := VariableVersion{OriginalName: name, Version: v, ScopeID: scope, DefiningNodeID: definingNode, IsParameter: isParam, IsCaptured: isCaptured}
	b.dfg.VariablesByName[name] = append(b.dfg.VariablesByName[name], vv)
	return vv
}

func (b *builder) record(def *Definition) {
	b.dfg.Definitions = append(b.dfg.Definitions, def)
	b.uses[def] = 0
}

// resolve performs lexical lookup (spec.md §4.4 "Scoping") in env, which
// already holds every binding visible from the use site. Closure capture
// is decided by the caller, recordUse, from the resolved version's scope.
func (b *builder) resolve(name string, env binding) (VariableVersion, bool) {
	v, ok := env[name]
	return v, ok
}

func (b *builder) recordUse(name, astID, scope string, line int, kind UseKind, env binding, inAnon bool) {
	v, ok := b.resolve(name, env)
	if !ok {
		phantom := VariableVersion{OriginalName: name, Version: -1, ScopeID: scope}
		u := &Use{Variable: phantom, ASTID: astID, Kind: kind, Line: line, ScopeID: scope}
		b.dfg.Uses = append(b.dfg.Uses, u)
		b.dfg.Analyses.UninitializedUses = append(b.dfg.Analyses.UninitializedUses, u)
		b.dfg.Warnings = append(b.dfg.Warnings, fmt.Sprintf("unresolved variable %q at line %d", name, line))
		return
	}
	if inAnon && v.ScopeID != scope {
		v.IsCaptured = true
		kind = UseClosureCapture
	}
	def := b.definitionFor(v)
	u := &Use{Variable: v, ASTID: astID, Kind: kind, Line: line, ScopeID: scope, ReachingDefinition: def}
	b.dfg.Uses = append(b.dfg.Uses, u)
	if def != nil {
		b.uses[def]++
		flowKind := FlowDirect
		if def.Kind == DefPhi {
			flowKind = FlowThroughPhi
		} else if inAnon && v.ScopeID != scope {
			flowKind = FlowClosure
		}
		b.dfg.DataFlows = append(b.dfg.DataFlows, &DataFlowEdge{FromDef: def, ToUse: u, Kind: flowKind})
	}
}

func (b *builder) definitionFor(v VariableVersion) *Definition {
	for _, d := range b.dfg.Definitions {
		if d.Variable.OriginalName == v.OriginalName && d.Variable.Version == v.Version {
			return d
		}
	}
	for _, p := range b.dfg.Phis {
		if p.Target.OriginalName == v.OriginalName && p.Target.Version == v.Version {
			return &Definition{Variable: p.Target, ASTID: p.MergePointASTID, Kind: DefPhi, ScopeID: p.ScopeID}
		}
	}
	return nil
}

// walkSeq walks a statement list in order, mutating env in place as
// assignments/definitions occur (sequential composition mirrors
// internal/cfg's treatment of the same AST shape).
func (b *builder) walkSeq(nodes []*astmodel.Node, scope string, env binding, inAnon bool) {
	for _, n := range nodes {
		b.walkOne(n, scope, env, inAnon)
	}
}

func (b *builder) walkOne(n *astmodel.Node, scope string, env binding, inAnon bool) {
	if n == nil {
		return
	}
	switch n.Kind {
	case astmodel.KindVariableRef:
		b.recordUse(n.VarName, n.Meta.ASTID, scope, n.Meta.Line, UseRead, env, inAnon)
	case astmodel.KindCall:
		for _, a := range n.Args {
			b.walkOne(a, scope, env, inAnon)
		}
	case astmodel.KindConstructor:
		b.walkConstructor(n, scope, env, inAnon)
	}
}

func (b *builder) walkConstructor(n *astmodel.Node, scope string, env binding, inAnon bool) {
	switch n.ConstructorKind {
	case astmodel.CKAssign:
		target := n.Attr("target")
		if len(n.Children) > 0 {
			b.walkOne(n.Children[0], scope, env, inAnon) // RHS uses happen before the new version exists
		}
		v := b.newVersion(target, scope, n.Meta.ASTID, false, false)
		def := &Definition{Variable: v, ASTID: n.Meta.ASTID, Kind: DefAssignment, Line: n.Meta.Line, ScopeID: scope}
		if len(n.Children) > 0 {
			def.SourceExprAST = n.Children[0].Meta.ASTID
		}
		b.record(def)
		env[target] = v

	case astmodel.CKIf:
		b.walkBranches(n, scope, env, inAnon, []*astmodel.Node{branchBody(n, 0), branchBody(n, 1)})

	case astmodel.CKCase, astmodel.CKCond:
		var bodies []*astmodel.Node
		for _, clause := range n.Children {
			bodies = append(bodies, clause)
		}
		b.walkClauses(n, scope, env, inAnon, bodies)

	case astmodel.CKTry:
		var bodies []*astmodel.Node
		for _, c := range n.Children {
			bodies = append(bodies, c)
		}
		b.walkClauses(n, scope, env, inAnon, bodies)

	case astmodel.CKPipe:
		b.walkSeq(n.Children, scope, env, inAnon)

	case astmodel.CKAnonFn:
		anonScope := n.Meta.ASTID
		if anonScope == "" {
			anonScope = scope + "/anon_fn"
		}
		innerEnv := env.clone()
		if params, ok := n.Attrs["params"].([]*astmodel.Node); ok {
			for _, p := range params {
				b.bindParams(p, anonScope, innerEnv)
			}
		}
		b.walkSeq(n.Children, anonScope, innerEnv, true)

	default:
		b.walkSeq(n.Children, scope, env, inAnon)
	}
}

func branchBody(n *astmodel.Node, idx int) *astmodel.Node {
	if idx < len(n.Children) {
		return n.Children[idx]
	}
	return nil
}

// walkBranches handles the binary-branch case (if/else): process each
// branch from a cloned environment, then phi at the merge (spec.md §4.4
// "Phi insertion").
func (b *builder) walkBranches(n *astmodel.Node, scope string, env binding, inAnon bool, branches []*astmodel.Node) {
	var envs []binding
	for _, br := range branches {
		be := env.clone()
		if br != nil {
			b.walkSeq(br.Children, scope, be, inAnon)
		}
		envs = append(envs, be)
	}
	b.mergePhis(n.Meta.ASTID, scope, env, envs)
}

// walkClauses handles the n-ary clause case (case/cond/try): each clause
// opens its own child scope (spec.md §4.4 "Scoping") so clause-local
// definitions do not leak to the merge scope (spec.md §8 scenario 3), but
// still contributes to the phi computation at the shared merge point.
func (b *builder) walkClauses(n *astmodel.Node, scope string, env binding, inAnon bool, clauses []*astmodel.Node) {
	var envs []binding
	for _, clause := range clauses {
		clauseScope := clause.Meta.ASTID
		be := env.clone()
		if names, ok := clause.Attrs["pattern_vars"].([]string); ok {
			for _, name := range names {
				v := b.newVersion(name, clauseScope, clause.Meta.ASTID, false, false)
				def := &Definition{Variable: v, ASTID: clause.Meta.ASTID, Kind: DefPatternMatch, Line: clause.Meta.Line, ScopeID: clauseScope}
				b.record(def)
				be[name] = v
			}
		}
		if g := clause.Attr("guard"); g != "" {
			b.recordUse(g, clause.Meta.ASTID, clauseScope, clause.Meta.Line, UsePatternGuard, be, inAnon)
		}
		b.walkSeq(clause.Children, clauseScope, be, inAnon)
		envs = append(envs, be)
	}
	b.mergePhis(n.Meta.ASTID, scope, env, envs)
}

// mergePhis implements spec.md §4.4 "Phi insertion (design level)": for
// each v in live(M) whose incoming versions are not all identical, insert a
// phi producing a fresh version; the phi's sources are the incoming
// versions from each branch, falling back to the pre-merge (env) version
// for any branch that never touched v.
func (b *builder) mergePhis(mergeASTID, scope string, env binding, branchEnvs []binding) {
	live := map[string]bool{}
	for _, be := range branchEnvs {
		for name, v := range be {
			if pre, ok := env[name]; !ok || pre.Version != v.Version {
				live[name] = true
			}
		}
	}
	for name := range live {
		var sources []VariableVersion
		seen := map[int]bool{}
		for _, be := range branchEnvs {
			v, ok := be[name]
			if !ok {
				v, ok = env[name]
				if !ok {
					continue
				}
			}
			if !seen[v.Version] {
				seen[v.Version] = true
				sources = append(sources, v)
			}
		}
		if len(sources) < 2 {
			// live(M) already excludes anything whose incoming version
			// matches the pre-merge env, so reaching this point with a
			// single source means exactly one branch/clause bound a
			// brand-new name and the rest never touched it. That binding
			// is local to its branch/clause scope (spec.md §8 scenario 3)
			// and must not become visible past the merge point.
			continue
		}
		target := b.newVersion(name, scope, mergeASTID, false, false)
		phi := &Phi{Target: target, Sources: sources, MergePointASTID: mergeASTID, ScopeID: scope}
		b.dfg.Phis = append(b.dfg.Phis, phi)
		env[name] = target
	}
}
