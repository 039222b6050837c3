// Package cpg implements CPG Fusion (C5, spec.md §4.5): merges a
// function's AST, CFG, and DFG into one graph where a single node may carry
// payloads from multiple layers.
//
// Grounded on original_source/5-cpg_builder.ex's build_cpg/2 exact
// five-phase order (AST skeleton -> CFG overlay -> DFG overlay -> call
// edges -> query indexes) and its cfg_edge_type_to_cpg_type mapping table,
// and on overkam-code-property-graph/model.go's Node/Edge/AddNode/AddEdge
// dedup-by-key container shape.
package cpg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/cfg"
	"github.com/nshkrdotcom/cpgengine/internal/dfg"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

type NodeType string

const (
	NodeAST             NodeType = "ast"
	NodeCFGSynthetic    NodeType = "cfg_synthetic"
	NodeDFGSynthetic    NodeType = "dfg_synthetic"
	NodeDFGPhiSynthetic NodeType = "dfg_phi_synthetic"
)

// Node is spec.md §3 "CPG Node".
type Node struct {
	ID            string
	Type          NodeType
	Label         string
	ASTPayload    map[string]any
	CFGPayload    map[string]any
	DFGPayload    *DFGPayload
	Line          int
	SourceSnippet string
}

type DFGPayload struct {
	Definitions []string // ssa_name list
	Uses        []string
}

type EdgeKind string

const (
	EdgeASTChild        EdgeKind = "ast_child"
	EdgeCFGFlow         EdgeKind = "cfg_flow"
	EdgeCFGConditional  EdgeKind = "cfg_conditional"
	EdgeCFGPatternMatch EdgeKind = "cfg_pattern_match"
	EdgeCFGException    EdgeKind = "cfg_exception"
	EdgeCFGLoopBack     EdgeKind = "cfg_loop_back"
	EdgeCFGLoopExit     EdgeKind = "cfg_loop_exit"
	EdgeDFGReaches      EdgeKind = "dfg_reaches"
	EdgeDFGPhiInput     EdgeKind = "dfg_phi_input"
	EdgeDFGPhiOutput    EdgeKind = "dfg_phi_output"
	EdgeCall            EdgeKind = "call"
)

// Edge is spec.md §3 "CPG Edge". When Symbolic is true, To holds a
// "func_target:M.F/A" string rather than a node id (spec.md §4.5 phase 4).
type Edge struct {
	From       string
	To         string
	Kind       EdgeKind
	Label      string
	Properties map[string]any
	Symbolic   bool
}

// Mappings are the node-mapping tables of spec.md §3.
type Mappings struct {
	ASTToCPG map[string]string // ast_id -> cpg_id
	CFGToCPG map[string]string // cfg_node_id -> cpg_id
	DefToCPG map[string]string // "ssa_name@ast_id" -> cpg_id
	UseToCPG map[string]string // "ssa_name@ast_id" -> cpg_id
	PhiToCPG map[string]string // ssa_name -> cpg_id
}

// CPG is the fused graph produced by Fuse, spec.md §4.5.
type CPG struct {
	Key           ident.FunctionKey
	RunID         string // uuid, metadata only -- see DESIGN.md C5 entry
	Nodes         map[string]*Node
	Edges         []*Edge
	Mappings      Mappings
	ByType        map[NodeType][]string
	ByLabelPrefix map[string][]string
	Warnings      []string
}

var cfgEdgeToCPG = map[cfg.EdgeKind]EdgeKind{
	cfg.EdgeSequential:   EdgeCFGFlow,
	cfg.EdgeConditional:  EdgeCFGConditional,
	cfg.EdgePatternMatch: EdgeCFGPatternMatch,
	cfg.EdgeGuardTrue:    EdgeCFGFlow,
	cfg.EdgeGuardFalse:   EdgeCFGFlow,
	cfg.EdgeException:    EdgeCFGException,
	cfg.EdgeLoopBack:     EdgeCFGLoopBack,
	cfg.EdgeLoopExit:     EdgeCFGLoopExit,
}

type fuser struct {
	cpg     *CPG
	counter int
}

func (f *fuser) nextSyntheticID() string {
	f.counter++
	return fmt.Sprintf("%s#cpgsyn%d", f.cpg.Key.String(), f.counter)
}

func (f *fuser) addNode(n *Node) {
	f.cpg.Nodes[n.ID] = n
}

func (f *fuser) addEdge(e *Edge) {
	f.cpg.Edges = append(f.cpg.Edges, e)
}

// Fuse runs the five construction phases of spec.md §4.5.
func Fuse(fnAST *astmodel.Node, c *cfg.CFG, d *dfg.DFG, calls []analyzer.CallRef, key ident.FunctionKey) *CPG {
	f := &fuser{
		cpg: &CPG{
			Key: key,
			RunID: uuid.NewString(),
			Nodes: map[string]*Node{},
			Mappings: Mappings{
				ASTToCPG: map[string]string{},
				CFGToCPG: map[string]string{},
				DefToCPG: map[string]string{},
				UseToCPG: map[string]string{},
				PhiToCPG: map[string]string{},
			},
		},
	}

	// Phase 1: AST skeleton.
	f.walkAST(fnAST, "")

	// Phase 2: CFG overlay.
	f.overlayCFG(c)

	// Phase 3: DFG overlay.
	f.overlayDFG(d)

	// Phase 4: symbolic call edges.
	f.addCallEdges(calls)

	// Phase 5: indexes.
	f.buildIndexes()

	if len(c.Warnings) > 0 {
		f.cpg.Warnings = append(f.cpg.Warnings, c.Warnings...)
	}
	if len(d.Warnings) > 0 {
		f.cpg.Warnings = append(f.cpg.Warnings, d.Warnings...)
	}
	return f.cpg
}

func (f *fuser) walkAST(n *astmodel.Node, parentCPGID string) {
	if n == nil {
		return
	}
	label := labelFor(n)
	cpgID := "cpg:" + n.Meta.ASTID
	if n.Meta.ASTID == "" {
		cpgID = f.nextSyntheticID()
	}
	node := &Node{ID: cpgID, Type: NodeAST, Label: label, Line: n.Meta.Line, SourceSnippet: n.Meta.Source, ASTPayload: map[string]any{"kind": n.Kind.String(), "constructor_kind": n.ConstructorKind}}
	f.addNode(node)
	if n.Meta.ASTID != "" {
		f.cpg.Mappings.ASTToCPG[n.Meta.ASTID] = cpgID
	}
	if parentCPGID != "" {
		f.addEdge(&Edge{From: parentCPGID, To: cpgID, Kind: EdgeASTChild})
	}
	for _, c := range n.Args {
		f.walkAST(c, cpgID)
	}
	if n.Kind == astmodel.KindConstructor && n.ConstructorKind == astmodel.CKFunction {
		if params, ok := n.Attrs["params"].([]*astmodel.Node); ok {
			for _, p := range params {
				f.walkAST(p, cpgID)
			}
		}
	}
	for _, c := range n.Children {
		f.walkAST(c, cpgID)
	}
}

func labelFor(n *astmodel.Node) string {
	switch n.Kind {
	case astmodel.KindCall:
		return fmt.Sprintf("call(%s.%s/%d)", n.CalleeModule, n.CalleeFunc, len(n.Args))
	case astmodel.KindVariableRef:
		return "var(" + n.VarName + ")"
	case astmodel.KindLiteral:
		return "literal"
	default:
		return n.ConstructorKind
	}
}

func (f *fuser) overlayCFG(c *cfg.CFG) {
	for id, n := range c.Nodes {
		var cpgID string
		if n.ASTID != "" {
			if existing, ok := f.cpg.Mappings.ASTToCPG[n.ASTID]; ok {
				cpgID = existing
				node := f.cpg.Nodes[cpgID]
				node.CFGPayload = map[string]any{"cfg_kind": string(n.Kind), "cfg_id": id, "expression": n.Expression}
				node.Label = node.Label + fmt.Sprintf(" (CFG:%s)", n.Kind)
			}
		}
		if cpgID == "" {
			cpgID = f.nextSyntheticID()
			f.addNode(&Node{ID: cpgID, Type: NodeCFGSynthetic, Label: string(n.Kind), Line: n.Line, CFGPayload: map[string]any{"cfg_kind": string(n.Kind), "cfg_id": id}})
		}
		f.cpg.Mappings.CFGToCPG[id] = cpgID
	}
	for _, e := range c.Edges {
		fromCPG, fromOK := f.cpg.Mappings.CFGToCPG[e.From]
		toCPG, toOK := f.cpg.Mappings.CFGToCPG[e.To]
		if !fromOK || !toOK {
			continue
		}
		kind, ok := cfgEdgeToCPG[e.Kind]
		if !ok {
			kind = EdgeCFGFlow
		}
		label := e.Condition
		if e.Kind == cfg.EdgeGuardTrue {
			label = "guard_true"
		} else if e.Kind == cfg.EdgeGuardFalse {
			label = "guard_false"
		}
		f.addEdge(&Edge{From: fromCPG, To: toCPG, Kind: kind, Label: label})
	}
}

func (f *fuser) overlayDFG(d *dfg.DFG) {
	// cpgIDForASTOrSynthetic mirrors overlayCFG's fallback: a Definition or
	// Use whose ast_id never made it into the AST skeleton (e.g. an AST node
	// produced outside the walked tree) still gets a CPG node rather than
	// being silently dropped, preserving the §4.5 completeness invariant.
	cpgIDForASTOrSynthetic := func(astID string, line int) string {
		if id, ok := f.cpg.Mappings.ASTToCPG[astID]; ok {
			return id
		}
		cpgID := f.nextSyntheticID()
		f.addNode(&Node{ID: cpgID, Type: NodeDFGSynthetic, Label: "dfg_unmapped", Line: line})
		if astID != "" {
			f.cpg.Mappings.ASTToCPG[astID] = cpgID
		}
		return cpgID
	}

	defCPGFor := make(map[*dfg.Definition]string)
	for _, def := range d.Definitions {
		cpgID := cpgIDForASTOrSynthetic(def.ASTID, def.Line)
		node := f.cpg.Nodes[cpgID]
		if node.DFGPayload == nil {
			node.DFGPayload = &DFGPayload{}
		}
		node.DFGPayload.Definitions = append(node.DFGPayload.Definitions, def.Variable.SSAName())
		key := def.Variable.SSAName() + "@" + def.ASTID
		f.cpg.Mappings.DefToCPG[key] = cpgID
		defCPGFor[def] = cpgID
	}

	useCPGFor := make(map[*dfg.Use]string)
	for _, use := range d.Uses {
		cpgID := cpgIDForASTOrSynthetic(use.ASTID, use.Line)
		node := f.cpg.Nodes[cpgID]
		if node.DFGPayload == nil {
			node.DFGPayload = &DFGPayload{}
		}
		node.DFGPayload.Uses = append(node.DFGPayload.Uses, use.Variable.SSAName())
		key := use.Variable.SSAName() + "@" + use.ASTID
		f.cpg.Mappings.UseToCPG[key] = cpgID
		useCPGFor[use] = cpgID
	}

	for _, p := range d.Phis {
		cpgID := f.nextSyntheticID()
		f.addNode(&Node{ID: cpgID, Type: NodeDFGPhiSynthetic, Label: p.Label(), Line: 0})
		f.cpg.Mappings.PhiToCPG[p.Target.SSAName()] = cpgID

		for _, src := range p.Sources {
			if srcCPG, ok := f.findDefCPGByVersion(defCPGFor, d, src); ok {
				f.addEdge(&Edge{From: srcCPG, To: cpgID, Kind: EdgeDFGPhiInput})
			}
		}
		if mergeCPG, ok := f.cpg.Mappings.ASTToCPG[p.MergePointASTID]; ok {
			f.addEdge(&Edge{From: cpgID, To: mergeCPG, Kind: EdgeDFGPhiOutput})
		} else if synCPG, ok := f.cpg.Mappings.CFGToCPG[p.MergePointASTID]; ok {
			f.addEdge(&Edge{From: cpgID, To: synCPG, Kind: EdgeDFGPhiOutput})
		}
	}

	for _, flow := range d.DataFlows {
		var fromCPG string
		var ok bool
		if flow.FromDef.Kind == dfg.DefPhi {
			fromCPG, ok = f.cpg.Mappings.PhiToCPG[flow.FromDef.Variable.SSAName()]
		} else {
			fromCPG, ok = defCPGFor[flow.FromDef]
		}
		if !ok {
			continue
		}
		toCPG, ok := useCPGFor[flow.ToUse]
		if !ok {
			continue
		}
		f.addEdge(&Edge{From: fromCPG, To: toCPG, Kind: EdgeDFGReaches})
	}
}

func (f *fuser) findDefCPGByVersion(defCPGFor map[*dfg.Definition]string, d *dfg.DFG, v dfg.VariableVersion) (string, bool) {
	for _, def := range d.Definitions {
		if def.Variable.OriginalName == v.OriginalName && def.Variable.Version == v.Version {
			id, ok := defCPGFor[def]
			return id, ok
		}
	}
	if id, ok := f.cpg.Mappings.PhiToCPG[v.SSAName()]; ok {
		return id, true
	}
	return "", false
}

// addCallEdges is phase 4 (spec.md §4.5): emits a CPG edge from the
// call-site CPG node to a symbolic target, never resolved to a concrete
// CPG node (resolution is a repository-level post-pass, spec.md §9).
func (f *fuser) addCallEdges(calls []analyzer.CallRef) {
	for _, call := range calls {
		fromCPG, ok := f.cpg.Mappings.ASTToCPG[call.CallSiteASTID]
		if !ok {
			continue
		}
		mfa := fmt.Sprintf("%s.%s/%d", call.Module, call.Func, call.Arity)
		target := "func_target:" + mfa
		f.addEdge(&Edge{From: fromCPG, To: target, Kind: EdgeCall, Symbolic: true, Properties: map[string]any{"mfa": mfa}})
	}
}

func (f *fuser) buildIndexes() {
	f.cpg.ByType = map[NodeType][]string{}
	f.cpg.ByLabelPrefix = map[string][]string{}
	ids := make([]string, 0, len(f.cpg.Nodes))
	for id := range f.cpg.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := f.cpg.Nodes[id]
		f.cpg.ByType[n.Type] = append(f.cpg.ByType[n.Type], id)
		prefix := n.Label
		if i := strings.IndexAny(prefix, "( "); i >= 0 {
			prefix = prefix[:i]
		}
		f.cpg.ByLabelPrefix[prefix] = append(f.cpg.ByLabelPrefix[prefix], id)
	}
}

// ByLineRange computes the on-demand by_line_range index of spec.md §4.5
// phase 5 ("Indexes... and (on demand) by_line_range maps").
func (c *CPG) ByLineRange(start, end int) []string {
	var out []string
	for id, n := range c.Nodes {
		if n.Line >= start && n.Line <= end {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
