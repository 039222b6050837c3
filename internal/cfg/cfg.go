// Package cfg implements the CFG Builder (C3, spec.md §4.3): produces a
// Control Flow Graph per function from its AST.
//
// Grounded on overkam-code-property-graph/ssa_cfg.go's "thread entry/exit
// lists through each construct, synthesize merge nodes at joins" shape,
// adapted from go/ssa basic blocks to direct recursive construction over
// astmodel (see SPEC_FULL.md §9 "Dropped teacher dependencies": the source
// language has no go/ssa equivalent to build on).
package cfg

import (
	"fmt"

	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

type NodeKind string

const (
	KindEntry       NodeKind = "entry"
	KindExit        NodeKind = "exit"
	KindStatement   NodeKind = "statement"
	KindIfCond      NodeKind = "if_cond"
	KindCaseEntry   NodeKind = "case_entry"
	KindCaseClause  NodeKind = "case_clause"
	KindCondEntry   NodeKind = "cond_entry"
	KindCondClause  NodeKind = "cond_clause"
	KindTryEntry    NodeKind = "try_entry"
	KindRescue      NodeKind = "rescue_clause"
	KindCatch       NodeKind = "catch_clause"
	KindAfter       NodeKind = "after_block"
	KindCall        NodeKind = "call"
	KindPipe        NodeKind = "pipe"
	KindAnonFnDef   NodeKind = "anon_fn_def"
	KindMerge       NodeKind = "merge"
	KindLoopBack    NodeKind = "loop_back"
)

type EdgeKind string

const (
	EdgeSequential  EdgeKind = "sequential"
	EdgeConditional EdgeKind = "conditional"
	EdgePatternMatch EdgeKind = "pattern_match"
	EdgeGuardTrue   EdgeKind = "guard_true"
	EdgeGuardFalse  EdgeKind = "guard_false"
	EdgeException   EdgeKind = "exception"
	EdgeLoopBack    EdgeKind = "loop_back"
	EdgeLoopExit    EdgeKind = "loop_exit"
)

// Node is a CFG node, spec.md §3 "CFG Node".
type Node struct {
	ID           string
	Kind         NodeKind
	ASTID        string // empty for synthetic nodes (merge, etc.)
	Line         int
	ScopeID      string
	Expression   string
	Predecessors []string
	Successors   []string
}

// Edge is a CFG edge, spec.md §3 "CFG Edge".
type Edge struct {
	From      string
	To        string
	Kind      EdgeKind
	Condition string // "true" | "false" | a cond/case label; empty otherwise
}

// Scope is a node in the scope tree, spec.md §3 "Scope".
type Scope struct {
	ID     string
	Kind   string
	Parent string
	ASTID  string
}

// Metrics are the complexity metrics of spec.md §4.3.
type Metrics struct {
	Cyclomatic           int
	Cognitive            int
	NestingDepth         int
	MaxPipeChainLength   int
	GuardCount           int
	PatternCount         int
	MaintainabilityScore float64
}

// CFG is the output of build_cfg, spec.md §4.3.
type CFG struct {
	Entry      string
	Exits      []string
	Nodes      map[string]*Node
	Edges      []*Edge
	Scopes     map[string]*Scope
	Metrics    Metrics
	Warnings   []string
	AnonFnCFGs map[string]*CFG // keyed by the anon_fn_def node's ast_id
}

func (c *CFG) addEdge(e *Edge) {
	c.Edges = append(c.Edges, e)
	if from, ok := c.Nodes[e.From]; ok {
		from.Successors = append(from.Successors, e.To)
	}
	if to, ok := c.Nodes[e.To]; ok {
		to.Predecessors = append(to.Predecessors, e.From)
	}
}

type builder struct {
	cfg       *CFG
	counter   int
	prefix    string
	nesting   int
	scopeSeq  int
	pipeChain int
	maxPipe   int
	guardCnt  int
	patCnt    int
	cyclomatic int
	cognitive  int
	maxNesting int
}

// Build runs build_cfg for one function (spec.md §4.3).
func Build(fnAST *astmodel.Node, key ident.FunctionKey) *CFG {
	b := &builder{
		cfg: &CFG{
			Nodes:      map[string]*Node{},
			Scopes:     map[string]*Scope{},
			AnonFnCFGs: map[string]*CFG{},
		},
		prefix:     fnAST.Meta.ASTID,
		cyclomatic: 1,
	}
	funcScope := b.newScope("function", "", fnAST.Meta.ASTID)

	entry := b.newNode(KindEntry, "", 0, funcScope)
	b.cfg.Entry = entry.ID

	bodyEntry, bodyExits := b.buildSeq(fnAST.Children, funcScope)
	if bodyEntry == "" {
		// empty body: entry flows straight to exit
		bodyExits = []string{entry.ID}
	} else {
		b.cfg.addEdge(&Edge{From: entry.ID, To: bodyEntry, Kind: EdgeSequential})
	}

	exit := b.newNode(KindExit, "", 0, funcScope)
	for _, e := range bodyExits {
		b.cfg.addEdge(&Edge{From: e, To: exit.ID, Kind: EdgeSequential})
	}
	b.cfg.Exits = []string{exit.ID}

	b.cfg.Metrics = Metrics{
		Cyclomatic:         b.cyclomatic,
		Cognitive:          b.cognitive,
		NestingDepth:       b.maxNesting,
		MaxPipeChainLength: b.maxPipe,
		GuardCount:         b.guardCnt,
		PatternCount:       b.patCnt,
	}
	b.cfg.Metrics.MaintainabilityScore = maintainability(b.cyclomatic, b.cognitive, b.maxNesting)
	return b.cfg
}

func maintainability(cyclomatic, cognitive, nesting int) float64 {
	score := 100.0 - 2.0*float64(cyclomatic) - float64(cognitive) - 5.0*float64(nesting)
	if score < 0 {
		return 0
	}
	return score
}

func (b *builder) nextID() string {
	b.counter++
	return fmt.Sprintf("%s#cfg%d", b.prefix, b.counter)
}

func (b *builder) newNode(kind NodeKind, astID string, line int, scope string) *Node {
	n := &Node{ID: b.nextID(), Kind: kind, ASTID: astID, Line: line, ScopeID: scope}
	b.cfg.Nodes[n.ID] = n
	return n
}

func (b *builder) newScope(kind, parent, astID string) string {
	b.scopeSeq++
	id := fmt.Sprintf("%s#scope%d", b.prefix, b.scopeSeq)
	b.cfg.Scopes[id] = &Scope{ID: id, Kind: kind, Parent: parent, ASTID: astID}
	return id
}

func (b *builder) warn(msg string) {
	b.cfg.Warnings = append(b.cfg.Warnings, msg)
}

// buildSeq threads sequential composition through an ordered list of AST
// nodes (spec.md §4.3 "Sequential composition is the identity
// transformation"). Returns the entry id of the whole sequence and the
// current set of open exits.
func (b *builder) buildSeq(nodes []*astmodel.Node, scope string) (string, []string) {
	var seqEntry string
	var exits []string
	for _, n := range nodes {
		entry, nodeExits := b.buildOne(n, scope)
		if entry == "" {
			continue
		}
		if seqEntry == "" {
			seqEntry = entry
		} else {
			for _, e := range exits {
				b.cfg.addEdge(&Edge{From: e, To: entry, Kind: EdgeSequential})
			}
		}
		exits = nodeExits
	}
	return seqEntry, exits
}

// buildOne dispatches by constructor/call kind; returns (entryID, exitIDs).
func (b *builder) buildOne(n *astmodel.Node, scope string) (string, []string) {
	if n == nil {
		return "", nil
	}
	switch n.Kind {
	case astmodel.KindCall:
		return b.buildCall(n, scope)
	case astmodel.KindLiteral, astmodel.KindVariableRef:
		s := b.newNode(KindStatement, n.Meta.ASTID, n.Meta.Line, scope)
		return s.ID, []string{s.ID}
	case astmodel.KindConstructor:
		switch n.ConstructorKind {
		case astmodel.CKIf:
			return b.buildIf(n, scope)
		case astmodel.CKCase:
			return b.buildCase(n, scope)
		case astmodel.CKCond:
			return b.buildCond(n, scope)
		case astmodel.CKTry:
			return b.buildTry(n, scope)
		case astmodel.CKPipe:
			return b.buildPipe(n, scope)
		case astmodel.CKAnonFn:
			return b.buildAnonFn(n, scope)
		default:
			s := b.newNode(KindStatement, n.Meta.ASTID, n.Meta.Line, scope)
			return s.ID, []string{s.ID}
		}
	default:
		b.warn(fmt.Sprintf("unhandled AST kind %v at line %d; emitted generic statement node", n.Kind, n.Meta.Line))
		s := b.newNode(KindStatement, n.Meta.ASTID, n.Meta.Line, scope)
		return s.ID, []string{s.ID}
	}
}

// buildCall: evaluate arguments left-to-right as a chain of sequential
// nodes; the call itself becomes a single call node with the last
// argument's exit as predecessor (spec.md §4.3).
func (b *builder) buildCall(n *astmodel.Node, scope string) (string, []string) {
	argEntry, argExits := b.buildSeq(n.Args, scope)
	call := b.newNode(KindCall, n.Meta.ASTID, n.Meta.Line, scope)
	if argEntry == "" {
		return call.ID, []string{call.ID}
	}
	for _, e := range argExits {
		b.cfg.addEdge(&Edge{From: e, To: call.ID, Kind: EdgeSequential})
	}
	return argEntry, []string{call.ID}
}

// buildPipe: sequential — evaluate a, then b with a's result as its
// implicit first argument (spec.md §4.3). The pipe's chain length is the
// number of call stages it holds.
func (b *builder) buildPipe(n *astmodel.Node, scope string) (string, []string) {
	b.pipeChain = 0
	for _, c := range n.Children {
		if c != nil && c.Kind == astmodel.KindCall {
			b.pipeChain++
		}
	}
	if b.pipeChain > b.maxPipe {
		b.maxPipe = b.pipeChain
	}
	return b.buildSeq(n.Children, scope)
}

func (b *builder) enterDecision() {
	b.nesting++
	if b.nesting > b.maxNesting {
		b.maxNesting = b.nesting
	}
	b.cognitive += b.nesting // one penalty point per enclosing control structure
}

func (b *builder) leaveDecision() { b.nesting-- }

// buildIf: spec.md §4.3 "Conditional if".
func (b *builder) buildIf(n *astmodel.Node, scope string) (string, []string) {
	b.cyclomatic++
	b.enterDecision()
	defer b.leaveDecision()

	cond := b.newNode(KindIfCond, n.Meta.ASTID, n.Meta.Line, scope)
	thenScope := b.newScope("if_branch", scope, n.Meta.ASTID)
	merge := b.newNode(KindMerge, "", n.Meta.Line, scope)

	var thenChildren, elseChildren []*astmodel.Node
	if len(n.Children) > 0 {
		thenChildren = n.Children[0].Children
	}
	if len(n.Children) > 1 {
		elseChildren = n.Children[1].Children
	}

	thenEntry, thenExits := b.buildSeq(thenChildren, thenScope)
	if thenEntry == "" {
		b.cfg.addEdge(&Edge{From: cond.ID, To: merge.ID, Kind: EdgeConditional, Condition: "true"})
	} else {
		b.cfg.addEdge(&Edge{From: cond.ID, To: thenEntry, Kind: EdgeConditional, Condition: "true"})
		for _, e := range thenExits {
			b.cfg.addEdge(&Edge{From: e, To: merge.ID, Kind: EdgeSequential})
		}
	}

	if len(elseChildren) > 0 {
		elseScope := b.newScope("if_branch", scope, n.Meta.ASTID)
		elseEntry, elseExits := b.buildSeq(elseChildren, elseScope)
		b.cfg.addEdge(&Edge{From: cond.ID, To: elseEntry, Kind: EdgeConditional, Condition: "false"})
		for _, e := range elseExits {
			b.cfg.addEdge(&Edge{From: e, To: merge.ID, Kind: EdgeSequential})
		}
	} else {
		// Missing else: implicit conditional("false") edge straight to merge.
		b.cfg.addEdge(&Edge{From: cond.ID, To: merge.ID, Kind: EdgeConditional, Condition: "false"})
	}

	return cond.ID, []string{merge.ID}
}

// buildCase: spec.md §4.3 "case".
func (b *builder) buildCase(n *astmodel.Node, scope string) (string, []string) {
	nclauses := len(n.Children)
	if nclauses > 1 {
		b.cyclomatic += nclauses - 1
	} else if nclauses == 1 {
		b.cyclomatic += 1
	}
	b.enterDecision()
	defer b.leaveDecision()

	entry := b.newNode(KindCaseEntry, n.Meta.ASTID, n.Meta.Line, scope)
	merge := b.newNode(KindMerge, "", n.Meta.Line, scope)

	for _, clause := range n.Children {
		b.patCnt++
		clauseScope := b.newScope("case_clause", scope, clause.Meta.ASTID)
		clauseNode := b.newNode(KindCaseClause, clause.Meta.ASTID, clause.Meta.Line, clauseScope)
		b.cfg.addEdge(&Edge{From: entry.ID, To: clauseNode.ID, Kind: EdgePatternMatch})
		if clause.Attr("guard") != "" {
			b.guardCnt++
			b.cyclomatic++
		}
		bodyEntry, bodyExits := b.buildSeq(clause.Children, clauseScope)
		if bodyEntry == "" {
			b.cfg.addEdge(&Edge{From: clauseNode.ID, To: merge.ID, Kind: EdgeSequential})
			continue
		}
		b.cfg.addEdge(&Edge{From: clauseNode.ID, To: bodyEntry, Kind: EdgeSequential})
		for _, e := range bodyExits {
			b.cfg.addEdge(&Edge{From: e, To: merge.ID, Kind: EdgeSequential})
		}
	}
	return entry.ID, []string{merge.ID}
}

// buildCond: spec.md §4.3 "cond" — chained clauses, each with a
// conditional("true") edge to its body and a conditional("false")
// fallthrough to the next clause's check; the final clause's false
// fallthrough reaches cond_merge.
func (b *builder) buildCond(n *astmodel.Node, scope string) (string, []string) {
	nclauses := len(n.Children)
	if nclauses > 1 {
		b.cyclomatic += nclauses - 1
	}
	b.enterDecision()
	defer b.leaveDecision()

	merge := b.newNode(KindMerge, "", n.Meta.Line, scope)
	var firstCheck string
	var prevCheck *Node

	for _, clause := range n.Children {
		clauseScope := b.newScope("cond_clause", scope, clause.Meta.ASTID)
		check := b.newNode(KindCondClause, clause.Meta.ASTID, clause.Meta.Line, clauseScope)
		if firstCheck == "" {
			firstCheck = check.ID
		}
		if prevCheck != nil {
			b.cfg.addEdge(&Edge{From: prevCheck.ID, To: check.ID, Kind: EdgeConditional, Condition: "false"})
		}
		if clause.Attr("guard") != "" {
			b.guardCnt++
		}
		bodyEntry, bodyExits := b.buildSeq(clause.Children, clauseScope)
		if bodyEntry == "" {
			b.cfg.addEdge(&Edge{From: check.ID, To: merge.ID, Kind: EdgeConditional, Condition: "true"})
		} else {
			b.cfg.addEdge(&Edge{From: check.ID, To: bodyEntry, Kind: EdgeConditional, Condition: "true"})
			for _, e := range bodyExits {
				b.cfg.addEdge(&Edge{From: e, To: merge.ID, Kind: EdgeSequential})
			}
		}
		prevCheck = check
	}
	if prevCheck != nil {
		// final clause's false fallthrough reaches cond_merge (spec.md §4.3,
		// §9 Open Question: no runtime_error_exit edge modeled).
		b.cfg.addEdge(&Edge{From: prevCheck.ID, To: merge.ID, Kind: EdgeConditional, Condition: "false"})
	}
	return firstCheck, []string{merge.ID}
}

// buildTry: spec.md §4.3 "try/rescue/catch/after".
func (b *builder) buildTry(n *astmodel.Node, scope string) (string, []string) {
	b.cyclomatic++ // try contributes 1, rescue/catch each contribute 1 (counted below)
	b.enterDecision()
	defer b.leaveDecision()

	entry := b.newNode(KindTryEntry, n.Meta.ASTID, n.Meta.Line, scope)

	var doBlock, rescues, catches []*astmodel.Node
	var after *astmodel.Node
	for _, c := range n.Children {
		switch c.ConstructorKind {
		case astmodel.CKRescue:
			rescues = append(rescues, c)
		case astmodel.CKCatch:
			catches = append(catches, c)
		case astmodel.CKAfter:
			after = c
		default:
			doBlock = append(doBlock, c)
		}
	}

	var routeExits []string
	doEntry, doExits := b.buildSeq(doBlock, scope)
	if doEntry != "" {
		b.cfg.addEdge(&Edge{From: entry.ID, To: doEntry, Kind: EdgeSequential})
		routeExits = append(routeExits, doExits...)
	} else {
		routeExits = append(routeExits, entry.ID)
	}

	for _, r := range rescues {
		b.cyclomatic++
		rScope := b.newScope("rescue", scope, r.Meta.ASTID)
		rNode := b.newNode(KindRescue, r.Meta.ASTID, r.Meta.Line, rScope)
		b.cfg.addEdge(&Edge{From: entry.ID, To: rNode.ID, Kind: EdgeException})
		bodyEntry, bodyExits := b.buildSeq(r.Children, rScope)
		if bodyEntry == "" {
			routeExits = append(routeExits, rNode.ID)
		} else {
			b.cfg.addEdge(&Edge{From: rNode.ID, To: bodyEntry, Kind: EdgeSequential})
			routeExits = append(routeExits, bodyExits...)
		}
	}
	for _, c := range catches {
		b.cyclomatic++
		cScope := b.newScope("catch", scope, c.Meta.ASTID)
		cNode := b.newNode(KindCatch, c.Meta.ASTID, c.Meta.Line, cScope)
		b.cfg.addEdge(&Edge{From: entry.ID, To: cNode.ID, Kind: EdgeException})
		bodyEntry, bodyExits := b.buildSeq(c.Children, cScope)
		if bodyEntry == "" {
			routeExits = append(routeExits, cNode.ID)
		} else {
			b.cfg.addEdge(&Edge{From: cNode.ID, To: bodyEntry, Kind: EdgeSequential})
			routeExits = append(routeExits, bodyExits...)
		}
	}

	if after != nil {
		aScope := b.newScope("after", scope, after.Meta.ASTID)
		aNode := b.newNode(KindAfter, after.Meta.ASTID, after.Meta.Line, aScope)
		for _, e := range routeExits {
			b.cfg.addEdge(&Edge{From: e, To: aNode.ID, Kind: EdgeSequential})
		}
		bodyEntry, bodyExits := b.buildSeq(after.Children, aScope)
		if bodyEntry == "" {
			return entry.ID, []string{aNode.ID}
		}
		b.cfg.addEdge(&Edge{From: aNode.ID, To: bodyEntry, Kind: EdgeSequential})
		return entry.ID, bodyExits
	}
	return entry.ID, routeExits
}

// buildAnonFn: a single anon_fn_def node; its internal CFG is a separate
// CFG stored alongside, not embedded in the outer edge list (spec.md §4.3).
func (b *builder) buildAnonFn(n *astmodel.Node, scope string) (string, []string) {
	node := b.newNode(KindAnonFnDef, n.Meta.ASTID, n.Meta.Line, scope)
	inner := Build(n, ident.FunctionKey{Module: "", Name: "anon", Arity: 0})
	b.cfg.AnonFnCFGs[n.Meta.ASTID] = inner
	return node.ID, []string{node.ID}
}
