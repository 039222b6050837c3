// Package analyzer implements the AST Analyzer (C2, spec.md §4.2):
// per-module and per-function structural fact extraction without building
// full graphs.
//
// Grounded on overkam-code-property-graph/ast_visitor.go's per-construct
// fact-emission idiom (generalized from Go AST node kinds to astmodel
// constructor kinds) and metrics.go's cyclomatic-complexity-by-traversal
// rule, which spec.md §4.2 mirrors almost verbatim.
package analyzer

import (
	"github.com/nshkrdotcom/cpgengine/internal/astmodel"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

// Span is a source line/column range.
type Span struct {
	StartLine, StartColumn, EndLine, EndColumn int
}

// CallRef records one call site (spec.md §4.2 "Rules").
type CallRef struct {
	Module        string // empty for a bare call; no later pass resolves it to a module
	Func          string
	Arity         int
	CallSiteASTID string
	Line          int
}

// Parameter is a (possibly nested) pattern binding 0..n variable names.
type Parameter struct {
	Pattern      *astmodel.Node
	BoundNames   []string
}

// FunctionFacts is the per-function output of spec.md §4.2.
type FunctionFacts struct {
	ASTID                     string
	Key                       ident.FunctionKey
	Signature                 string
	Parameters                []Parameter
	HeadGuards                []string
	Clauses                   int
	PatternMatches            int
	LocalVariablesPreliminary []string
	DirectCalls               []CallRef
	ComplexityPreliminary     int
	Span                      Span
	AST                       *astmodel.Node
}

// ModuleFacts is the per-module output of spec.md §4.2.
type ModuleFacts struct {
	Name                 string
	FilePath             string
	ContentHash          string
	Functions            []FunctionFacts
	Imports              []string
	Aliases              []string
	Requires             []string
	Uses                 []string
	Attributes           map[string]string
	ImplementedProtocols []string
	ModuleComplexity     int
}

// AnalyzeModule extracts ModuleFacts from a rooted module AST. Parse
// failures never abort a batch (spec.md §4.2 "Failure model"): a malformed
// function yields a per-function error recorded in errs while its siblings
// are still analyzed.
func AnalyzeModule(moduleAST *astmodel.Node, name, filePath, contentHash string, idStrategy ident.Context) (ModuleFacts, []*cpgerr.Error) {
	mf := ModuleFacts{
		Name:        name,
		FilePath:    filePath,
		ContentHash: contentHash,
		Attributes:  map[string]string{},
	}
	var errs []*cpgerr.Error
	if moduleAST == nil {
		errs = append(errs, cpgerr.New(cpgerr.KindParse, cpgerr.Locator{File: filePath}, "empty module AST"))
		return mf, errs
	}

	for _, child := range moduleAST.Children {
		switch child.ConstructorKind {
		case "import":
			mf.Imports = append(mf.Imports, child.Attr("target"))
		case "alias":
			mf.Aliases = append(mf.Aliases, child.Attr("target"))
		case "require":
			mf.Requires = append(mf.Requires, child.Attr("target"))
		case "use":
			mf.Uses = append(mf.Uses, child.Attr("target"))
		case "protocol_impl":
			mf.ImplementedProtocols = append(mf.ImplementedProtocols, child.Attr("protocol"))
		case "module_attribute":
			mf.Attributes[child.Attr("key")] = child.Attr("value")
		case astmodel.CKFunction:
			arity := 0
			if params, ok := child.Attrs["params"].([]*astmodel.Node); ok {
				arity = len(params)
			}
			key := ident.FunctionKey{Module: name, Name: child.Attr("name"), Arity: arity}
			idCtx := idStrategy
			idCtx.Key = key
			ident.AssignIDs(child, idCtx)
			ff, ferr := AnalyzeFunction(child, key)
			if ferr != nil {
				ferr.Locator.File = filePath
				errs = append(errs, ferr)
				continue
			}
			mf.Functions = append(mf.Functions, ff)
			mf.ModuleComplexity += ff.ComplexityPreliminary
		}
	}
	return mf, errs
}

// AnalyzeFunction extracts FunctionFacts from one function's AST.
func AnalyzeFunction(fnAST *astmodel.Node, key ident.FunctionKey) (FunctionFacts, *cpgerr.Error) {
	if fnAST == nil || fnAST.ConstructorKind != astmodel.CKFunction {
		return FunctionFacts{}, cpgerr.New(cpgerr.KindAnalysis, cpgerr.Locator{Module: key.Module, Function: key.Name, Arity: key.Arity}, "not a function node")
	}

	ff := FunctionFacts{
		ASTID: fnAST.Meta.ASTID,
		Key:   key,
		AST:   fnAST,
		Span:  Span{StartLine: fnAST.Meta.Line, EndLine: fnAST.Meta.EndLine},
	}

	if params, ok := fnAST.Attrs["params"].([]*astmodel.Node); ok {
		for _, p := range params {
			ff.Parameters = append(ff.Parameters, Parameter{Pattern: p, BoundNames: boundNames(p)})
			ff.LocalVariablesPreliminary = append(ff.LocalVariablesPreliminary, boundNames(p)...)
		}
	}
	if g := fnAST.Attr("guard"); g != "" {
		ff.HeadGuards = append(ff.HeadGuards, g)
	}

	complexity := 1
	clauses := 0
	patternMatches := 0
	var calls []CallRef

	var walk func(n *astmodel.Node)
	walk = func(n *astmodel.Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case astmodel.KindCall:
			calls = append(calls, CallRef{
				Module:        n.CalleeModule,
				Func:          n.CalleeFunc,
				Arity:         len(n.Args),
				CallSiteASTID: n.Meta.ASTID,
				Line:          n.Meta.Line,
			})
			for _, a := range n.Args {
				walk(a)
			}
		case astmodel.KindConstructor:
			switch n.ConstructorKind {
			case astmodel.CKCase:
				nclauses := len(n.Children)
				clauses += nclauses
				if nclauses > 1 {
					complexity += nclauses - 1
				} else {
					complexity += 1
				}
				patternMatches += nclauses
			case astmodel.CKIf:
				complexity += 1
			case astmodel.CKCond:
				nclauses := len(n.Children)
				clauses += nclauses
				if nclauses > 1 {
					complexity += nclauses - 1
				}
			case astmodel.CKTry:
				for _, c := range n.Children {
					if c.ConstructorKind == astmodel.CKRescue || c.ConstructorKind == astmodel.CKCatch {
						complexity++
					}
				}
			case astmodel.CKCaseClause, astmodel.CKCondClause:
				if n.Attr("guard") != "" {
					complexity++
				}
				ff.LocalVariablesPreliminary = append(ff.LocalVariablesPreliminary, boundNames(n)...)
			case astmodel.CKAssign:
				ff.LocalVariablesPreliminary = append(ff.LocalVariablesPreliminary, n.Attr("target"))
			}
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	walk(fnAST)

	ff.Clauses = clauses
	ff.PatternMatches = patternMatches
	ff.ComplexityPreliminary = complexity
	ff.DirectCalls = calls
	ff.Signature = key.MFA()
	return ff, nil
}

func boundNames(n *astmodel.Node) []string {
	if n == nil {
		return nil
	}
	var names []string
	if n.Kind == astmodel.KindVariableRef {
		names = append(names, n.VarName)
	}
	for _, c := range n.Children {
		names = append(names, boundNames(c)...)
	}
	return names
}
