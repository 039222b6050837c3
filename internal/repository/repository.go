// Package repository implements the Repository (C6, spec.md §4.6): a
// durable in-memory store of modules, functions, and their graphs, with
// inverted indexes, per-module write locks, lazy graph construction, and a
// configured memory bound.
//
// Grounded on overkam-code-property-graph/module_set.go's module-keyed
// container shape and callgraph.go's ComputeFanInOut index-maintenance
// pattern — but deliberately NOT as a package-level singleton
// (module_set.go's `var modSet = &ModuleSet{}`): spec.md §9 explicitly
// forbids hidden singletons, so every operation here takes a *Repository
// receiver constructed by NewRepository. See DESIGN.md "No-hidden-
// singletons divergence from the teacher".
package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/cfg"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/cpg"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/dfg"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
)

// CallReference is one entry returned by FindCallersOf — a call site in a
// known caller function targeting a given MFA.
type CallReference struct {
	Caller        ident.FunctionKey
	CallSiteASTID string
	Call          analyzer.CallRef
}

type moduleRecord struct {
	facts     analyzer.ModuleFacts
	functions map[ident.FunctionKey]*functionRecord
}

type functionRecord struct {
	facts       analyzer.FunctionFacts
	contentHash string
}

// Repository is the explicit, handle-passed store spec.md §9 requires.
type Repository struct {
	cfgOpts config.Config

	mu      sync.RWMutex // guards modules, and all indexes, transactionally
	modules map[string]*moduleRecord

	writeLocks sync.Map // module name -> *sync.Mutex, single-writer-per-module

	filePathToModule map[string]string
	calledMFA        map[string][]CallReference // mfa -> callers
	astIDToFunction  map[string]ident.FunctionKey

	cfgCache *lru.Cache[string, *cfg.CFG]
	dfgCache *lru.Cache[string, *dfg.DFG]
	cpgCache *lru.Cache[string, *cpg.CPG]
}

// NewRepository constructs an explicit repository handle. No package-level
// state is created; every caller owns its own *Repository.
func NewRepository(cfgOpts config.Config) *Repository {
	cap := lruCapacity(cfgOpts.MaxMemoryBytes)
	cfgCache, _ := lru.New[string, *cfg.CFG](cap)
	dfgCache, _ := lru.New[string, *dfg.DFG](cap)
	cpgCache, _ := lru.New[string, *cpg.CPG](cap)
	return &Repository{
		cfgOpts:          cfgOpts,
		modules:          map[string]*moduleRecord{},
		filePathToModule: map[string]string{},
		calledMFA:        map[string][]CallReference{},
		astIDToFunction:  map[string]ident.FunctionKey{},
		cfgCache:         cfgCache,
		dfgCache:         dfgCache,
		cpgCache:         cpgCache,
	}
}

func lruCapacity(maxMemoryBytes int64) int {
	if maxMemoryBytes <= 0 {
		return 4096
	}
	// Coarse per-entry size assumption. Each of the three caches (CFG, DFG,
	// CPG) gets this capacity and evicts its own least-recently-used entry
	// when full; there is no priority order across the three caches.
	const assumedEntryBytes = 8 * 1024
	cap := int(maxMemoryBytes / assumedEntryBytes)
	if cap < 16 {
		cap = 16
	}
	return cap
}

func (r *Repository) lockFor(module string) *sync.Mutex {
	v, _ := r.writeLocks.LoadOrStore(module, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// PutModule is an atomic upsert (spec.md §4.6 "put_module").
func (r *Repository) PutModule(mf analyzer.ModuleFacts) error {
	lock := r.lockFor(mf.Name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.modules[mf.Name]
	rec := &moduleRecord{facts: mf, functions: map[ident.FunctionKey]*functionRecord{}}

	for _, ff := range mf.Functions {
		h := functionContentHash(ff)
		var unchanged bool
		if old != nil {
			if oldFn, ok := old.functions[ff.Key]; ok && oldFn.contentHash == h {
				unchanged = true
			}
		}
		rec.functions[ff.Key] = &functionRecord{facts: ff, contentHash: h}
		r.astIDToFunction[ff.ASTID] = ff.Key

		if !unchanged {
			r.evictFunction(ff.Key)
		}
	}

	if old != nil {
		r.removeFromIndexesLocked(old)
	}
	r.modules[mf.Name] = rec
	r.filePathToModule[mf.FilePath] = mf.Name
	r.addToIndexesLocked(rec)
	return nil
}

// DeleteModule cascades to functions and graphs; indexes are updated
// (spec.md §4.6 "delete_module").
func (r *Repository) DeleteModule(name string) error {
	lock := r.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.modules[name]
	if !ok {
		return nil
	}
	r.removeFromIndexesLocked(rec)
	for key := range rec.functions {
		r.evictFunction(key)
		delete(r.astIDToFunction, rec.functions[key].facts.ASTID)
	}
	delete(r.filePathToModule, rec.facts.FilePath)
	delete(r.modules, name)
	return nil
}

func (r *Repository) addToIndexesLocked(rec *moduleRecord) {
	for key, fn := range rec.functions {
		for _, call := range fn.facts.DirectCalls {
			if call.Module == "" {
				continue // bare call: no module, so it is not indexed and not resolved
			}
			mfa := fmt.Sprintf("%s.%s/%d", call.Module, call.Func, call.Arity)
			r.calledMFA[mfa] = append(r.calledMFA[mfa], CallReference{Caller: key, CallSiteASTID: call.CallSiteASTID, Call: call})
		}
	}
}

func (r *Repository) removeFromIndexesLocked(rec *moduleRecord) {
	for mfa, refs := range r.calledMFA {
		filtered := refs[:0]
		for _, ref := range refs {
			if ref.Caller.Module != rec.facts.Name {
				filtered = append(filtered, ref)
			}
		}
		if len(filtered) == 0 {
			delete(r.calledMFA, mfa)
		} else {
			r.calledMFA[mfa] = filtered
		}
	}
}

func (r *Repository) evictFunction(key ident.FunctionKey) {
	r.cfgCache.Remove(key.String())
	r.dfgCache.Remove(key.String())
	r.cpgCache.Remove(key.String())
}

// GetModule returns a module's facts (spec.md §4.6 "get_module").
func (r *Repository) GetModule(name string) (analyzer.ModuleFacts, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.modules[name]
	if !ok {
		return analyzer.ModuleFacts{}, false
	}
	return rec.facts, true
}

// GetFunction returns a function's facts (spec.md §4.6 "get_function").
func (r *Repository) GetFunction(key ident.FunctionKey) (analyzer.FunctionFacts, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.modules[key.Module]
	if !ok {
		return analyzer.FunctionFacts{}, false
	}
	fn, ok := rec.functions[key]
	if !ok {
		return analyzer.FunctionFacts{}, false
	}
	return fn.facts, true
}

// GetCFG lazily constructs (or returns the cached) CFG for key
// (spec.md §4.6 "get_cfg").
func (r *Repository) GetCFG(key ident.FunctionKey) (*cfg.CFG, error) {
	if c, ok := r.cfgCache.Get(key.String()); ok {
		return c, nil
	}
	ff, ok := r.GetFunction(key)
	if !ok {
		return nil, cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{Module: key.Module, Function: key.Name, Arity: key.Arity}, "function not found")
	}
	c := cfg.Build(ff.AST, key)
	r.cfgCache.Add(key.String(), c)
	return c, nil
}

// GetDFG lazily constructs (or returns the cached) DFG for key
// (spec.md §4.6 "get_dfg").
func (r *Repository) GetDFG(key ident.FunctionKey) (*dfg.DFG, error) {
	if d, ok := r.dfgCache.Get(key.String()); ok {
		return d, nil
	}
	ff, ok := r.GetFunction(key)
	if !ok {
		return nil, cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{Module: key.Module, Function: key.Name, Arity: key.Arity}, "function not found")
	}
	d := dfg.Build(ff.AST, key)
	r.dfgCache.Add(key.String(), d)
	return d, nil
}

// GetCPG lazily constructs (or returns the cached) CPG for key
// (spec.md §4.6 "get_cpg").
func (r *Repository) GetCPG(key ident.FunctionKey) (*cpg.CPG, error) {
	if g, ok := r.cpgCache.Get(key.String()); ok {
		return g, nil
	}
	ff, ok := r.GetFunction(key)
	if !ok {
		return nil, cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{Module: key.Module, Function: key.Name, Arity: key.Arity}, "function not found")
	}
	c, err := r.GetCFG(key)
	if err != nil {
		return nil, err
	}
	d, err := r.GetDFG(key)
	if err != nil {
		return nil, err
	}
	g := cpg.Fuse(ff.AST, c, d, ff.DirectCalls, key)
	r.cpgCache.Add(key.String(), g)
	return g, nil
}

// FindCallersOf returns every call reference targeting mfa (spec.md §4.6
// "find_callers_of"), via the called_mfa inverted index.
func (r *Repository) FindCallersOf(mfa string) []CallReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := r.calledMFA[mfa]
	out := make([]CallReference, len(refs))
	copy(out, refs)
	return out
}

// FindCPGNodeByASTID resolves an ast_id to its owning function's CPG node
// (spec.md §4.6 "find_cpg_node_by_ast_id"), the repository-level backing
// for the Correlation API's lookup_cpg_node_by_ast_id (spec.md §6 Egress).
func (r *Repository) FindCPGNodeByASTID(astID string) (*cpg.Node, ident.FunctionKey, bool) {
	r.mu.RLock()
	key, ok := r.astIDToFunction[astID]
	r.mu.RUnlock()
	if !ok {
		return nil, ident.FunctionKey{}, false
	}
	g, err := r.GetCPG(key)
	if err != nil {
		return nil, key, false
	}
	cpgID, ok := g.Mappings.ASTToCPG[astID]
	if !ok {
		return nil, key, false
	}
	return g.Nodes[cpgID], key, true
}

// AllModules returns a point-in-time snapshot of module facts, used by
// internal/query and internal/snapshot.
func (r *Repository) AllModules() []analyzer.ModuleFacts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]analyzer.ModuleFacts, 0, len(names))
	for _, n := range names {
		out = append(out, r.modules[n].facts)
	}
	return out
}

// AllFunctions returns a point-in-time snapshot of function facts.
func (r *Repository) AllFunctions() []analyzer.FunctionFacts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []analyzer.FunctionFacts
	for _, rec := range r.modules {
		for _, fn := range rec.functions {
			out = append(out, fn.facts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// AllCallReferences returns every recorded call reference across the
// repository (used by internal/query's from=call_references).
func (r *Repository) AllCallReferences() []CallReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CallReference
	for _, refs := range r.calledMFA {
		out = append(out, refs...)
	}
	return out
}

// ModuleForFile exposes the file_path -> module inverted index, used to
// satisfy the Synchronizer's "deleted" resolution (spec.md §4.8) and the
// index/primary consistency invariant of spec.md §8.
func (r *Repository) ModuleForFile(filePath string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.filePathToModule[filePath]
	return name, ok
}

func functionContentHash(ff analyzer.FunctionFacts) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d", ff.Signature, ff.Span.StartLine, ff.Span.EndLine, ff.ComplexityPreliminary)
	for _, c := range ff.DirectCalls {
		fmt.Fprintf(h, "|%s.%s/%d", c.Module, c.Func, c.Arity)
	}
	return hex.EncodeToString(h.Sum(nil))
}
