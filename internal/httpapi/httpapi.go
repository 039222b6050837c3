// Package httpapi implements the HTTP-exposed half of the Exposition
// Surfaces (C11, SPEC_FULL.md §4.11): a single /api/query endpoint over
// the Query Executor (C9) plus the two Correlation API lookups spec.md §6
// Egress names.
//
// Grounded on overkam-code-property-graph/server/app.go's App.Handler()
// (chi router, Recoverer + RealIP + a hand-rolled CORS middleware, one
// /api subtree of GET routes) and server/handlers.go's
// parse-query-params -> call DB method -> json.NewEncoder response idiom,
// generalized from five SQL-backed read endpoints to one structured query
// endpoint over *repository.Repository.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nshkrdotcom/cpgengine/internal/query"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// App holds the HTTP server's dependencies.
type App struct {
	repo *repository.Repository
}

// NewApp constructs an App bound to repo.
func NewApp(repo *repository.Repository) *App {
	return &App{repo: repo}
}

// Handler returns the HTTP handler (router with CORS, recovery, routes).
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", a.handleQuery)
		r.Get("/correlation/cpg-node", a.handleLookupCPGNodeByASTID)
		r.Get("/correlation/function", a.handleLookupFunctionByASTID)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleQuery is the single egress surface for spec.md §4.9's structured
// query spec.
func (a *App) handleQuery(w http.ResponseWriter, r *http.Request) {
	var spec query.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "invalid query spec: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, qerr := query.Execute(a.repo, spec)
	if qerr != nil {
		http.Error(w, qerr.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, res)
}

// handleLookupCPGNodeByASTID implements spec.md §6's
// lookup_cpg_node_by_ast_id(ast_id) -> CPGNode | not_found.
func (a *App) handleLookupCPGNodeByASTID(w http.ResponseWriter, r *http.Request) {
	astID := r.URL.Query().Get("ast_id")
	if astID == "" {
		http.Error(w, "missing query parameter ast_id", http.StatusBadRequest)
		return
	}
	node, key, ok := a.repo.FindCPGNodeByASTID(astID)
	if !ok {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"function_key": key.String(), "node": node})
}

// handleLookupFunctionByASTID implements spec.md §6's
// lookup_function_by_ast_id(ast_id) -> FunctionKey | not_found.
func (a *App) handleLookupFunctionByASTID(w http.ResponseWriter, r *http.Request) {
	astID := r.URL.Query().Get("ast_id")
	if astID == "" {
		http.Error(w, "missing query parameter ast_id", http.StatusBadRequest)
		return
	}
	_, key, ok := a.repo.FindCPGNodeByASTID(astID)
	if !ok {
		http.Error(w, "not_found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"module": key.Module, "name": key.Name, "arity": key.Arity})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
