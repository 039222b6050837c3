// Package syncer implements the Synchronizer (C8, spec.md §4.8):
// incremental repository consistency in response to a batch of file
// change events.
//
// The teacher has no watch mode (overkam-code-property-graph/main.go
// always does a single full pass), so this package has no direct teacher
// analog; it is built fresh against spec.md §4.8 using the same
// ident/analyzer/ingress/repository collaborators the Populator (C7) uses.
// It runs its own copy of the single-file read -> parse -> analyze -> put
// steps; it does not call into internal/populator.
package syncer

import (
	"context"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/ident"
	"github.com/nshkrdotcom/cpgengine/internal/ingress"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// EventKind is one of the four change kinds spec.md §4.8 names.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
	EventRenamed  EventKind = "renamed"
)

// Event is spec.md §4.8's FileChangeEvent.
type Event struct {
	Path    string
	Kind    EventKind
	OldPath string
}

// Resolution is the per-event outcome recorded in a BatchResult.
type Resolution string

const (
	ResolutionCreated   Resolution = "created"
	ResolutionModified  Resolution = "modified"
	ResolutionUnchanged Resolution = "unchanged"
	ResolutionDeleted   Resolution = "deleted"
	ResolutionRenamed   Resolution = "renamed"
	ResolutionNoop      Resolution = "noop"
)

// EventResult records one event's outcome.
type EventResult struct {
	Event      Event
	Resolution Resolution
	Err        *cpgerr.Error
}

// BatchResult is spec.md §4.8's sync(events) -> BatchResult.
type BatchResult struct {
	Results []EventResult
}

// Synchronizer applies change-event batches to a Repository.
type Synchronizer struct {
	repo   *repository.Repository
	parser ingress.ASTParser
}

// New constructs a Synchronizer over the same read -> parse -> analyze ->
// put_module single-file pipeline the Populator (C7) runs per file.
func New(repo *repository.Repository, parser ingress.ASTParser) *Synchronizer {
	return &Synchronizer{repo: repo, parser: parser}
}

// Sync implements spec.md §4.8's sync(events). Events within one batch are
// applied in arrival order after same-file collapsing (spec.md §4.8
// "Ordering").
func (s *Synchronizer) Sync(ctx context.Context, events []Event, idStrategy config.IDStrategy) BatchResult {
	events = collapse(events)

	var out BatchResult
	for _, ev := range events {
		out.Results = append(out.Results, s.apply(ctx, ev, idStrategy))
	}
	return out
}

// collapse implements spec.md §4.8's same-file collapsing: create+delete
// within a batch nets to a noop; repeated modifies keep only the latest.
func collapse(events []Event) []Event {
	type slot struct {
		ev      Event
		created bool
		deleted bool
	}
	order := make([]string, 0, len(events))
	byPath := map[string]*slot{}

	for _, ev := range events {
		key := ev.Path
		sl, ok := byPath[key]
		if !ok {
			sl = &slot{}
			byPath[key] = sl
			order = append(order, key)
		}
		switch ev.Kind {
		case EventCreated:
			sl.created = true
			sl.deleted = false
			sl.ev = ev
		case EventDeleted:
			sl.deleted = true // after a create, create+delete nets to noop, signaled below
			sl.ev = ev
		default:
			sl.ev = ev
		}
	}

	out := make([]Event, 0, len(events))
	for _, key := range order {
		sl := byPath[key]
		if sl.created && sl.deleted {
			continue // net effect: noop
		}
		out = append(out, sl.ev)
	}
	return out
}

func (s *Synchronizer) apply(ctx context.Context, ev Event, idStrategy config.IDStrategy) EventResult {
	switch ev.Kind {
	case EventCreated:
		return s.applyCreatedOrModified(ctx, ev, idStrategy, ResolutionCreated)
	case EventModified:
		return s.applyModified(ctx, ev, idStrategy)
	case EventDeleted:
		return s.applyDeleted(ev)
	case EventRenamed:
		delRes := s.applyDeleted(Event{Path: ev.OldPath, Kind: EventDeleted})
		createRes := s.applyCreatedOrModified(ctx, Event{Path: ev.Path, Kind: EventCreated}, idStrategy, ResolutionRenamed)
		if delRes.Err != nil {
			return delRes
		}
		return createRes
	default:
		return EventResult{Event: ev, Err: cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{File: ev.Path}, "unknown event kind")}
	}
}

func (s *Synchronizer) applyCreatedOrModified(ctx context.Context, ev Event, idStrategy config.IDStrategy, resolution Resolution) EventResult {
	src, rerr := ingress.Read(ev.Path)
	if rerr != nil {
		return EventResult{Event: ev, Err: rerr}
	}
	moduleAST, moduleName, perr := s.parser.Parse(ctx, src, ev.Path)
	if perr != nil {
		return EventResult{Event: ev, Err: perr}
	}
	hash := ingress.ContentHash(src)
	mf, _ := analyzer.AnalyzeModule(moduleAST, moduleName, ev.Path, hash, ident.Context{Strategy: idStrategy})
	if err := s.repo.PutModule(mf); err != nil {
		return EventResult{Event: ev, Err: cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{File: ev.Path}, "put_module failed")}
	}
	return EventResult{Event: ev, Resolution: resolution}
}

// applyModified implements spec.md §4.8's modified-event hash-gated
// resolution: unchanged content is a no-op; a module-name change deletes
// the old module and puts the new one, recording a rename.
func (s *Synchronizer) applyModified(ctx context.Context, ev Event, idStrategy config.IDStrategy) EventResult {
	src, rerr := ingress.Read(ev.Path)
	if rerr != nil {
		return EventResult{Event: ev, Err: rerr}
	}
	newHash := ingress.ContentHash(src)

	oldModuleName, hadModule := s.repo.ModuleForFile(ev.Path)
	if hadModule {
		if mf, ok := s.repo.GetModule(oldModuleName); ok && mf.ContentHash == newHash {
			return EventResult{Event: ev, Resolution: ResolutionUnchanged}
		}
	}

	moduleAST, moduleName, perr := s.parser.Parse(ctx, src, ev.Path)
	if perr != nil {
		return EventResult{Event: ev, Err: perr}
	}
	mf, _ := analyzer.AnalyzeModule(moduleAST, moduleName, ev.Path, newHash, ident.Context{Strategy: idStrategy})

	if hadModule && oldModuleName != moduleName {
		_ = s.repo.DeleteModule(oldModuleName)
		if err := s.repo.PutModule(mf); err != nil {
			return EventResult{Event: ev, Err: cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{File: ev.Path}, "put_module failed")}
		}
		return EventResult{Event: ev, Resolution: ResolutionRenamed}
	}

	if err := s.repo.PutModule(mf); err != nil {
		return EventResult{Event: ev, Err: cpgerr.New(cpgerr.KindStorage, cpgerr.Locator{File: ev.Path}, "put_module failed")}
	}
	return EventResult{Event: ev, Resolution: ResolutionModified}
}

// applyDeleted implements spec.md §4.8's deleted-event resolution via the
// file_path -> module index.
func (s *Synchronizer) applyDeleted(ev Event) EventResult {
	name, ok := s.repo.ModuleForFile(ev.Path)
	if !ok {
		return EventResult{Event: ev, Resolution: ResolutionNoop}
	}
	_ = s.repo.DeleteModule(name)
	return EventResult{Event: ev, Resolution: ResolutionDeleted}
}
