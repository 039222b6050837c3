// Package snapshot implements the optional persistence spec.md §6
// describes: "module records (including raw AST bytes)... indexes.
// Format is an implementation detail; round-trip equality of all
// queryable fields is the required property."
//
// Grounded on overkam-code-property-graph/db.go's WriteDB, scoped down
// from a dashboard-reporting schema (nodes/edges/metrics/sources tables
// plus a heuristic flow-semantics model) to the one table this engine's
// persistence contract actually needs: a module-keyed blob store good
// enough to reconstruct the Repository's primary record on load, since
// CFG/DFG/CPG are cheap to rebuild lazily (internal/repository's caching
// policy) and are not worth persisting. Uses the teacher's exact
// zombiezen.com/go/sqlite + sqlitex transaction idiom
// (OpenCreate|OpenReadWrite|OpenWAL, ImmediateTransaction, PRAGMA tuning).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/nshkrdotcom/cpgengine/internal/analyzer"
	"github.com/nshkrdotcom/cpgengine/internal/cpgerr"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
)

// Save serializes every live module's facts (spec.md §6 "module records,
// including raw AST bytes") to a SQLite file at path, overwriting any
// existing file.
func Save(repo *repository.Repository, path string) *cpgerr.Error {
	_ = os.Remove(path)

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "open sqlite", err)
	}
	defer func() { _ = conn.Close() }()

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA journal_mode = WAL",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "pragma", err)
		}
	}

	if err := sqlitex.ExecuteTransient(conn,
		`CREATE TABLE modules (
			name TEXT PRIMARY KEY,
			file_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			facts_json BLOB NOT NULL
		)`, nil); err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "create table", err)
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "begin tx", err)
	}

	for _, mf := range repo.AllModules() {
		blob, jerr := json.Marshal(mf)
		if jerr != nil {
			endFn(&jerr)
			return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path, Module: mf.Name}, "marshal module", jerr)
		}
		insertErr := sqlitex.Execute(conn,
			`INSERT INTO modules (name, file_path, content_hash, facts_json) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{mf.Name, mf.FilePath, mf.ContentHash, blob}})
		if insertErr != nil {
			endFn(&insertErr)
			return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path, Module: mf.Name}, "insert module", insertErr)
		}
	}

	endFn(&err)
	if err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "commit", err)
	}
	return nil
}

// Load reads every module record from a snapshot file produced by Save and
// puts each into repo, reconstructing the Repository's primary store and
// indexes (graphs rebuild lazily on first access, per internal/repository's
// caching policy).
func Load(repo *repository.Repository, path string) *cpgerr.Error {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "open sqlite", err)
	}
	defer func() { _ = conn.Close() }()

	var outerErr *cpgerr.Error
	qerr := sqlitex.Execute(conn, `SELECT facts_json FROM modules`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blobLen := stmt.ColumnLen(0)
			blob := make([]byte, blobLen)
			stmt.ColumnBytes(0, blob)

			var mf analyzer.ModuleFacts
			if err := json.Unmarshal(blob, &mf); err != nil {
				outerErr = cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "unmarshal module", err)
				return fmt.Errorf("unmarshal: %w", err)
			}
			if err := repo.PutModule(mf); err != nil {
				outerErr = cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path, Module: mf.Name}, "put_module", err)
				return err
			}
			return nil
		},
	})
	if qerr != nil && outerErr == nil {
		outerErr = cpgerr.Wrap(cpgerr.KindStorage, cpgerr.Locator{File: path}, "read modules", qerr)
	}
	return outerErr
}
