// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package store implements the daemon's persistence façade on top of
// badger: reference-counted open/close so the fallback ingestion mode
// can call Open/Close once per cooperative task, lazy per-table
// registration with column-set growth standing in for a SQL ALTER
// TABLE step, and an auto-increment id plus timestamp column on every
// row, backed by badger.DB transactions and sequences.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/antimetal/rasdaemon/pkg/errors"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

const sequenceBandwidth = 100

// TableDescriptor declares a table's known columns beyond the implicit
// id and timestamp columns every table carries.
type TableDescriptor struct {
	Name    string
	Columns []string
}

type tableState struct {
	columns map[string]struct{}
	seq     *badger.Sequence
}

// Facade is the persistence façade of §4.G. It is safe for concurrent
// use; Open/Close/RegisterVendorTable serialize through an internal
// mutex as required under the fallback ingestion mode, while Insert
// relies on badger's own transaction isolation.
type Facade struct {
	log logr.Logger
	dir string // "" selects an in-memory store

	mu     sync.Mutex
	db     *badger.DB
	refs   int
	tables map[string]*tableState
}

// New creates a Facade backed by a badger database rooted at dir, or an
// in-memory database when dir is empty.
func New(dir string, log logr.Logger) *Facade {
	return &Facade{
		log:    log.WithName("store"),
		dir:    dir,
		tables: make(map[string]*tableState),
	}
}

// Open is idempotent per process and reference-counted so the fallback
// ingestion mode (N cooperative tasks) can each call it safely; the
// underlying database is only opened on the first call and closed on
// the matching last Close.
func (f *Facade) Open(cpuHint int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refs == 0 {
		opts := badger.DefaultOptions(f.dir).WithLogger(nil)
		if f.dir == "" {
			opts = opts.WithInMemory(true)
		}
		db, err := badger.Open(opts)
		if err != nil {
			return fmt.Errorf("store: open: %w", err)
		}
		f.db = db
	}
	f.refs++
	return nil
}

// Close releases one reference; on the last release it finalizes every
// table's sequence and closes the underlying database.
func (f *Facade) Close(cpuHint int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refs == 0 {
		return nil
	}
	f.refs--
	if f.refs > 0 {
		return nil
	}

	for name, t := range f.tables {
		if err := t.seq.Release(); err != nil {
			f.log.Error(err, "failed to release table sequence", "table", name)
		}
	}
	f.tables = make(map[string]*tableState)

	err := f.db.Close()
	f.db = nil
	return err
}

// RegisterVendorTable creates a table if missing, otherwise merges any
// new columns declared in desc that were absent from the table's known
// column set — the KV-store analogue of ALTER TABLE ADD COLUMN, since
// badger rows are schemaless and a grown column set just means future
// rows may carry fields earlier rows don't.
func (f *Facade) RegisterVendorTable(desc TableDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerTableLocked(desc)
}

func (f *Facade) registerTableLocked(desc TableDescriptor) error {
	if f.db == nil {
		return fmt.Errorf("store: not open")
	}

	t, ok := f.tables[desc.Name]
	if !ok {
		seq, err := f.db.GetSequence([]byte("seq/"+desc.Name), sequenceBandwidth)
		if err != nil {
			return fmt.Errorf("store: register table %s: %w", desc.Name, err)
		}
		t = &tableState{columns: make(map[string]struct{}), seq: seq}
		f.tables[desc.Name] = t
	}
	for _, c := range desc.Columns {
		t.columns[c] = struct{}{}
	}
	return nil
}

// Insert binds rec's exported fields and writes one row to table,
// assigning the next auto-increment id and a timestamp column if rec
// did not already carry a non-zero one. Per-row failures are reported
// as errors.ErrPersistFailed and are never fatal to the caller's
// ingestion loop.
func (f *Facade) Insert(table string, rec any) error {
	f.mu.Lock()
	if f.db == nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: store not open", errors.ErrPersistFailed)
	}
	t, ok := f.tables[table]
	if !ok {
		if err := f.registerTableLocked(TableDescriptor{Name: table}); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("%w: %v", errors.ErrPersistFailed, err)
		}
		t = f.tables[table]
	}
	db := f.db
	f.mu.Unlock()

	id, err := t.seq.Next()
	if err != nil {
		return fmt.Errorf("%w: next id: %v", errors.ErrPersistFailed, err)
	}

	fields, err := toFieldMap(rec)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errors.ErrPersistFailed, err)
	}
	fields["id"] = id
	if ts, ok := fields["Timestamp"]; !ok || ts == "" || ts == "0001-01-01T00:00:00Z" {
		fields["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	} else {
		fields["timestamp"] = ts
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", errors.ErrPersistFailed, err)
	}

	key := rowKey(table, id)
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistFailed, err)
	}
	return nil
}

// InsertVendorFields is Insert for a vendor section-type row, merging
// extra vendor-specific fields (from a non-standard CPER decoder) into
// the generic record before storage and registering any new columns
// those fields introduce, per "lazily on first event of that vendor
// section-type."
func (f *Facade) InsertVendorFields(table string, rec any, extra map[string]any) error {
	if len(extra) > 0 {
		cols := make([]string, 0, len(extra))
		for k := range extra {
			cols = append(cols, k)
		}
		if err := f.RegisterVendorTable(TableDescriptor{Name: table, Columns: cols}); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrPersistFailed, err)
		}
	}

	base, err := toFieldMap(rec)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", errors.ErrPersistFailed, err)
	}
	for k, v := range extra {
		base[k] = v
	}
	return f.Insert(table, base)
}

func toFieldMap(rec any) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func rowKey(table string, id uint64) []byte {
	return []byte(fmt.Sprintf("row/%s/%020d", table, id))
}
