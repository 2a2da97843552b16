// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediation

import (
	"time"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/go-logr/logr"
)

// PageRecord is one page's accumulated corrected-error state, keyed by
// page-aligned physical address (§3.2).
type PageRecord struct {
	Start    time.Time
	Count    uint64
	Excess   uint64
	Offlined OfflineState
}

// PageEngine implements §4.H: a map of PageRecord keyed by
// page-aligned address, escalating to an offline request when the
// window count crosses the configured threshold.
type PageEngine struct {
	cfg    config.EngineConfig
	off    Offliner
	log    logr.Logger
	clock  Clock
	pages  map[uint64]*PageRecord
}

func NewPageEngine(cfg config.EngineConfig, off Offliner, log logr.Logger) *PageEngine {
	return &PageEngine{
		cfg:   cfg,
		off:   off,
		log:   log.WithName("page-engine"),
		clock: defaultClock,
		pages: make(map[uint64]*PageRecord),
	}
}

// Record processes one corrected memory-controller event carrying a
// usable address and event count. Callers should check cfg.Action !=
// off before calling to avoid needless accounting, but Record still
// no-ops safely if called with ActionOff since offlineWithAction
// short-circuits.
func (e *PageEngine) Record(addr uint64, count uint64) {
	if e.cfg.Action == config.ActionOff {
		return
	}

	now := e.clock()
	aligned := alignPage(addr)

	rec, ok := e.pages[aligned]
	if !ok {
		rec = &PageRecord{Start: now}
		e.pages[aligned] = rec
	}

	if e.cfg.Cycle > 0 {
		elapsed := uint64(now.Sub(rec.Start).Seconds())
		if elapsed >= e.cfg.Cycle {
			periods := elapsed / e.cfg.Cycle
			decay := periods * e.cfg.Threshold
			if decay > rec.Count {
				decay = rec.Count
			}
			rec.Count -= decay
			rec.Start = now
			rec.Excess = 0
		}
	}

	rec.Count += count

	if rec.Count >= e.cfg.Threshold {
		rec.Excess += rec.Count
		rec.Count = 0
		e.offlinePage(aligned, rec)
	}
}

func (e *PageEngine) offlinePage(addr uint64, rec *PageRecord) {
	rec.Offlined = offlineWithAction(e.off, e.cfg.Action, addr, rec.Offlined, e.log)
}

// Get returns the current record for a page-aligned address, for tests
// and introspection.
func (e *PageEngine) Get(addr uint64) (PageRecord, bool) {
	rec, ok := e.pages[alignPage(addr)]
	if !ok {
		return PageRecord{}, false
	}
	return *rec, true
}

// TriggerHardwareThreshold implements ras_hw_threshold_pageoffline:
// decoders that observe a firmware-declared threshold breach (CXL DRAM
// events with the threshold bit set and uncorrectable bit clear)
// synthesize a single event with count == threshold at the current
// wall-clock, forcing an immediate offline attempt regardless of the
// page's existing window state.
func (e *PageEngine) TriggerHardwareThreshold(addr uint64) {
	if e.cfg.Action == config.ActionOff {
		return
	}
	e.Record(addr, e.cfg.Threshold)
}

// SetClock overrides the engine's time source, for deterministic tests.
func (e *PageEngine) SetClock(c Clock) { e.clock = c }
