// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/go-logr/logr"
)

// RowSchema distinguishes the two location-tuple shapes §4.I parses out
// of a memory controller event's driver-detail string.
type RowSchema int

const (
	RowSchemaAPEI RowSchema = iota
	RowSchemaDSM
)

// RowLocation is the parsed row identity, populated according to Schema.
type RowLocation struct {
	Schema RowSchema

	// APEI 7-tuple
	Node, Card, Module, Rank, Device, Bank, Row int

	// DSM 9-tuple
	Socket, MemCtrl, Channel, Dimm, PhysRank, Chip, BankGroup, DSMBank, DSMRow int
}

func (l RowLocation) key() string {
	if l.Schema == RowSchemaAPEI {
		return fmt.Sprintf("apei:%d:%d:%d:%d:%d:%d:%d", l.Node, l.Card, l.Module, l.Rank, l.Device, l.Bank, l.Row)
	}
	return fmt.Sprintf("dsm:%d:%d:%d:%d:%d:%d:%d:%d:%d",
		l.Socket, l.MemCtrl, l.Channel, l.Dimm, l.PhysRank, l.Chip, l.BankGroup, l.DSMBank, l.DSMRow)
}

// ParseRowLocation recognizes one of the two driver-detail schemas
// named in §4.I, returning ok=false if neither anchor is present.
func ParseRowLocation(detail string) (RowLocation, bool) {
	if strings.Contains(detail, "APEI location") {
		var loc RowLocation
		loc.Schema = RowSchemaAPEI
		fields := map[string]*int{
			"node:": &loc.Node, "card:": &loc.Card, "module:": &loc.Module,
			"rank:": &loc.Rank, "device:": &loc.Device, "bank:": &loc.Bank, "row:": &loc.Row,
		}
		if !fillDecimalFields(detail, fields) {
			return RowLocation{}, false
		}
		return loc, true
	}
	if strings.Contains(detail, "ProcessorSocketId:") {
		var loc RowLocation
		loc.Schema = RowSchemaDSM
		fields := map[string]*int{
			"ProcessorSocketId:": &loc.Socket, "MemoryControllerId:": &loc.MemCtrl,
			"ChannelId:": &loc.Channel, "DimmSlotId:": &loc.Dimm, "PhysicalRankId:": &loc.PhysRank,
			"ChipId:": &loc.Chip, "BankGroup:": &loc.BankGroup, "Bank:": &loc.DSMBank, "Row:": &loc.DSMRow,
		}
		if !fillHexFields(detail, fields) {
			return RowLocation{}, false
		}
		return loc, true
	}
	return RowLocation{}, false
}

func fillDecimalFields(detail string, fields map[string]*int) bool {
	found := 0
	for anchor, dst := range fields {
		if v, ok := extractAfter(detail, anchor, 10); ok {
			*dst = v
			found++
		}
	}
	return found == len(fields)
}

func fillHexFields(detail string, fields map[string]*int) bool {
	found := 0
	for anchor, dst := range fields {
		if v, ok := extractAfter(detail, anchor, 16); ok {
			*dst = v
			found++
		}
	}
	return found == len(fields)
}

func extractAfter(detail, anchor string, base int) (int, bool) {
	idx := strings.Index(detail, anchor)
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(detail[idx+len(anchor):])
	rest = strings.TrimPrefix(rest, "0x")
	end := 0
	for end < len(rest) && isBaseDigit(rest[end], base) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(rest[:end], base, 64)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func isBaseDigit(c byte, base int) bool {
	switch base {
	case 10:
		return c >= '0' && c <= '9'
	case 16:
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
	return false
}

// RowPageAddr is one page sub-record within a row (§3.2).
type RowPageAddr struct {
	Addr     uint64
	Count    uint64
	Start    time.Time
	Offlined OfflineState
}

// RowRecord is one row's accumulated state, keyed by RowLocation.
type RowRecord struct {
	Location RowLocation
	Start    time.Time
	Count    uint64
	Pages    []*RowPageAddr
}

// RowEngine implements §4.I.
type RowEngine struct {
	cfg   config.EngineConfig
	off   Offliner
	log   logr.Logger
	clock Clock
	rows  map[string]*RowRecord
}

func NewRowEngine(cfg config.EngineConfig, off Offliner, log logr.Logger) *RowEngine {
	return &RowEngine{
		cfg:   cfg,
		off:   off,
		log:   log.WithName("row-engine"),
		clock: defaultClock,
		rows:  make(map[string]*RowRecord),
	}
}

// Record processes one matching corrected event's page address and
// count against the row it belongs to, per §4.I steps 1-4.
func (e *RowEngine) Record(loc RowLocation, addr uint64, count uint64) {
	now := e.clock()
	key := loc.key()
	row, ok := e.rows[key]
	if !ok {
		row = &RowRecord{Location: loc, Start: now}
		e.rows[key] = row
	}

	var page *RowPageAddr
	for _, p := range row.Pages {
		if p.Addr == addr {
			page = p
			break
		}
	}
	if page == nil {
		page = &RowPageAddr{Addr: addr, Start: now}
		row.Pages = append(row.Pages, page)
	}
	page.Count += count
	row.Count += count

	if e.cfg.Cycle > 0 && uint64(now.Sub(row.Start).Seconds()) > e.cfg.Cycle {
		e.trimExpired(row, now)
	}

	if row.Count >= e.cfg.Threshold {
		e.offlineRow(row)
	}
}

// trimExpired removes every page entry whose window has expired,
// reducing the row count correspondingly and rebasing row.Start to the
// earliest surviving page's start (or now if none survive).
func (e *RowEngine) trimExpired(row *RowRecord, now time.Time) {
	kept := row.Pages[:0]
	for _, p := range row.Pages {
		if uint64(now.Sub(p.Start).Seconds()) > e.cfg.Cycle {
			row.Count -= min(row.Count, p.Count)
			continue
		}
		kept = append(kept, p)
	}
	row.Pages = kept

	if len(row.Pages) == 0 {
		row.Start = now
		return
	}
	earliest := row.Pages[0].Start
	for _, p := range row.Pages[1:] {
		if p.Start.Before(earliest) {
			earliest = p.Start
		}
	}
	row.Start = earliest
}

// offlineRow iterates the row's page list, offlining each page not
// already offlined, with a small dedup buffer to avoid re-invoking the
// kernel for repeated addresses within the same call.
func (e *RowEngine) offlineRow(row *RowRecord) {
	seen := make(map[uint64]bool, len(row.Pages))
	for _, p := range row.Pages {
		if seen[p.Addr] {
			continue
		}
		seen[p.Addr] = true
		p.Offlined = offlineWithAction(e.off, e.cfg.Action, p.Addr, p.Offlined, e.log)
	}
}

// Get returns the row record for a location, for tests and introspection.
func (e *RowEngine) Get(loc RowLocation) (RowRecord, bool) {
	row, ok := e.rows[loc.key()]
	if !ok {
		return RowRecord{}, false
	}
	return *row, true
}

func (e *RowEngine) SetClock(c Clock) { e.clock = c }
