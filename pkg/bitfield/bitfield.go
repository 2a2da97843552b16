// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package bitfield provides the generic bit-range extraction and
// symbolic-table decoding primitives shared by every decoder in this
// repository: Extract, TestPrefix, BitfieldMsg, and the field-table and
// numeric-table walkers.
package bitfield

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antimetal/rasdaemon/pkg/errors"
)

// Extract returns bits [lo..=hi] of value, interpreted as unsigned. hi must
// be >= lo, and both must be in [0, 63].
func Extract(value uint64, lo, hi uint) (uint64, error) {
	if hi < lo || lo > 63 || hi > 63 {
		return 0, fmt.Errorf("%w: extract(lo=%d, hi=%d)", errors.New("invalid bit range"), lo, hi)
	}
	width := hi - lo + 1
	var mask uint64
	if width == 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << width) - 1
	}
	return (value >> lo) & mask, nil
}

// MustExtract is Extract without the error return, for table-driven callers
// that already validated lo/hi at table-construction time.
func MustExtract(value uint64, lo, hi uint) uint64 {
	v, err := Extract(value, lo, hi)
	if err != nil {
		panic(err)
	}
	return v
}

// TestPrefix reports whether (v >> n) == 1.
func TestPrefix(n uint, v uint64) bool {
	return (v >> n) == 1
}

// BitfieldMsg produces a comma-joined list of label strings for each bit i
// in status with i in [0, len(labels)) whose (1 << (i+offset)) bit is set
// and status & ignoreMask == 0. Missing labels (empty string) fall back to
// "BIT{i+offset}". maxLen bounds the output; once appending the next token
// would exceed it, the loop stops and the accumulated prefix is returned
// unchanged (truncation never splits a token).
func BitfieldMsg(labels []string, offset uint, ignoreMask uint64, status uint64, maxLen int) string {
	if status&ignoreMask != 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(labels); i++ {
		bit := uint64(1) << (uint(i) + offset)
		if status&bit == 0 {
			continue
		}
		tok := labels[i]
		if tok == "" {
			tok = fmt.Sprintf("BIT%d", uint(i)+offset)
		}
		add := tok
		if b.Len() > 0 {
			add = ", " + tok
		}
		if maxLen > 0 && b.Len()+len(add) > maxLen {
			break
		}
		b.WriteString(add)
	}
	return b.String()
}

// FieldTableEntry describes one sub-field of a status-like register: the
// start bit and a string table indexed by the extracted value.
type FieldTableEntry struct {
	StartBit uint
	Table    []string
}

// bitsFor returns the number of bits needed to represent values [0, n].
func bitsFor(n int) uint {
	if n <= 0 {
		return 1
	}
	bits := uint(0)
	for (1 << bits) <= n {
		bits++
	}
	return bits
}

// DecodeFieldTable walks fields, extracting v = (status >> StartBit) &
// ((1 << bitsFor(len(Table)-1)) - 1) for each, and appends Table[v] to the
// result when it is non-empty. A nonzero v with an empty label appends a
// "<StartBit:v>" placeholder instead; a zero index with no label is
// silently dropped (this is how "no error in this subfield" is encoded
// upstream). Values past the end of Table are skipped.
func DecodeFieldTable(status uint64, fields []FieldTableEntry) string {
	var parts []string
	for _, f := range fields {
		if len(f.Table) == 0 {
			continue
		}
		width := bitsFor(len(f.Table) - 1)
		mask := (uint64(1) << width) - 1
		v := (status >> f.StartBit) & mask
		if int(v) >= len(f.Table) {
			continue
		}
		s := f.Table[v]
		if v == 0 && s == "" {
			continue
		}
		if s == "" {
			s = fmt.Sprintf("<%d:%d>", f.StartBit, v)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// NumericFieldEntry describes a numeric sub-field rendered as "name: value".
type NumericFieldEntry struct {
	Lo, Hi uint
	Name   string
	Hex    bool // render value in hex rather than decimal
	Force  bool // emit even when value is zero
}

// DecodeNumericTable walks fields, extracting (status >> Lo) & ((1 <<
// (Hi-Lo+1)) - 1) for each, and emits "name: value" for any field whose
// value is nonzero or whose Force flag is set.
func DecodeNumericTable(status uint64, fields []NumericFieldEntry) string {
	var parts []string
	for _, f := range fields {
		v, err := Extract(status, f.Lo, f.Hi)
		if err != nil {
			continue
		}
		if v == 0 && !f.Force {
			continue
		}
		var val string
		if f.Hex {
			val = "0x" + strconv.FormatUint(v, 16)
		} else {
			val = strconv.FormatUint(v, 10)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", f.Name, val))
	}
	return strings.Join(parts, ", ")
}
