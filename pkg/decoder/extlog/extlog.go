// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package extlog decodes the kernel's extended-error-log memory event.
// The event carries a UEFI CPER memory error section compacted into a
// fixed-width record; this package implements its validation-bit-gated
// field decode and the err_type/err_severity/err_mask lookup tables.
package extlog

import (
	"encoding/binary"
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

var errTypes = []string{
	"unknown", "no error", "single-bit ECC", "multi-bit ECC",
	"single-symbol chipkill ECC", "multi-symbol chipkill ECC",
	"master abort", "target abort", "parity error", "watchdog timeout",
	"invalid address", "mirror Broken", "memory sparing",
	"scrub corrected error", "scrub uncorrected error",
	"physical memory map-out event",
}

func errType(etype int8) string {
	if int(etype) >= 0 && int(etype) < len(errTypes) {
		return errTypes[etype]
	}
	return "unknown-type"
}

var errSeverities = []string{"recoverable", "fatal", "corrected", "informational"}

func errSeverity(sev int8) string {
	if int(sev) >= 0 && int(sev) < len(errSeverities) {
		return errSeverities[sev]
	}
	return "unknown-severity"
}

// errMask ports err_mask: lsb==0xff means every bit is significant,
// otherwise the low lsb bits are masked out of the physical address.
func errMask(lsb int8) uint64 {
	if lsb == -1 || uint8(lsb) == 0xff {
		return ^uint64(0)
	}
	return ^((uint64(1) << uint(lsb)) - 1)
}

const (
	validNode         = uint64(0x0008)
	validCard         = uint64(0x0010)
	validModule       = uint64(0x0020)
	validBank         = uint64(0x0040)
	validDevice       = uint64(0x0080)
	validRow          = uint64(0x0100)
	validColumn       = uint64(0x0200)
	validBitPosition  = uint64(0x0400)
	validRequestorID  = uint64(0x0800)
	validResponderID  = uint64(0x1000)
	validTargetID     = uint64(0x2000)
	validRankNumber   = uint64(0x8000)
	validCardHandle   = uint64(0x10000)
	validModuleHandle = uint64(0x20000)
)

// cperMemErrCompact mirrors struct cper_mem_err_compact's wire layout.
type cperMemErrCompact struct {
	ValidationBits uint64
	Node           uint16
	Card           uint16
	Module         uint16
	Bank           uint16
	Device         uint16
	Row            uint16
	Column         uint16
	BitPos         uint16
	RequestorID    uint64
	ResponderID    uint64
	TargetID       uint64
	Rank           uint16
	MemArrayHandle uint16
	MemDevHandle   uint16
}

func parseCperMemErrCompact(data []byte) (cperMemErrCompact, bool) {
	var c cperMemErrCompact
	if len(data) < 8 {
		return c, false
	}
	c.ValidationBits = binary.LittleEndian.Uint64(data[0:8])
	read16 := func(off int) uint16 {
		if off+2 > len(data) {
			return 0
		}
		return binary.LittleEndian.Uint16(data[off : off+2])
	}
	read64 := func(off int) uint64 {
		if off+8 > len(data) {
			return 0
		}
		return binary.LittleEndian.Uint64(data[off : off+8])
	}
	c.Node = read16(8)
	c.Card = read16(10)
	c.Module = read16(12)
	c.Bank = read16(14)
	c.Device = read16(16)
	c.Row = read16(18)
	c.Column = read16(20)
	c.BitPos = read16(22)
	c.RequestorID = read64(24)
	c.ResponderID = read64(32)
	c.TargetID = read64(40)
	c.Rank = read16(48)
	c.MemArrayHandle = read16(50)
	c.MemDevHandle = read16(52)
	return c, true
}

// decodeCperData ports err_cper_data's validation-bit-gated rendering of
// the compacted CPER memory error section into a parenthesized detail
// string, or "" when validation_bits is zero.
func decodeCperData(data []byte) string {
	c, ok := parseCperMemErrCompact(data)
	if !ok || c.ValidationBits == 0 {
		return ""
	}

	msg := "("
	add := func(format string, args ...any) {
		msg += fmt.Sprintf(format, args...)
	}
	if c.ValidationBits&validNode != 0 {
		add("node: %d ", c.Node)
	}
	if c.ValidationBits&validCard != 0 {
		add("card: %d ", c.Card)
	}
	if c.ValidationBits&validModule != 0 {
		add("module: %d ", c.Module)
	}
	if c.ValidationBits&validBank != 0 {
		add("bank: %d ", c.Bank)
	}
	if c.ValidationBits&validDevice != 0 {
		add("device: %d ", c.Device)
	}
	if c.ValidationBits&validRow != 0 {
		add("row: %d ", c.Row)
	}
	if c.ValidationBits&validColumn != 0 {
		add("column: %d ", c.Column)
	}
	if c.ValidationBits&validBitPosition != 0 {
		add("bit_pos: %d ", c.BitPos)
	}
	if c.ValidationBits&validRequestorID != 0 {
		add("req_id: 0x%x ", c.RequestorID)
	}
	if c.ValidationBits&validResponderID != 0 {
		add("resp_id: 0x%x ", c.ResponderID)
	}
	if c.ValidationBits&validTargetID != 0 {
		add("tgt_id: 0x%x ", c.TargetID)
	}
	if c.ValidationBits&validRankNumber != 0 {
		add("rank: %d ", c.Rank)
	}
	if c.ValidationBits&validCardHandle != 0 {
		add("card_handle: %d ", c.MemArrayHandle)
	}
	if c.ValidationBits&validModuleHandle != 0 {
		add("module_handle: %d ", c.MemDevHandle)
	}
	if len(msg) > 1 && msg[len(msg)-1] == ' ' {
		msg = msg[:len(msg)-1]
	}
	return msg + ")"
}

// fruUUID ports uuid_le's mixed-endian UUID rendering of a 16-byte GUID.
func fruUUID(fruID []byte) string {
	if len(fruID) < 16 {
		return ""
	}
	order := [16]int{3, 2, 1, 0, 5, 4, 7, 6, 8, 9, 10, 11, 12, 13, 14, 15}
	var out [36]byte
	pos := 0
	for i, idx := range order {
		hi, lo := hexDigit(fruID[idx]>>4), hexDigit(fruID[idx]&0xf)
		out[pos] = hi
		out[pos+1] = lo
		pos += 2
		switch i {
		case 3, 5, 7, 9:
			out[pos] = '-'
			pos++
		}
	}
	return string(out[:])
}

func hexDigit(v byte) byte {
	const digits = "0123456789abcdef"
	return digits[v&0xf]
}

// Input is the raw trace-event payload for mce_extended_log_mem_error.
type Input struct {
	ErrorSeq  int32
	EType     int8
	Severity  int8
	Address   uint64
	PAMaskLSB int8
	CPERData  []byte
	FRUText   string
	FRUID     []byte
}

// Decode fills rec from in, ported from report_extlog_mem_event.
func Decode(in Input) record.ExtLogMemory {
	return record.ExtLogMemory{
		ErrorSeq:  in.ErrorSeq,
		EType:     in.EType,
		Severity:  in.Severity,
		Address:   in.Address,
		PAMaskLSB: in.PAMaskLSB,
		CPERData:  in.CPERData,
		FRUID:     fruUUID(in.FRUID),
		FRUText:   in.FRUText,
	}
}

// Message renders the full human-readable report line, combining
// severity, type, address, mask, and CPER detail exactly as
// report_extlog_mem_event does.
func Message(in Input) string {
	return fmt.Sprintf("%d %s error: %s physical addr: 0x%x mask: 0x%x%s %s %s",
		in.ErrorSeq, errSeverity(in.Severity), errType(in.EType), in.Address,
		errMask(in.PAMaskLSB), decodeCperData(in.CPERData), in.FRUText, fruUUID(in.FRUID))
}
