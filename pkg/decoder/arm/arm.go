// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package arm decodes ARM processor-error CPER events: a record-level
// summary (affinity, MPIDR, MIDR, running/PSCI state) plus zero or more
// fixed-size Processor Error Information entries.
package arm

import (
	"encoding/binary"
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

// Type is a bitset over the four ARM processor error categories.
type Type uint8

const (
	TypeCache  Type = 1 << 1
	TypeTLB    Type = 1 << 2
	TypeBus    Type = 1 << 3
	TypeVendor Type = 1 << 4
)

const (
	validErrorCount = uint16(1) << 0
	validFlags      = uint16(1) << 1
	validErrInfo    = uint16(1) << 2
	validVirtAddr   = uint16(1) << 3
	validPhysAddr   = uint16(1) << 4
)

var typeStrs = []string{"", "cache error", "TLB error", "bus error", "micro-architectural error"}
var flagStrs = []string{"first error", "last error", "propagated error", "overflow"}
var transStrs = []string{"Instruction", "Data Access", "Generic"}
var busOpStrs = []string{
	"Generic error (type cannot be determined)",
	"Generic read (type of instruction or data request cannot be determined)",
	"Generic write (type of instruction of data request cannot be determined)",
	"Data read", "Data write", "Instruction fetch", "Prefetch",
}
var cacheOpStrs = []string{
	"Generic error (type cannot be determined)",
	"Generic read (type of instruction or data request cannot be determined)",
	"Generic write (type of instruction of data request cannot be determined)",
	"Data read", "Data write", "Instruction fetch", "Prefetch", "Eviction",
	"Snooping (processor initiated a cache snoop that resulted in an error)",
	"Snooped (processor raised a cache error caused by another processor or device snooping its cache)",
	"Management",
}
var tlbOpStrs = []string{
	"Generic error (type cannot be determined)",
	"Generic read (type of instruction or data request cannot be determined)",
	"Generic write (type of instruction of data request cannot be determined)",
	"Data read", "Data write", "Instruction fetch", "Prefetch",
	"Local management operation (processor initiated a TLB management operation that resulted in an error)",
	"External management operation (processor raised a TLB error caused by another processor or device broadcasting TLB operations)",
}
var partTypeStrs = []string{
	"Local processor originated request", "Local processor responded to request",
	"Local processor observed", "Generic",
}
var addrSpaceStrs = []string{"External Memory Access", "Internal Memory Access", "Unknown", "Device Memory Access"}

// PEIEntry is one fixed-size Processor Error Information record, per
// UEFI's ARM Processor Error Section format.
type PEIEntry struct {
	Version          uint8
	Length           uint8
	ValidationBits   uint16
	Type             Type
	MultipleError    uint16
	Flags            uint8
	ErrorInfo        uint64
	VirtFaultAddr    uint64
	PhysicalFaultAddr uint64
}

const peiEntrySize = 1 + 1 + 2 + 1 + 2 + 1 + 8 + 8 + 8 // no padding assumed in wire layout; the real
// struct is packed and padded per arch ABI. Ingestion is responsible for
// presenting peiEntrySize-aligned buffers; ParsePEIEntries divides by this
// to derive the entry count as the kernel side does with pei_len.

// ParsePEIEntries decodes a flat byte buffer into PEIEntry records.
func ParsePEIEntries(buf []byte) ([]PEIEntry, error) {
	if len(buf)%peiEntrySize != 0 {
		return nil, fmt.Errorf("arm: pei buffer length %d is not a multiple of entry size %d", len(buf), peiEntrySize)
	}
	n := len(buf) / peiEntrySize
	out := make([]PEIEntry, 0, n)
	for i := 0; i < n; i++ {
		b := buf[i*peiEntrySize:]
		e := PEIEntry{
			Version:        b[0],
			Length:         b[1],
			ValidationBits: binary.LittleEndian.Uint16(b[2:4]),
			Type:           Type(b[4]),
			MultipleError:  binary.LittleEndian.Uint16(b[5:7]),
			Flags:          b[7],
		}
		e.ErrorInfo = binary.LittleEndian.Uint64(b[8:16])
		e.VirtFaultAddr = binary.LittleEndian.Uint64(b[16:24])
		e.PhysicalFaultAddr = binary.LittleEndian.Uint64(b[24:32])
		out = append(out, e)
	}
	return out, nil
}

func decodeBits(value uint64, labels []string) string {
	var msg string
	for bit := 0; bit < len(labels); bit++ {
		if value&(1<<uint(bit)) != 0 && labels[bit] != "" {
			if msg != "" {
				msg += " "
			}
			msg += labels[bit]
		}
	}
	return msg
}

// Decode fills a record.ArmProcessorError from the raw trace fields and
// the parsed PEI entries.
func Decode(affinity int8, mpidr, midr uint64, runningState, psciState int32, entries []PEIEntry) record.ArmProcessorError {
	var rec record.ArmProcessorError
	rec.Affinity = affinity
	rec.MPIDR = mpidr
	rec.MIDR = midr
	rec.RunningState = runningState
	rec.PSCIState = psciState

	if len(entries) == 0 {
		return rec
	}

	e := entries[0]
	rec.ErrorCount = 1
	rec.ErrorTypes = decodeBits(uint64(e.Type), typeStrs)

	if e.ValidationBits&validErrorCount != 0 {
		rec.ErrorCount = int(e.MultipleError) + 1
	}
	if e.ValidationBits&validFlags != 0 {
		rec.ErrorFlags = decodeBits(uint64(e.Flags), flagStrs)
	}
	if e.ValidationBits&validErrInfo != 0 {
		rec.ErrorInfo = decodeErrInfo(e.Type, e.ErrorInfo)
	}
	if e.ValidationBits&validVirtAddr != 0 {
		rec.VirtFaultAddr = e.VirtFaultAddr
	}
	if e.ValidationBits&validPhysAddr != 0 {
		rec.PhysFaultAddr = e.PhysicalFaultAddr
	}

	return rec
}

// decodeErrInfo ports parse_arm_err_info's field-by-field decode of the
// 64-bit error_info value, gated by its own per-field validity bits.
func decodeErrInfo(t Type, info uint64) string {
	if t&TypeVendor != 0 {
		return ""
	}

	var msg string
	add := func(s string) {
		if msg != "" {
			msg += " "
		}
		msg += s
	}

	if info&(1<<0) != 0 {
		transType := (info >> 16) & 0x3
		if int(transType) < len(transStrs) {
			add("transaction type:" + transStrs[transType])
		}
	}
	if info&(1<<1) != 0 {
		opType := (info >> 18) & 0xf
		switch {
		case t&TypeCache != 0 && int(opType) < len(cacheOpStrs):
			add("cache error, operation type:" + cacheOpStrs[opType])
		case t&TypeTLB != 0 && int(opType) < len(tlbOpStrs):
			add("TLB error, operation type: " + tlbOpStrs[opType])
		case t&TypeBus != 0 && int(opType) < len(busOpStrs):
			add("bus error, operation type: " + busOpStrs[opType])
		}
	}
	if info&(1<<2) != 0 {
		level := (info >> 22) & 0x7
		switch {
		case t&TypeCache != 0:
			add(fmt.Sprintf("cache level: %d", level))
		case t&TypeTLB != 0:
			add(fmt.Sprintf("TLB level: %d", level))
		case t&TypeBus != 0:
			add(fmt.Sprintf("affinity level at which the bus error occurred: %d", level))
		}
	}
	if info&(1<<3) != 0 {
		if (info>>25)&1 != 0 {
			add("processor context corrupted")
		} else {
			add("processor context not corrupted")
		}
	}
	if info&(1<<4) != 0 {
		if (info>>26)&1 != 0 {
			add("the error has been corrected")
		} else {
			add("the error has not been corrected")
		}
	}
	if info&(1<<5) != 0 {
		if (info>>27)&1 != 0 {
			add("PC is precise")
		} else {
			add("PC is imprecise")
		}
	}
	if info&(1<<6) != 0 && (info>>28)&1 != 0 {
		add("Program execution can be restartable reliably at the PC")
	}

	if t != TypeBus {
		return msg
	}

	if info&(1<<7) != 0 {
		pt := (info >> 29) & 0x3
		if int(pt) < len(partTypeStrs) {
			add("participation type: " + partTypeStrs[pt])
		}
	}
	if info&(1<<8) != 0 && (info>>31)&1 != 0 {
		add("request timed out")
	}
	if info&(1<<9) != 0 {
		as := (info >> 32) & 0x3
		if int(as) < len(addrSpaceStrs) {
			add("address space: " + addrSpaceStrs[as])
		}
	}
	if info&(1<<10) != 0 {
		attrs := (info >> 34) & 0x1ff
		add(fmt.Sprintf("memory access attributes:0x%x", attrs))
	}
	if info&(1<<11) != 0 {
		if (info>>43)&1 != 0 {
			add("access mode: normal")
		} else {
			add("access mode: secure")
		}
	}

	return msg
}
