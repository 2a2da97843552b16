// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package mca

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/bitfield"
	"github.com/antimetal/rasdaemon/pkg/record"
)

const (
	k8ThresholdBase = 6
	k8ThresholdTop  = k8ThresholdBase + 6*9
)

var k8Banks = []string{
	"data cache",
	"instruction cache",
	"bus unit",
	"load/store unit",
	"northbridge",
	"fixed-issue reorder",
}

var k8Transaction = []string{"instruction", "data", "generic", "reserved"}
var k8CacheLevel = []string{"0", "1", "2", "generic"}
var k8MemTrans = []string{
	"generic error", "generic read", "generic write", "data read",
	"data write", "instruction fetch", "prefetch", "evict", "snoop",
	"?", "?", "?", "?", "?", "?", "?",
}
var k8PartProc = []string{
	"local node origin", "local node response",
	"local node observed", "generic participation",
}
var k8Timeout = []string{"request didn't time out", "request timed out"}
var k8MemoryIO = []string{"memory", "res.", "i/o", "generic"}

// k8NBExtendedErr mirrors nbextendederr in mce-amd-k8.c. The two trailing
// entries (0xa, 0xb) are also treated as link conditions by this decoder's
// northbridge sub-decode, extending beyond the original's exterrcode ∈
// {1,2,3,4,6} link-number case so link-condition errors always surface the
// offending link number.
var k8NBExtendedErr = []string{
	"RAM ECC error",
	"CRC error",
	"Sync error",
	"Master abort",
	"Target abort",
	"GART error",
	"RMW error",
	"Watchdog error",
	"RAM Chipkill ECC error",
	"DEV Error",
	"Link Data Error",
	"Link Protocol Error",
	"NB Array Error",
	"DRAM Parity Error",
	"Link Retry",
	"Table Walk Data Error",
	"L3 Cache Data Error",
	"L3 Cache Tag Error",
	"L3 Cache LRU Error",
}

var k8HighBits = func() []string {
	labels := make([]string, 32)
	labels[31] = "valid"
	labels[30] = "error overflow (multiple errors)"
	labels[29] = "error uncorrected"
	labels[28] = "error enable"
	labels[27] = "misc error valid"
	labels[26] = "error address valid"
	labels[25] = "processor context corrupt"
	labels[14] = "corrected ecc error"
	labels[13] = "uncorrected ecc error"
	labels[11] = "L3 subcache in error bit 1"
	labels[10] = "L3 subcache in error bit 0"
	labels[9] = "sublink or DRAM channel"
	labels[8] = "error found by scrub"
	labels[3] = "err cpu3"
	labels[2] = "err cpu2"
	labels[1] = "err cpu1"
	labels[0] = "err cpu0"
	return labels
}()

const k8IgnoreHighBits = (uint64(1) << 31) | (uint64(1) << 28) | (uint64(1) << 26)

// decodeAMDK8 ports parse_amd_k8_event: bank-keyed dispatch for the
// original AMD K8 (family 0Fh) MCA layout. For GART errors on bank 4 the
// K8-specific decode is skipped (no bank name, no error text); the record
// still carries the generic architectural decode and is not dropped.
func decodeAMDK8(in Input, rec *record.MachineCheck) error {
	status := in.Status

	if in.Bank == 4 {
		exterrcode := bitfield.MustExtract(status, 16, 19)
		if exterrcode == 5 && status&(uint64(1)<<61) != 0 {
			return nil
		}
	}

	rec.BankName = k8BankName(in.Bank)

	switch {
	case in.Bank == 0:
		k8DecodeDC(status, rec)
		k8DecodeGenericErrcode(status, rec)
	case in.Bank == 1:
		k8DecodeIC(status, rec)
		k8DecodeGenericErrcode(status, rec)
	case in.Bank == 2:
		k8DecodeBU(status, rec)
		k8DecodeGenericErrcode(status, rec)
	case in.Bank == 3:
		k8DecodeGenericErrcode(status, rec)
	case in.Bank == 4:
		k8DecodeNB(status, rec)
		k8DecodeGenericErrcode(status, rec)
	case in.Bank == 5:
		k8DecodeGenericErrcode(status, rec)
	case in.Bank >= k8ThresholdBase && in.Bank <= k8ThresholdTop:
		if in.Misc&mciThresholdOver != 0 {
			rec.ErrorMsg = appendMsg(rec.ErrorMsg, "Threshold error count overflow")
		}
	default:
		rec.ErrorMsg = "Don't know how to decode this bank"
	}

	return nil
}

func k8BankName(bank int) string {
	switch {
	case bank < len(k8Banks):
		return fmt.Sprintf("%s (bank=%d)", k8Banks[bank], bank)
	case bank >= k8ThresholdBase && bank <= k8ThresholdTop:
		return fmt.Sprintf("threshold counter (bank=%d)", bank)
	default:
		return ""
	}
}

func k8DecodeGenericErrcode(status uint64, rec *record.MachineCheck) {
	errcode := uint16(status & 0xffff)

	msg := bitfield.BitfieldMsg(k8HighBits, 32, k8IgnoreHighBits, status, 0)
	if msg != "" {
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, "("+msg+")")
	}

	switch {
	case errcode&0xfff0 == 0x0010:
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"LB error '%s transaction, level %s'",
			k8Transaction[(errcode>>2)&3], k8CacheLevel[errcode&3]))
	case errcode&0xff00 == 0x0100:
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"memory/cache error '%s mem transaction, %s transaction, level %s'",
			k8MemTrans[(errcode>>4)&0xf], k8Transaction[(errcode>>2)&3], k8CacheLevel[errcode&3]))
	case errcode&0xf800 == 0x0800:
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"bus error '%s, %s: %s mem transaction, %s access, level %s'",
			k8PartProc[(errcode>>9)&0x3], k8Timeout[(errcode>>8)&1],
			k8MemTrans[(errcode>>4)&0xf], k8MemoryIO[(errcode>>2)&0x3], k8CacheLevel[errcode&0x3]))
	}
}

func k8DecodeDC(status uint64, rec *record.MachineCheck) {
	exterrcode := bitfield.MustExtract(status, 16, 19)
	errcode := uint16(status & 0xffff)

	if status&(uint64(3)<<45) != 0 {
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"Data cache ECC error (syndrome %x)", bitfield.MustExtract(status, 47, 54)))
		if status&(uint64(1)<<40) != 0 {
			rec.ErrorMsg = appendMsg(rec.ErrorMsg, "found by scrubber")
		}
	}
	if errcode&0xfff0 == 0x0010 {
		arr := "physical"
		if exterrcode != 0 {
			arr = "virtual"
		}
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf("TLB parity error in %s array", arr))
	}
}

func k8DecodeIC(status uint64, rec *record.MachineCheck) {
	exterrcode := bitfield.MustExtract(status, 16, 19)
	errcode := uint16(status & 0xffff)

	if status&(uint64(3)<<45) != 0 {
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, "Instruction cache ECC error")
	}
	if errcode&0xfff0 == 0x0010 {
		arr := "physical"
		if exterrcode != 0 {
			arr = "virtual"
		}
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf("TLB parity error in %s array", arr))
	}
}

func k8DecodeBU(status uint64, rec *record.MachineCheck) {
	exterrcode := bitfield.MustExtract(status, 16, 19)

	if status&(uint64(3)<<45) != 0 {
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, "L2 cache ECC error")
	}
	arr := "Bus or cache"
	if exterrcode != 0 {
		arr = "Cache tag"
	}
	rec.ErrorMsg = appendMsg(rec.ErrorMsg, arr+" array error")
}

func k8DecodeNB(status uint64, rec *record.MachineCheck) {
	exterrcode := bitfield.MustExtract(status, 16, 19)
	if exterrcode >= uint64(len(k8NBExtendedErr)) {
		return
	}

	rec.ErrorMsg = appendMsg(rec.ErrorMsg, "Northbridge "+k8NBExtendedErr[exterrcode])

	switch exterrcode {
	case 0:
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"ECC syndrome = %x", bitfield.MustExtract(status, 47, 54)))
	case 8:
		hi := bitfield.MustExtract(status, 24, 31)
		lo := bitfield.MustExtract(status, 47, 54)
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"Chipkill ECC syndrome = %x", (hi<<8)|lo))
	case 1, 2, 3, 4, 6, 0xa, 0xb:
		rec.ErrorMsg = appendMsg(rec.ErrorMsg, fmt.Sprintf(
			"link number = %x", bitfield.MustExtract(status, 36, 39)))
	}
}
