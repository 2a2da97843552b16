// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package mca decodes machine-check architecture events into a
// record.MachineCheck's text fields, dispatching to a per-CPU-family
// sub-decoder selected by pkg/cputype. The generic architectural decoder
// in this file runs for every family, independent of the family-specific
// dispatch in amd_k8.go, amd_smca.go, and intel_skylakex.go.
package mca

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/bitfield"
	"github.com/antimetal/rasdaemon/pkg/cputype"
	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/antimetal/rasdaemon/pkg/record"
)

// MCG/MCI status register bits, per the x86 machine-check architecture.
const (
	mcgStatusRIPV = uint64(1) << 0
	mcgStatusEIPV = uint64(1) << 1
	mcgStatusMCIP = uint64(1) << 2

	mciStatusVAL       = uint64(1) << 63
	mciStatusOVER      = uint64(1) << 62
	mciStatusUC        = uint64(1) << 61
	mciStatusEN        = uint64(1) << 60
	mciStatusMiscV     = uint64(1) << 59
	mciStatusAddrV     = uint64(1) << 58
	mciStatusPCC       = uint64(1) << 57
	mciStatusPoison    = uint64(1) << 43
	mciThresholdOver   = uint64(1) << 48
)

// Input is the subset of a raw machine-check trace event the decoders
// consume.
type Input struct {
	MCGCap    uint64
	MCGStatus uint64
	Status    uint64
	Addr      uint64
	Misc      uint64
	IP        uint64
	Synd      uint64
	IPID      uint64
	CPU       int
	Bank      int
	CPUType   cputype.Type
}

// Decode fills in the text fields of rec from in, dispatching on
// in.CPUType for the family-specific portion and always running the
// generic architectural decode first.
func Decode(in Input, rec *record.MachineCheck) error {
	rec.MCGCap = in.MCGCap
	rec.MCGStatus = in.MCGStatus
	rec.Status = in.Status
	rec.Addr = in.Addr
	rec.Misc = in.Misc
	rec.IP = in.IP
	rec.CPU = in.CPU
	rec.Bank = in.Bank

	rec.MCGStatusMsg = decodeMCGStatus(in.MCGStatus)
	decodeGeneric(in, rec)

	switch in.CPUType {
	case cputype.TypeAMDK8:
		if err := decodeAMDK8(in, rec); err != nil {
			return err
		}
	case cputype.TypeAMDSMCA:
		decodeAMDSMCA(in, rec)
	case cputype.TypeSkylakeX, cputype.TypeIcelakeX, cputype.TypeIcelakeDE,
		cputype.TypeSapphireRapids, cputype.TypeGraniteRapids, cputype.TypeTremontD:
		decodeSkylakeX(in, rec)
	case cputype.TypeUnknown:
		return errors.ErrUnsupportedCpu
	default:
		// TypeGeneric and the remaining named families fall back to
		// architectural-only decoding: the generic pass above already
		// populated the record.
	}

	if rec.BankName == "" {
		rec.BankName = fmt.Sprintf("unknown (bank=%d)", in.Bank)
	}
	return nil
}

func decodeMCGStatus(mcgstatus uint64) string {
	msg := fmt.Sprintf("mcgstatus=%d", mcgstatus)
	if mcgstatus&mcgStatusRIPV != 0 {
		msg += ", RIPV"
	}
	if mcgstatus&mcgStatusEIPV != 0 {
		msg += ", EIPV"
	}
	if mcgstatus&mcgStatusMCIP != 0 {
		msg += ", MCIP"
	}
	return msg
}

// decodeGeneric is the CPU-family-independent architectural decode: MCI
// status validity/overflow/uncorrected flags, and the generic
// memory-controller location heuristic shared by every family whose
// MCA_STATUS layout follows the architectural convention.
func decodeGeneric(in Input, rec *record.MachineCheck) {
	status := in.Status

	if status&mciStatusVAL == 0 {
		rec.MCAStatusMsg = "MCE_INVALID"
		return
	}

	var msg string
	if status&mciStatusOVER != 0 {
		msg = appendMsg(msg, "Error_overflow")
	}
	if status&mciStatusUC != 0 {
		msg = appendMsg(msg, "Uncorrected_error")
		if status&mciStatusEN == 0 {
			msg = appendMsg(msg, "not_enabled")
		}
		if status&mciStatusPCC != 0 {
			msg = appendMsg(msg, "processor_context_corrupt")
		}
	} else {
		msg = appendMsg(msg, "Corrected_error")
	}
	if status&mciStatusPoison != 0 {
		msg = appendMsg(msg, "poisoned_data_consumed")
	}
	rec.MCAStatusMsg = msg

	mca := status & 0xffff
	if (mca>>7)&1 != 1 {
		return
	}
	if status&mciStatusUC != 0 || !bitfield.TestPrefix(7, status&0xefff) {
		return
	}

	channel := bitfield.MustExtract(status, 0, 3)
	if channel == 0xf {
		return
	}

	loc := fmt.Sprintf("memory_channel=%d", channel)
	if status&mciStatusMiscV != 0 {
		rank0 := bitfield.MustExtract(in.Misc, 46, 50)
		if bitfield.MustExtract(in.Misc, 62, 62) != 0 {
			if bitfield.MustExtract(in.Misc, 63, 63) != 0 {
				rank1 := bitfield.MustExtract(in.Misc, 51, 55)
				loc += fmt.Sprintf(", ranks=%d and %d", rank0, rank1)
			} else {
				loc += fmt.Sprintf(", rank=%d", rank0)
			}
		}
	}
	rec.MCALocation = loc
}

func appendMsg(msg, part string) string {
	if msg == "" {
		return part
	}
	return msg + ", " + part
}
