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

// pcuModelCodes is Table 16-27 of the SDM, indexed by bits[24:31] of
// MCA_STATUS for PCU bank 4 errors.
var pcuModelCodes = buildPCUTable()

func buildPCUTable() []string {
	t := make([]string, 0x82)
	entries := map[int]string{
		0x00: "No Error",
		0x0d: "MCA_DMI_TRAINING_TIMEOUT",
		0x0f: "MCA_DMI_CPU_RESET_ACK_TIMEOUT",
		0x10: "MCA_MORE_THAN_ONE_LT_AGENT",
		0x1e: "MCA_BIOS_RST_CPL_INVALID_SEQ",
		0x1f: "MCA_BIOS_INVALID_PKG_STATE_CONFIG",
		0x25: "MCA_MESSAGE_CHANNEL_TIMEOUT",
		0x27: "MCA_MSGCH_PMREQ_CMP_TIMEOUT",
		0x30: "MCA_PKGC_DIRECT_WAKE_RING_TIMEOUT",
		0x31: "MCA_PKGC_INVALID_RSP_PCH",
		0x33: "MCA_PKGC_WATCHDOG_HANG_CBZ_DOWN",
		0x34: "MCA_PKGC_WATCHDOG_HANG_CBZ_UP",
		0x38: "MCA_PKGC_WATCHDOG_HANG_C3_UP_SF",
		0x40: "MCA_SVID_VCCIN_VR_ICC_MAX_FAILURE",
		0x41: "MCA_SVID_COMMAND_TIMEOUT",
		0x42: "MCA_SVID_VCCIN_VR_VOUT_FAILURE",
		0x43: "MCA_SVID_CPU_VR_CAPABILITY_ERROR",
		0x44: "MCA_SVID_CRITICAL_VR_FAILED",
		0x45: "MCA_SVID_SA_ITD_ERROR",
		0x46: "MCA_SVID_READ_REG_FAILED",
		0x47: "MCA_SVID_WRITE_REG_FAILED",
		0x48: "MCA_SVID_PKGC_INIT_FAILED",
		0x49: "MCA_SVID_PKGC_CONFIG_FAILED",
		0x4a: "MCA_SVID_PKGC_REQUEST_FAILED",
		0x4b: "MCA_SVID_IMON_REQUEST_FAILED",
		0x4c: "MCA_SVID_ALERT_REQUEST_FAILED",
		0x4d: "MCA_SVID_MCP_VR_ABSENT_OR_RAMP_ERROR",
		0x4e: "MCA_SVID_UNEXPECTED_MCP_VR_DETECTED",
		0x51: "MCA_FIVR_CATAS_OVERVOL_FAULT",
		0x52: "MCA_FIVR_CATAS_OVERCUR_FAULT",
		0x58: "MCA_WATCHDOG_TIMEOUT_PKGC_SLAVE",
		0x59: "MCA_WATCHDOG_TIMEOUT_PKGC_MASTER",
		0x5a: "MCA_WATCHDOG_TIMEOUT_PKGS_MASTER",
		0x61: "MCA_PKGS_CPD_UNCPD_TIMEOUT",
		0x63: "MCA_PKGS_INVALID_REQ_PCH",
		0x64: "MCA_PKGS_INVALID_REQ_INTERNAL",
		0x65: "MCA_PKGS_INVALID_RSP_INTERNAL",
		0x6b: "MCA_PKGS_SMBUS_VPP_PAUSE_TIMEOUT",
		0x81: "MCA_RECOVERABLE_DIE_THERMAL_TOO_HOT",
	}
	for k, v := range entries {
		t[k] = v
	}
	return t
}

var upiModelCodes = buildUPITable()

func buildUPITable() []string {
	t := make([]string, 0x32)
	entries := map[int]string{
		0x00: "UC Phy Initialization Failure",
		0x01: "UC Phy detected drift buffer alarm",
		0x02: "UC Phy detected latency buffer rollover",
		0x10: "UC LL Rx detected CRC error: unsuccessful LLR: entered abort state",
		0x11: "UC LL Rx unsupported or undefined packet",
		0x12: "UC LL or Phy control error",
		0x13: "UC LL Rx parameter exchange exception",
		0x1F: "UC LL detected control error from the link-mesh interface",
		0x20: "COR Phy initialization abort",
		0x21: "COR Phy reset",
		0x22: "COR Phy lane failure, recovery in x8 width",
		0x23: "COR Phy L0c error corrected without Phy reset",
		0x24: "COR Phy L0c error triggering Phy Reset",
		0x25: "COR Phy L0p exit error corrected with Phy reset",
		0x30: "COR LL Rx detected CRC error - successful LLR without Phy Reinit",
		0x31: "COR LL Rx detected CRC error - successful LLR with Phy Reinit",
	}
	for k, v := range entries {
		t[k] = v
	}
	return t
}

var upi0x12Labels = []string{
	22: "Phy Control Error",
	23: "Unexpected Retry.Ack flit",
	24: "Unexpected Retry.Req flit",
	25: "RF parity error",
	26: "Routeback Table error",
	27: "unexpected Tx Protocol flit (EOP, Header or Data)",
	28: "Rx Header-or-Credit BGF credit overflow/underflow",
	29: "Link Layer Reset still in progress when Phy enters L0",
	30: "Link Layer reset initiated while protocol traffic not idle",
	31: "Link Layer Tx Parity Error",
}

var memCtrlBitLabels = []string{
	16: "Address parity error",
	17: "HA write data parity error",
	18: "HA write byte enable parity error",
	19: "Corrected patrol scrub error",
	20: "Uncorrected patrol scrub error",
	21: "Corrected spare error",
	22: "Uncorrected spare error",
	23: "Any HA read error",
	24: "WDB read parity error",
	25: "DDR4 command address parity error",
	26: "Uncorrected address parity error",
}

var mc0x8xx = []string{
	"Unrecognized request type",
	"Read response to an invalid scoreboard entry",
	"Unexpected read response",
	"DDR4 completion to an invalid scoreboard entry",
	"Completion to an invalid scoreboard entry",
	"Completion FIFO overflow",
	"Correctable parity error",
	"Uncorrectable error",
	"Interrupt received while outstanding interrupt was not ACKed",
	"ERID FIFO overflow",
	"Error on Write credits",
	"Error on Read credits",
	"Scheduler error",
	"Error event",
}

var m2mBitLabels = []string{
	16: "MscodDataRdErr",
	17: "Reserved",
	18: "MscodPtlWrErr",
	19: "MscodFullWrErr",
	20: "MscodBgfErr",
	21: "MscodTimeout",
	22: "MscodParErr",
	23: "MscodBucket1Err",
}

// decodeSkylakeX ports skylake_s_decode_model: bank-keyed dispatch across
// PCU (bank 4), UPI (5/12/19), M2M (7/8), and integrated memory controller
// (13-18) banks, plus the memory-channel/rank location heuristic for
// corrected iMC errors.
func decodeSkylakeX(in Input, rec *record.MachineCheck) {
	status := in.Status

	switch in.Bank {
	case 4:
		masked := bitfield.MustExtract(status, 0, 15) &^ (uint64(1) << 12)
		switch masked {
		case 0x402, 0x403:
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "Internal errors")
		case 0x406:
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "Intel TXT errors")
		case 0x407:
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "Other UBOX Internal errors")
		}
		if bitfield.MustExtract(status, 16, 19) != 0 {
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "PCU internal error")
		}
		if s := bitfield.DecodeFieldTable(status, []bitfield.FieldTableEntry{{StartBit: 24, Table: pcuModelCodes}}); s != "" {
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
		}
	case 5, 12, 19:
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "UPI:")
		if s := bitfield.DecodeFieldTable(status, []bitfield.FieldTableEntry{{StartBit: 16, Table: upiModelCodes}}); s != "" {
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
		}
		if bitfield.MustExtract(status, 16, 21) == 0x12 {
			if s := bitfield.BitfieldMsg(upi0x12Labels, 0, 0, status, 0); s != "" {
				rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
			}
		}
	case 7, 8:
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "M2M:")
		if s := bitfield.BitfieldMsg(m2mBitLabels, 0, 0, status, 0); s != "" {
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
		}
	case 13, 14, 15, 16, 17, 18:
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "MemCtrl:")
		if bitfield.MustExtract(status, 27, 27) != 0 {
			if s := bitfield.DecodeFieldTable(status, []bitfield.FieldTableEntry{{StartBit: 16, Table: mc0x8xx}}); s != "" {
				rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
			}
		} else if s := bitfield.BitfieldMsg(memCtrlBitLabels, 0, 0, status, 0); s != "" {
			rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, s)
		}
	}

	skylakeXDecodeMemory(in, rec)
}

// skylakeXDecodeMemory ports the tail of skylake_s_decode_model: a
// corrected iMC error on banks 13-18 carries channel and DIMM rank(s) in
// misc, gated by validity bits 62/63.
func skylakeXDecodeMemory(in Input, rec *record.MachineCheck) {
	status := in.Status
	mca := status & 0xffff
	if (mca >> 7) != 1 {
		return
	}
	if in.Bank < 13 || in.Bank > 18 || status&mciStatusUC != 0 || !bitfield.TestPrefix(7, status&0xefff) {
		return
	}

	chan_ := bitfield.MustExtract(status, 0, 3)
	if chan_ == 0xf {
		return
	}
	rec.MCALocation = fmt.Sprintf("memory_channel=%d", chan_)

	if bitfield.MustExtract(in.Misc, 62, 62) == 0 {
		return
	}
	rank0 := bitfield.MustExtract(in.Misc, 46, 50)
	if bitfield.MustExtract(in.Misc, 63, 63) != 0 {
		rank1 := bitfield.MustExtract(in.Misc, 51, 55)
		rec.MCALocation += fmt.Sprintf(", ranks=%d and %d", rank0, rank1)
	} else {
		rec.MCALocation += fmt.Sprintf(", rank=%d", rank0)
	}
}
