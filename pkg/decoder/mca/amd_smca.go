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

type smcaBankType int

const (
	smcaLS smcaBankType = iota
	smcaIF
	smcaL2Cache
	smcaDE
	smcaReserved
	smcaEX
	smcaFP
	smcaL3Cache
	smcaCS
	smcaCSV2
	smcaPIE
	smcaUMC
	smcaPB
	smcaPSP
	smcaPSPV2
	smcaSMU
	smcaSMUV2
	smcaMP5
	smcaNBIO
	smcaPCIE
	smcaBankTypeCount
)

var smcaNames = map[smcaBankType]string{
	smcaLS:       "Load Store Unit",
	smcaIF:       "Instruction Fetch Unit",
	smcaL2Cache:  "L2 Cache",
	smcaDE:       "Decode Unit",
	smcaReserved: "Reserved",
	smcaEX:       "Execution Unit",
	smcaFP:       "Floating Point Unit",
	smcaL3Cache:  "L3 Cache",
	smcaCS:       "Coherent Slave",
	smcaCSV2:     "Coherent Slave",
	smcaPIE:      "Power, Interrupts, etc.",
	smcaUMC:      "Unified Memory Controller",
	smcaPB:       "Parameter Block",
	smcaPSP:      "Platform Security Processor",
	smcaPSPV2:    "Platform Security Processor",
	smcaSMU:      "System Management Unit",
	smcaSMUV2:    "System Management Unit",
	smcaMP5:      "Microprocessor 5 Unit",
	smcaNBIO:     "Northbridge IO Unit",
	smcaPCIE:     "PCI Express Unit",
}

var smcaDescs = map[smcaBankType][]string{
	smcaLS: {
		"Load queue parity", "Store queue parity", "Miss address buffer payload parity",
		"L1 TLB parity", "Reserved", "DC tag error type 6", "DC tag error type 1",
		"Internal error type 1", "Internal error type 2", "Sys Read data error thread 0",
		"Sys read data error thread 1", "DC tag error type 2",
		"DC data error type 1 (poison consumption)", "DC data error type 2",
		"DC data error type 3", "DC tag error type 4", "L2 TLB parity",
		"PDC parity error", "DC tag error type 3", "DC tag error type 5",
		"L2 fill data error",
	},
	smcaIF: {
		"microtag probe port parity error", "IC microtag or full tag multi-hit error",
		"IC full tag parity", "IC data array parity",
		"Decoupling queue phys addr parity error", "L0 ITLB parity error",
		"L1 ITLB parity error", "L2 ITLB parity error", "BPQ snoop parity on Thread 0",
		"BPQ snoop parity on Thread 1", "L1 BTB multi-match error",
		"L2 BTB multi-match error", "L2 Cache Response Poison error",
		"System Read Data error",
	},
	smcaL2Cache: {"L2M tag multi-way-hit error", "L2M tag ECC error", "L2M data ECC error", "HW assert"},
	smcaDE: {
		"uop cache tag parity error", "uop cache data parity error",
		"Insn buffer parity error", "uop queue parity error",
		"Insn dispatch queue parity error", "Fetch address FIFO parity",
		"Patch RAM data parity", "Patch RAM sequencer parity", "uop buffer parity",
	},
	smcaEX: {
		"Watchdog timeout error", "Phy register file parity", "Flag register file parity",
		"Immediate displacement register file parity", "Address generator payload parity",
		"EX payload parity", "Checkpoint queue parity", "Retire dispatch queue parity",
		"Retire status queue parity error", "Scheduling queue parity error",
		"Branch buffer queue parity error",
	},
	smcaFP: {
		"Physical register file parity", "Freelist parity error", "Schedule queue parity",
		"NSQ parity error", "Retire queue parity", "Status register file parity",
		"Hardware assertion",
	},
	smcaL3Cache: {
		"Shadow tag macro ECC error", "Shadow tag macro multi-way-hit error",
		"L3M tag ECC error", "L3M tag multi-way-hit error", "L3M data ECC error",
		"XI parity, L3 fill done channel error", "L3 victim queue parity", "L3 HW assert",
	},
	smcaCS: {
		"Illegal request from transport layer", "Address violation", "Security violation",
		"Illegal response from transport layer", "Unexpected response",
		"Parity error on incoming request or probe response data",
		"Parity error on incoming read response data", "Atomic request parity",
		"ECC error on probe filter access",
	},
	smcaCSV2: {
		"Illegal Request", "Address Violation", "Security Violation", "Illegal Response",
		"Unexpected Response", "Request or Probe Parity Error", "Read Response Parity Error",
		"Atomic Request Parity Error", "SDP read response had no match in the CS queue",
		"Probe Filter Protocol Error", "Probe Filter ECC Error",
		"SDP read response had an unexpected RETRY error", "Counter overflow error",
		"Counter underflow error",
	},
	smcaPIE: {
		"HW assert", "Internal PIE register security violation", "Error on GMI link",
		"Poison data written to internal PIE register",
	},
	smcaUMC: {
		"DRAM ECC error", "Data poison error on DRAM", "SDP parity error",
		"Advanced peripheral bus error", "Command/address parity error",
		"Write data CRC error",
	},
	smcaPB:  {"Parameter Block RAM ECC error"},
	smcaPSP: {"PSP RAM ECC or parity error"},
	smcaPSPV2: {
		"High SRAM ECC or parity error", "Low SRAM ECC or parity error",
		"Instruction Cache Bank 0 ECC or parity error", "Instruction Cache Bank 1 ECC or parity error",
		"Instruction Tag Ram 0 parity error", "Instruction Tag Ram 1 parity error",
		"Data Cache Bank 0 ECC or parity error", "Data Cache Bank 1 ECC or parity error",
		"Data Cache Bank 2 ECC or parity error", "Data Cache Bank 3 ECC or parity error",
		"Data Tag Bank 0 parity error", "Data Tag Bank 1 parity error",
		"Data Tag Bank 2 parity error", "Data Tag Bank 3 parity error",
		"Dirty Data Ram parity error", "TLB Bank 0 parity error", "TLB Bank 1 parity error",
		"System Hub Read Buffer ECC or parity error",
	},
	smcaSMU: {"SMU RAM ECC or parity error"},
	smcaSMUV2: {
		"High SRAM ECC or parity error", "Low SRAM ECC or parity error",
		"Data Cache Bank A ECC or parity error", "Data Cache Bank B ECC or parity error",
		"Data Tag Cache Bank A ECC or parity error", "Data Tag Cache Bank B ECC or parity error",
		"Instruction Cache Bank A ECC or parity error", "Instruction Cache Bank B ECC or parity error",
		"Instruction Tag Cache Bank A ECC or parity error", "Instruction Tag Cache Bank B ECC or parity error",
		"System Hub Read Buffer ECC or parity error",
	},
	smcaMP5: {
		"High SRAM ECC or parity error", "Low SRAM ECC or parity error",
		"Data Cache Bank A ECC or parity error", "Data Cache Bank B ECC or parity error",
		"Data Tag Cache Bank A ECC or parity error", "Data Tag Cache Bank B ECC or parity error",
		"Instruction Cache Bank A ECC or parity error", "Instruction Cache Bank B ECC or parity error",
		"Instruction Tag Cache Bank A ECC or parity error", "Instruction Tag Cache Bank B ECC or parity error",
	},
	smcaNBIO: {
		"ECC or Parity error", "PCIE error", "SDP ErrEvent error",
		"SDP Egress Poison Error", "IOHC Internal Poison Error",
	},
	smcaPCIE: {
		"CCIX PER Message logging", "CCIX Read Response with Status: Non-Data Error",
		"CCIX Write Response with Status: Non-Data Error", "CCIX Read Response with Status: Data Error",
		"CCIX Non-okay write response with data error",
	},
}

// smcaHWIDTable maps (mcatype<<16 | hwid), the high 32 bits of MCx_IPID,
// to a bank type, per AMD's SMCA hardware ID / MCA type assignment.
var smcaHWIDTable = map[uint32]smcaBankType{
	0x000000B0: smcaLS,
	0x000100B0: smcaIF,
	0x000200B0: smcaL2Cache,
	0x000300B0: smcaDE,
	0x000500B0: smcaEX,
	0x000600B0: smcaFP,
	0x000700B0: smcaL3Cache,
	0x0000002E: smcaCS,
	0x0002002E: smcaCSV2,
	0x0001002E: smcaPIE,
	0x00000096: smcaUMC,
	0x00000005: smcaPB,
	0x000000FF: smcaPSP,
	0x000100FF: smcaPSPV2,
	0x00000001: smcaSMU,
	0x00010001: smcaSMUV2,
	0x00020001: smcaMP5,
	0x00000018: smcaNBIO,
	0x00000046: smcaPCIE,
}

var smcaUMCInstanceIDs = []uint64{0x50f00, 0x150f00}

// decodeAMDSMCA ports parse_amd_smca_event/decode_smca_error: bank-type
// dispatch keyed by the high 32 bits of IPID, then extended-error-code
// lookup within that bank type's description table.
func decodeAMDSMCA(in Input, rec *record.MachineCheck) {
	status := in.Status
	xec := bitfield.MustExtract(status, 16, 21)
	mcatypeHWID := uint32(bitfield.MustExtract(in.IPID, 32, 63))

	bankType, ok := smcaHWIDTable[mcatypeHWID]
	if !ok {
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "Couldn't find bank type with IPID")
		return
	}
	if bankType == smcaReserved {
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, "Bank is reserved")
		return
	}

	rec.BankName = fmt.Sprintf("%s (bank=%d)", smcaNames[bankType], in.Bank)

	if descs, ok := smcaDescs[bankType]; ok && int(xec) < len(descs) {
		rec.MCAStatusMsg = appendMsg(rec.MCAStatusMsg, descs[xec])
	}

	if bankType == smcaUMC && xec == 0 {
		channel := findUMCChannel(in.IPID)
		csrow := in.Synd & 0x7
		rec.MCALocation = fmt.Sprintf("memory_channel=%d,csrow=%d", channel, csrow)
	}
}

func findUMCChannel(ipid uint64) int {
	instanceID := bitfield.MustExtract(ipid, 0, 31)
	for i, id := range smcaUMCInstanceIDs {
		if id == instanceID {
			return i
		}
	}
	return -1
}
