// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package mca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/rasdaemon/pkg/cputype"
	"github.com/antimetal/rasdaemon/pkg/record"
)

// TestDecodeAMDK8NorthbridgeLinkError exercises the northbridge
// link-condition path (exterrcode=0xa, "Link Data Error") with the link
// number encoded in bits 36-39, matching the scenario of an uncorrected,
// address-valid northbridge MCE reporting a link condition.
func TestDecodeAMDK8NorthbridgeLinkError(t *testing.T) {
	var status uint64
	status |= uint64(1) << 63 // MCI_STATUS_VAL
	status |= uint64(1) << 61 // MCI_STATUS_UC
	status |= uint64(1) << 58 // MCI_STATUS_ADDRV
	status |= 0xa << 16       // exterrcode = Link Data Error
	status |= 0xb << 36       // link number = b
	status |= 0x13            // errcode low byte (decodes as an LB error)

	in := Input{Status: status, Bank: 4, CPUType: cputype.TypeAMDK8}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))

	assert.Equal(t, "northbridge (bank=4)", rec.BankName)
	assert.Contains(t, rec.ErrorMsg, "Northbridge Link Data Error")
	assert.Contains(t, rec.ErrorMsg, "link number = b")
}

func TestDecodeAMDK8SuppressesGARTError(t *testing.T) {
	var status uint64
	status |= uint64(1) << 63
	status |= 5 << 16          // exterrcode = GART error
	status |= uint64(1) << 61 // bit 61 set, matching the suppression check

	in := Input{Status: status, Bank: 4, CPUType: cputype.TypeAMDK8}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))
	assert.Empty(t, rec.ErrorMsg)
}

// TestDecodeSkylakeXPCUInternalError exercises S2: a PCU (bank 4) error
// whose low 16 bits select the "Internal errors" text and whose bits
// 24-31 index MCA_SVID_COMMAND_TIMEOUT in the PCU model-code table.
func TestDecodeSkylakeXPCUInternalError(t *testing.T) {
	status := uint64(0x402) | uint64(0x41)<<24

	in := Input{Status: status, Bank: 4, CPUType: cputype.TypeSkylakeX}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))

	assert.Contains(t, rec.MCAStatusMsg, "Internal errors")
	assert.Contains(t, rec.MCAStatusMsg, "MCA_SVID_COMMAND_TIMEOUT")
}

func TestDecodeSkylakeXMemoryChannel(t *testing.T) {
	var status uint64
	status |= uint64(1) << 63 // VAL
	status |= 1 << 7          // memory controller signature bit
	status |= 0x3             // channel = 3

	misc := uint64(1)<<62 | uint64(5)<<46 // rank0 = 5, no rank1

	in := Input{Status: status, Misc: misc, Bank: 13, CPUType: cputype.TypeSkylakeX}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))

	assert.Contains(t, rec.MCALocation, "memory_channel=3")
	assert.Contains(t, rec.MCALocation, "rank=5")
}

func TestDecodeAMDSMCAUnifiedMemoryController(t *testing.T) {
	ipid := uint64(0x00000096)<<32 | 0x50f00 // UMC bank type, channel 0 instance id

	in := Input{Status: 0, Synd: 0x3, IPID: ipid, Bank: 7, CPUType: cputype.TypeAMDSMCA}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))

	assert.Contains(t, rec.BankName, "Unified Memory Controller")
	assert.Contains(t, rec.MCAStatusMsg, "DRAM ECC error")
	assert.Equal(t, "memory_channel=0,csrow=3", rec.MCALocation)
}

func TestDecodeUnsupportedCpuType(t *testing.T) {
	in := Input{CPUType: cputype.TypeUnknown}
	var rec record.MachineCheck
	err := Decode(in, &rec)
	assert.Error(t, err)
}

func TestDecodeInvalidMCEStatus(t *testing.T) {
	in := Input{Status: 0, Bank: 0, CPUType: cputype.TypeGeneric}
	var rec record.MachineCheck
	require.NoError(t, Decode(in, &rec))
	assert.Equal(t, "MCE_INVALID", rec.MCAStatusMsg)
}
