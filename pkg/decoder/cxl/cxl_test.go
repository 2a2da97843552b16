// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cxl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testHeader() CommonHeader {
	return CommonHeader{
		MemDev:     "mem0",
		Host:       "0000:34:00.0",
		Serial:     0x1122334455667788,
		LogType:    "Informational",
		RecordUUID: "fbcd0a77-c260-417f-85a9-088b1621eba6",
		HdrFlags:   hdrFlagMaintNeeded,
		Handle:     1,
	}
}

// TestDecodeDramThresholdEvent exercises S5: a DRAM event record with the
// THRESHOLD_EVENT descriptor bit set and UNCORRECTABLE_EVENT clear,
// carrying hpa=0x1_0000_0000, which must pass through to rec.HPA
// unmodified so the remediation layer can trigger a page-offline.
func TestDecodeDramThresholdEvent(t *testing.T) {
	in := DramInput{
		Header:        testHeader(),
		HPA:           0x100000000,
		DPA:           0x40000000,
		Descriptor:    gmerDescThreshold,
		ValidityFlags: derValidChannel | derValidBank,
		Channel:       2,
		Bank:          5,
	}

	assert.True(t, IsThresholdCorrectable(in.Descriptor))

	rec := DecodeDram(in)
	assert.EqualValues(t, 0x100000000, rec.HPA)
	assert.EqualValues(t, 2, rec.Channel)
	assert.EqualValues(t, 5, rec.Bank)
	assert.Equal(t, "mem0", rec.MemDev)
	assert.Contains(t, rec.HdrFlags, "MAINTENANCE_NEEDED")
	// Rank wasn't marked valid, so it must stay zero-valued.
	assert.EqualValues(t, 0, rec.Rank)
}

func TestDecodeDramUncorrectableIsNotThreshold(t *testing.T) {
	assert.False(t, IsThresholdCorrectable(gmerDescUncorrectable|gmerDescThreshold))
	assert.False(t, IsThresholdCorrectable(0))
}

func TestDecodeGeneralMediaValidityGating(t *testing.T) {
	in := GeneralMediaInput{
		Header:        testHeader(),
		HPA:           0xdeadbeef,
		ValidityFlags: gmerValidDevice,
		Device:        3,
		Rank:          9,
	}
	rec := DecodeGeneralMedia(in)
	assert.EqualValues(t, 3, rec.Device)
	assert.EqualValues(t, 0, rec.Rank)
}

func TestDecodeGeneric(t *testing.T) {
	rec := DecodeGeneric(GenericInput{Header: testHeader(), Data: [16]byte{1, 2, 3}})
	assert.Equal(t, byte(1), rec.Data[0])
	assert.Equal(t, "mem0", rec.MemDev)
}

func TestDecodeAerUeAndCe(t *testing.T) {
	ue := DecodeAerUe(AerUeInput{Header: testHeader(), ErrorStatus: 0x1, FirstError: 4})
	assert.EqualValues(t, 0x1, ue.ErrorStatus)
	assert.Equal(t, 4, ue.FirstError)

	ce := DecodeAerCe(AerCeInput{Header: testHeader(), ErrorStatus: 0x2})
	assert.EqualValues(t, 0x2, ce.ErrorStatus)
}

func TestDecodeOverflowAndMemoryModule(t *testing.T) {
	ov := DecodeOverflow(OverflowInput{Header: testHeader(), Count: 7})
	assert.EqualValues(t, 7, ov.Count)

	mm := DecodeMemoryModule(MemoryModuleInput{Header: testHeader(), LifeUsed: 42, DeviceTemp: 55})
	assert.EqualValues(t, 42, mm.LifeUsed)
	assert.EqualValues(t, 55, mm.DeviceTemp)
}

func TestDecodeHeaderFlags(t *testing.T) {
	h := testHeader()
	h.HdrFlags = hdrFlagPermanent | hdrFlagHWReplace
	rec := decodeHeader(h)
	assert.Contains(t, rec.HdrFlags, "PERMANENT_CONDITION")
	assert.Contains(t, rec.HdrFlags, "HARDWARE_REPLACEMENT_NEEDED")
}
