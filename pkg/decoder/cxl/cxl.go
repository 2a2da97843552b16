// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cxl decodes the eight CXL 3.0 event kinds reported through
// the kernel's CXL trace events. Every kind shares a common header
// decode; event-specific payloads are decoded by their own function
// below.
package cxl

import (
	"fmt"
	"time"

	"github.com/antimetal/rasdaemon/pkg/record"
)

const (
	hdrFlagPermanent   = uint8(1) << 2
	hdrFlagMaintNeeded = uint8(1) << 3
	hdrFlagPerfDegrade = uint8(1) << 4
	hdrFlagHWReplace   = uint8(1) << 5
)

var hdrFlagLabels = map[uint8]string{
	hdrFlagPermanent:   "PERMANENT_CONDITION",
	hdrFlagMaintNeeded: "MAINTENANCE_NEEDED",
	hdrFlagPerfDegrade: "PERFORMANCE_DEGRADED",
	hdrFlagHWReplace:   "HARDWARE_REPLACEMENT_NEEDED",
}

func decodeFlags(value uint8, labels map[uint8]string) string {
	var msg string
	for _, bit := range []uint8{1, 2, 4, 8, 16, 32, 64, 128} {
		if value&bit != 0 {
			if label, ok := labels[bit]; ok {
				if msg != "" {
					msg += ","
				}
				msg += label
			}
		}
	}
	return msg
}

// CommonHeader is the wire form of the shared CXL event header.
type CommonHeader struct {
	MemDev        string
	Host          string
	Serial        uint64
	LogType       string
	RecordUUID    string
	HdrFlags      uint8
	Handle        uint16
	RelatedHandle uint16
	SpecTimestamp time.Time
	Length        uint8
	MaintOpClass  uint8
}

func decodeHeader(h CommonHeader) record.CxlCommonHeader {
	return record.CxlCommonHeader{
		MemDev:        h.MemDev,
		Host:          h.Host,
		Serial:        h.Serial,
		LogType:       h.LogType,
		RecordUUID:    h.RecordUUID,
		HdrFlags:      decodeFlags(h.HdrFlags, hdrFlagLabels),
		Handle:        h.Handle,
		RelatedHandle: h.RelatedHandle,
		SpecTimestamp: h.SpecTimestamp,
		Length:        h.Length,
		MaintOpClass:  h.MaintOpClass,
	}
}

const (
	dpaFlagVolatile      = uint8(1) << 0
	dpaFlagNotRepairable = uint8(1) << 1
)

var dpaFlagLabels = map[uint8]string{
	dpaFlagVolatile:      "VOLATILE",
	dpaFlagNotRepairable: "NOT_REPAIRABLE",
}

func decodeDPAFlags(v uint8) string { return decodeFlags(v, dpaFlagLabels) }

const (
	gmerDescUncorrectable   = uint8(1) << 0
	gmerDescThreshold       = uint8(1) << 1
	gmerDescPoisonOverflow  = uint8(1) << 2
)

var gmerDescLabels = map[uint8]string{
	gmerDescUncorrectable:  "UNCORRECTABLE EVENT",
	gmerDescThreshold:      "THRESHOLD EVENT",
	gmerDescPoisonOverflow: "POISON LIST OVERFLOW",
}

func decodeGMERDescriptor(v uint8) string { return decodeFlags(v, gmerDescLabels) }

// IsThresholdCorrectable reports whether a general-media or DRAM event
// descriptor indicates a threshold-crossing correctable event: the
// UNCORRECTABLE_EVENT bit clear and THRESHOLD_EVENT bit set, matching
// the gate in ras_cxl_general_media_event_handler /
// ras_cxl_dram_event_handler that triggers a page-offline hint.
func IsThresholdCorrectable(descriptor uint8) bool {
	return descriptor&gmerDescUncorrectable == 0 && descriptor&gmerDescThreshold != 0
}

const (
	gmerValidChannel   = uint8(1) << 0
	gmerValidRank      = uint8(1) << 1
	gmerValidDevice    = uint8(1) << 2
	gmerValidComponent = uint8(1) << 3
)

// GeneralMediaInput is the trace-event payload for a cxl_general_media
// event.
type GeneralMediaInput struct {
	Header          CommonHeader
	DPA             uint64
	DPAFlags        uint8
	Descriptor      uint8
	Type            uint8
	TransactionType uint8
	ValidityFlags   uint8
	Channel         uint32
	Rank            uint32
	Device          uint32
	CompID          []byte
	HPA             uint64
	Region          string
	RegionUUID      string
}

func DecodeGeneralMedia(in GeneralMediaInput) record.CxlGeneralMedia {
	rec := record.CxlGeneralMedia{
		CxlCommonHeader: decodeHeader(in.Header),
		DPA:             in.DPA,
		DPAFlags:        decodeDPAFlags(in.DPAFlags),
		Descriptor:      in.Descriptor,
		Type:            in.Type,
		TransactionType: in.TransactionType,
		ValidityFlags:   in.ValidityFlags,
		HPA:             in.HPA,
		Region:          in.Region,
		RegionUUID:      in.RegionUUID,
	}
	if in.ValidityFlags&gmerValidChannel != 0 {
		rec.Channel = in.Channel
	}
	if in.ValidityFlags&gmerValidRank != 0 {
		rec.Rank = in.Rank
	}
	if in.ValidityFlags&gmerValidDevice != 0 {
		rec.Device = in.Device
	}
	if in.ValidityFlags&gmerValidComponent != 0 {
		rec.CompID = in.CompID
	}
	return rec
}

const (
	derValidChannel        = uint8(1) << 0
	derValidRank           = uint8(1) << 1
	derValidNibble         = uint8(1) << 2
	derValidBankGroup      = uint8(1) << 3
	derValidBank           = uint8(1) << 4
	derValidRow            = uint8(1) << 5
	derValidColumn         = uint8(1) << 6
	derValidCorrectionMask = uint8(1) << 7
)

// DramInput is the trace-event payload for a cxl_dram event.
type DramInput struct {
	Header          CommonHeader
	DPA             uint64
	HPA             uint64
	DPAFlags        uint8
	Descriptor      uint8
	Type            uint8
	TransactionType uint8
	ValidityFlags   uint8
	Channel         uint16
	Rank            uint8
	NibbleMask      uint32
	BankGroup       uint8
	Bank            uint8
	Row             uint32
	Column          uint16
	CorMask         []byte
	Region          string
	RegionUUID      string
}

// DecodeDram ports the CXL_DER_VALID_*-gated field extraction in
// ras_cxl_dram_event_handler. S5: a threshold-crossing DRAM event with
// hpa=0x1_0000_0000 is the scenario this decoder must pass through
// unmodified into rec.HPA while gating the optional fields on
// ValidityFlags exactly as here.
func DecodeDram(in DramInput) record.CxlDram {
	rec := record.CxlDram{
		CxlCommonHeader: decodeHeader(in.Header),
		DPA:             in.DPA,
		HPA:             in.HPA,
		DPAFlags:        decodeDPAFlags(in.DPAFlags),
		Descriptor:      in.Descriptor,
		Type:            in.Type,
		TransactionType: in.TransactionType,
		ValidityFlags:   in.ValidityFlags,
		Region:          in.Region,
		RegionUUID:      in.RegionUUID,
	}
	if in.ValidityFlags&derValidChannel != 0 {
		rec.Channel = in.Channel
	}
	if in.ValidityFlags&derValidRank != 0 {
		rec.Rank = in.Rank
	}
	if in.ValidityFlags&derValidNibble != 0 {
		rec.NibbleMask = in.NibbleMask
	}
	if in.ValidityFlags&derValidBankGroup != 0 {
		rec.BankGroup = in.BankGroup
	}
	if in.ValidityFlags&derValidBank != 0 {
		rec.Bank = in.Bank
	}
	if in.ValidityFlags&derValidRow != 0 {
		rec.Row = in.Row
	}
	if in.ValidityFlags&derValidColumn != 0 {
		rec.Column = in.Column
	}
	if in.ValidityFlags&derValidCorrectionMask != 0 {
		rec.CorMask = in.CorMask
	}
	return rec
}

// GenericInput is the payload for a cxl_generic_event (raw 16-byte data
// block, no further field decode).
type GenericInput struct {
	Header CommonHeader
	Data   [16]byte
}

func DecodeGeneric(in GenericInput) record.CxlGeneric {
	return record.CxlGeneric{CxlCommonHeader: decodeHeader(in.Header), Data: in.Data}
}

// PoisonInput is the payload for a cxl_poison event.
type PoisonInput struct {
	Header     CommonHeader
	TraceType  string
	Region     string
	UUID       string
	HPA        uint64
	DPA        uint64
	DPALength  uint32
	Source     string
	Flags      uint8
	OverflowTS time.Time
}

func DecodePoison(in PoisonInput) record.CxlPoison {
	return record.CxlPoison{
		CxlCommonHeader: decodeHeader(in.Header),
		TraceType:       in.TraceType,
		Region:          in.Region,
		UUID:            in.UUID,
		HPA:             in.HPA,
		DPA:             in.DPA,
		DPALength:       in.DPALength,
		Source:          in.Source,
		Flags:           in.Flags,
		OverflowTS:      in.OverflowTS,
	}
}

// AerUeInput is the payload for a cxl_aer_uncorrectable_error event.
type AerUeInput struct {
	Header      CommonHeader
	ErrorStatus uint32
	FirstError  int
	HeaderLog   [32]uint32
}

func DecodeAerUe(in AerUeInput) record.CxlAerUe {
	return record.CxlAerUe{
		CxlCommonHeader: decodeHeader(in.Header),
		ErrorStatus:     in.ErrorStatus,
		FirstError:      in.FirstError,
		HeaderLog:       in.HeaderLog,
	}
}

// AerCeInput is the payload for a cxl_aer_correctable_error event.
type AerCeInput struct {
	Header      CommonHeader
	ErrorStatus uint32
}

func DecodeAerCe(in AerCeInput) record.CxlAerCe {
	return record.CxlAerCe{CxlCommonHeader: decodeHeader(in.Header), ErrorStatus: in.ErrorStatus}
}

// OverflowInput is the payload for a cxl_overflow event.
type OverflowInput struct {
	Header  CommonHeader
	FirstTS time.Time
	LastTS  time.Time
	Count   uint16
}

func DecodeOverflow(in OverflowInput) record.CxlOverflow {
	return record.CxlOverflow{
		CxlCommonHeader: decodeHeader(in.Header),
		FirstTS:         in.FirstTS,
		LastTS:          in.LastTS,
		Count:           in.Count,
	}
}

// MemoryModuleInput is the payload for a cxl_memory_module event.
type MemoryModuleInput struct {
	Header           CommonHeader
	EventType        uint8
	HealthStatus     uint8
	MediaStatus      uint8
	LifeUsed         uint8
	DirtyShutdownCnt uint32
	CorVolErrCnt     uint32
	CorPerErrCnt     uint32
	DeviceTemp       int16
	AddStatus        uint8
}

func DecodeMemoryModule(in MemoryModuleInput) record.CxlMemoryModule {
	return record.CxlMemoryModule{
		CxlCommonHeader:  decodeHeader(in.Header),
		EventType:        in.EventType,
		HealthStatus:     in.HealthStatus,
		MediaStatus:      in.MediaStatus,
		LifeUsed:         in.LifeUsed,
		DirtyShutdownCnt: in.DirtyShutdownCnt,
		CorVolErrCnt:     in.CorVolErrCnt,
		CorPerErrCnt:     in.CorPerErrCnt,
		DeviceTemp:       in.DeviceTemp,
		AddStatus:        in.AddStatus,
	}
}

// DescriptorString renders a general-media/DRAM event descriptor byte
// using the same label set as the generic media decode path.
func DescriptorString(descriptor uint8) string {
	return fmt.Sprintf("descriptor:%s", decodeGMERDescriptor(descriptor))
}
