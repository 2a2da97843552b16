// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package record defines the immutable event records produced by decoders.
// Every record kind shares a human-readable timestamp and carries fields
// specific to the event kind, one struct per kernel trace event family.
// Records flow downstream only: once produced by a decoder from one
// kernel trace event they are never mutated, shared, or reparented.
package record

import "time"

// Severity classifies a hardware error as defined by MCA/CPER.
type Severity string

const (
	SeverityCorrected   Severity = "Corrected"
	SeverityUncorrected Severity = "Uncorrected"
	SeverityDeferred    Severity = "Deferred"
	SeverityFatal       Severity = "Fatal"
	SeverityInfo        Severity = "Info"
)

// Header is embedded in every record kind.
type Header struct {
	Timestamp time.Time
}

// MemoryControllerError is the decoded form of a machine-check memory
// controller event, the mc_event table in the original schema.
type MemoryControllerError struct {
	Header
	ErrorCount    int
	Severity      Severity
	Message       string
	Label         string
	MCIndex       int
	TopLayer      int8
	MiddleLayer   int8
	LowerLayer    int8
	Address       uint64
	Grain         uint64
	Syndrome      uint64
	DriverDetail  string
}

// PciAer is a decoded PCIe Advanced Error Reporting event.
type PciAer struct {
	Header
	DevName        string // "segment:bus:device.function"
	ErrorType      string // "Corrected" / "Uncorrected (Non-Fatal)" / "Uncorrected (Fatal)"
	Status         uint32
	Message        string
	TLPHeaderValid bool
	TLPHeader      [4]uint32
}

// MachineCheck is a decoded machine-check event, independent of the
// specific CPU family that produced it.
type MachineCheck struct {
	Header
	MCGCap       uint64
	MCGStatus    uint64
	Status       uint64
	Addr         uint64
	Misc         uint64
	IP           uint64
	TSC          uint64
	WallTime     uint64
	CPU          int
	CPUID        uint32
	ApicID       uint32
	SocketID     int
	Bank         int
	CPUVendor    string
	Microcode    uint32

	BankName        string
	ErrorMsg        string
	MCGStatusMsg    string
	MCAStatusMsg    string
	MCALocation     string
	UserAction      string
}

// ArmProcessorError is a decoded ARM processor CPER event.
type ArmProcessorError struct {
	Header
	ErrorCount     int
	Affinity       int8
	MPIDR          uint64
	MIDR           uint64
	RunningState   int32
	PSCIState      int32
	PEIErrors      []byte
	ContextErrors  []byte
	VendorErrors   []byte

	ErrorTypes     string
	ErrorFlags     string
	ErrorInfo      string
	VirtFaultAddr  uint64
	PhysFaultAddr  uint64
}

// ExtLogMemory is a decoded extended-log (SMBIOS-style) memory record.
type ExtLogMemory struct {
	Header
	ErrorSeq   int32
	EType      int8
	Severity   int8
	Address    uint64
	PAMaskLSB  int8
	CPERData   []byte
	FRUID      string
	FRUText    string
}

// NonStandardCper is a decoded vendor non-standard CPER section.
type NonStandardCper struct {
	Header
	SecType  string // UUID string
	FRUID    string
	FRUText  string
	Severity Severity
	Error    []byte
}

// CxlCommonHeader is shared by all eight CXL 3.0 event kinds.
type CxlCommonHeader struct {
	MemDev        string
	Host          string
	Serial        uint64
	LogType       string
	RecordUUID    string
	HdrFlags      string // decoded bitset: PERMANENT_CONDITION, MAINTENANCE_NEEDED, ...
	Handle        uint16
	RelatedHandle uint16
	SpecTimestamp time.Time // nanoseconds since epoch, rendered separately from ingestion Timestamp
	Length        uint8
	MaintOpClass  uint8
}

type CxlPoison struct {
	Header
	CxlCommonHeader
	TraceType   string
	Region      string
	UUID        string
	HPA         uint64
	DPA         uint64
	DPALength   uint32
	Source      string
	Flags       uint8
	OverflowTS  time.Time
}

type CxlAerUe struct {
	Header
	CxlCommonHeader
	ErrorStatus uint32
	FirstError  int
	HeaderLog   [32]uint32
}

type CxlAerCe struct {
	Header
	CxlCommonHeader
	ErrorStatus uint32
}

type CxlOverflow struct {
	Header
	CxlCommonHeader
	FirstTS time.Time
	LastTS  time.Time
	Count   uint16
}

type CxlGeneric struct {
	Header
	CxlCommonHeader
	Data [16]byte
}

type CxlGeneralMedia struct {
	Header
	CxlCommonHeader
	DPA             uint64
	DPAFlags        string
	Descriptor      uint8
	Type            uint8
	TransactionType uint8
	Channel         uint32
	Rank            uint32
	Device          uint32
	CompID          []byte
	ValidityFlags   uint8
	HPA             uint64
	Region          string
	RegionUUID      string
}

type CxlDram struct {
	Header
	CxlCommonHeader
	DPA             uint64
	HPA             uint64
	DPAFlags        string
	Descriptor      uint8
	Type            uint8
	TransactionType uint8
	Channel         uint16
	Rank            uint8
	NibbleMask      uint32
	BankGroup       uint8
	Bank            uint8
	Row             uint32
	Column          uint16
	CorMask         []byte
	ValidityFlags   uint8
	Region          string
	RegionUUID      string
}

type CxlMemoryModule struct {
	Header
	CxlCommonHeader
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

// DiskError is a decoded block-I/O error completion.
type DiskError struct {
	Header
	Dev      string // "major:minor"
	Sector   uint64
	NrSector uint32
	Error    string
	RWBS     string
	Cmd      string
}

// MemoryFailure is a decoded kernel memory-failure event.
type MemoryFailure struct {
	Header
	PFN          uint64
	PageType     string
	ActionResult string
}

// DevlinkHealthReport is a decoded devlink health-report event.
type DevlinkHealthReport struct {
	Header
	BusName      string
	DevName      string
	DriverName   string
	ReporterName string
	Message      string
}
