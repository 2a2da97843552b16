// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import "github.com/antimetal/rasdaemon/pkg/record"

// Table names mirror the original schema's table names (§4.G, "every
// table carries an auto-increment primary key id and a timestamp text
// column"), one per event kind.
const (
	TableMcEvent          = "mc_event"
	TablePciAer           = "pci_aer"
	TableMachineCheck     = "mce"
	TableArmProcessor     = "arm_processor_error"
	TableExtlogMem        = "extlog_mem"
	TableNonStandardCper  = "non_standard_cper"
	TableCxlPoison        = "cxl_poison"
	TableCxlAerUe         = "cxl_aer_ue"
	TableCxlAerCe         = "cxl_aer_ce"
	TableCxlOverflow      = "cxl_overflow"
	TableCxlGeneric       = "cxl_generic"
	TableCxlGeneralMedia  = "cxl_general_media"
	TableCxlDram          = "cxl_dram"
	TableCxlMemoryModule  = "cxl_memory_module"
	TableDiskError        = "disk_error"
	TableMemoryFailure    = "memory_failure"
	TableDevlinkHealth    = "devlink_health_report"
)

func (f *Facade) InsertMcEvent(rec record.MemoryControllerError) error {
	return f.Insert(TableMcEvent, rec)
}

func (f *Facade) InsertPciAer(rec record.PciAer) error {
	return f.Insert(TablePciAer, rec)
}

func (f *Facade) InsertMachineCheck(rec record.MachineCheck) error {
	return f.Insert(TableMachineCheck, rec)
}

func (f *Facade) InsertArmProcessorError(rec record.ArmProcessorError) error {
	return f.Insert(TableArmProcessor, rec)
}

func (f *Facade) InsertExtLogMemory(rec record.ExtLogMemory) error {
	return f.Insert(TableExtlogMem, rec)
}

func (f *Facade) InsertNonStandardCper(rec record.NonStandardCper) error {
	return f.Insert(TableNonStandardCper, rec)
}

func (f *Facade) InsertCxlPoison(rec record.CxlPoison) error {
	return f.Insert(TableCxlPoison, rec)
}

func (f *Facade) InsertCxlAerUe(rec record.CxlAerUe) error {
	return f.Insert(TableCxlAerUe, rec)
}

func (f *Facade) InsertCxlAerCe(rec record.CxlAerCe) error {
	return f.Insert(TableCxlAerCe, rec)
}

func (f *Facade) InsertCxlOverflow(rec record.CxlOverflow) error {
	return f.Insert(TableCxlOverflow, rec)
}

func (f *Facade) InsertCxlGeneric(rec record.CxlGeneric) error {
	return f.Insert(TableCxlGeneric, rec)
}

func (f *Facade) InsertCxlGeneralMedia(rec record.CxlGeneralMedia) error {
	return f.Insert(TableCxlGeneralMedia, rec)
}

func (f *Facade) InsertCxlDram(rec record.CxlDram) error {
	return f.Insert(TableCxlDram, rec)
}

func (f *Facade) InsertCxlMemoryModule(rec record.CxlMemoryModule) error {
	return f.Insert(TableCxlMemoryModule, rec)
}

func (f *Facade) InsertDiskError(rec record.DiskError) error {
	return f.Insert(TableDiskError, rec)
}

func (f *Facade) InsertMemoryFailure(rec record.MemoryFailure) error {
	return f.Insert(TableMemoryFailure, rec)
}

func (f *Facade) InsertDevlinkHealthReport(rec record.DevlinkHealthReport) error {
	return f.Insert(TableDevlinkHealth, rec)
}
