// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package core

import (
	"context"
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/broadcast"
	"github.com/antimetal/rasdaemon/pkg/decoder/aer"
	"github.com/antimetal/rasdaemon/pkg/decoder/arm"
	"github.com/antimetal/rasdaemon/pkg/decoder/cxl"
	"github.com/antimetal/rasdaemon/pkg/decoder/devlink"
	"github.com/antimetal/rasdaemon/pkg/decoder/disk"
	"github.com/antimetal/rasdaemon/pkg/decoder/extlog"
	"github.com/antimetal/rasdaemon/pkg/decoder/mca"
	"github.com/antimetal/rasdaemon/pkg/decoder/memfailure"
	"github.com/antimetal/rasdaemon/pkg/decoder/nonstandard"
	"github.com/antimetal/rasdaemon/pkg/record"
	"github.com/antimetal/rasdaemon/pkg/remediation"
	"github.com/antimetal/rasdaemon/pkg/trace"
	"github.com/antimetal/rasdaemon/pkg/trigger"
)

// mcErrorType mirrors mc_event_error_type: the kernel's
// hw_event_mc_err_type enum rendered as the same five strings the
// original trace-event reader prints.
func mcErrorType(v uint64) string {
	switch v {
	case 0:
		return "Corrected"
	case 1:
		return "Uncorrected"
	case 2:
		return "Deferred"
	case 3:
		return "Fatal"
	default:
		return "Info"
	}
}

// registerEvents wires one handler per compiled-in event kind, per
// §4.D's "for each compiled-in event (group, name)" loop. A handler
// failing to register is logged and does not stop the others; the
// caller fails startup only if the resulting EnabledCount is zero.
func (c *Core) registerEvents(ctx context.Context) {
	disabled := make(map[string]bool, len(c.cfg.DisabledEvents))
	for _, e := range c.cfg.DisabledEvents {
		disabled[e] = true
	}

	type reg struct {
		group, name  string
		handler      trace.Handler
		filter       string
		triggerSetup trace.TriggerSetupFunc
	}

	regs := []reg{
		{"ras", "mc_event", c.handleMcEvent, "", mcTriggerSetup},
		{"ras", "aer_event", c.handleAerEvent, "", nil},
		{"ras", "mce_record", c.handleMceRecord, "", nil},
		{"ras", "arm_event", c.handleArmEvent, "", nil},
		{"ras", "extlog_mem_event", c.handleExtlogEvent, "", nil},
		{"ras", "non_standard_event", c.handleNonStandardEvent, "", nil},
		{"ras", "memory_failure_event", c.handleMemoryFailure, "", memTriggerSetup},
		{"block", "block_rq_error", c.handleDiskError, "", nil},
		{"devlink", "devlink_health_report", c.handleDevlinkHealthReport, "", nil},
		{"devlink", "net_dev_xmit_timeout", c.handleNetDevXmitTimeout, "devlink/devlink_health_report:msg=~'TX timeout*'", nil},
		{"cxl", "cxl_poison", c.handleCxlPoison, "", nil},
		{"cxl", "cxl_aer_uncorrectable_error", c.handleCxlAerUe, "", nil},
		{"cxl", "cxl_aer_correctable_error", c.handleCxlAerCe, "", nil},
		{"cxl", "cxl_overflow", c.handleCxlOverflow, "", nil},
		{"cxl", "cxl_generic_event", c.handleCxlGeneric, "", nil},
		{"cxl", "cxl_general_media", c.handleCxlGeneralMedia, "", nil},
		{"cxl", "cxl_dram", c.handleCxlDram, "", nil},
		{"cxl", "cxl_memory_module", c.handleCxlMemoryModule, "", nil},
	}

	for _, r := range regs {
		if err := c.registry.Register(ctx, r.group, r.name, r.handler, r.filter, disabled, r.triggerSetup); err != nil {
			c.log.Error(err, "event registration failed", "group", r.group, "event", r.name)
		}
	}
}

func mcTriggerSetup(f *trace.Facility, group, name string) error { return nil }
func memTriggerSetup(f *trace.Facility, group, name string) error { return nil }

func (c *Core) persist(table string, rec any) {
	if err := c.store.Insert(table, rec); err != nil {
		c.log.Error(err, "persist failed", "table", table)
	}
}

func (c *Core) handleMcEvent(evt trace.Event) {
	errType := mcErrorType(u64(evt, "error_type"))
	rec := record.MemoryControllerError{
		Header:       record.Header{Timestamp: eventTime(evt, c.uptimeDiff)},
		ErrorCount:   int(u64(evt, "error_count")),
		Severity:     record.Severity(errType),
		Message:      strField(evt, "msg"),
		Label:        strField(evt, "label"),
		MCIndex:      int(u64(evt, "mc_index")),
		TopLayer:     i8(evt, "top_layer"),
		MiddleLayer:  i8(evt, "middle_layer"),
		LowerLayer:   i8(evt, "lower_layer"),
		Address:      u64(evt, "address"),
		Grain:        u64(evt, "grain"),
		Syndrome:     u64(evt, "syndrome"),
		DriverDetail: strField(evt, "driver_detail"),
	}
	c.persist("mc_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeMcEvent(rec))

	corrected := errType == "Corrected"
	if c.pageEngine != nil && corrected {
		c.pageEngine.Record(rec.Address, uint64(rec.ErrorCount))
	}
	if c.rowEngine != nil && corrected {
		if loc, ok := remediation.ParseRowLocation(rec.DriverDetail); ok {
			c.rowEngine.Record(loc, rec.Address, uint64(rec.ErrorCount))
		}
	}
	c.fireMcTrigger(rec, corrected)
}

func (c *Core) fireMcTrigger(rec record.MemoryControllerError, corrected bool) {
	if c.triggerDispatcher == nil {
		return
	}
	kind := "UE"
	if corrected {
		kind = "CE"
	}
	c.triggerDispatcher.Fire(trigger.FieldsFromMcEvent(
		rec.Timestamp.Format("2006-01-02 15:04:05"), rec.ErrorCount, kind, rec.Message, rec.Label,
		rec.MCIndex, rec.TopLayer, rec.MiddleLayer, rec.LowerLayer, rec.Address, rec.Grain, rec.Syndrome,
		rec.DriverDetail,
	))
}

func (c *Core) handleAerEvent(evt trace.Event) {
	in := aer.Input{
		DevName:        strField(evt, "dev_name"),
		Severity:       aer.Severity(u64(evt, "severity")),
		Status:         u32(evt, "status"),
		TLPHeaderValid: boolField(evt, "tlp_header_valid"),
	}
	rec := aer.Decode(in)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("aer_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeAer(rec))
}

func (c *Core) handleMceRecord(evt trace.Event) {
	rec := record.MachineCheck{
		Header:    record.Header{Timestamp: eventTime(evt, c.uptimeDiff)},
		CPU:       int(i64(evt, "cpu")),
		CPUID:     u32(evt, "cpuid"),
		ApicID:    u32(evt, "apicid"),
		SocketID:  int(i64(evt, "socketid")),
		CPUVendor: c.cpuInfo.VendorID,
		Microcode: u32(evt, "microcode"),
		TSC:       u64(evt, "tsc"),
		WallTime:  u64(evt, "time"),
	}
	in := mca.Input{
		MCGCap:    u64(evt, "mcgcap"),
		MCGStatus: u64(evt, "mcgstatus"),
		Status:    u64(evt, "status"),
		Addr:      u64(evt, "addr"),
		Misc:      u64(evt, "misc"),
		IP:        u64(evt, "ip"),
		Synd:      u64(evt, "synd"),
		IPID:      u64(evt, "ipid"),
		CPU:       rec.CPU,
		Bank:      int(i64(evt, "bank")),
		CPUType:   c.cpuType,
	}
	if err := mca.Decode(in, &rec); err != nil {
		c.log.Error(err, "mce_record decode failed")
		return
	}
	c.persist("mce_record", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeMce(rec))
	if c.cpuEngine != nil {
		c.cpuEngine.Record(rec.CPU, u16(evt, "error_count"))
	}
}

func (c *Core) handleArmEvent(evt trace.Event) {
	entries, err := arm.ParsePEIEntries(bytesField(evt, "pei_error"))
	if err != nil {
		c.log.Error(err, "arm_event pei decode failed")
		return
	}
	rec := arm.Decode(i8(evt, "affinity"), u64(evt, "mpidr"), u64(evt, "midr"),
		int32(i64(evt, "running_state")), int32(i64(evt, "psci_state")), entries)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("arm_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeArm(rec))
	if c.cpuEngine != nil && rec.ErrorCount > 0 {
		c.cpuEngine.Record(int(i64(evt, "cpu")), uint16(rec.ErrorCount))
	}
}

func (c *Core) handleExtlogEvent(evt trace.Event) {
	in := extlog.Input{
		ErrorSeq:  int32(i64(evt, "error_seq")),
		EType:     i8(evt, "etype"),
		Severity:  i8(evt, "severity"),
		Address:   u64(evt, "address"),
		PAMaskLSB: i8(evt, "pa_mask_lsb"),
		CPERData:  bytesField(evt, "cper_data"),
		FRUText:   strField(evt, "fru_text"),
		FRUID:     bytesField(evt, "fru_id"),
	}
	rec := extlog.Decode(in)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("extlog_mem_event", rec)
	if c.pageEngine != nil {
		c.pageEngine.Record(rec.Address, 1)
	}
}

func (c *Core) handleNonStandardEvent(evt trace.Event) {
	in := nonstandard.Input{
		SecType:  strField(evt, "sec_type"),
		FRUText:  strField(evt, "fru_text"),
		FRUID:    strField(evt, "fru_id"),
		Severity: record.Severity(strField(evt, "severity")),
		Error:    bytesField(evt, "error"),
	}
	rec := nonstandard.Decode(in)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("non_standard_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeNonStandard(rec))
}

func (c *Core) handleMemoryFailure(evt trace.Event) {
	in := memfailure.Input{
		PFN:    u64(evt, "pfn"),
		Type:   int(i64(evt, "type")),
		Result: int(i64(evt, "result")),
	}
	rec := memfailure.Decode(in)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("memory_failure_event", rec)

	if c.triggerDispatcher != nil {
		c.triggerDispatcher.Fire(trigger.Fields{
			Timestamp: rec.Timestamp.Format("2006-01-02 15:04:05"),
			Type:      "memory_failure",
			Message:   fmt.Sprintf("%s: %s", rec.PageType, rec.ActionResult),
			Address:   fmt.Sprintf("0x%x", rec.PFN<<12),
		})
	}
}

func (c *Core) handleDiskError(evt trace.Event) {
	in := disk.Input{
		Dev:      u32(evt, "dev"),
		Sector:   u64(evt, "sector"),
		NrSector: u32(evt, "nr_sector"),
		Error:    int(i64(evt, "errors")),
		RWBS:     strField(evt, "rwbs"),
		Cmd:      strField(evt, "cmd"),
	}
	rec := disk.Decode(in)
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("disk_errors", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeDiskError(rec))
}

func (c *Core) handleDevlinkHealthReport(evt trace.Event) {
	rec := devlink.DecodeHealthReport(devlink.HealthReportInput{
		BusName:      strField(evt, "bus_name"),
		DevName:      strField(evt, "dev_name"),
		DriverName:   strField(evt, "driver_name"),
		ReporterName: strField(evt, "reporter_name"),
		Message:      strField(evt, "msg"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("devlink_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeDevlink(rec))
}

func (c *Core) handleNetDevXmitTimeout(evt trace.Event) {
	rec := devlink.DecodeTimeout(devlink.TimeoutInput{
		DevName:    strField(evt, "name"),
		DriverName: strField(evt, "driver"),
		QueueIndex: int(i64(evt, "queue_index")),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("devlink_event", rec)
	c.broadcastServer.Broadcast(broadcast.SerializeDevlink(rec))
}

func (c *Core) cxlHeader(evt trace.Event) cxl.CommonHeader {
	return cxl.CommonHeader{
		MemDev:        strField(evt, "memdev"),
		Host:          strField(evt, "host"),
		Serial:        u64(evt, "serial"),
		LogType:       strField(evt, "log_type"),
		RecordUUID:    strField(evt, "uuid"),
		HdrFlags:      u8(evt, "hdr_flags"),
		Handle:        u16(evt, "hdr_handle"),
		RelatedHandle: u16(evt, "hdr_related_handle"),
		SpecTimestamp: eventTime(evt, c.uptimeDiff),
		Length:        u8(evt, "hdr_length"),
		MaintOpClass:  u8(evt, "hdr_maint_op_class"),
	}
}

func (c *Core) handleCxlPoison(evt trace.Event) {
	rec := cxl.DecodePoison(cxl.PoisonInput{
		Header:     c.cxlHeader(evt),
		TraceType:  strField(evt, "trace_type"),
		Region:     strField(evt, "region_name"),
		UUID:       strField(evt, "uuid"),
		HPA:        u64(evt, "hpa"),
		DPA:        u64(evt, "dpa"),
		DPALength:  u32(evt, "dpa_length"),
		Source:     strField(evt, "source"),
		Flags:      u8(evt, "flags"),
		OverflowTS: eventTime(evt, c.uptimeDiff),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_poison_event", rec)
}

func (c *Core) handleCxlAerUe(evt trace.Event) {
	rec := cxl.DecodeAerUe(cxl.AerUeInput{
		Header:      c.cxlHeader(evt),
		ErrorStatus: u32(evt, "error_status"),
		FirstError:  int(i64(evt, "first_error")),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_aer_ue_event", rec)
}

func (c *Core) handleCxlAerCe(evt trace.Event) {
	rec := cxl.DecodeAerCe(cxl.AerCeInput{
		Header:      c.cxlHeader(evt),
		ErrorStatus: u32(evt, "error_status"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_aer_ce_event", rec)
}

func (c *Core) handleCxlOverflow(evt trace.Event) {
	rec := cxl.DecodeOverflow(cxl.OverflowInput{
		Header:  c.cxlHeader(evt),
		FirstTS: eventTime(evt, c.uptimeDiff),
		LastTS:  eventTime(evt, c.uptimeDiff),
		Count:   u16(evt, "count"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_overflow_event", rec)
}

func (c *Core) handleCxlGeneric(evt trace.Event) {
	var data [16]byte
	copy(data[:], bytesField(evt, "data"))
	rec := cxl.DecodeGeneric(cxl.GenericInput{Header: c.cxlHeader(evt), Data: data})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_generic_event", rec)
}

func (c *Core) handleCxlGeneralMedia(evt trace.Event) {
	rec := cxl.DecodeGeneralMedia(cxl.GeneralMediaInput{
		Header:          c.cxlHeader(evt),
		DPA:             u64(evt, "dpa"),
		DPAFlags:        u8(evt, "dpa_flags"),
		Descriptor:      u8(evt, "descriptor"),
		Type:            u8(evt, "type"),
		TransactionType: u8(evt, "transaction_type"),
		ValidityFlags:   u8(evt, "validity_flags"),
		Channel:         u32(evt, "channel"),
		Rank:            u32(evt, "rank"),
		Device:          u32(evt, "device"),
		CompID:          bytesField(evt, "comp_id"),
		HPA:             u64(evt, "hpa"),
		Region:          strField(evt, "region_name"),
		RegionUUID:      strField(evt, "region_uuid"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_general_media_event", rec)

	if c.pageEngine != nil && cxl.IsThresholdCorrectable(u8(evt, "descriptor")) {
		c.pageEngine.TriggerHardwareThreshold(rec.HPA)
	}
}

func (c *Core) handleCxlDram(evt trace.Event) {
	rec := cxl.DecodeDram(cxl.DramInput{
		Header:          c.cxlHeader(evt),
		DPA:             u64(evt, "dpa"),
		HPA:             u64(evt, "hpa"),
		DPAFlags:        u8(evt, "dpa_flags"),
		Descriptor:      u8(evt, "descriptor"),
		Type:            u8(evt, "type"),
		TransactionType: u8(evt, "transaction_type"),
		ValidityFlags:   u8(evt, "validity_flags"),
		Channel:         u16(evt, "channel"),
		Rank:            u8(evt, "rank"),
		NibbleMask:      u32(evt, "nibble_mask"),
		BankGroup:       u8(evt, "bank_group"),
		Bank:            u8(evt, "bank"),
		Row:             u32(evt, "row"),
		Column:          u16(evt, "column"),
		CorMask:         bytesField(evt, "cor_mask"),
		Region:          strField(evt, "region_name"),
		RegionUUID:      strField(evt, "region_uuid"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_dram_event", rec)

	if c.pageEngine != nil && cxl.IsThresholdCorrectable(u8(evt, "descriptor")) {
		c.pageEngine.TriggerHardwareThreshold(rec.HPA)
	}
}

func (c *Core) handleCxlMemoryModule(evt trace.Event) {
	rec := cxl.DecodeMemoryModule(cxl.MemoryModuleInput{
		Header:           c.cxlHeader(evt),
		EventType:        u8(evt, "event_type"),
		HealthStatus:     u8(evt, "health_status"),
		MediaStatus:      u8(evt, "media_status"),
		LifeUsed:         u8(evt, "life_used"),
		DirtyShutdownCnt: u32(evt, "dirty_shutdown_cnt"),
		CorVolErrCnt:     u32(evt, "cor_vol_err_cnt"),
		CorPerErrCnt:     u32(evt, "cor_per_err_cnt"),
		DeviceTemp:       int16(i64(evt, "device_temp")),
		AddStatus:        u8(evt, "add_status"),
	})
	rec.Header = record.Header{Timestamp: eventTime(evt, c.uptimeDiff)}
	c.persist("cxl_memory_module_event", rec)
}

