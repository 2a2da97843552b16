// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package broadcast

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

// The Serialize* functions render one event record as the single
// comma-separated key=value line a connected client receives, one
// function per event kind as in the original server's per-type
// snprintf helpers.

func SerializeMcEvent(rec record.MemoryControllerError) string {
	return fmt.Sprintf(
		"type=mc,timestamp=%s,error_count=%d,error_type=%s,msg=%s,label=%s,"+
			"mc_index=%d,top_layer=%d,middle_layer=%d,lower_layer=%d,"+
			"address=%d,grain=%d,syndrome=%d,driver_detail=%s",
		rec.Timestamp.Format(timeLayout), rec.ErrorCount, rec.Severity, rec.Message, rec.Label,
		rec.MCIndex, rec.TopLayer, rec.MiddleLayer, rec.LowerLayer,
		rec.Address, rec.Grain, rec.Syndrome, rec.DriverDetail,
	)
}

func SerializeAer(rec record.PciAer) string {
	return fmt.Sprintf("type=aer,timestamp=%s,error_type=%s,dev_name=%s,msg=%s",
		rec.Timestamp.Format(timeLayout), rec.ErrorType, rec.DevName, rec.Message)
}

func SerializeMce(rec record.MachineCheck) string {
	return fmt.Sprintf("type=mce,timestamp=%s,bank_name=%s,mc_location=%s,error_msg=%s",
		rec.Timestamp.Format(timeLayout), rec.BankName, rec.MCALocation, rec.ErrorMsg)
}

func SerializeNonStandard(rec record.NonStandardCper) string {
	return fmt.Sprintf("type=non_standard,timestamp=%s,severity=%s,length=%d",
		rec.Timestamp.Format(timeLayout), rec.Severity, len(rec.Error))
}

func SerializeArm(rec record.ArmProcessorError) string {
	return fmt.Sprintf(
		"type=arm,timestamp=%s,error_count=%d,affinity=%d,mpidr=0x%x,midr=0x%x,"+
			"running_state=%d,psci_state=%d",
		rec.Timestamp.Format(timeLayout), rec.ErrorCount, rec.Affinity, rec.MPIDR, rec.MIDR,
		rec.RunningState, rec.PSCIState,
	)
}

func SerializeDevlink(rec record.DevlinkHealthReport) string {
	return fmt.Sprintf("type=devlink,timestamp=%s,bus_name=%s,dev_name=%s,driver_name=%s,reporter_name=%s,msg=%s",
		rec.Timestamp.Format(timeLayout), rec.BusName, rec.DevName, rec.DriverName, rec.ReporterName, rec.Message)
}

func SerializeDiskError(rec record.DiskError) string {
	return fmt.Sprintf("type=diskerror,timestamp=%s,dev=%s,sector=%d,nr_sector=%d,error=%s,rwbs=%s,cmd=%s",
		rec.Timestamp.Format(timeLayout), rec.Dev, rec.Sector, rec.NrSector, rec.Error, rec.RWBS, rec.Cmd)
}

const timeLayout = "2006-01-02 15:04:05"
