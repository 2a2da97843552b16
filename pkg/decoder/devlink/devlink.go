// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package devlink decodes devlink health-report events and net-device
// TX-timeout events. Both trace events share the same
// record.DevlinkHealthReport shape; TX-timeout carries no bus/reporter
// name so those fields are left empty.
package devlink

import (
	"fmt"

	"github.com/antimetal/rasdaemon/pkg/record"
)

// HealthReportInput is the raw trace-event payload for a devlink_health_report event.
type HealthReportInput struct {
	BusName      string
	DevName      string
	DriverName   string
	ReporterName string
	Message      string
}

func DecodeHealthReport(in HealthReportInput) record.DevlinkHealthReport {
	return record.DevlinkHealthReport{
		BusName:      in.BusName,
		DevName:      in.DevName,
		DriverName:   in.DriverName,
		ReporterName: in.ReporterName,
		Message:      in.Message,
	}
}

// TimeoutInput is the raw trace-event payload for a net_dev_xmit_timeout event.
type TimeoutInput struct {
	DevName    string
	DriverName string
	QueueIndex int
}

// DecodeTimeout ports ras_net_xmit_timeout_handler, synthesizing the
// same "TX timeout on queue: %d" message and leaving bus/reporter name
// empty as the original does.
func DecodeTimeout(in TimeoutInput) record.DevlinkHealthReport {
	return record.DevlinkHealthReport{
		DevName:    in.DevName,
		DriverName: in.DriverName,
		Message:    fmt.Sprintf("TX timeout on queue: %d", in.QueueIndex),
	}
}
