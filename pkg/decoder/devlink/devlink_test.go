// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package devlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeHealthReport(t *testing.T) {
	rec := DecodeHealthReport(HealthReportInput{
		BusName:      "pci",
		DevName:      "0000:01:00.0",
		DriverName:   "mlx5_core",
		ReporterName: "fw_fatal",
		Message:      "fw fatal error",
	})
	assert.Equal(t, "pci", rec.BusName)
	assert.Equal(t, "fw_fatal", rec.ReporterName)
}

func TestDecodeTimeout(t *testing.T) {
	rec := DecodeTimeout(TimeoutInput{DevName: "eth0", DriverName: "e1000e", QueueIndex: 3})
	assert.Empty(t, rec.BusName)
	assert.Empty(t, rec.ReporterName)
	assert.Equal(t, "TX timeout on queue: 3", rec.Message)
}
