// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package core

import (
	"encoding/binary"
	"testing"

	"github.com/antimetal/rasdaemon/pkg/config"
	"github.com/antimetal/rasdaemon/pkg/remediation"
	"github.com/antimetal/rasdaemon/pkg/store"
	"github.com/antimetal/rasdaemon/pkg/trace"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOffliner struct {
	softCalls []uint64
	hardCalls []uint64
}

func (f *fakeOffliner) SoftOffline(addr uint64) error {
	f.softCalls = append(f.softCalls, addr)
	return nil
}

func (f *fakeOffliner) HardOffline(addr uint64) error {
	f.hardCalls = append(f.hardCalls, addr)
	return nil
}

// thresholdEvent builds a minimal CXL general-media/DRAM trace event
// carrying only the fields handleCxlGeneralMedia/handleCxlDram read: a
// threshold-correctable descriptor, a DPA, and an HPA, each at a
// distinct address so a test can tell which one a handler used.
func thresholdEvent(dpa, hpa uint64) trace.Event {
	raw := make([]byte, 24)
	raw[0] = 0x02 // gmerDescThreshold, no uncorrectable bit
	binary.LittleEndian.PutUint64(raw[8:16], dpa)
	binary.LittleEndian.PutUint64(raw[16:24], hpa)

	schema := &trace.Schema{
		Group: "cxl",
		Fields: []trace.Field{
			{Name: "descriptor", Offset: 0, Size: 1},
			{Name: "dpa", Offset: 8, Size: 8},
			{Name: "hpa", Offset: 16, Size: 8},
		},
	}
	return trace.Event{Schema: schema, Raw: raw}
}

func newTestCore(t *testing.T, off remediation.Offliner) *Core {
	t.Helper()
	st := store.New("", logr.Discard())
	require.NoError(t, st.Open(0))
	t.Cleanup(func() { st.Close(0) })

	return &Core{
		log:        logr.Discard(),
		store:      st,
		pageEngine: remediation.NewPageEngine(config.EngineConfig{Action: config.ActionHard, Threshold: 1000, Cycle: 3600}, off, logr.Discard()),
	}
}

func TestHandleCxlGeneralMediaThresholdUsesHPANotDPA(t *testing.T) {
	off := &fakeOffliner{}
	c := newTestCore(t, off)

	const dpa, hpa = uint64(0x2000), uint64(0x100000000)
	c.handleCxlGeneralMedia(thresholdEvent(dpa, hpa))

	require.Len(t, off.hardCalls, 1)
	assert.Equal(t, hpa, off.hardCalls[0], "page engine must be triggered with the host physical address, not the device physical address")
}

func TestHandleCxlDramThresholdUsesHPANotDPA(t *testing.T) {
	off := &fakeOffliner{}
	c := newTestCore(t, off)

	const dpa, hpa = uint64(0x3000), uint64(0x200000000)
	c.handleCxlDram(thresholdEvent(dpa, hpa))

	require.Len(t, off.hardCalls, 1)
	assert.Equal(t, hpa, off.hardCalls[0], "page engine must be triggered with the host physical address, not the device physical address")
}
