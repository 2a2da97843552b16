// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/antimetal/rasdaemon/pkg/errors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFormat = `name: mc_event
ID: 402
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:unsigned char common_preempt_count;	offset:3;	size:1;	signed:0;
	field:int common_pid;	offset:4;	size:4;	signed:1;

	field:int error_count;	offset:8;	size:4;	signed:1;
	field:u8 error_type;	offset:12;	size:1;	signed:0;
	field:__u64 address;	offset:16;	size:8;	signed:0;
	field:char label[80];	offset:24;	size:80;	signed:0;

print fmt: "..."
`

func newTestFacility(t *testing.T) (*Facility, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "events", "ras", "mc_event"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events", "ras", "mc_event", "format"), []byte(sampleFormat), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "set_event"), nil, 0644))
	return &Facility{log: logr.Discard(), Dir: dir}, dir
}

func TestParseFormatExtractsFields(t *testing.T) {
	schema, err := parseFormat("ras", "mc_event", []byte(sampleFormat))
	require.NoError(t, err)
	assert.Equal(t, 402, schema.ID)

	f, ok := schema.Field("address")
	require.True(t, ok)
	assert.Equal(t, 16, f.Offset)
	assert.Equal(t, 8, f.Size)

	label, ok := schema.Field("label")
	require.True(t, ok)
	assert.True(t, label.IsArray)
}

func TestParseFormatRejectsEmptyFieldSet(t *testing.T) {
	_, err := parseFormat("ras", "empty", []byte("name: empty\nID: 1\nformat:\n"))
	assert.Error(t, err)
}

func TestUint64ExtractsLittleEndianField(t *testing.T) {
	schema, err := parseFormat("ras", "mc_event", []byte(sampleFormat))
	require.NoError(t, err)
	f, _ := schema.Field("error_count")

	raw := make([]byte, 32)
	raw[8], raw[9], raw[10], raw[11] = 0x2a, 0, 0, 0 // 42 little-endian
	v, err := Uint64(raw, f)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func TestUint64OutOfBounds(t *testing.T) {
	f := Field{Offset: 100, Size: 8}
	_, err := Uint64(make([]byte, 4), f)
	assert.Error(t, err)
}

func TestRegistryRegisterAndDispatch(t *testing.T) {
	facility, _ := newTestFacility(t)
	reg := NewRegistry(facility, logr.Discard())

	var received *Event
	handler := func(e Event) { received = &e }

	err := reg.Register(context.Background(), "ras", "mc_event", handler, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.EnabledCount())

	raw := make([]byte, 32)
	raw[8] = 7
	reg.Dispatch("ras", "mc_event", Event{Raw: raw})
	require.NotNil(t, received)
	assert.Equal(t, "mc_event", received.Schema.Name)
}

func TestRegistryHonorsDisableList(t *testing.T) {
	facility, _ := newTestFacility(t)
	reg := NewRegistry(facility, logr.Discard())

	err := reg.Register(context.Background(), "ras", "mc_event", func(Event) {}, "",
		map[string]bool{"ras:mc_event": true}, nil)
	assert.ErrorIs(t, err, errors.ErrEventDisabled)
	assert.Equal(t, 0, reg.EnabledCount())
}

func TestRegistryMissingFormatIsNonFatal(t *testing.T) {
	facility, _ := newTestFacility(t)
	reg := NewRegistry(facility, logr.Discard())

	err := reg.Register(context.Background(), "ras", "does_not_exist", func(Event) {}, "", nil, nil)
	assert.ErrorIs(t, err, errors.ErrEventFormatMissing)
}

func TestRegistryFilterSuppressesNonMatchingEvents(t *testing.T) {
	facility, _ := newTestFacility(t)
	reg := NewRegistry(facility, logr.Discard())

	var calls int
	err := reg.Register(context.Background(), "ras", "mc_event", func(Event) { calls++ }, "error_count==42", nil, nil)
	require.NoError(t, err)

	matching := make([]byte, 32)
	matching[8] = 42
	reg.Dispatch("ras", "mc_event", Event{Raw: matching})

	nonMatching := make([]byte, 32)
	nonMatching[8] = 1
	reg.Dispatch("ras", "mc_event", Event{Raw: nonMatching})

	assert.Equal(t, 1, calls)
}

func TestRegistryTriggerSetupHookRuns(t *testing.T) {
	facility, _ := newTestFacility(t)
	reg := NewRegistry(facility, logr.Discard())

	var gotGroup, gotName string
	hook := func(f *Facility, group, name string) error {
		gotGroup, gotName = group, name
		return nil
	}
	err := reg.Register(context.Background(), "ras", "mc_event", func(Event) {}, "", nil, hook)
	require.NoError(t, err)
	assert.Equal(t, "ras", gotGroup)
	assert.Equal(t, "mc_event", gotName)
}

func TestCompileFilterRejectsUnrecognizedExpression(t *testing.T) {
	_, err := compileFilter("garbage")
	assert.Error(t, err)
}
