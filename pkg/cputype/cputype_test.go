// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package cputype

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAMDK8(t *testing.T) {
	typ, ok := Detect(Info{Vendor: VendorAMD, Family: 0x0f})
	require.True(t, ok)
	assert.Equal(t, TypeAMDK8, typ)
}

func TestDetectAMDSMCA(t *testing.T) {
	typ, ok := Detect(Info{Vendor: VendorAMD, Family: 0x17})
	require.True(t, ok)
	assert.Equal(t, TypeAMDSMCA, typ)
}

func TestDetectSkylakeX(t *testing.T) {
	typ, ok := Detect(Info{Vendor: VendorIntel, Family: 6, Model: 0x55})
	require.True(t, ok)
	assert.Equal(t, TypeSkylakeX, typ)
}

func TestDetectUnknownIntelFallsBackToGeneric(t *testing.T) {
	typ, ok := Detect(Info{Vendor: VendorIntel, Family: 6, Model: 0xff})
	require.True(t, ok)
	assert.Equal(t, TypeGeneric, typ)
}

func TestDetectUnknownVendorIsUnsupported(t *testing.T) {
	_, ok := Detect(Info{Vendor: VendorUnknown})
	assert.False(t, ok)
}

func TestParseCPUInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cpuinfo")
	content := "processor\t: 0\n" +
		"vendor_id\t: GenuineIntel\n" +
		"cpu family\t: 6\n" +
		"model\t\t: 85\n" +
		"cpu MHz\t\t: 2400.000\n" +
		"flags\t\t: fpu vme de pse\n\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info, err := ParseCPUInfo(path)
	require.NoError(t, err)
	assert.Equal(t, "GenuineIntel", info.VendorID)
	assert.Equal(t, VendorIntel, info.Vendor)
	assert.Equal(t, 6, info.Family)
	assert.Equal(t, 85, info.Model)
	assert.Equal(t, 2400.0, info.MHz)
	assert.Equal(t, []string{"fpu", "vme", "de", "pse"}, info.Flags)
}
