// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPURangeMixedRangesAndSingles(t *testing.T) {
	cpus, err := parseCPURange("0-3,5,7-8")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 5, 7, 8}, cpus)
}

func TestParseCPURangeSingleEntry(t *testing.T) {
	cpus, err := parseCPURange("0")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cpus)
}

func TestParseCPURangeRejectsEmpty(t *testing.T) {
	_, err := parseCPURange("")
	assert.Error(t, err)
}

func TestParseCPURangeRejectsGarbage(t *testing.T) {
	_, err := parseCPURange("x-y")
	assert.Error(t, err)
}
