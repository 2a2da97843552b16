// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package memfailure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRecoveredHugePage(t *testing.T) {
	rec := Decode(Input{PFN: 0x1234, Type: 5, Result: 3})
	assert.Equal(t, "huge page", rec.PageType)
	assert.Equal(t, "Recovered", rec.ActionResult)
	assert.EqualValues(t, 0x1234, rec.PFN)
}

func TestDecodeUnknownTypeAndResult(t *testing.T) {
	rec := Decode(Input{Type: 999, Result: -1})
	assert.Equal(t, "unknown page", rec.PageType)
	assert.Equal(t, "unknown", rec.ActionResult)
}

func TestPFNString(t *testing.T) {
	assert.Equal(t, "0x1234", PFNString(0x1234))
}
