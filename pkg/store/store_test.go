// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"testing"
	"time"

	"github.com/antimetal/rasdaemon/pkg/record"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCloseIsReferenceCounted(t *testing.T) {
	f := New("", logr.Discard())
	require.NoError(t, f.Open(0))
	require.NoError(t, f.Open(1))
	assert.Equal(t, 2, f.refs)

	require.NoError(t, f.Close(0))
	assert.NotNil(t, f.db, "db must stay open while a reference remains")

	require.NoError(t, f.Close(1))
	assert.Nil(t, f.db)
}

func TestCloseWithoutOpenIsSafe(t *testing.T) {
	f := New("", logr.Discard())
	assert.NoError(t, f.Close(0))
}

func TestInsertAssignsAutoIncrementID(t *testing.T) {
	f := New("", logr.Discard())
	require.NoError(t, f.Open(0))
	defer f.Close(0)

	rec := record.DiskError{
		Header: record.Header{Timestamp: time.Now()},
		Dev:    "8:16",
		Error:  "critical space allocation error",
	}
	require.NoError(t, f.InsertDiskError(rec))
	require.NoError(t, f.InsertDiskError(rec))

	table := f.tables[TableDiskError]
	require.NotNil(t, table)
	next, err := table.seq.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 2, next, "the two inserts take ids 0 and 1")
}

func TestRegisterVendorTableMergesColumns(t *testing.T) {
	f := New("", logr.Discard())
	require.NoError(t, f.Open(0))
	defer f.Close(0)

	require.NoError(t, f.RegisterVendorTable(TableDescriptor{Name: "cper_yitian710", Columns: []string{"ras_type"}}))
	require.NoError(t, f.RegisterVendorTable(TableDescriptor{Name: "cper_yitian710", Columns: []string{"sub_module_id"}}))

	table := f.tables["cper_yitian710"]
	require.NotNil(t, table)
	_, hasRasType := table.columns["ras_type"]
	_, hasSubModule := table.columns["sub_module_id"]
	assert.True(t, hasRasType)
	assert.True(t, hasSubModule)
}

func TestInsertFailsWhenNotOpen(t *testing.T) {
	f := New("", logr.Discard())
	err := f.InsertDiskError(record.DiskError{})
	assert.Error(t, err)
}

func TestInsertVendorFieldsMergesExtraColumns(t *testing.T) {
	f := New("", logr.Discard())
	require.NoError(t, f.Open(0))
	defer f.Close(0)

	rec := record.NonStandardCper{
		Header:  record.Header{Timestamp: time.Now()},
		SecType: "yitian710",
	}
	err := f.InsertVendorFields("cper_yitian710", rec, map[string]any{"ras_type": 0, "instance_id": 3})
	require.NoError(t, err)

	table := f.tables["cper_yitian710"]
	require.NotNil(t, table)
	_, ok := table.columns["instance_id"]
	assert.True(t, ok)
}
