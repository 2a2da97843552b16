// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollCPUFallbackDispatchesAndStopsOnCancel(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := []byte{9, 9}
	buf := buildSubbuffer(5, 12+int64(len(payload)), [][]byte{payload})
	go w.Write(buf)

	ctx, cancel := context.WithCancel(context.Background())
	var received []RawEvent
	dispatch := func(cpu int, evt RawEvent) {
		received = append(received, evt)
		cancel()
	}

	err = pollCPUFallback(ctx, r, 0, dispatch, logr.Discard())
	assert.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, payload, received[0].Payload)
}

func TestPollCPUFallbackExitsImmediatelyWhenContextAlreadyCanceled(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- pollCPUFallback(ctx, r, 0, func(int, RawEvent) {}, logr.Discard()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pollCPUFallback did not exit promptly on canceled context")
	}
}
