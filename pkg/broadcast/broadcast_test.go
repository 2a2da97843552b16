// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package broadcast

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/antimetal/rasdaemon/pkg/record"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("@rasdaemon-test-%d", time.Now().UnixNano())
}

func startServer(t *testing.T, addr string, maxClients int) (*Server, context.CancelFunc) {
	t.Helper()
	s := New(addr, maxClients, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = s.Start(ctx)
	}()
	<-started
	waitForListener(t, s)
	return s, cancel
}

func waitForListener(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()
		if ln != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never started listening")
}

func TestBroadcastDeliversToConnectedClient(t *testing.T) {
	addr := testAddr(t)
	s, cancel := startServer(t, addr, 4)
	defer cancel()

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	waitForClientCount(t, s, 1)

	s.Broadcast(SerializeDiskError(record.DiskError{Dev: "8:16", Error: "critical space allocation error"}))

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "type=diskerror")
	assert.Contains(t, line, "dev=8:16")
}

func TestBroadcastRejectsConnectionsBeyondMaxClients(t *testing.T) {
	addr := testAddr(t)
	s, cancel := startServer(t, addr, 1)
	defer cancel()

	conn1, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn1.Close()
	waitForClientCount(t, s, 1)

	conn2, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	assert.Error(t, err, "rejected connection should be closed by the server")
}

func TestBroadcastDetectsDisconnect(t *testing.T) {
	addr := testAddr(t)
	s, cancel := startServer(t, addr, 4)
	defer cancel()

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	waitForClientCount(t, s, 1)

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.ClientCount() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, s.ClientCount())
}

func waitForClientCount(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d", n)
}

func TestSerializeMcEvent(t *testing.T) {
	rec := record.MemoryControllerError{
		ErrorCount: 3, Severity: record.SeverityCorrected, Message: "m", Label: "DIMM_A1",
		MCIndex: 0, Address: 0x1000,
	}
	line := SerializeMcEvent(rec)
	assert.Contains(t, line, "type=mc")
	assert.Contains(t, line, "label=DIMM_A1")
}
