// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// pollingTime is POLLING_TIME from §4.E: the sleep between empty reads
// in fallback mode.
const pollingTime = 3 * time.Second

// PersistenceSession is the subset of the persistence façade (§4.G) the
// fallback ingestion mode needs: reference-counted open/close so that N
// cooperative per-CPU tasks can each call it safely.
type PersistenceSession interface {
	Open(cpuHint int) error
	Close(cpuHint int) error
}

// runFallback implements the one-task-per-CPU mode of §4.E: each task
// independently polls its raw pipe on a timer, sharing the persistence
// façade through a process-wide lock taken around open/close exactly as
// §4.G requires for this mode.
func runFallback(ctx context.Context, tracingDir string, cpus []int, session PersistenceSession, dispatch DispatchFunc, log logr.Logger) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, cpu := range cpus {
		g.Go(func() error {
			mu.Lock()
			openErr := session.Open(cpu)
			mu.Unlock()
			if openErr != nil {
				return fmt.Errorf("ingest: fallback open for cpu %d: %w", cpu, openErr)
			}
			defer func() {
				mu.Lock()
				session.Close(cpu)
				mu.Unlock()
			}()

			path := filepath.Join(tracingDir, "per_cpu", fmt.Sprintf("cpu%d", cpu), "trace_pipe_raw")
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("ingest: fallback open %s: %w", path, err)
			}
			defer f.Close()

			return pollCPUFallback(gctx, f, cpu, dispatch, log)
		})
	}
	return g.Wait()
}

func pollCPUFallback(ctx context.Context, f *os.File, cpu int, dispatch DispatchFunc, log logr.Logger) error {
	buf := make([]byte, subbufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := f.Read(buf)
		if err != nil {
			log.Error(err, "fallback read failed", "cpu", cpu)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollingTime):
			}
			continue
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollingTime):
			}
			continue
		}

		events, derr := IterateSubbuffer(buf[:n])
		if derr != nil {
			log.Error(derr, "subbuffer decode failed, dropping remainder", "cpu", cpu)
			continue
		}
		for _, e := range events {
			dispatch(cpu, e)
		}
	}
}
