// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// subbufferSize is one page, the unit §4.E reads per wakeup from each
// per-CPU trace_pipe_raw descriptor.
const subbufferSize = 4096

// DispatchFunc routes one decoded ring-buffer record to its handler.
type DispatchFunc func(cpu int, evt RawEvent)

type cpuSource struct {
	cpu  int
	file *os.File
	fd   int
}

// openCPUSources opens per_cpu/cpu<i>/trace_pipe_raw read-only for
// every CPU in cpus, rooted at tracingDir.
func openCPUSources(tracingDir string, cpus []int) ([]*cpuSource, error) {
	sources := make([]*cpuSource, 0, len(cpus))
	for _, cpu := range cpus {
		path := filepath.Join(tracingDir, "per_cpu", fmt.Sprintf("cpu%d", cpu), "trace_pipe_raw")
		f, err := os.Open(path)
		if err != nil {
			closeCPUSources(sources)
			return nil, fmt.Errorf("ingest: open %s: %w", path, err)
		}
		sources = append(sources, &cpuSource{cpu: cpu, file: f, fd: int(f.Fd())})
	}
	return sources, nil
}

func closeCPUSources(sources []*cpuSource) {
	for _, s := range sources {
		s.file.Close()
	}
}

// disableBufferPercent best-effort writes 0 to buffer_percent so the
// kernel wakes pollers on any data rather than waiting to fill a
// percentage of the subbuffer. Unsupported on older kernels, so any
// failure is logged and ignored.
func disableBufferPercent(tracingDir string, log logr.Logger) {
	path := filepath.Join(tracingDir, "buffer_percent")
	if err := os.WriteFile(path, []byte("0"), 0); err != nil {
		log.V(1).Info("buffer_percent not supported by this kernel", "error", err.Error())
	}
}

// runPreferred implements the readiness-multiplexer mode of §4.E. It
// blocks until either a termination signal fires (clean exit, returns
// fallback=false, err=nil) or every CPU source returns zero bytes on
// the same wakeup (the legacy-kernel signature, returns fallback=true).
func runPreferred(sources []*cpuSource, sigFD int, dispatch DispatchFunc, log logr.Logger) (fallback bool, err error) {
	pollfds := make([]unix.PollFd, len(sources)+1)
	sigIdx := len(sources)
	for i, s := range sources {
		pollfds[i] = unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN}
	}
	pollfds[sigIdx] = unix.PollFd{Fd: int32(sigFD), Events: unix.POLLIN}

	buf := make([]byte, subbufferSize)

	for {
		for i := range pollfds {
			pollfds[i].Revents = 0
		}
		n, perr := unix.Poll(pollfds, -1)
		if perr != nil {
			if perr == unix.EINTR {
				continue
			}
			return false, fmt.Errorf("ingest: poll: %w", perr)
		}
		if n == 0 {
			continue
		}

		if pollfds[sigIdx].Revents&unix.POLLIN != 0 {
			log.Info("termination signal received, exiting ingestion loop")
			return false, nil
		}

		zero := 0
		for i, s := range sources {
			revents := pollfds[i].Revents
			if revents == 0 {
				continue
			}
			if revents&unix.POLLERR != 0 {
				log.Info("POLLERR on cpu trace source, continuing", "cpu", s.cpu)
				continue
			}
			if revents&unix.POLLIN == 0 {
				continue
			}

			rn, rerr := s.file.Read(buf)
			if rerr != nil {
				log.Error(rerr, "read failed on cpu trace source", "cpu", s.cpu)
				continue
			}
			if rn == 0 {
				zero++
				continue
			}

			events, derr := IterateSubbuffer(buf[:rn])
			if derr != nil {
				log.Error(derr, "subbuffer decode failed, dropping remainder", "cpu", s.cpu)
			}
			for _, e := range events {
				dispatch(s.cpu, e)
			}
		}

		if zero > 0 && zero == len(sources) {
			log.Info("all cpu sources returned zero bytes on the same wakeup, falling back to per-cpu polling mode")
			return true, nil
		}
	}
}
