// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package broadcast implements the optional local-socket notification
// server of §4.L: an abstract-namespace unix socket accepting up to N
// concurrent clients, each fed a comma-separated key=value line per
// event. Disconnect is detected by the per-connection reader observing
// EOF (the readiness-bit hang-up signal in the original). A client whose
// buffer is full misses that message; a client whose write fails is
// dropped. Neither blocks the rest of the broadcast.
package broadcast

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"
)

const clientSendBuffer = 16

// Server is the broadcast server.
type Server struct {
	log        logr.Logger
	addr       string
	maxClients int

	mu      sync.Mutex
	ln      net.Listener
	clients map[*client]struct{}
}

type client struct {
	conn  net.Conn
	msgCh chan string
	once  sync.Once
}

// New returns a Server bound to addr, an abstract-namespace path (a
// leading "@" selects Linux's abstract socket namespace the same way
// the original zeroes sun_path[0]).
func New(addr string, maxClients int, log logr.Logger) *Server {
	return &Server{
		log:        log.WithName("broadcast"),
		addr:       addr,
		maxClients: maxClients,
		clients:    make(map[*client]struct{}),
	}
}

// Start listens on the server's address and runs the accept loop until
// ctx is canceled, at which point the listener and all client
// connections are closed.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("unix", s.addr)
	if err != nil {
		return fmt.Errorf("broadcast: listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("broadcast server listening", "addr", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.closeAllClients()
				return nil
			default:
				return fmt.Errorf("broadcast: accept: %w", err)
			}
		}

		s.mu.Lock()
		full := len(s.clients) >= s.maxClients
		s.mu.Unlock()
		if full {
			s.log.Info("broadcast server full, rejecting connection")
			conn.Close()
			continue
		}
		s.addClient(conn)
	}
}

func (s *Server) addClient(conn net.Conn) {
	c := &client{conn: conn, msgCh: make(chan string, clientSendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)
	go s.hangupWatcher(c)
}

func (s *Server) writeLoop(c *client) {
	for msg := range c.msgCh {
		if _, err := c.conn.Write([]byte(msg + "\n")); err != nil {
			s.removeClient(c)
			return
		}
	}
}

// hangupWatcher blocks on Read purely to observe the peer closing the
// connection; clients are never expected to send data.
func (s *Server) hangupWatcher(c *client) {
	buf := make([]byte, 1)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) removeClient(c *client) {
	c.once.Do(func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.msgCh)
		c.conn.Close()
	})
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

// Broadcast sends msg to every connected client. A client whose send
// buffer is full is skipped for this message rather than blocking the
// rest of the pipeline; persistent failures surface as write errors in
// writeLoop, which removes the client.
func (s *Server) Broadcast(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	for c := range s.clients {
		select {
		case c.msgCh <- msg:
		default:
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
