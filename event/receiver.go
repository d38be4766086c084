// Copyright 2026 The stacks-signer Authors
// This file is part of stacks-signer.
//
// stacks-signer is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// stacks-signer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with stacks-signer.  If not, see <http://www.gnu.org/licenses/>.

// Package event implements the event receiver: a bounded HTTP server
// that accepts POSTs from the node announcing new slot writes, decodes
// them, and fans them out to subscribers, with a cooperative stop
// protocol.
package event

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/signererr"
)

// ModifiedSlot is one entry of an incoming push notification.
type ModifiedSlot struct {
	SlotID      uint32 `json:"slot_id"`
	SlotVersion uint32 `json:"slot_version"`
	Data        []byte `json:"data"`
	Sig         []byte `json:"sig"`
}

// Event is the decoded POST /stackerdb_chunks body.
type Event struct {
	ContractID    string         `json:"contract_id"`
	ModifiedSlots []ModifiedSlot `json:"modified_slots"`
}

const chunksPath = "/stackerdb_chunks"

// Receiver is the event-receiver thread's HTTP server. It is
// deliberately single-accept-at-a-time: each call to NextEvent performs
// one blocking accept and body read.
type Receiver struct {
	log      signerlog.Logger
	listener net.Listener
	stopped  atomic.Bool

	mu        sync.Mutex
	consumers []chan<- Event
}

// New builds an unbound Receiver.
func New(logger signerlog.Logger) *Receiver {
	if logger == nil {
		logger = signerlog.Root()
	}
	return &Receiver{log: logger}
}

// Bind starts listening on addr and returns the bound address.
func (r *Receiver) Bind(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", &signererr.NotBound{}
	}
	r.listener = l
	return l.Addr().String(), nil
}

// AddConsumer registers a sink. Every forwarded event is sent to every
// registered consumer; every sink receives the same Event value, so
// its slices are shared between consumers, not copied.
func (r *Receiver) AddConsumer(ch chan<- Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = append(r.consumers, ch)
}

// ForwardEvent sends ev to every consumer. It returns false if any
// send could not complete because a consumer's channel stayed full
// past a short grace period, in which case the main loop must
// terminate. A closed consumer channel makes the send panic.
func (r *Receiver) ForwardEvent(ev Event) bool {
	r.mu.Lock()
	consumers := append([]chan<- Event{}, r.consumers...)
	r.mu.Unlock()

	ok := true
	for _, ch := range consumers {
		select {
		case ch <- ev:
		case <-time.After(5 * time.Second):
			r.log.Error("consumer channel blocked, forwarding failed")
			ok = false
		}
	}
	return ok
}

// NextEvent blocks for one HTTP request. It validates method and path:
// unknown combinations are answered 200 (so the node does not retry)
// and surfaced as UnrecognizedEvent, which callers treat as a
// non-error continue.
func (r *Receiver) NextEvent() (Event, error) {
	if r.listener == nil {
		return Event{}, &signererr.NotBound{}
	}
	conn, err := r.listener.Accept()
	if err != nil {
		if r.stopped.Load() {
			return Event{}, &signererr.Terminated{}
		}
		return Event{}, err
	}
	defer conn.Close()

	req, err := http.ReadRequest(newBufReader(conn))
	if err != nil {
		if r.stopped.Load() {
			return Event{}, &signererr.Terminated{}
		}
		return Event{}, err
	}
	defer req.Body.Close()

	if r.stopped.Load() && isDummyProbe(req) {
		writeEmpty200(conn)
		return Event{}, &signererr.Terminated{}
	}

	if req.Method != http.MethodPost || req.URL.Path != chunksPath {
		writeEmpty200(conn)
		return Event{}, &signererr.UnrecognizedEvent{Method: req.Method, Path: req.URL.Path}
	}

	var ev Event
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		writeEmpty200(conn)
		return Event{}, fmt.Errorf("decode event body: %w", err)
	}
	writeEmpty200(conn)
	return ev, nil
}

// isDummyProbe recognizes the stop signaler's self-connect, so it
// never needs its own path to be special-cased as a "real" unknown
// event worth logging.
func isDummyProbe(req *http.Request) bool {
	return req.Method == http.MethodGet && req.URL.Path == "/__stop__"
}

// StopSignaler is the handle a caller can hand off to another
// goroutine or process to request shutdown cooperatively.
type StopSignaler struct {
	addr    string
	stopped *atomic.Bool
}

// GetStopSignaler returns a handle whose Send both flips the
// process-visible stop flag and opens a short TCP connection to the
// bound address to unblock the accepting goroutine.
// Requires a prior Bind.
func (r *Receiver) GetStopSignaler() (StopSignaler, error) {
	if r.listener == nil {
		return StopSignaler{}, &signererr.NotBound{}
	}
	return StopSignaler{addr: r.listener.Addr().String(), stopped: &r.stopped}, nil
}

// Send flips the stop flag and performs the self-connect that
// unblocks Accept.
func (s StopSignaler) Send() error {
	s.stopped.Store(true)
	conn, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET /__stop__ HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", s.addr)
	return nil
}

// MainLoop loops calling NextEvent and forwarding each event until a
// Terminated error is observed or ForwardEvent fails.
func (r *Receiver) MainLoop() error {
	for !r.stopped.Load() {
		ev, err := r.NextEvent()
		switch e := err.(type) {
		case nil:
			if !r.ForwardEvent(ev) {
				return fmt.Errorf("forwarding failed, stopping event receiver")
			}
		case *signererr.UnrecognizedEvent:
			continue
		case *signererr.Terminated:
			return nil
		default:
			_ = e
			r.log.Warn("event receiver iteration failed", "err", err)
			continue
		}
	}
	return nil
}

func writeEmpty200(conn net.Conn) {
	fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
}
