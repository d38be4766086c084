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

// Package signer wires one process together: its node RPC client,
// slot-store client, event receiver, run loop and status server, and
// owns the three concurrent activities a running signer performs: the
// event receiver's blocking accept loop, the status server, and the
// cycle-driving main loop that watches for rollovers and kicks off DKG
// and signing ceremonies.
package signer

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/stacks-network/stacks-signer/client"
	"github.com/stacks-network/stacks-signer/client/stackerdb"
	"github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/coordinator"
	"github.com/stacks-network/stacks-signer/coordinator/frostsim"
	"github.com/stacks-network/stacks-signer/event"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/runloop"
	"github.com/stacks-network/stacks-signer/types"
)

// pollInterval is how often the main loop checks pox data for a cycle
// rollover between node-pushed events.
const pollInterval = 30 * time.Second

// Signer owns everything one signer process needs to run continuously.
type Signer struct {
	cfg      *config.Config
	rpc      *client.Client
	slots    *stackerdb.Client
	receiver *event.Receiver
	runLoop  *runloop.RunLoop
	health   *healthServer
	log      signerlog.Logger
	commands chan command
}

// New builds a Signer from a validated Config. It does not bind any
// network listeners; call Run to start the process.
func New(cfg *config.Config, logger signerlog.Logger) *Signer {
	if logger == nil {
		logger = signerlog.Root()
	}
	rpc := client.New(cfg.NodeHost, cfg.Identity)
	slots := stackerdb.New(cfg.NodeHost, cfg.StackerDBContractID, cfg.Identity, logger.With("component", "stackerdb"))
	receiver := event.New(logger.With("component", "event"))

	timeouts := frostsim.Timeouts{
		DkgPublic:  time.Duration(cfg.Timeouts.DkgPublicTimeoutMs) * time.Millisecond,
		DkgPrivate: time.Duration(cfg.Timeouts.DkgPrivateTimeoutMs) * time.Millisecond,
		DkgEnd:     time.Duration(cfg.Timeouts.DkgEndTimeoutMs) * time.Millisecond,
		Nonce:      time.Duration(cfg.Timeouts.NonceTimeoutMs) * time.Millisecond,
		Sign:       time.Duration(cfg.Timeouts.SignTimeoutMs) * time.Millisecond,
	}
	lib := runloop.LibraryFactory{
		NewCoordinator: func() coordinator.Library { return frostsim.NewCoordinator(timeouts) },
		NewSigner:      func(id types.SignerId) coordinator.Library { return frostsim.NewSigner(id, timeouts) },
	}
	rl := runloop.New(cfg, rpc, slots, lib, logger.With("component", "runloop"))

	s := &Signer{cfg: cfg, rpc: rpc, slots: slots, receiver: receiver, runLoop: rl, log: logger, commands: make(chan command, 8)}
	s.health = newHealthServer(s)
	return s
}

// Run blocks, driving the signer's three concurrent activities until
// ctx is cancelled: the event receiver's accept loop (wired to wake
// the cycle watcher on every push), the status server, and the cycle
// loop itself.
func (s *Signer) Run(ctx context.Context) error {
	addr, err := s.receiver.Bind(s.cfg.Endpoint)
	if err != nil {
		return err
	}
	s.log.Info("event receiver bound", "addr", addr)

	events := make(chan event.Event, 32)
	s.receiver.AddConsumer(events)

	errs := make(chan error, 3)
	go func() { errs <- s.receiver.MainLoop() }()
	go func() { errs <- s.health.run(ctx) }()
	go func() { errs <- s.cycleLoop(ctx, events) }()

	select {
	case <-ctx.Done():
		if sig, err := s.receiver.GetStopSignaler(); err == nil {
			_ = sig.Send()
		}
		return ctx.Err()
	case err := <-errs:
		if sig, serr := s.receiver.GetStopSignaler(); serr == nil {
			_ = sig.Send()
		}
		return err
	}
}

// cycleLoop watches for reward-cycle rollovers, either on a timer or
// woken by an incoming chunk-push event, runs a DKG ceremony (in
// whichever role the election gives this process) whenever a new cycle
// is registered without a known aggregate key, forwards block-proposal pushes into a
// signing ceremony while awaiting a block, and drains operator
// commands — all on this single goroutine so none of these race each
// other over run loop state.
func (s *Signer) cycleLoop(ctx context.Context, events <-chan event.Event) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.onRefresh(ctx)
		case ev := <-events:
			s.onRefresh(ctx)
			s.onBlockEvent(ctx, ev)
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		}
	}
}

func (s *Signer) onRefresh(ctx context.Context) {
	prevCycle := s.runLoop.Cycle()
	if err := s.runLoop.RefreshCycle(ctx); err != nil {
		s.log.Warn("refresh cycle failed", "err", err)
		return
	}
	if s.runLoop.Cycle() != prevCycle && s.runLoop.State() == types.Registered {
		if _, err := s.runLoop.RunDkg(ctx); err != nil {
			s.log.Warn("dkg ceremony failed", "cycle", s.runLoop.Cycle(), "err", err)
		}
	}
}

// onBlockEvent treats the first modified slot carrying a non-empty
// payload as a freshly proposed block: it forwards the raw bytes to
// the node for validation (fire-and-forget; the verdict itself arrives
// later as its own event, which this signer does not otherwise act on),
// then signs the block's hash and publishes the result, provided the
// run loop is actually awaiting a block for the current cycle.
func (s *Signer) onBlockEvent(ctx context.Context, ev event.Event) {
	if s.runLoop.State() != types.AwaitingBlock {
		return
	}
	var blockBytes []byte
	for _, slot := range ev.ModifiedSlots {
		if len(slot.Data) > 0 {
			blockBytes = slot.Data
			break
		}
	}
	if blockBytes == nil {
		return
	}

	go func() {
		if err := s.rpc.SubmitBlockForValidation(ctx, blockBytes); err != nil {
			s.log.Warn("submit block for validation failed", "err", err)
		}
	}()

	hash := sha256.Sum256(blockBytes)
	sig, err := s.runLoop.RunSign(ctx, hash[:], false, nil)
	if err != nil {
		s.log.Warn("block signing ceremony failed", "cycle", s.runLoop.Cycle(), "err", err)
		return
	}
	if err := s.runLoop.PublishSignature(ctx, sig); err != nil {
		s.log.Warn("publish signature failed", "cycle", s.runLoop.Cycle(), "err", err)
	}
}
