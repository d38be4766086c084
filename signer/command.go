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

package signer

import (
	"context"
	"fmt"
)

// commandKind distinguishes the two ceremonies an operator can trigger
// directly, outside of the automatic DKG run on each cycle rollover.
type commandKind int

const (
	commandSign commandKind = iota
	commandDkg
)

// command is one operator-issued request, queued onto the signer's
// cycle-driving goroutine so it never races an in-flight automatic
// ceremony over run loop state.
type command struct {
	kind       commandKind
	message    []byte
	isTaproot  bool
	merkleRoot []byte
	result     chan commandResult
}

// commandResult is what an operator command settles with: a signature
// for Sign, nothing for Dkg beyond success/failure.
type commandResult struct {
	signature []byte
	err       error
}

// SubmitSign enqueues a Sign command and blocks until the cycle loop
// has run it to completion.
func (s *Signer) SubmitSign(ctx context.Context, message []byte, isTaproot bool, merkleRoot []byte) ([]byte, error) {
	cmd := command{kind: commandSign, message: message, isTaproot: isTaproot, merkleRoot: merkleRoot, result: make(chan commandResult, 1)}
	return s.submit(ctx, cmd)
}

// SubmitDkg enqueues a Dkg command and blocks until the cycle loop has
// run it to completion.
func (s *Signer) SubmitDkg(ctx context.Context) error {
	cmd := command{kind: commandDkg, result: make(chan commandResult, 1)}
	_, err := s.submit(ctx, cmd)
	return err
}

func (s *Signer) submit(ctx context.Context, cmd command) ([]byte, error) {
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-cmd.result:
		return res.signature, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleCommand runs one operator command inline on the cycle loop's
// goroutine and reports its outcome back to the submitter.
func (s *Signer) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case commandDkg:
		_, err := s.runLoop.RunDkg(ctx)
		cmd.result <- commandResult{err: err}
	case commandSign:
		sig, err := s.runLoop.RunSign(ctx, cmd.message, cmd.isTaproot, cmd.merkleRoot)
		cmd.result <- commandResult{signature: sig, err: err}
	default:
		cmd.result <- commandResult{err: fmt.Errorf("signer: unknown command kind %d", cmd.kind)}
	}
}
