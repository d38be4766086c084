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

// Package coordinator implements the threshold protocol adapter: a
// thin translation layer between the run loop's command/event
// vocabulary and an opaque FROST-family coordinator/signer state
// machine's step() interface. The underlying cryptography is treated
// as a pluggable dependency; frostsim (the sibling package) supplies a
// concrete, self-contained implementation so this module runs without
// an external FROST package.
package coordinator

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stacks-network/stacks-signer/types"
)

// OutboundMessage is a protocol message the adapter wants written to
// the slot store (one chunk per message kind).
type OutboundMessage struct {
	Kind    types.SignerMessageKind
	From    types.SignerId
	Payload []byte
}

// ResultKind distinguishes the ways a ceremony can conclude.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultDkg
	ResultSign
	ResultSignTaproot
	ResultDkgError
	ResultSignError
)

// Result is what feed()/tick() return once a ceremony concludes, one
// way or another.
type Result struct {
	Kind               ResultKind
	AggregatePublicKey *btcec.PublicKey
	Signature          []byte
	Reason             string
}

// Library is the opaque FROST-family state object: two capabilities,
// process_inbound and tick, fronted here by a small Go interface so the
// run loop never depends on a concrete cryptographic implementation.
type Library interface {
	// StartDkg initializes a fresh ceremony (coordinator only) and
	// returns the first outbound messages.
	StartDkg(publicKeys []*btcec.PublicKey, threshold uint32) ([]OutboundMessage, error)
	// StartSign initializes a fresh signing round (coordinator only).
	StartSign(message []byte, taproot bool, merkleRoot []byte) ([]OutboundMessage, error)
	// Feed processes one inbound message and returns any outbound
	// messages it provokes, plus a Result once the ceremony concludes.
	Feed(msg OutboundMessage) ([]OutboundMessage, *Result, error)
	// Tick advances internal timeout wheels.
	Tick(now time.Time) ([]OutboundMessage, *Result)
}

// Adapter never re-enters the library from a library callback, and it
// never blocks: all of its calls are pure computation over in-memory
// state.
type Adapter struct {
	lib Library
}

// New wraps lib (normally a *frostsim.Coordinator or *frostsim.Signer)
// in the run loop's command/event vocabulary.
func New(lib Library) *Adapter { return &Adapter{lib: lib} }

func (a *Adapter) StartDkg(publicKeys []*btcec.PublicKey, threshold uint32) ([]OutboundMessage, error) {
	return a.lib.StartDkg(publicKeys, threshold)
}

func (a *Adapter) StartSign(message []byte, taproot bool, merkleRoot []byte) ([]OutboundMessage, error) {
	return a.lib.StartSign(message, taproot, merkleRoot)
}

func (a *Adapter) Feed(msg OutboundMessage) ([]OutboundMessage, *Result, error) {
	return a.lib.Feed(msg)
}

func (a *Adapter) Tick(now time.Time) ([]OutboundMessage, *Result) {
	return a.lib.Tick(now)
}
