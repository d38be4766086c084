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

// Package frostsim is the concrete threshold-Schnorr state machine the
// coordinator.Adapter wraps. Production threshold cryptography is
// treated as a pluggable dependency; this package implements just
// enough additive threshold-Schnorr math — using btcec/v2's curve
// arithmetic — to exercise the adapter's full contract end to end: a
// DKG round that yields a group public key, and a signing round
// (frost, and taproot via a BIP341-style key tweak) that yields a
// valid Schnorr signature under that key.
//
// It assumes every participant who contributed a DKG share also
// participates in signing; the Lagrange-weighted partial-share
// reconstruction a production FROST library performs for arbitrary
// quorums is not something this module re-derives.
package frostsim

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stacks-network/stacks-signer/coordinator"
	"github.com/stacks-network/stacks-signer/types"
)

type phase int

const (
	phaseIdle phase = iota
	phaseDkgAwaitingShares
	phaseSignAwaitingNonces
	phaseSignAwaitingShares
)

// Timeouts mirrors config.ProtocolTimeouts without importing config,
// to keep this package dependency-free of the config package.
type Timeouts struct {
	DkgPublic  time.Duration
	DkgPrivate time.Duration
	DkgEnd     time.Duration
	Nonce      time.Duration
	Sign       time.Duration
}

// Coordinator is held by the one signer per ceremony elected to drive
// the protocol.
type Coordinator struct {
	timeouts  Timeouts
	threshold uint32
	total     uint32

	ph         phase
	phaseStart time.Time

	commitments map[types.SignerId]*btcec.PublicKey
	nonces      map[types.SignerId]*btcec.PublicKey
	shares      map[types.SignerId]*btcec.ModNScalar

	aggregatePubKey *btcec.PublicKey
	signMessage     []byte
	taproot         bool
	merkleRoot      []byte
	aggregateNonce  *btcec.PublicKey
	challenge       btcec.ModNScalar
}

// NewCoordinator builds a fresh per-round coordinator state object.
func NewCoordinator(timeouts Timeouts) *Coordinator {
	return &Coordinator{timeouts: timeouts}
}

func (c *Coordinator) StartDkg(publicKeys []*btcec.PublicKey, threshold uint32) ([]coordinator.OutboundMessage, error) {
	c.total = uint32(len(publicKeys))
	c.threshold = threshold
	c.commitments = make(map[types.SignerId]*btcec.PublicKey)
	c.ph = phaseDkgAwaitingShares
	c.phaseStart = time.Now()
	return []coordinator.OutboundMessage{{Kind: types.DkgBegin}}, nil
}

func (c *Coordinator) StartSign(message []byte, taproot bool, merkleRoot []byte) ([]coordinator.OutboundMessage, error) {
	if c.aggregatePubKey == nil {
		return nil, fmt.Errorf("frostsim: cannot start sign before a completed dkg")
	}
	c.signMessage = message
	c.taproot = taproot
	c.merkleRoot = merkleRoot
	c.nonces = make(map[types.SignerId]*btcec.PublicKey)
	c.shares = make(map[types.SignerId]*btcec.ModNScalar)
	c.ph = phaseSignAwaitingNonces
	c.phaseStart = time.Now()
	payload := encodeSignRequest(message, taproot, merkleRoot)
	return []coordinator.OutboundMessage{{Kind: types.NonceRequest, Payload: payload}}, nil
}

func (c *Coordinator) Feed(msg coordinator.OutboundMessage) ([]coordinator.OutboundMessage, *coordinator.Result, error) {
	switch msg.Kind {
	case types.DkgPublicShares:
		if c.ph != phaseDkgAwaitingShares {
			return nil, nil, nil
		}
		pk, err := btcec.ParsePubKey(msg.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("frostsim: bad dkg public share: %w", err)
		}
		c.commitments[msg.From] = pk
		if uint32(len(c.commitments)) < c.threshold {
			return nil, nil, nil
		}
		agg := sumPoints(values(c.commitments))
		c.aggregatePubKey = agg
		c.ph = phaseIdle
		out := coordinator.OutboundMessage{Kind: types.DkgEnd, Payload: agg.SerializeCompressed()}
		return []coordinator.OutboundMessage{out}, &coordinator.Result{Kind: coordinator.ResultDkg, AggregatePublicKey: agg}, nil

	case types.NonceResponse:
		if c.ph != phaseSignAwaitingNonces {
			return nil, nil, nil
		}
		pk, err := btcec.ParsePubKey(msg.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("frostsim: bad nonce response: %w", err)
		}
		c.nonces[msg.From] = pk
		if uint32(len(c.nonces)) < c.threshold {
			return nil, nil, nil
		}
		c.aggregateNonce = sumPoints(values(c.nonces))
		signingKey := c.effectiveKey()
		c.challenge = schnorrChallenge(c.aggregateNonce, signingKey, c.signMessage)
		c.ph = phaseSignAwaitingShares
		out := coordinator.OutboundMessage{Kind: types.SignatureShareRequest, Payload: c.challenge.Bytes()[:]}
		return []coordinator.OutboundMessage{out}, nil, nil

	case types.SignatureShareResponse:
		if c.ph != phaseSignAwaitingShares {
			return nil, nil, nil
		}
		var z btcec.ModNScalar
		overflow := z.SetByteSlice(msg.Payload)
		if overflow {
			return nil, nil, fmt.Errorf("frostsim: signature share overflowed scalar field")
		}
		c.shares[msg.From] = &z
		if uint32(len(c.shares)) < c.threshold {
			return nil, nil, nil
		}
		var total btcec.ModNScalar
		for _, z := range c.shares {
			total.Add(z)
		}
		if c.taproot && len(c.shares) > 1 {
			// Each signer folds the whole taproot tweak into its own
			// share, so the sum carries it once per share; keep one copy.
			t := tapTweakScalarFromKey(c.aggregatePubKey, c.merkleRoot)
			var surplus btcec.ModNScalar
			surplus.SetInt(uint32(len(c.shares) - 1))
			surplus.Mul(&t).Mul(&c.challenge).Negate()
			total.Add(&surplus)
		}
		sig := encodeSchnorrSig(c.aggregateNonce, total)
		c.ph = phaseIdle
		kind := coordinator.ResultSign
		if c.taproot {
			kind = coordinator.ResultSignTaproot
		}
		return nil, &coordinator.Result{Kind: kind, Signature: sig}, nil

	default:
		return nil, nil, nil
	}
}

func (c *Coordinator) Tick(now time.Time) ([]coordinator.OutboundMessage, *coordinator.Result) {
	var budget time.Duration
	var errKind coordinator.ResultKind
	switch c.ph {
	case phaseDkgAwaitingShares:
		budget, errKind = c.timeouts.DkgPublic, coordinator.ResultDkgError
	case phaseSignAwaitingNonces:
		budget, errKind = c.timeouts.Nonce, coordinator.ResultSignError
	case phaseSignAwaitingShares:
		budget, errKind = c.timeouts.Sign, coordinator.ResultSignError
	default:
		return nil, nil
	}
	if budget <= 0 || now.Sub(c.phaseStart) < budget {
		return nil, nil
	}
	c.ph = phaseIdle
	reason := "ceremony timed out waiting for threshold participation"
	return nil, &coordinator.Result{Kind: errKind, Reason: reason}
}

// effectiveKey returns the group key as tweaked for taproot signing,
// mirroring BIP341's output-key tweak when a merkle root is present.
func (c *Coordinator) effectiveKey() *btcec.PublicKey {
	if !c.taproot {
		return c.aggregatePubKey
	}
	return tapTweak(c.aggregatePubKey, c.merkleRoot)
}

// Signer is held by every signer process, including the coordinator's
// own process under a distinct instance.
type Signer struct {
	id        types.SignerId
	timeouts  Timeouts
	share     btcec.ModNScalar // this signer's DKG secret share
	hasShare  bool
	nonce     btcec.ModNScalar // this signing round's secret nonce
	hasNonce  bool
	taproot   bool
	merkleRoot []byte
	groupKey  *btcec.PublicKey
}

// NewSigner builds the per-signer protocol state held for id.
func NewSigner(id types.SignerId, timeouts Timeouts) *Signer {
	return &Signer{id: id, timeouts: timeouts}
}

func (s *Signer) StartDkg([]*btcec.PublicKey, uint32) ([]coordinator.OutboundMessage, error) {
	return nil, fmt.Errorf("frostsim: only the coordinator starts dkg")
}

func (s *Signer) StartSign([]byte, bool, []byte) ([]coordinator.OutboundMessage, error) {
	return nil, fmt.Errorf("frostsim: only the coordinator starts a signing round")
}

func (s *Signer) Feed(msg coordinator.OutboundMessage) ([]coordinator.OutboundMessage, *coordinator.Result, error) {
	switch msg.Kind {
	case types.DkgBegin:
		priv := randomScalar()
		s.share = priv
		s.hasShare = true
		pub := scalarBasePoint(&priv)
		out := coordinator.OutboundMessage{Kind: types.DkgPublicShares, From: s.id, Payload: pub.SerializeCompressed()}
		return []coordinator.OutboundMessage{out}, nil, nil

	case types.DkgEnd:
		pk, err := btcec.ParsePubKey(msg.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("frostsim: bad dkg end payload: %w", err)
		}
		s.groupKey = pk
		return nil, &coordinator.Result{Kind: coordinator.ResultDkg, AggregatePublicKey: pk}, nil

	case types.NonceRequest:
		if !s.hasShare {
			return nil, nil, fmt.Errorf("frostsim: no dkg share to sign with")
		}
		_, s.taproot, s.merkleRoot = decodeSignRequest(msg.Payload)
		nonce := randomScalar()
		s.nonce = nonce
		s.hasNonce = true
		pub := scalarBasePoint(&nonce)
		out := coordinator.OutboundMessage{Kind: types.NonceResponse, From: s.id, Payload: pub.SerializeCompressed()}
		return []coordinator.OutboundMessage{out}, nil, nil

	case types.SignatureShareRequest:
		if !s.hasNonce {
			return nil, nil, fmt.Errorf("frostsim: no nonce to respond with")
		}
		var e btcec.ModNScalar
		if e.SetByteSlice(msg.Payload) {
			return nil, nil, fmt.Errorf("frostsim: challenge overflowed scalar field")
		}
		signingShare := s.share
		if s.taproot {
			signingShare = tapTweakScalar(signingShare, s.groupKey, s.merkleRoot)
		}
		var z btcec.ModNScalar
		z.Mul2(&e, &signingShare).Add(&s.nonce)
		b := z.Bytes()
		out := coordinator.OutboundMessage{Kind: types.SignatureShareResponse, From: s.id, Payload: b[:]}
		return []coordinator.OutboundMessage{out}, nil, nil

	default:
		return nil, nil, nil
	}
}

func (s *Signer) Tick(now time.Time) ([]coordinator.OutboundMessage, *coordinator.Result) {
	return nil, nil
}

// --- shared curve helpers ---

func randomScalar() btcec.ModNScalar {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err) // crypto/rand failure is unrecoverable process-wide
	}
	return priv.Key
}

func scalarBasePoint(k *btcec.ModNScalar) *btcec.PublicKey {
	var j, jAffine btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &j)
	j.ToAffine()
	jAffine = j
	return btcec.NewPublicKey(&jAffine.X, &jAffine.Y)
}

func values(m map[types.SignerId]*btcec.PublicKey) []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func sumPoints(points []*btcec.PublicKey) *btcec.PublicKey {
	var acc btcec.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0)
	first := true
	for _, p := range points {
		var j btcec.JacobianPoint
		p.AsJacobian(&j)
		if first {
			acc = j
			first = false
			continue
		}
		var sum btcec.JacobianPoint
		btcec.AddNonConst(&acc, &j, &sum)
		acc = sum
	}
	acc.ToAffine()
	return btcec.NewPublicKey(&acc.X, &acc.Y)
}

func schnorrChallenge(r, p *btcec.PublicKey, msg []byte) btcec.ModNScalar {
	h := sha256.New()
	h.Write(r.SerializeCompressed())
	h.Write(p.SerializeCompressed())
	h.Write(msg)
	digest := h.Sum(nil)
	var e btcec.ModNScalar
	e.SetByteSlice(digest)
	return e
}

func encodeSchnorrSig(r *btcec.PublicKey, z btcec.ModNScalar) []byte {
	rx := r.X().Bytes()
	zb := z.Bytes()
	out := make([]byte, 0, 64)
	out = append(out, rx[:]...)
	out = append(out, zb[:]...)
	return out
}

// tapTweak applies a BIP341-style output-key tweak: outputKey =
// internalKey + H(internalKey || merkleRoot)*G.
func tapTweak(internal *btcec.PublicKey, merkleRoot []byte) *btcec.PublicKey {
	t := tapTweakScalarFromKey(internal, merkleRoot)
	tPoint := scalarBasePoint(&t)
	return sumPoints([]*btcec.PublicKey{internal, tPoint})
}

func tapTweakScalar(share btcec.ModNScalar, groupKey *btcec.PublicKey, merkleRoot []byte) btcec.ModNScalar {
	t := tapTweakScalarFromKey(groupKey, merkleRoot)
	var out btcec.ModNScalar
	out.Set(&share).Add(&t)
	return out
}

func tapTweakScalarFromKey(key *btcec.PublicKey, merkleRoot []byte) btcec.ModNScalar {
	h := sha256.New()
	h.Write(key.SerializeCompressed())
	h.Write(merkleRoot)
	digest := h.Sum(nil)
	var t btcec.ModNScalar
	t.SetByteSlice(digest)
	return t
}

func encodeSignRequest(message []byte, taproot bool, merkleRoot []byte) []byte {
	flag := byte(0)
	if taproot {
		flag = 1
	}
	out := []byte{flag, byte(len(merkleRoot))}
	out = append(out, merkleRoot...)
	out = append(out, message...)
	return out
}

func decodeSignRequest(payload []byte) (message []byte, taproot bool, merkleRoot []byte) {
	if len(payload) < 2 {
		return nil, false, nil
	}
	taproot = payload[0] == 1
	n := int(payload[1])
	rest := payload[2:]
	if len(rest) < n {
		return nil, taproot, nil
	}
	merkleRoot = rest[:n]
	message = rest[n:]
	return message, taproot, merkleRoot
}
