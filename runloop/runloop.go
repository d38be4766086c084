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

// Package runloop is the per-cycle state machine: it tracks reward-cycle
// rollover, elects one coordinator per cycle, and drives DKG and block
// signing ceremonies to completion by feeding the threshold protocol
// adapter from the slot store and writing its outbound messages back.
package runloop

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/stacks-network/stacks-signer/client"
	"github.com/stacks-network/stacks-signer/client/stackerdb"
	"github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/coordinator"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/signererr"
	"github.com/stacks-network/stacks-signer/types"
)

// LibraryFactory builds a fresh threshold-protocol state object for one
// ceremony. RunLoop asks for a coordinator-role instance when it is
// elected coordinator, and a signer-role instance otherwise.
type LibraryFactory struct {
	NewCoordinator func() coordinator.Library
	NewSigner      func(id types.SignerId) coordinator.Library
}

// RunLoop owns one signer's view of the protocol across reward cycles.
type RunLoop struct {
	cfg     *config.Config
	rpc     *client.Client
	slots   *stackerdb.Client
	lib     LibraryFactory
	log     signerlog.Logger
	sfGroup singleflight.Group

	state         types.RunLoopState
	cycle         types.RewardCycle
	registered    *types.RegisteredSignersInfo
	selfID        types.SignerId
	coordID       types.SignerId
	lastVoteRound uint64
}

// New builds a RunLoop for one signer process.
func New(cfg *config.Config, rpc *client.Client, slots *stackerdb.Client, lib LibraryFactory, logger signerlog.Logger) *RunLoop {
	if logger == nil {
		logger = signerlog.Root()
	}
	return &RunLoop{cfg: cfg, rpc: rpc, slots: slots, lib: lib, log: logger, state: types.Uninitialized}
}

// State returns the current per-cycle phase.
func (r *RunLoop) State() types.RunLoopState { return r.state }

// Cycle returns the reward cycle the run loop currently believes is
// active.
func (r *RunLoop) Cycle() types.RewardCycle { return r.cycle }

// IsCoordinator reports whether this process is the elected coordinator
// for the current cycle.
func (r *RunLoop) IsCoordinator() bool {
	return r.registered != nil && r.coordID == r.selfID
}

// ElectCoordinator deterministically picks the coordinator for a cycle
// out of n registered signers: signer_id == cycle mod n. Every signer
// computes this independently from the same published reward set, so
// exactly one signer elects itself coordinator per cycle.
func ElectCoordinator(cycle types.RewardCycle, n uint32) types.SignerId {
	if n == 0 {
		return 0
	}
	return types.SignerId(uint64(cycle) % uint64(n))
}

// RefreshCycle polls pox data (collapsing concurrent callers into one
// in-flight request) and rolls the run loop over to a new cycle if the
// node has advanced past the one it was tracking.
func (r *RunLoop) RefreshCycle(ctx context.Context) error {
	v, err, _ := r.sfGroup.Do("get_pox_data", func() (any, error) {
		return r.rpc.GetPoxData(ctx)
	})
	if err != nil {
		return err
	}
	pox := v.(*client.PoxData)
	cycle := client.GetCurrentRewardCycle(pox)
	if r.registered != nil && cycle == r.cycle {
		return nil
	}
	return r.rollover(ctx, cycle)
}

func (r *RunLoop) rollover(ctx context.Context, cycle types.RewardCycle) error {
	r.state = types.Uninitialized
	rs, err := r.rpc.GetRewardSet(ctx, cycle)
	if err != nil {
		return err
	}
	info, err := types.DecodeRewardSet(*rs)
	if err != nil {
		return err
	}
	selfAddr := r.cfg.Identity.Address
	selfID, ok := info.SignerIDFor(func(pk *btcec.PublicKey) string {
		return types.AddressFromPublicKeyHash(r.cfg.Identity.Network, pk.SerializeCompressed())
	}, selfAddr)
	if !ok {
		return &signererr.NotRegistered{Address: selfAddr, Cycle: uint64(cycle)}
	}

	r.slots.OpenCycle(cycle)
	r.cycle = cycle
	r.registered = info
	r.selfID = selfID
	r.coordID = ElectCoordinator(cycle, uint32(len(info.Signers)))
	r.state = types.Registered

	r.log.Info("reward cycle rollover",
		"cycle", cycle, "self_id", selfID, "coordinator_id", r.coordID,
		"is_coordinator", r.IsCoordinator(), "num_signers", len(info.Signers))

	if r.cfg.PoxContractID != "" {
		addr, name := config.SplitContractID(r.cfg.PoxContractID)
		key, err := r.rpc.GetApprovedAggregateKey(ctx, addr, name, cycle)
		if err != nil {
			r.log.Warn("failed to check for an already-approved aggregate key, will run dkg", "cycle", cycle, "err", err)
		} else if key != nil {
			r.state = types.AwaitingBlock
			r.log.Info("aggregate key already approved for cycle, skipping dkg", "cycle", cycle)
		}
	}
	return nil
}

// ceremonyLogger tags every log line for one ceremony with a
// correlation id, so a DKG or sign round can be traced across the
// separate processes participating in it.
func (r *RunLoop) ceremonyLogger(kind string) (signerlog.Logger, uuid.UUID) {
	id := uuid.New()
	return r.log.With("ceremony", kind, "ceremony_id", id.String(), "cycle", r.cycle, "self_id", r.selfID), id
}

// peerSignerIDs returns every registered signer id except self, as a
// set, used to track which peers have yet to respond in a round.
func (r *RunLoop) peerSignerIDs() mapset.Set[types.SignerId] {
	set := mapset.NewThreadUnsafeSet[types.SignerId]()
	for _, s := range r.registered.Signers {
		if s.ID != r.selfID {
			set.Add(s.ID)
		}
	}
	return set
}

// RunDkg drives one full DKG ceremony to completion: as coordinator it
// starts the ceremony, broadcasts its outputs, and polls the slot store
// for peer responses; as a plain signer it waits for DkgBegin and
// responds automatically. Once the adapter reports a Result, either
// role submits this signer's aggregate-key vote and waits for the
// key's approval before returning.
func (r *RunLoop) RunDkg(ctx context.Context) (*btcec.PublicKey, error) {
	if r.registered == nil {
		return nil, fmt.Errorf("runloop: cannot run dkg before a reward cycle is registered")
	}
	log, ceremonyID := r.ceremonyLogger("dkg")
	log.Info("starting dkg ceremony")
	r.state = types.DkgInProgress

	var (
		point *btcec.PublicKey
		err   error
	)
	if r.IsCoordinator() {
		point, err = r.runDkgAsCoordinator(ctx, log, ceremonyID)
	} else {
		point, err = r.runDkgAsSigner(ctx, log, ceremonyID)
	}
	if err != nil {
		return nil, err
	}

	if err := r.submitAggregateKeyVote(ctx, log, point); err != nil {
		return nil, err
	}
	r.state = types.DkgVoteSubmitted

	if err := r.awaitApproval(ctx, log); err != nil {
		return nil, err
	}
	r.state = types.DkgApproved

	return point, nil
}

// submitAggregateKeyVote builds, signs, and publishes a
// vote-for-aggregate-public-key transaction for the aggregate point a
// DKG ceremony just produced: once via SubmitTransaction against the
// node's mempool, and once by writing the raw transaction bytes into
// this signer's slot in the next cycle's Transactions session, so
// peers that rely on the slot store rather than the mempool still see
// the vote. No-op if no voting contract is configured.
func (r *RunLoop) submitAggregateKeyVote(ctx context.Context, log signerlog.Logger, point *btcec.PublicKey) error {
	if r.cfg.PoxContractID == "" {
		log.Warn("no voting contract configured, skipping aggregate key vote")
		return nil
	}
	addr, name := config.SplitContractID(r.cfg.PoxContractID)

	round := uint64(0)
	last, err := r.rpc.GetLastRound(ctx, addr, name, r.cycle)
	if err != nil {
		return err
	}
	if last != nil {
		round = *last + 1
	}

	nonce, err := r.rpc.GetAccountNonce(ctx, r.cfg.Identity.Address)
	if err != nil {
		return err
	}

	tx := client.BuildVoteTransaction(r.cfg.Identity, uint32(r.selfID), point, round, r.cycle, nonce, r.cfg.TxFeeMicroSTX)
	raw := tx.Encode()

	if _, err := r.rpc.SubmitTransaction(ctx, raw); err != nil {
		return err
	}

	slotID := types.SlotIDFor(r.selfID, types.Transactions)
	msg := types.SignerMessage{Kind: types.Transactions, Transactions: [][]byte{raw}}
	wire := stackerdb.EncodeSignerMessage(msg)
	if _, err := r.slots.SendWithRetry(ctx, r.cycle+1, slotID, msg, wire); err != nil {
		return err
	}

	r.lastVoteRound = round
	log.Info("submitted aggregate key vote", "round", round, "nonce", nonce)
	return nil
}

// awaitApproval polls get-approved-aggregate-key until the vote this
// process just submitted is approved, a later round supersedes it, or
// the ceremony's dkg-end timeout elapses.
func (r *RunLoop) awaitApproval(ctx context.Context, log signerlog.Logger) error {
	if r.cfg.PoxContractID == "" {
		return nil
	}
	addr, name := config.SplitContractID(r.cfg.PoxContractID)
	deadline := time.Now().Add(time.Duration(r.cfg.Timeouts.DkgEndTimeoutMs) * time.Millisecond)
	for {
		key, err := r.rpc.GetApprovedAggregateKey(ctx, addr, name, r.cycle)
		if err != nil {
			return err
		}
		if key != nil {
			log.Info("aggregate key approved")
			return nil
		}
		last, err := r.rpc.GetLastRound(ctx, addr, name, r.cycle)
		if err != nil {
			return err
		}
		if last != nil && *last > r.lastVoteRound {
			return &signererr.DkgError{Reason: "vote superseded by a later round before approval"}
		}
		if time.Now().After(deadline) {
			return &signererr.DkgError{Reason: "timed out waiting for aggregate key approval"}
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func (r *RunLoop) runDkgAsCoordinator(ctx context.Context, log signerlog.Logger, ceremonyID uuid.UUID) (*btcec.PublicKey, error) {
	lib := newSelfParticipatingLibrary(r.lib.NewCoordinator(), r.lib.NewSigner(r.selfID))
	adapter := coordinator.New(lib)

	out, err := adapter.StartDkg(r.registered.PublicKeys(), r.cfg.DkgThreshold)
	if err != nil {
		return nil, &signererr.DkgError{Reason: err.Error()}
	}
	if err := r.broadcast(ctx, out); err != nil {
		return nil, err
	}

	pending := r.peerSignerIDs()
	deadline := time.Now().Add(time.Duration(r.cfg.Timeouts.DkgPublicTimeoutMs) * time.Millisecond)
	for {
		if res, err := r.pollCoordinator(ctx, adapter, types.DkgPublicShares, pending, deadline, log); err != nil {
			return nil, err
		} else if res != nil {
			return finishDkg(res)
		}
	}
}

func (r *RunLoop) runDkgAsSigner(ctx context.Context, log signerlog.Logger, ceremonyID uuid.UUID) (*btcec.PublicKey, error) {
	lib := r.lib.NewSigner(r.selfID)
	adapter := coordinator.New(lib)

	deadline := time.Now().Add(time.Duration(r.cfg.Timeouts.DkgEndTimeoutMs) * time.Millisecond)
	processed := make(map[types.SignerMessageKind]bool)
	for {
		if res, err := r.pollSigner(ctx, adapter, []types.SignerMessageKind{types.DkgBegin, types.DkgEnd}, processed, deadline, log); err != nil {
			return nil, err
		} else if res != nil {
			return finishDkg(res)
		}
	}
}

func finishDkg(res *coordinator.Result) (*btcec.PublicKey, error) {
	switch res.Kind {
	case coordinator.ResultDkg:
		return res.AggregatePublicKey, nil
	case coordinator.ResultDkgError:
		return nil, &signererr.DkgError{Reason: res.Reason}
	default:
		return nil, fmt.Errorf("runloop: unexpected dkg result kind %d", res.Kind)
	}
}

// RunSign drives one signing ceremony (frost, or taproot when taproot
// is true) over message to completion, mirroring RunDkg's coordinator
// and plain-signer roles.
func (r *RunLoop) RunSign(ctx context.Context, message []byte, taproot bool, merkleRoot []byte) ([]byte, error) {
	if r.registered == nil {
		return nil, fmt.Errorf("runloop: cannot sign before a reward cycle is registered")
	}
	log, ceremonyID := r.ceremonyLogger("sign")
	log.Info("starting signing ceremony", "taproot", taproot)
	r.state = types.SigningBlock

	var (
		sig []byte
		err error
	)
	if r.IsCoordinator() {
		sig, err = r.runSignAsCoordinator(ctx, log, ceremonyID, message, taproot, merkleRoot)
	} else {
		sig, err = r.runSignAsSigner(ctx, log, ceremonyID)
	}
	if err != nil {
		return nil, err
	}
	r.state = types.AwaitingBlock
	return sig, nil
}

// PublishSignature writes a completed block signature to this signer's
// signature slot so peers and observers reading the slot store can
// pick it up. The thirteen fixed slot kinds have no dedicated
// "signature result" kind; the SignatureShareResponse slot, otherwise
// only live for the duration of an in-progress signing round, doubles
// as the result slot once the round concludes.
func (r *RunLoop) PublishSignature(ctx context.Context, signature []byte) error {
	slotID := types.SlotIDFor(r.selfID, types.SignatureShareResponse)
	msg := types.SignerMessage{Kind: types.SignatureShareResponse, ProtocolData: signature}
	wire := stackerdb.EncodeSignerMessage(msg)
	_, err := r.slots.SendWithRetry(ctx, r.cycle, slotID, msg, wire)
	return err
}

func (r *RunLoop) runSignAsCoordinator(ctx context.Context, log signerlog.Logger, ceremonyID uuid.UUID, message []byte, taproot bool, merkleRoot []byte) ([]byte, error) {
	lib := newSelfParticipatingLibrary(r.lib.NewCoordinator(), r.lib.NewSigner(r.selfID))
	adapter := coordinator.New(lib)

	out, err := adapter.StartSign(message, taproot, merkleRoot)
	if err != nil {
		return nil, &signererr.SignError{Reason: err.Error()}
	}
	if err := r.broadcast(ctx, out); err != nil {
		return nil, err
	}

	pending := r.peerSignerIDs()
	deadline := time.Now().Add(time.Duration(r.cfg.Timeouts.NonceTimeoutMs+r.cfg.Timeouts.SignTimeoutMs) * time.Millisecond)
	for {
		if res, err := r.pollCoordinator(ctx, adapter, types.NonceResponse, pending, deadline, log); err != nil {
			return nil, err
		} else if res != nil {
			return finishSign(res)
		}
		pending = r.peerSignerIDs()
		if res, err := r.pollCoordinator(ctx, adapter, types.SignatureShareResponse, pending, deadline, log); err != nil {
			return nil, err
		} else if res != nil {
			return finishSign(res)
		}
	}
}

func (r *RunLoop) runSignAsSigner(ctx context.Context, log signerlog.Logger, ceremonyID uuid.UUID) ([]byte, error) {
	lib := r.lib.NewSigner(r.selfID)
	adapter := coordinator.New(lib)

	deadline := time.Now().Add(time.Duration(r.cfg.Timeouts.NonceTimeoutMs+r.cfg.Timeouts.SignTimeoutMs) * time.Millisecond)
	kinds := []types.SignerMessageKind{types.NonceRequest, types.SignatureShareRequest}
	processed := make(map[types.SignerMessageKind]bool)
	for {
		if res, err := r.pollSigner(ctx, adapter, kinds, processed, deadline, log); err != nil {
			return nil, err
		} else if res != nil {
			return finishSign(res)
		}
	}
}

func finishSign(res *coordinator.Result) ([]byte, error) {
	switch res.Kind {
	case coordinator.ResultSign, coordinator.ResultSignTaproot:
		return res.Signature, nil
	case coordinator.ResultSignError:
		return nil, &signererr.SignError{Reason: res.Reason}
	default:
		return nil, fmt.Errorf("runloop: unexpected sign result kind %d", res.Kind)
	}
}

// pollCoordinator reads one round of `kind` responses from pending
// peers, feeds each to adapter, and writes back whatever outbound
// messages they provoke. It returns a non-nil Result once the adapter
// concludes the round, and a timeout-shaped DkgError/SignError Result
// if deadline passes first via adapter.Tick.
func (r *RunLoop) pollCoordinator(ctx context.Context, adapter *coordinator.Adapter, kind types.SignerMessageKind, pending mapset.Set[types.SignerId], deadline time.Time, log signerlog.Logger) (*coordinator.Result, error) {
	if time.Now().After(deadline) {
		_, res := adapter.Tick(time.Now())
		if res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("runloop: ceremony deadline passed with no result")
	}

	msgs, err := r.slots.FetchProtocolMessages(ctx, r.cycle, kind, pending.ToSlice())
	if err != nil {
		return nil, err
	}
	for signerID, msg := range msgs {
		out, res, err := adapter.Feed(coordinator.OutboundMessage{Kind: msg.Kind, From: signerID, Payload: msg.ProtocolData})
		if err != nil {
			log.Warn("dropping malformed protocol message", "from", signerID, "kind", msg.Kind.String(), "err", err)
			continue
		}
		pending.Remove(signerID)
		if err := r.broadcast(ctx, out); err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	if pending.Cardinality() == 0 {
		return nil, nil
	}
	time.Sleep(250 * time.Millisecond)
	return nil, nil
}

// pollSigner reads any of kinds addressed to the coordinator's slot
// that have not already been fed to adapter, tracked per kind in
// processed since the coordinator sends each kind exactly once per
// ceremony and the slot store is read-idempotent: re-reading an
// unchanged slot must not re-trigger the signer's reaction to it.
func (r *RunLoop) pollSigner(ctx context.Context, adapter *coordinator.Adapter, kinds []types.SignerMessageKind, processed map[types.SignerMessageKind]bool, deadline time.Time, log signerlog.Logger) (*coordinator.Result, error) {
	if time.Now().After(deadline) {
		_, res := adapter.Tick(time.Now())
		if res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("runloop: ceremony deadline passed with no result")
	}

	for _, kind := range kinds {
		if processed[kind] {
			continue
		}
		msgs, err := r.slots.FetchProtocolMessages(ctx, r.cycle, kind, []types.SignerId{r.coordID})
		if err != nil {
			return nil, err
		}
		msg, ok := msgs[r.coordID]
		if !ok {
			continue
		}
		out, res, err := adapter.Feed(coordinator.OutboundMessage{Kind: msg.Kind, From: r.coordID, Payload: msg.ProtocolData})
		if err != nil {
			log.Warn("dropping malformed protocol message", "from", r.coordID, "kind", msg.Kind.String(), "err", err)
			continue
		}
		processed[kind] = true
		if err := r.broadcast(ctx, out); err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	time.Sleep(250 * time.Millisecond)
	return nil, nil
}

// broadcast writes every outbound message to this signer's own slot
// for its kind, the only slot this process is permitted to write.
func (r *RunLoop) broadcast(ctx context.Context, out []coordinator.OutboundMessage) error {
	for _, msg := range out {
		slotID := types.SlotIDFor(r.selfID, msg.Kind)
		wire := stackerdb.EncodeSignerMessage(types.SignerMessage{Kind: msg.Kind, ProtocolData: msg.Payload})
		if _, err := r.slots.SendWithRetry(ctx, r.cycle, slotID, types.SignerMessage{Kind: msg.Kind}, wire); err != nil {
			return err
		}
	}
	return nil
}
