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

package runloop

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/stacks-network/stacks-signer/client"
	"github.com/stacks-network/stacks-signer/client/stackerdb"
	"github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/coordinator"
	"github.com/stacks-network/stacks-signer/coordinator/frostsim"
	"github.com/stacks-network/stacks-signer/types"
)

func TestElectCoordinatorPicksExactlyOneSigner(t *testing.T) {
	for n := uint32(1); n <= 7; n++ {
		seen := make(map[types.SignerId]int)
		for cycle := types.RewardCycle(0); cycle < 20; cycle++ {
			id := ElectCoordinator(cycle, n)
			require.Less(t, uint32(id), n, "coordinator id must be a valid signer index")
			seen[id]++
		}
		// Every signer index is elected sometime as the cycle advances,
		// and the same (cycle, n) pair always yields the same winner.
		require.Len(t, seen, int(n), "every signer index is elected within 20 cycles")
		require.Equal(t, ElectCoordinator(5, n), ElectCoordinator(5, n))
	}
}

// fakeNode serves the handful of node and slot-store endpoints the run
// loop needs, entirely in memory, so several RunLoop instances can be
// wired against one shared view of the world in-process.
type fakeNode struct {
	mu     sync.Mutex
	data   map[string]map[uint32][]byte
	cycle  types.RewardCycle
	reward types.RewardSet

	// voting-contract state, only populated by tests that exercise the
	// aggregate-key vote and approval flow.
	nonces    map[string]uint64
	lastRound map[types.RewardCycle]uint64
	approved  map[types.RewardCycle][]byte
	votes     map[types.RewardCycle]map[uint64]map[uint32][]byte // cycle -> round -> signer index -> point
	quorum    int
}

func newFakeNode(cycle types.RewardCycle, reward types.RewardSet) *fakeNode {
	return &fakeNode{
		data:      make(map[string]map[uint32][]byte),
		cycle:     cycle,
		reward:    reward,
		nonces:    make(map[string]uint64),
		lastRound: make(map[types.RewardCycle]uint64),
		approved:  make(map[types.RewardCycle][]byte),
		votes:     make(map[types.RewardCycle]map[uint64]map[uint32][]byte),
	}
}

func (f *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/pox", func(w http.ResponseWriter, r *http.Request) {
		cycleLen := uint64(1000)
		json.NewEncoder(w).Encode(map[string]any{
			"epochs":                         []any{},
			"reward_phase_block_length":      cycleLen / 2,
			"prepare_phase_block_length":     cycleLen / 2,
			"current_burnchain_block_height": uint64(f.cycle) * cycleLen,
			"first_burnchain_block_height":   0,
		})
	})
	mux.HandleFunc("/v2/stacker_set/", func(w http.ResponseWriter, r *http.Request) {
		entries := make([]map[string]any, len(f.reward.Signers))
		for i, s := range f.reward.Signers {
			entries[i] = map[string]any{
				"signing_key": hex.EncodeToString(s.SigningKeyBytes),
				"weight":      s.Weight,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"signers": entries})
	})
	mux.HandleFunc("/v2/accounts/", func(w http.ResponseWriter, r *http.Request) {
		addr := splitSlash(r.URL.Path)[3]
		f.mu.Lock()
		nonce := f.nonces[addr]
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"nonce": nonce})
	})
	mux.HandleFunc("/v2/transactions", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx, err := client.DecodeVoteTransaction(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.recordVote(tx)
		json.NewEncoder(w).Encode("txid")
	})
	mux.HandleFunc("/v2/contracts/call-read/", func(w http.ResponseWriter, r *http.Request) {
		parts := splitSlash(r.URL.Path)
		function := parts[len(parts)-1]

		f.mu.Lock()
		defer f.mu.Unlock()
		cycle := f.cycle
		switch function {
		case "get-last-round":
			round, ok := f.lastRound[cycle]
			if !ok {
				json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": "0x09"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": someHex(client.EncodeUIntHex(round))})
		case "get-approved-aggregate-key":
			point, ok := f.approved[cycle]
			if !ok {
				json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": "0x09"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": someHex(client.EncodeBuffHex(point))})
		default:
			json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": "0x09"})
		}
	})
	mux.HandleFunc("/v2/stackerdb/", func(w http.ResponseWriter, r *http.Request) {
		name := stackerdbContractName(r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var body struct {
				SlotID  uint32 `json:"slot_id"`
				Version uint32 `json:"slot_version"`
				Data    []byte `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			if f.data[name] == nil {
				f.data[name] = make(map[uint32][]byte)
			}
			f.data[name][body.SlotID] = body.Data
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{"accepted": true})
		case http.MethodGet:
			ids := r.URL.Query()["slot_id"]
			f.mu.Lock()
			out := make([][]byte, len(ids))
			for i, idStr := range ids {
				id, _ := strconv.Atoi(idStr)
				out[i] = f.data[name][uint32(id)]
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(out)
		}
	})
	return mux
}

// recordVote tallies a submitted vote transaction and, once every
// registered signer has voted for the same round, approves the
// aggregate key it carries and advances lastRound for the cycle.
func (f *fakeNode) recordVote(tx *client.VoteTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()

	quorum := f.quorum
	if quorum == 0 {
		quorum = len(f.reward.Signers)
	}

	byRound := f.votes[tx.Cycle]
	if byRound == nil {
		byRound = make(map[uint64]map[uint32][]byte)
		f.votes[tx.Cycle] = byRound
	}
	bySigner := byRound[tx.Round]
	if bySigner == nil {
		bySigner = make(map[uint32][]byte)
		byRound[tx.Round] = bySigner
	}
	bySigner[tx.SignerIndex] = tx.Point

	if len(bySigner) >= quorum {
		f.approved[tx.Cycle] = tx.Point
		f.lastRound[tx.Cycle] = tx.Round
	}
}

// someHex wraps an already-0x-prefixed Clarity hex value (e.g. from
// EncodeUIntHex or EncodeBuffHex) in a Clarity some(...) wrapper.
func someHex(innerHex string) string {
	return "0x0a" + innerHex[2:]
}

// stackerdbContractName extracts the contract name segment from a
// /v2/stackerdb/{addr}/{name}/chunks path.
func stackerdbContractName(path string) string {
	parts := splitSlash(path)
	if len(parts) >= 5 {
		return parts[4]
	}
	return ""
}

func splitSlash(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			if i > start {
				parts = append(parts, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return append([]string{""}, parts...)
}

type participant struct {
	id      types.SignerId
	runLoop *RunLoop
}

func setupParticipants(t *testing.T, n int) ([]*participant, *httptest.Server) {
	t.Helper()
	keys := make([]*btcec.PrivateKey, n)
	reward := types.RewardSet{Cycle: 1}
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = priv
		reward.Signers = append(reward.Signers, types.RewardSetEntry{
			SigningKeyBytes: priv.PubKey().SerializeCompressed(),
			Weight:          1,
		})
	}

	node := newFakeNode(1, reward)
	srv := httptest.NewServer(node.handler())

	participants := make([]*participant, n)
	for i := 0; i < n; i++ {
		identity := config.Identity{
			StacksPrivateKey:  keys[i],
			MessagePrivateKey: keys[i],
			Address:           types.AddressFromPublicKeyHash(types.Mocknet, keys[i].PubKey().SerializeCompressed()),
			Network:           types.Mocknet,
		}
		cfg := &config.Config{
			DkgThreshold: uint32(n),
			Timeouts: config.ProtocolTimeouts{
				DkgPublicTimeoutMs: 60_000,
				DkgEndTimeoutMs:    60_000,
				NonceTimeoutMs:     60_000,
				SignTimeoutMs:      60_000,
			},
			Identity: identity,
		}
		host := srv.Listener.Addr().String()
		rpc := client.New(host, identity)
		slots := stackerdb.New(host, "ST000BOOT", identity, nil)
		lib := LibraryFactory{
			NewCoordinator: func() coordinator.Library { return frostsim.NewCoordinator(frostsim.Timeouts{DkgPublic: time.Minute, Nonce: time.Minute, Sign: time.Minute}) },
			NewSigner: func(id types.SignerId) coordinator.Library {
				return frostsim.NewSigner(id, frostsim.Timeouts{DkgPublic: time.Minute, Nonce: time.Minute, Sign: time.Minute})
			},
		}
		rl := New(cfg, rpc, slots, lib, nil)
		participants[i] = &participant{id: types.SignerId(i), runLoop: rl}
	}
	return participants, srv
}

// setupVotingParticipants is setupParticipants plus a configured voting
// contract, so RunDkg exercises the vote-submission and
// approval-polling halves of the ceremony against the fakeNode.
func setupVotingParticipants(t *testing.T, n int) ([]*participant, *fakeNode, *httptest.Server) {
	t.Helper()
	keys := make([]*btcec.PrivateKey, n)
	reward := types.RewardSet{Cycle: 1}
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = priv
		reward.Signers = append(reward.Signers, types.RewardSetEntry{
			SigningKeyBytes: priv.PubKey().SerializeCompressed(),
			Weight:          1,
		})
	}

	node := newFakeNode(1, reward)
	node.quorum = n
	srv := httptest.NewServer(node.handler())

	participants := make([]*participant, n)
	for i := 0; i < n; i++ {
		identity := config.Identity{
			StacksPrivateKey:  keys[i],
			MessagePrivateKey: keys[i],
			Address:           types.AddressFromPublicKeyHash(types.Mocknet, keys[i].PubKey().SerializeCompressed()),
			Network:           types.Mocknet,
		}
		cfg := &config.Config{
			DkgThreshold:  uint32(n),
			PoxContractID: "ST000BOOT.signer-voting",
			TxFeeMicroSTX: 500,
			Timeouts: config.ProtocolTimeouts{
				DkgPublicTimeoutMs: 60_000,
				DkgEndTimeoutMs:    60_000,
				NonceTimeoutMs:     60_000,
				SignTimeoutMs:      60_000,
			},
			Identity: identity,
		}
		host := srv.Listener.Addr().String()
		rpc := client.New(host, identity)
		slots := stackerdb.New(host, "ST000BOOT", identity, nil)
		lib := LibraryFactory{
			NewCoordinator: func() coordinator.Library { return frostsim.NewCoordinator(frostsim.Timeouts{DkgPublic: time.Minute, Nonce: time.Minute, Sign: time.Minute}) },
			NewSigner: func(id types.SignerId) coordinator.Library {
				return frostsim.NewSigner(id, frostsim.Timeouts{DkgPublic: time.Minute, Nonce: time.Minute, Sign: time.Minute})
			},
		}
		rl := New(cfg, rpc, slots, lib, nil)
		participants[i] = &participant{id: types.SignerId(i), runLoop: rl}
	}
	return participants, node, srv
}

// TestDkgVoteApprovalAndRolloverSkip drives a full DKG ceremony through
// vote submission and approval polling against the fakeNode's voting
// contract, then checks that a fresh RunLoop rolling into the same
// cycle sees the approved key and skips straight to AwaitingBlock.
func TestDkgVoteApprovalAndRolloverSkip(t *testing.T) {
	const n = 3
	participants, node, srv := setupVotingParticipants(t, n)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, p := range participants {
		require.NoError(t, p.runLoop.RefreshCycle(ctx))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p *participant) {
			defer wg.Done()
			_, errs[i] = p.runLoop.RunDkg(ctx)
		}(i, p)
	}
	wg.Wait()

	for i := range participants {
		require.NoError(t, errs[i])
		require.Equal(t, types.DkgApproved, participants[i].runLoop.State())
	}

	node.mu.Lock()
	_, approved := node.approved[1]
	node.mu.Unlock()
	require.True(t, approved, "quorum of votes should have approved the aggregate key")

	rolled := New(&config.Config{
		PoxContractID: "ST000BOOT.signer-voting",
		Identity:      participants[0].runLoop.cfg.Identity,
	}, participants[0].runLoop.rpc, participants[0].runLoop.slots, LibraryFactory{}, nil)
	require.NoError(t, rolled.RefreshCycle(ctx))
	require.Equal(t, types.AwaitingBlock, rolled.State())
}

func TestMultiSignerDkgEndToEnd(t *testing.T) {
	const n = 3
	participants, srv := setupParticipants(t, n)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for _, p := range participants {
		require.NoError(t, p.runLoop.RefreshCycle(ctx))
	}

	var wg sync.WaitGroup
	keys := make([]*btcec.PublicKey, n)
	errs := make([]error, n)
	for i, p := range participants {
		wg.Add(1)
		go func(i int, p *participant) {
			defer wg.Done()
			keys[i], errs[i] = p.runLoop.RunDkg(ctx)
		}(i, p)
	}
	wg.Wait()

	for i := range participants {
		require.NoError(t, errs[i])
		require.NotNil(t, keys[i])
	}
	for i := 1; i < n; i++ {
		require.True(t, keys[0].IsEqual(keys[i]), "all participants must agree on the aggregate key")
	}
}
