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

package stackerdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	stacksconfig "github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/types"
)

// fakeSlotStore emulates the node's append-only, per-slot-versioned
// chunk store closely enough to exercise version reconciliation.
type fakeSlotStore struct {
	mu       sync.Mutex
	versions map[uint32]uint32
	data     map[uint32][]byte
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{versions: map[uint32]uint32{}, data: map[uint32][]byte{}}
}

func (s *fakeSlotStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire struct {
			SlotID  uint32 `json:"slot_id"`
			Version uint32 `json:"slot_version"`
			Data    []byte `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		cur := s.versions[wire.SlotID]
		if wire.Version <= cur && cur != 0 {
			json.NewEncoder(w).Encode(ChunkAck{Accepted: false, Reason: strPtr("Data for this slot and version already exist")})
			return
		}
		s.versions[wire.SlotID] = wire.Version
		s.data[wire.SlotID] = wire.Data
		json.NewEncoder(w).Encode(ChunkAck{Accepted: true})
	}
}

func strPtr(s string) *string { return &s }

func newTestClient(t *testing.T, store *fakeSlotStore) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	priv := testPrivateKey(t)
	c := New(srv.Listener.Addr().String(), "SP000000000000000000002Q6VF78", stacksconfig.Identity{MessagePrivateKey: priv}, nil)
	c.OpenCycle(1)
	return c
}

// Sequential writes must produce a strictly increasing slot version.
func TestSendWithRetryVersionsIncreaseByOne(t *testing.T) {
	store := newFakeSlotStore()
	c := newTestClient(t, store)

	for i := 0; i < 5; i++ {
		ack, err := c.SendWithRetry(context.Background(), 1, 0, types.SignerMessage{Kind: types.DkgBegin}, []byte("payload"))
		require.NoError(t, err)
		require.True(t, ack.Accepted)
	}
	require.Equal(t, uint32(6), c.CachedVersion(types.DkgBegin, 0))
	store.mu.Lock()
	require.Equal(t, uint32(5), store.versions[0])
	store.mu.Unlock()
}

// Version reconciliation must converge when the store is ahead of the
// cache.
func TestSendWithRetryReconcilesStaleCache(t *testing.T) {
	store := newFakeSlotStore()
	store.versions[0] = 5
	c := newTestClient(t, store)
	c.PrimeVersion(types.Transactions, 0, 1)

	ack, err := c.SendWithRetry(context.Background(), 1, 0, types.SignerMessage{Kind: types.Transactions}, []byte("tx"))
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	require.Equal(t, uint32(6), c.CachedVersion(types.Transactions, 0))
}

// A rejection for a reason other than version conflict surfaces
// PutChunkRejected and leaves the store untouched beyond whatever it
// already had.
func TestSendWithRetryNonConflictRejectionSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChunkAck{Accepted: false, Reason: strPtr("signature verification failed")})
	}))
	defer srv.Close()
	priv := testPrivateKey(t)
	c := New(srv.Listener.Addr().String(), "SP000000000000000000002Q6VF78", stacksconfig.Identity{MessagePrivateKey: priv}, nil)
	c.OpenCycle(1)

	_, err := c.SendWithRetry(context.Background(), 1, 0, types.SignerMessage{Kind: types.DkgBegin}, []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "signature verification failed")
}

func TestGetChunksKeepsOnlyTransactionsVariant(t *testing.T) {
	goodTx := EncodeSignerMessage(types.SignerMessage{Kind: types.Transactions, Transactions: [][]byte{[]byte("tx1"), []byte("tx2")}})
	wrongKind := EncodeSignerMessage(types.SignerMessage{Kind: types.DkgBegin, ProtocolData: []byte("not a tx")})
	corrupt := []byte{0xff, 0xff}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([][]byte{goodTx, wrongKind, corrupt, nil})
	}))
	defer srv.Close()
	priv := testPrivateKey(t)
	c := New(srv.Listener.Addr().String(), "SP000000000000000000002Q6VF78", stacksconfig.Identity{MessagePrivateKey: priv}, nil)
	c.OpenCycle(1)

	txs, err := c.GetChunks(context.Background(), 1, []uint32{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("tx1"), []byte("tx2")}, txs)
}
