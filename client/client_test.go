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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	stacksconfig "github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/signererr"
	"github.com/stacks-network/stacks-signer/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.Listener.Addr().String(), stacksconfig.Identity{Address: "SPTESTADDR", Network: types.Testnet})
	return c.WithDeadline(2 * time.Second)
}

// S1: read-only happy path.
func TestReadOnlyContractCallHappyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"okay":true,"result":"0x010000000000000000000000000000000a"}`))
	})
	value, err := c.ReadOnlyContractCall(context.Background(), "SPADDR", "c", "f", nil)
	require.NoError(t, err)
	require.Equal(t, ClarityUInt, value.Kind)
	require.Equal(t, uint64(10), value.UInt.Uint64())
}

// S2: read-only failure.
func TestReadOnlyContractCallFailureCause(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"okay":false,"cause":"bad"}`))
	})
	_, err := c.ReadOnlyContractCall(context.Background(), "SPADDR", "c", "f", nil)
	var rof *signererr.ReadOnlyFailure
	require.ErrorAs(t, err, &rof)
	require.Equal(t, "f: bad", rof.Error())
}

// S3: 400 response never retries and surfaces RequestFailure.
func TestRequestFailureOn400DoesNotRetry(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := c.GetPeerInfo(context.Background())
	var rf *signererr.RequestFailure
	require.ErrorAs(t, err, &rf)
	require.Equal(t, http.StatusBadRequest, rf.Status)
	require.Equal(t, 1, calls, "a 4xx must not be retried")
}

func TestRequestFailureOn500Retries(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"burn_block_height":100}`))
	})
	info, err := c.GetPeerInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), info.BurnBlockHeight)
	require.GreaterOrEqual(t, calls, 3)
}

// The node's epoch is the highest activated epoch at or below the
// current burn height.
func TestGetNodeEpochSelection(t *testing.T) {
	cases := []struct {
		height uint64
		want   Epoch
	}{
		{50, Epoch24},
		{100, Epoch25},
		{150, Epoch25},
		{200, Epoch30},
		{999, Epoch30},
	}
	for _, tc := range cases {
		tc := tc
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v2/pox":
				w.Write([]byte(`{"epochs":[{"epoch_id":25,"start_height":100},{"epoch_id":30,"start_height":200}]}`))
			case "/v2/info":
				w.Write([]byte(`{"burn_block_height":` + itoa(tc.height) + `}`))
			}
		})
		got, err := c.GetNodeEpoch(context.Background())
		require.NoError(t, err)
		require.Equalf(t, tc.want, got, "height %d", tc.height)
	}
}

func TestGetNodeEpochMissingActivationIsUnsupported(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/pox":
			w.Write([]byte(`{"epochs":[{"epoch_id":25,"start_height":100}]}`))
		case "/v2/info":
			w.Write([]byte(`{"burn_block_height":500}`))
		}
	})
	_, err := c.GetNodeEpoch(context.Background())
	var u *signererr.UnsupportedStacksFeature
	require.ErrorAs(t, err, &u)
}

// Reward cycle math is integer division.
func TestGetCurrentRewardCycle(t *testing.T) {
	pox := &PoxData{
		CurrentBurnchainBlockHeight: 1050,
		FirstBurnchainBlockHeight:   50,
		RewardPhaseBlockLength:      90,
		PreparePhaseBlockLength:     10,
	}
	require.Equal(t, types.RewardCycle(10), GetCurrentRewardCycle(pox))
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
