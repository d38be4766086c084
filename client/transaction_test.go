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
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	stacksconfig "github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/types"
)

func testIdentity(t *testing.T) stacksconfig.Identity {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return stacksconfig.Identity{StacksPrivateKey: priv, Network: types.Testnet}
}

// S1: a vote transaction signed by BuildVoteTransaction round-trips
// through Encode/DecodeVoteTransaction with its signature intact.
func TestVoteTransactionRoundTrip(t *testing.T) {
	identity := testIdentity(t)
	point, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tx := BuildVoteTransaction(identity, 3, point.PubKey(), 1, types.RewardCycle(42), 7, 10_000)
	raw := tx.Encode()

	decoded, err := DecodeVoteTransaction(raw)
	require.NoError(t, err)
	require.Equal(t, tx.SignerIndex, decoded.SignerIndex)
	require.Equal(t, tx.Point, decoded.Point)
	require.Equal(t, tx.Round, decoded.Round)
	require.Equal(t, tx.Cycle, decoded.Cycle)
	require.Equal(t, tx.Nonce, decoded.Nonce)
	require.Equal(t, tx.FeeMicroSTX, decoded.FeeMicroSTX)
}

// S2: tampering with any signed field invalidates the signature.
func TestVoteTransactionRejectsTamperedSignerIndex(t *testing.T) {
	identity := testIdentity(t)
	point, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tx := BuildVoteTransaction(identity, 3, point.PubKey(), 1, types.RewardCycle(42), 7, 10_000)
	raw := tx.Encode()
	raw[1] ^= 0xff // flip a byte inside the signed signer-index field

	_, err = DecodeVoteTransaction(raw)
	require.Error(t, err)
}
