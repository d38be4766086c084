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

package types

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stacks-network/stacks-signer/signererr"
)

// RewardCycle identifies a range of burn-chain blocks during which a
// specific reward set is authorized to sign.
type RewardCycle uint64

// Parity selects which of the two rotating slot-store namespaces this
// cycle's messages live in.
func (c RewardCycle) Parity() uint8 { return uint8(c % 2) }

// RewardSetEntry is one signer's published key and voting weight.
type RewardSetEntry struct {
	SigningKeyBytes []byte // compressed secp256k1 point, as published by the node
	Weight          uint32
}

// RewardSet is the ordered list the node publishes for a cycle.
type RewardSet struct {
	Cycle   RewardCycle
	Signers []RewardSetEntry
}

// SignerId is this signer's index into RewardSet.Signers for the
// cycle, stable for the cycle's lifetime.
type SignerId uint32

// KeyIdRange is a contiguous, half-open range of key ids
// [Start, End) owned by one signer.
type KeyIdRange struct {
	Start uint32
	End   uint32
}

// Contains reports whether id falls in [Start, End).
func (r KeyIdRange) Contains(id uint32) bool { return id >= r.Start && id < r.End }

// Len returns the number of key ids in the range.
func (r KeyIdRange) Len() uint32 { return r.End - r.Start }

// RegisteredSigner is the decoded, validated form of one RewardSetEntry,
// with its public key parsed and its key-id range computed.
type RegisteredSigner struct {
	ID        SignerId
	PublicKey *btcec.PublicKey
	KeyIDs    KeyIdRange
}

// RegisteredSignersInfo is the fully decoded reward set: every entry's
// signing key parsed and every signer's key-id range assigned by
// cumulative weight, key id 0 reserved and never assigned.
type RegisteredSignersInfo struct {
	Cycle       RewardCycle
	Signers     []RegisteredSigner
	TotalKeyIDs uint32
}

// DecodeRewardSet validates every signing key in rs and assigns
// contiguous key-id ranges by cumulative weight. A single bad entry
// rejects the whole set with CorruptedRewardSet and no partial state.
func DecodeRewardSet(rs RewardSet) (*RegisteredSignersInfo, error) {
	info := &RegisteredSignersInfo{Cycle: rs.Cycle}
	next := uint32(1) // key id 0 is invalid/reserved
	for i, entry := range rs.Signers {
		pk, err := btcec.ParsePubKey(entry.SigningKeyBytes)
		if err != nil {
			return nil, &signererr.CorruptedRewardSet{Index: i, Err: err}
		}
		kr := KeyIdRange{Start: next, End: next + entry.Weight}
		info.Signers = append(info.Signers, RegisteredSigner{
			ID:        SignerId(i),
			PublicKey: pk,
			KeyIDs:    kr,
		})
		next = kr.End
	}
	info.TotalKeyIDs = next - 1
	return info, nil
}

// SignerIDFor returns the SignerId whose registered address matches
// addr, or false if addr is absent from the set.
func (info *RegisteredSignersInfo) SignerIDFor(addrPubKeyHash func(*btcec.PublicKey) string, addr string) (SignerId, bool) {
	for _, s := range info.Signers {
		if addrPubKeyHash(s.PublicKey) == addr {
			return s.ID, true
		}
	}
	return 0, false
}

// PublicKeys returns every registered signer's public key, in signer-id
// order, as the threshold protocol adapter's start_dkg expects.
func (info *RegisteredSignersInfo) PublicKeys() []*btcec.PublicKey {
	out := make([]*btcec.PublicKey, len(info.Signers))
	for i, s := range info.Signers {
		out[i] = s.PublicKey
	}
	return out
}
