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

// SignerMessageKind enumerates the fixed set of per-signer slot kinds,
// one slot id per kind per signer. The slot store
// allocates 13 slots per signer; 12 protocol-message kinds plus the
// dedicated Transactions kind fill them exactly.
type SignerMessageKind int

const (
	DkgBegin SignerMessageKind = iota
	DkgPrivateBegin
	DkgPrivateShares
	DkgEndBegin
	DkgEnd
	DkgPublicShares
	NonceRequest
	NonceResponse
	SignatureShareRequest
	SignatureShareResponse
	MetadataRequest
	MetadataResponse
	Transactions

	numSignerMessageKinds = int(Transactions) + 1
)

// SlotsPerSigner is the fixed per-signer slot count: one slot per
// message kind.
const SlotsPerSigner = numSignerMessageKinds

func (k SignerMessageKind) String() string {
	names := [...]string{
		"dkg-begin", "dkg-private-begin", "dkg-private-shares", "dkg-end-begin",
		"dkg-end", "dkg-public-shares", "nonce-request", "nonce-response",
		"signature-share-request", "signature-share-response",
		"metadata-request", "metadata-response", "transactions",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}

// SignerMessage is the envelope every slot-store payload decodes to.
// Non-Transactions variants carry an opaque threshold-protocol payload
// (coordinator.OutboundMessage.Payload) that the adapter alone
// interprets; Transactions carries raw signed transaction bytes, which
// the slot-store client's GetChunks concatenates across signers.
type SignerMessage struct {
	Kind         SignerMessageKind
	ProtocolData []byte   // set when Kind != Transactions
	Transactions [][]byte // set when Kind == Transactions
}

// SlotIDFor computes the fixed slot id a signer owns for a message
// kind: each signer gets one contiguous block of SlotsPerSigner slots.
func SlotIDFor(signer SignerId, kind SignerMessageKind) uint32 {
	return uint32(signer)*uint32(SlotsPerSigner) + uint32(kind)
}

// Chunk is a signed, versioned slot-store write.
type Chunk struct {
	SlotID    uint32
	Version   uint32
	Payload   []byte
	Signature []byte
}

// RunLoopState is the per-cycle phase. Transitions are
// cycle-scoped: rollover always resets to Uninitialized.
type RunLoopState int

const (
	Uninitialized RunLoopState = iota
	Registered
	DkgInProgress
	DkgVoteSubmitted
	DkgApproved
	AwaitingBlock
	SigningBlock
	Idle
)

func (s RunLoopState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Registered:
		return "registered"
	case DkgInProgress:
		return "dkg-in-progress"
	case DkgVoteSubmitted:
		return "dkg-vote-submitted"
	case DkgApproved:
		return "dkg-approved"
	case AwaitingBlock:
		return "awaiting-block"
	case SigningBlock:
		return "signing-block"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}
