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
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/types"
)

// voteTxVersion tags the wire frame so a future incompatible change to
// the field layout doesn't silently misparse.
const voteTxVersion = 1

// VoteTransaction is a vote-for-aggregate-public-key contract-call,
// self-describing and self-signed the same way a stackerdb chunk is:
// a length-prefixed binary frame (see stackerdb.EncodeSignerMessage)
// with an ECDSA signature over a digest of its own fields.
type VoteTransaction struct {
	SignerIndex uint32
	Point       []byte // compressed aggregate public key
	Round       uint64
	Cycle       types.RewardCycle
	Nonce       uint64
	FeeMicroSTX uint64
	SenderKey   []byte // compressed public key of the submitting signer
	Signature   []byte // DER-encoded
}

// BuildVoteTransaction assembles and signs a vote-for-aggregate-public-key
// transaction for the aggregate point the signer's DKG ceremony produced.
func BuildVoteTransaction(identity config.Identity, signerIndex uint32, point *btcec.PublicKey, round uint64, cycle types.RewardCycle, nonce, feeMicroSTX uint64) *VoteTransaction {
	tx := &VoteTransaction{
		SignerIndex: signerIndex,
		Point:       point.SerializeCompressed(),
		Round:       round,
		Cycle:       cycle,
		Nonce:       nonce,
		FeeMicroSTX: feeMicroSTX,
		SenderKey:   identity.StacksPrivateKey.PubKey().SerializeCompressed(),
	}
	sig := ecdsa.Sign(identity.StacksPrivateKey, tx.signingDigest())
	tx.Signature = sig.Serialize()
	return tx
}

func (tx *VoteTransaction) signingDigest() []byte {
	buf := tx.unsignedBytes()
	sum := sha256.Sum256(buf)
	return sum[:]
}

func (tx *VoteTransaction) unsignedBytes() []byte {
	buf := make([]byte, 0, 64+len(tx.Point)+len(tx.SenderKey))
	buf = append(buf, voteTxVersion)
	buf = appendUint32(buf, tx.SignerIndex)
	buf = appendLenPrefixed(buf, tx.Point)
	buf = appendUint64(buf, tx.Round)
	buf = appendUint64(buf, uint64(tx.Cycle))
	buf = appendUint64(buf, tx.Nonce)
	buf = appendUint64(buf, tx.FeeMicroSTX)
	buf = appendLenPrefixed(buf, tx.SenderKey)
	return buf
}

// Encode serializes tx (including its signature) to raw bytes, the
// shape both SubmitTransaction and the next-cycle Transactions slot
// expect.
func (tx *VoteTransaction) Encode() []byte {
	buf := tx.unsignedBytes()
	buf = appendLenPrefixed(buf, tx.Signature)
	return buf
}

// DecodeVoteTransaction is the inverse of Encode, verifying the
// embedded signature against SenderKey.
func DecodeVoteTransaction(raw []byte) (*VoteTransaction, error) {
	if len(raw) < 1 || raw[0] != voteTxVersion {
		return nil, fmt.Errorf("unsupported vote transaction version")
	}
	rest := raw[1:]
	var tx VoteTransaction
	var err error
	tx.SignerIndex, rest, err = readUint32(rest)
	if err != nil {
		return nil, err
	}
	tx.Point, rest, err = readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	var round, cycle uint64
	round, rest, err = readUint64(rest)
	if err != nil {
		return nil, err
	}
	tx.Round = round
	cycle, rest, err = readUint64(rest)
	if err != nil {
		return nil, err
	}
	tx.Cycle = types.RewardCycle(cycle)
	tx.Nonce, rest, err = readUint64(rest)
	if err != nil {
		return nil, err
	}
	tx.FeeMicroSTX, rest, err = readUint64(rest)
	if err != nil {
		return nil, err
	}
	tx.SenderKey, rest, err = readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	tx.Signature, rest, err = readLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing bytes after vote transaction")
	}

	pubKey, err := btcec.ParsePubKey(tx.SenderKey)
	if err != nil {
		return nil, fmt.Errorf("invalid sender key: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !sig.Verify(tx.signingDigest(), pubKey) {
		return nil, fmt.Errorf("vote transaction signature verification failed")
	}
	return &tx, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendLenPrefixed(buf, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func readUint32(raw []byte) (uint32, []byte, error) {
	if len(raw) < 4 {
		return 0, nil, fmt.Errorf("truncated uint32")
	}
	return binary.BigEndian.Uint32(raw[:4]), raw[4:], nil
}

func readUint64(raw []byte) (uint64, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("truncated uint64")
	}
	return binary.BigEndian.Uint64(raw[:8]), raw[8:], nil
}

func readLenPrefixed(raw []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(raw)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("truncated length-prefixed field")
	}
	return append([]byte{}, rest[:n]...), rest[n:], nil
}
