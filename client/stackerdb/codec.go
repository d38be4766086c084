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
	"encoding/binary"
	"fmt"

	"github.com/stacks-network/stacks-signer/types"
)

// EncodeSignerMessage and DecodeSignerMessage frame a SignerMessage for
// the slot store: a kind byte followed by length-prefixed payloads, a
// minimal self-consistent envelope good enough to round-trip what this
// module itself writes and reads.
func EncodeSignerMessage(msg types.SignerMessage) []byte {
	out := []byte{byte(msg.Kind)}
	if msg.Kind == types.Transactions {
		var countBuf [4]byte
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(msg.Transactions)))
		out = append(out, countBuf[:]...)
		for _, tx := range msg.Transactions {
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(tx)))
			out = append(out, lenBuf[:]...)
			out = append(out, tx...)
		}
		return out
	}
	out = append(out, msg.ProtocolData...)
	return out
}

// DecodeSignerMessage is the inverse of EncodeSignerMessage.
func DecodeSignerMessage(raw []byte) (*types.SignerMessage, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("empty chunk")
	}
	kind := types.SignerMessageKind(raw[0])
	rest := raw[1:]
	if kind == types.Transactions {
		if len(rest) < 4 {
			return nil, fmt.Errorf("truncated transactions count")
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		txs := make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 4 {
				return nil, fmt.Errorf("truncated transaction length")
			}
			n := binary.BigEndian.Uint32(rest[:4])
			rest = rest[4:]
			if uint32(len(rest)) < n {
				return nil, fmt.Errorf("truncated transaction body")
			}
			txs = append(txs, append([]byte{}, rest[:n]...))
			rest = rest[n:]
		}
		return &types.SignerMessage{Kind: types.Transactions, Transactions: txs}, nil
	}
	if int(kind) < 0 || int(kind) >= types.SlotsPerSigner {
		return nil, fmt.Errorf("unknown signer message kind %d", kind)
	}
	return &types.SignerMessage{Kind: kind, ProtocolData: append([]byte{}, rest...)}, nil
}
