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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/stacks-network/stacks-signer/types"
)

// ClarityValue is the minimal subset of the Clarity value codec this
// signer needs to decode read-only call results. The full codec is
// out of scope; this covers the shapes decodeClarity reads: int and
// (u N), true/false, (buff N), standard and contract principals,
// (some X)/none, (ok X)/(err X), lists and tuples.
type ClarityValue struct {
	Kind      ClarityKind
	UInt      *big.Int
	Int       *big.Int
	Buff      []byte
	Bool      bool
	Some      *ClarityValue
	Ok        *ClarityValue
	ErrVal    *ClarityValue
	IsNone    bool
	List      []*ClarityValue
	Tuple     map[string]*ClarityValue
	Principal *ClarityPrincipal
}

// ClarityPrincipal is a decoded Clarity principal value: a standard
// principal is a version byte plus a hash160; a contract principal
// additionally names a contract deployed by that address.
type ClarityPrincipal struct {
	Version      byte
	Hash160      []byte
	IsContract   bool
	ContractName string
}

// Address renders the principal's standard-principal component back
// into a c32check address string.
func (p *ClarityPrincipal) Address() string {
	return types.C32CheckEncode(p.Version, p.Hash160)
}

type ClarityKind int

const (
	ClarityInt ClarityKind = iota
	ClarityUInt
	ClarityBuff
	ClarityBoolTrue
	ClarityBoolFalse
	ClarityNone
	ClaritySome
	ClarityOk
	ClarityErr
	ClarityPrincipalKind
	ClarityList
	ClarityTuple
)

const (
	prefixInt               = 0x00
	prefixUInt              = 0x01
	prefixBuff              = 0x02
	prefixTrue              = 0x03
	prefixFalse             = 0x04
	prefixPrincipalStd      = 0x05
	prefixPrincipalContract = 0x06
	prefixOk                = 0x07
	prefixErr               = 0x08
	prefixNone              = 0x09
	prefixSome              = 0x0a
	prefixList              = 0x0b
	prefixTuple             = 0x0c
)

// DecodeClarityHex decodes a "0x..."-prefixed Clarity serialization,
// the shape the node's read-only call endpoint returns.
func DecodeClarityHex(s string) (*ClarityValue, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed clarity hex: %w", err)
	}
	v, _, err := decodeClarity(raw)
	return v, err
}

func decodeClarity(raw []byte) (*ClarityValue, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("empty clarity value")
	}
	switch raw[0] {
	case prefixUInt:
		if len(raw) < 17 {
			return nil, nil, fmt.Errorf("truncated uint")
		}
		return &ClarityValue{Kind: ClarityUInt, UInt: new(big.Int).SetBytes(raw[1:17])}, raw[17:], nil
	case prefixInt:
		if len(raw) < 17 {
			return nil, nil, fmt.Errorf("truncated int")
		}
		return &ClarityValue{Kind: ClarityInt, Int: new(big.Int).SetBytes(raw[1:17])}, raw[17:], nil
	case prefixBuff:
		if len(raw) < 5 {
			return nil, nil, fmt.Errorf("truncated buff length")
		}
		n := int(raw[1])<<24 | int(raw[2])<<16 | int(raw[3])<<8 | int(raw[4])
		if len(raw) < 5+n {
			return nil, nil, fmt.Errorf("truncated buff body")
		}
		buf := append([]byte{}, raw[5:5+n]...)
		return &ClarityValue{Kind: ClarityBuff, Buff: buf}, raw[5+n:], nil
	case prefixTrue:
		return &ClarityValue{Kind: ClarityBoolTrue, Bool: true}, raw[1:], nil
	case prefixFalse:
		return &ClarityValue{Kind: ClarityBoolFalse, Bool: false}, raw[1:], nil
	case prefixNone:
		return &ClarityValue{Kind: ClarityNone, IsNone: true}, raw[1:], nil
	case prefixSome:
		inner, rest, err := decodeClarity(raw[1:])
		if err != nil {
			return nil, nil, err
		}
		return &ClarityValue{Kind: ClaritySome, Some: inner}, rest, nil
	case prefixOk:
		inner, rest, err := decodeClarity(raw[1:])
		if err != nil {
			return nil, nil, err
		}
		return &ClarityValue{Kind: ClarityOk, Ok: inner}, rest, nil
	case prefixErr:
		inner, rest, err := decodeClarity(raw[1:])
		if err != nil {
			return nil, nil, err
		}
		return &ClarityValue{Kind: ClarityErr, ErrVal: inner}, rest, nil
	case prefixPrincipalStd:
		if len(raw) < 22 {
			return nil, nil, fmt.Errorf("truncated standard principal")
		}
		p := &ClarityPrincipal{Version: raw[1], Hash160: append([]byte{}, raw[2:22]...)}
		return &ClarityValue{Kind: ClarityPrincipalKind, Principal: p}, raw[22:], nil
	case prefixPrincipalContract:
		if len(raw) < 23 {
			return nil, nil, fmt.Errorf("truncated contract principal")
		}
		nameLen := int(raw[22])
		if len(raw) < 23+nameLen {
			return nil, nil, fmt.Errorf("truncated contract principal name")
		}
		p := &ClarityPrincipal{
			Version:      raw[1],
			Hash160:      append([]byte{}, raw[2:22]...),
			IsContract:   true,
			ContractName: string(raw[23 : 23+nameLen]),
		}
		return &ClarityValue{Kind: ClarityPrincipalKind, Principal: p}, raw[23+nameLen:], nil
	case prefixList:
		if len(raw) < 5 {
			return nil, nil, fmt.Errorf("truncated list length")
		}
		n := binary.BigEndian.Uint32(raw[1:5])
		rest := raw[5:]
		items := make([]*ClarityValue, 0, n)
		for i := uint32(0); i < n; i++ {
			item, r, err := decodeClarity(rest)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
			rest = r
		}
		return &ClarityValue{Kind: ClarityList, List: items}, rest, nil
	case prefixTuple:
		if len(raw) < 5 {
			return nil, nil, fmt.Errorf("truncated tuple length")
		}
		n := binary.BigEndian.Uint32(raw[1:5])
		rest := raw[5:]
		fields := make(map[string]*ClarityValue, n)
		for i := uint32(0); i < n; i++ {
			if len(rest) < 1 {
				return nil, nil, fmt.Errorf("truncated tuple field name length")
			}
			nameLen := int(rest[0])
			rest = rest[1:]
			if len(rest) < nameLen {
				return nil, nil, fmt.Errorf("truncated tuple field name")
			}
			name := string(rest[:nameLen])
			rest = rest[nameLen:]
			value, r, err := decodeClarity(rest)
			if err != nil {
				return nil, nil, err
			}
			fields[name] = value
			rest = r
		}
		return &ClarityValue{Kind: ClarityTuple, Tuple: fields}, rest, nil
	default:
		return nil, nil, fmt.Errorf("unsupported clarity type prefix 0x%02x", raw[0])
	}
}

// EncodeUIntHex encodes n as a hex-prefixed Clarity uint, the shape
// read_only_contract_call's "arguments" array expects.
func EncodeUIntHex(n uint64) string {
	buf := make([]byte, 17)
	buf[0] = prefixUInt
	big.NewInt(0).SetUint64(n).FillBytes(buf[1:])
	return "0x" + hex.EncodeToString(buf)
}

// EncodeUInt128Hex encodes n as a hex-prefixed Clarity uint. Clarity's
// uint type is a full 128 bits wide, wider than uint64, so amounts
// like cumulative STX fee totals across a round of transactions use
// uint256.Int (fixed-width, overflow-checked arithmetic) rather than
// risk silently truncating a uint64 sum.
func EncodeUInt128Hex(n *uint256.Int) (string, error) {
	if n.BitLen() > 128 {
		return "", fmt.Errorf("value %s exceeds the 128-bit range of a clarity uint", n.Dec())
	}
	buf := make([]byte, 17)
	buf[0] = prefixUInt
	b := n.Bytes()
	copy(buf[17-len(b):], b)
	return "0x" + hex.EncodeToString(buf), nil
}

// EncodeBuffHex encodes data as a hex-prefixed Clarity buff.
func EncodeBuffHex(data []byte) string {
	buf := make([]byte, 0, 5+len(data))
	n := len(data)
	buf = append(buf, prefixBuff, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	buf = append(buf, data...)
	return "0x" + hex.EncodeToString(buf)
}

// EncodePrincipalHex encodes address as a hex-prefixed Clarity standard
// principal, the shape a signer's own address takes as a contract-call
// argument.
func EncodePrincipalHex(address string) (string, error) {
	version, hash, err := types.C32CheckDecode(address)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, 22)
	buf = append(buf, prefixPrincipalStd, version)
	buf = append(buf, hash...)
	return "0x" + hex.EncodeToString(buf), nil
}

// ExpectOptional unwraps a some/none value.
func (v *ClarityValue) ExpectOptional() (*ClarityValue, bool) {
	switch v.Kind {
	case ClaritySome:
		return v.Some, true
	case ClarityNone:
		return nil, false
	default:
		return nil, false
	}
}
