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
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address hashing needs the same hash160 scheme as the node
)

// c32Alphabet is the Crockford-style base32 alphabet used by Stacks
// c32check addresses: no I, L, O, U, to avoid visual ambiguity.
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// hash160 is RIPEMD160(SHA256(data)), the digest Bitcoin-family chains
// (including Stacks) use for P2PKH-style addresses.
func hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// c32Checksum computes the 4-byte double-sha256 checksum over the
// version byte and payload, as c32check specifies.
func c32Checksum(version byte, payload []byte) []byte {
	buf := append([]byte{version}, payload...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:4]
}

func c32Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	num := new(big.Int).SetBytes(data)
	zero := new(big.Int)
	mod := big.NewInt(32)
	var out []byte
	for num.Cmp(zero) > 0 {
		m := new(big.Int)
		num.DivMod(num, mod, m)
		out = append([]byte{c32Alphabet[m.Int64()]}, out...)
	}
	// Preserve leading zero bytes as leading '0' characters.
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append([]byte{'0'}, out...)
	}
	if len(out) == 0 {
		out = []byte{'0'}
	}
	return string(out)
}

// C32CheckEncode renders version and payload as a c32check address
// string, e.g. "SP..." for mainnet single-sig.
func C32CheckEncode(version byte, payload []byte) string {
	checksum := c32Checksum(version, payload)
	full := append(append([]byte{}, payload...), checksum...)
	versionChar := c32Alphabet[version]
	return fmt.Sprintf("S%c%s", versionChar, c32Encode(full))
}

// AddressFromPublicKeyHash encodes the hash160 of a compressed public
// key as a network-versioned c32check address.
func AddressFromPublicKeyHash(network Network, compressedPubKey []byte) string {
	return C32CheckEncode(network.AddressVersion(), hash160(compressedPubKey))
}

// c32Decode is the inverse of c32Encode: it reads a c32 string back
// into the big-endian bytes it represents, restoring one leading zero
// byte per leading '0' character the way c32Encode produced them.
func c32Decode(s string) ([]byte, error) {
	num := new(big.Int)
	base := big.NewInt(32)
	digit := new(big.Int)
	for _, ch := range strings.ToUpper(s) {
		idx := strings.IndexRune(c32Alphabet, ch)
		if idx < 0 {
			return nil, fmt.Errorf("invalid c32 character %q", ch)
		}
		num.Mul(num, base)
		digit.SetInt64(int64(idx))
		num.Add(num, digit)
	}
	leadingZeros := 0
	for _, ch := range s {
		if ch != '0' {
			break
		}
		leadingZeros++
	}
	raw := num.Bytes()
	out := make([]byte, leadingZeros+len(raw))
	copy(out[leadingZeros:], raw)
	return out, nil
}

// C32CheckDecode is the inverse of C32CheckEncode: it recovers the
// version byte and payload from a c32check address string, verifying
// the embedded checksum.
func C32CheckDecode(address string) (byte, []byte, error) {
	if len(address) < 2 || (address[0] != 'S' && address[0] != 's') {
		return 0, nil, fmt.Errorf("not a c32check address: %q", address)
	}
	versionChar := strings.ToUpper(address[1:2])
	version := strings.Index(c32Alphabet, versionChar)
	if version < 0 {
		return 0, nil, fmt.Errorf("invalid c32check version character %q", address[1:2])
	}
	full, err := c32Decode(address[2:])
	if err != nil {
		return 0, nil, err
	}
	if len(full) < 4 {
		return 0, nil, fmt.Errorf("c32check address too short")
	}
	payload, checksum := full[:len(full)-4], full[len(full)-4:]
	if !bytes.Equal(checksum, c32Checksum(byte(version), payload)) {
		return 0, nil, fmt.Errorf("c32check checksum mismatch")
	}
	return byte(version), payload, nil
}
