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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestC32CheckRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		version byte
		payload []byte
	}{
		{"ordinary hash160", 26, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}},
		{"leading zero byte", 26, []byte{0, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}},
		{"all zero", 22, make([]byte, 20)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			addr := C32CheckEncode(tc.version, tc.payload)
			gotVersion, gotPayload, err := C32CheckDecode(addr)
			require.NoError(t, err)
			require.Equal(t, tc.version, gotVersion)
			require.Equal(t, tc.payload, gotPayload)
		})
	}
}

func TestC32CheckDecodeRejectsBadChecksum(t *testing.T) {
	addr := C32CheckEncode(26, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20})
	tampered := addr[:len(addr)-1] + flip(addr[len(addr)-1])
	_, _, err := C32CheckDecode(tampered)
	require.Error(t, err)
}

func flip(b byte) string {
	if b == '0' {
		return "1"
	}
	return "0"
}

func TestAddressFromPublicKeyHashRoundTrips(t *testing.T) {
	pub := []byte{2, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}
	addr := AddressFromPublicKeyHash(Mainnet, pub)
	version, _, err := C32CheckDecode(addr)
	require.NoError(t, err)
	require.Equal(t, Mainnet.AddressVersion(), version)
}
