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
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func testPrivateKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	var seed [32]byte
	seed[31] = 7
	priv, _ := btcec.PrivKeyFromBytes(seed[:])
	return priv
}
