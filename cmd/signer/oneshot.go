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

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/holiman/uint256"

	"github.com/stacks-network/stacks-signer/client"
	"github.com/stacks-network/stacks-signer/client/stackerdb"
	"github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/coordinator"
	"github.com/stacks-network/stacks-signer/coordinator/frostsim"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/runloop"
	"github.com/stacks-network/stacks-signer/types"
)

// oneShot wires the same run loop the daemon uses, for a CLI
// invocation that performs exactly one ceremony and exits rather than
// watching for cycle rollovers.
type oneShot struct {
	rl *runloop.RunLoop
}

func newOneShot(cfg *config.Config) *oneShot {
	logger := signerlog.Root()
	rpc := client.New(cfg.NodeHost, cfg.Identity)
	slots := stackerdb.New(cfg.NodeHost, cfg.StackerDBContractID, cfg.Identity, logger.With("component", "stackerdb"))

	timeouts := frostsim.Timeouts{
		DkgPublic:  time.Duration(cfg.Timeouts.DkgPublicTimeoutMs) * time.Millisecond,
		DkgPrivate: time.Duration(cfg.Timeouts.DkgPrivateTimeoutMs) * time.Millisecond,
		DkgEnd:     time.Duration(cfg.Timeouts.DkgEndTimeoutMs) * time.Millisecond,
		Nonce:      time.Duration(cfg.Timeouts.NonceTimeoutMs) * time.Millisecond,
		Sign:       time.Duration(cfg.Timeouts.SignTimeoutMs) * time.Millisecond,
	}
	lib := runloop.LibraryFactory{
		NewCoordinator: func() coordinator.Library { return frostsim.NewCoordinator(timeouts) },
		NewSigner:      func(id types.SignerId) coordinator.Library { return frostsim.NewSigner(id, timeouts) },
	}
	rl := runloop.New(cfg, rpc, slots, lib, logger.With("component", "runloop"))
	return &oneShot{rl: rl}
}

func (s *oneShot) runDkg(ctx context.Context) (*btcec.PublicKey, error) {
	if err := s.rl.RefreshCycle(ctx); err != nil {
		return nil, fmt.Errorf("refresh cycle: %w", err)
	}
	return s.rl.RunDkg(ctx)
}

func (s *oneShot) runSign(ctx context.Context, hexMessage string, taproot bool) ([]byte, error) {
	msg, err := hex.DecodeString(hexMessage)
	if err != nil {
		return nil, fmt.Errorf("message must be hex-encoded: %w", err)
	}
	if err := s.rl.RefreshCycle(ctx); err != nil {
		return nil, fmt.Errorf("refresh cycle: %w", err)
	}
	return s.rl.RunSign(ctx, msg, taproot, nil)
}

// writeConfigSkeleton writes a minimal, commented TOML config file an
// operator can fill in, matching the fields RawConfig understands.
func writeConfigSkeleton(path string) error {
	const skeleton = `# stacks-signer configuration
node_host = "127.0.0.1:20443"
endpoint = "0.0.0.0:30000"
stackerdb_contract_id = "ST000000000000000000002AMW42H.signers"
pox_contract_id = "ST000000000000000000002AMW42H.pox-4"
message_private_key = ""
stacks_private_key = ""
network = "mocknet"
signer_id = 0
dkg_threshold = 1
tx_fee = 10000
health_bind_addr = "127.0.0.1:8080"

[[signers]]
public_key = ""
key_ids = [1]
`
	return os.WriteFile(path, []byte(skeleton), 0o600)
}

// totalFeeBudget sums perTxFee across numSigners using fixed-width,
// overflow-checked arithmetic: Clarity's uint is 128 bits wide, and a
// naive uint64 multiply could wrap silently for a large signer set
// long before it ever approached Clarity's actual ceiling.
func totalFeeBudget(perTxFee uint64, numSigners uint32) (*uint256.Int, error) {
	fee := uint256.NewInt(perTxFee)
	n := uint256.NewInt(uint64(numSigners))
	total, overflow := new(uint256.Int).MulOverflow(fee, n)
	if overflow {
		return nil, fmt.Errorf("fee budget overflows a 256-bit accumulator")
	}
	if total.BitLen() > 128 {
		return nil, fmt.Errorf("fee budget %s exceeds the 128-bit range of a clarity uint", total.Dec())
	}
	return total, nil
}
