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

// Package config loads and validates the signer's TOML configuration
// file and derives its on-chain identity.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stacks-network/stacks-signer/signererr"
	"github.com/stacks-network/stacks-signer/types"
)

// SignerEntry is one entry of the `signers` config array: another
// signer's public key and the key ids it owns, as published out of
// band alongside the config.
type SignerEntry struct {
	PublicKey string   `toml:"public_key"`
	KeyIDs    []uint32 `toml:"key_ids"`
}

// ProtocolTimeouts are the five timeout budgets the threshold protocol
// adapter feeds into its tick() wheel, in milliseconds.
type ProtocolTimeouts struct {
	DkgPublicTimeoutMs  uint64 `toml:"dkg_public_timeout_ms"`
	DkgPrivateTimeoutMs uint64 `toml:"dkg_private_timeout_ms"`
	DkgEndTimeoutMs     uint64 `toml:"dkg_end_timeout_ms"`
	NonceTimeoutMs      uint64 `toml:"nonce_timeout_ms"`
	SignTimeoutMs       uint64 `toml:"sign_timeout_ms"`
}

// DefaultProtocolTimeouts gives generous-but-bounded defaults for
// long-haul ceremonies.
func DefaultProtocolTimeouts() ProtocolTimeouts {
	return ProtocolTimeouts{
		DkgPublicTimeoutMs:  30_000,
		DkgPrivateTimeoutMs: 30_000,
		DkgEndTimeoutMs:     30_000,
		NonceTimeoutMs:      10_000,
		SignTimeoutMs:       30_000,
	}
}

// RawConfig is the literal shape of the TOML file.
type RawConfig struct {
	NodeHost             string        `toml:"node_host"`
	Endpoint             string        `toml:"endpoint"`
	StackerDBContractID  string        `toml:"stackerdb_contract_id"`
	PoxContractID        string        `toml:"pox_contract_id"`
	MessagePrivateKey    string        `toml:"message_private_key"`
	StacksPrivateKey     string        `toml:"stacks_private_key"`
	Network              string        `toml:"network"`
	SignerID             uint32        `toml:"signer_id"`
	EventTimeoutMs       uint64        `toml:"event_timeout"`
	Signers              []SignerEntry `toml:"signers"`
	DkgThreshold         uint32        `toml:"dkg_threshold"`
	TxFeeMicroSTX        uint64        `toml:"tx_fee"`
	HealthBindAddr       string        `toml:"health_bind_addr"`
	ProtocolTimeouts
}

// Identity is the signer's immutable-for-process-lifetime cryptographic
// material, derived from config.
type Identity struct {
	StacksPrivateKey  *btcec.PrivateKey
	MessagePrivateKey *btcec.PrivateKey
	Address           string
	Network           types.Network
}

// Config is the fully validated, typed configuration this signer runs
// with.
type Config struct {
	NodeHost            string
	Endpoint            string
	StackerDBContractID string
	PoxContractID       string
	Identity            Identity
	SignerID            uint32
	EventTimeout        uint64 // ms, default 5000
	Signers             []SignerEntry
	DkgThreshold        uint32
	TxFeeMicroSTX       uint64
	HealthBindAddr      string
	Timeouts            ProtocolTimeouts
}

// Load reads and validates a TOML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &signererr.InvalidConfig{Reason: err.Error()}
	}
	var raw RawConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &signererr.ParseError{Err: err}
	}
	return fromRaw(raw)
}

func fromRaw(raw RawConfig) (*Config, error) {
	network, err := types.ParseNetwork(raw.Network)
	if err != nil {
		return nil, &signererr.BadField{Name: "network", Value: raw.Network}
	}

	stacksKey, err := parsePrivateKey(raw.StacksPrivateKey)
	if err != nil {
		return nil, &signererr.BadField{Name: "stacks_private_key", Value: raw.StacksPrivateKey}
	}
	msgKey, err := parsePrivateKey(raw.MessagePrivateKey)
	if err != nil {
		return nil, &signererr.BadField{Name: "message_private_key", Value: raw.MessagePrivateKey}
	}

	if raw.NodeHost == "" {
		return nil, &signererr.BadField{Name: "node_host", Value: raw.NodeHost}
	}
	if _, err := net.ResolveTCPAddr("tcp", raw.Endpoint); err != nil {
		return nil, &signererr.BadField{Name: "endpoint", Value: raw.Endpoint}
	}
	if raw.StackerDBContractID == "" || !isValidContractID(raw.StackerDBContractID) {
		return nil, &signererr.BadField{Name: "stackerdb_contract_id", Value: raw.StackerDBContractID}
	}
	for _, s := range raw.Signers {
		for _, id := range s.KeyIDs {
			if id == 0 {
				return nil, &signererr.BadField{Name: "signers.key_ids", Value: "0"}
			}
		}
	}

	pub := stacksKey.PubKey().SerializeCompressed()
	address := types.AddressFromPublicKeyHash(network, pub)

	timeouts := raw.ProtocolTimeouts
	if timeouts == (ProtocolTimeouts{}) {
		timeouts = DefaultProtocolTimeouts()
	}
	eventTimeout := raw.EventTimeoutMs
	if eventTimeout == 0 {
		eventTimeout = 5000
	}
	healthAddr := raw.HealthBindAddr
	if healthAddr == "" {
		healthAddr = "127.0.0.1:8080"
	}

	return &Config{
		NodeHost:            raw.NodeHost,
		Endpoint:            raw.Endpoint,
		StackerDBContractID: raw.StackerDBContractID,
		PoxContractID:       raw.PoxContractID,
		Identity: Identity{
			StacksPrivateKey:  stacksKey,
			MessagePrivateKey: msgKey,
			Address:           address,
			Network:           network,
		},
		SignerID:       raw.SignerID,
		EventTimeout:   eventTimeout,
		Signers:        raw.Signers,
		DkgThreshold:   raw.DkgThreshold,
		TxFeeMicroSTX:  raw.TxFeeMicroSTX,
		HealthBindAddr: healthAddr,
		Timeouts:       timeouts,
	}, nil
}

func parsePrivateKey(s string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	// Stacks private keys are sometimes 33 bytes, with a trailing
	// 0x01 compressed-public-key marker; strip it before parsing.
	if len(b) == 33 && b[32] == 0x01 {
		b = b[:32]
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

func isValidContractID(id string) bool {
	dot := -1
	for i, r := range id {
		if r == '.' {
			dot = i
			break
		}
	}
	return dot > 0 && dot < len(id)-1
}

// StackerDBContractIDFor returns the deterministic per-(cycle,kind)
// contract id: "{boot_address}.signers-{cycle}-{kind}".
func (c *Config) StackerDBContractIDFor(bootAddress string, cycle types.RewardCycle, kind types.SignerMessageKind) string {
	return fmt.Sprintf("%s.signers-%d-%d", bootAddress, cycle, kind)
}

// SplitContractID splits a validated "{address}.{name}" contract id,
// the shape PoxContractID and StackerDBContractID are stored in.
func SplitContractID(id string) (addr, name string) {
	dot := strings.IndexByte(id, '.')
	if dot < 0 {
		return id, ""
	}
	return id[:dot], id[dot+1:]
}
