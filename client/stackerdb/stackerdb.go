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

// Package stackerdb implements the slot-store client:
// per-(reward-cycle, message-kind) sessions against the node's
// append-only slot store, with signed versioned writes, version
// reconciliation on conflict, and batched ordered reads.
package stackerdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	lru "github.com/hashicorp/golang-lru"

	stacksconfig "github.com/stacks-network/stacks-signer/config"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/signererr"
	"github.com/stacks-network/stacks-signer/types"
)

// maxReconciliationAttempts bounds the slot-version reconciliation retry
// loop before it surfaces NotConnected.
const maxReconciliationAttempts = 100

// slotVersionCacheSize is generous relative to SlotsPerSigner * a
// handful of live cycles; an eviction only costs one extra
// reconciliation round (see SPEC_FULL.md domain-stack table).
const slotVersionCacheSize = 4096

type versionKey struct {
	kind   types.SignerMessageKind
	slotID uint32
}

// Client is the per-process slot-store client. It owns one session
// per (reward cycle, message kind), plus one for the next cycle's
// Transactions kind.
type Client struct {
	httpClient *http.Client
	baseURL    string
	bootAddr   string
	identity   stacksconfig.Identity
	log        signerlog.Logger

	versions *lru.Cache // versionKey -> uint32

	sessions map[sessionKey]session
}

type sessionKey struct {
	cycle types.RewardCycle
	kind  types.SignerMessageKind
}

type session struct {
	contractAddr string
	contractName string
}

// New builds a Client against nodeHost.
func New(nodeHost, bootAddr string, identity stacksconfig.Identity, logger signerlog.Logger) *Client {
	cache, _ := lru.New(slotVersionCacheSize)
	if logger == nil {
		logger = signerlog.Root()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "http://" + nodeHost,
		bootAddr:   bootAddr,
		identity:   identity,
		log:        logger,
		versions:   cache,
		sessions:   make(map[sessionKey]session),
	}
}

// OpenCycle (re)builds every (kind, session) for cycle, plus the
// Transactions session for cycle+1 so its slot is ready before
// rollover. Contract ids embed the cycle, so sessions are rebuilt
// wholesale on rollover.
func (c *Client) OpenCycle(cycle types.RewardCycle) {
	for kind := types.SignerMessageKind(0); int(kind) < types.SlotsPerSigner; kind++ {
		c.sessions[sessionKey{cycle, kind}] = session{
			contractAddr: c.bootAddr,
			contractName: fmt.Sprintf("signers-%d-%d", cycle, kind),
		}
	}
	c.sessions[sessionKey{cycle + 1, types.Transactions}] = session{
		contractAddr: c.bootAddr,
		contractName: fmt.Sprintf("signers-%d-%d", cycle+1, types.Transactions),
	}
}

func (c *Client) sessionFor(cycle types.RewardCycle, kind types.SignerMessageKind) (session, bool) {
	s, ok := c.sessions[sessionKey{cycle, kind}]
	return s, ok
}

// ChunkAck is the node's reply to a chunk put.
type ChunkAck struct {
	Accepted bool    `json:"accepted"`
	Reason   *string `json:"reason,omitempty"`
}

func isPermanentPut(err error) bool {
	_, ok := err.(*signererr.PutChunkRejected)
	return ok
}

// SendWithRetry serializes, signs, and puts msg with backoff, and
// reconciles on a version conflict by incrementing and retrying, up to
// maxReconciliationAttempts times.
func (c *Client) SendWithRetry(ctx context.Context, cycle types.RewardCycle, slotID uint32, msg types.SignerMessage, payload []byte) (*ChunkAck, error) {
	sess, ok := c.sessionFor(cycle, msg.Kind)
	if !ok {
		return nil, fmt.Errorf("no stackerdb session open for cycle %d kind %s", cycle, msg.Kind)
	}
	key := versionKey{kind: msg.Kind, slotID: slotID}

	for attempt := 0; attempt < maxReconciliationAttempts; attempt++ {
		version := c.cachedVersion(key)
		chunk := types.Chunk{SlotID: slotID, Version: version, Payload: payload}
		sig, err := c.sign(chunk)
		if err != nil {
			return nil, err
		}
		chunk.Signature = sig

		var ack ChunkAck
		err = retryPut(ctx, c.httpClient, c.chunkURL(sess), chunk, &ack)
		if err != nil {
			return nil, err
		}

		if ack.Accepted {
			c.versions.Add(key, version+1)
			return &ack, nil
		}

		reason := ""
		if ack.Reason != nil {
			reason = *ack.Reason
		}
		if strings.Contains(reason, "Data for this slot and version already exist") {
			c.log.Warn("slot version conflict, reconciling", "slot", slotID, "kind", msg.Kind.String(), "version", version)
			c.versions.Add(key, version+1)
			continue
		}
		return nil, &signererr.PutChunkRejected{Reason: reason}
	}
	return nil, &signererr.NotConnected{SlotID: slotID, Tries: maxReconciliationAttempts}
}

func (c *Client) cachedVersion(key versionKey) uint32 {
	if v, ok := c.versions.Get(key); ok {
		return v.(uint32)
	}
	c.versions.Add(key, uint32(1))
	return 1
}

// PrimeVersion seeds the cache for (kind, slotID), used by tests
// exercising reconciliation.
func (c *Client) PrimeVersion(kind types.SignerMessageKind, slotID, version uint32) {
	c.versions.Add(versionKey{kind: kind, slotID: slotID}, version)
}

// CachedVersion exposes the current cached version, for assertions.
func (c *Client) CachedVersion(kind types.SignerMessageKind, slotID uint32) uint32 {
	return c.cachedVersion(versionKey{kind: kind, slotID: slotID})
}

func (c *Client) sign(chunk types.Chunk) ([]byte, error) {
	digest := chunkSigningDigest(chunk)
	sig := ecdsa.Sign(c.identity.MessagePrivateKey, digest)
	return sig.Serialize(), nil
}

func chunkSigningDigest(chunk types.Chunk) []byte {
	// A minimal, deterministic digest over the fields the node also
	// verifies: slot id, version and payload. The exact byte framing
	// of the message itself is out of scope; what
	// matters here is that the slot store can verify the signer
	// identity against slot_id+version+payload.
	buf := make([]byte, 0, 8+len(chunk.Payload))
	buf = appendUint32(buf, chunk.SlotID)
	buf = appendUint32(buf, chunk.Version)
	buf = append(buf, chunk.Payload...)
	return sha256Sum(buf)
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (c *Client) chunkURL(sess session) string {
	return fmt.Sprintf("%s/v2/stackerdb/%s/%s/chunks", c.baseURL, sess.contractAddr, sess.contractName)
}

func retryPut(ctx context.Context, hc *http.Client, url string, chunk types.Chunk, out *ChunkAck) error {
	type wireChunk struct {
		SlotID    uint32 `json:"slot_id"`
		Version   uint32 `json:"slot_version"`
		Data      []byte `json:"data"`
		Signature []byte `json:"sig"`
	}
	body, err := json.Marshal(wireChunk{SlotID: chunk.SlotID, Version: chunk.Version, Data: chunk.Payload, Signature: chunk.Signature})
	if err != nil {
		return err
	}
	return doRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &signererr.RequestFailure{Status: resp.StatusCode, Path: url}
		}
		return json.Unmarshal(data, out)
	})
}

// GetChunks fetches the latest chunks at slotIDs in one batched call
// and decodes each into a SignerMessage, keeping only Transactions
// variants. Corrupt or wrong-variant chunks are logged and skipped.
func (c *Client) GetChunks(ctx context.Context, cycle types.RewardCycle, slotIDs []uint32) ([][]byte, error) {
	sess, ok := c.sessionFor(cycle, types.Transactions)
	if !ok {
		return nil, fmt.Errorf("no transactions session open for cycle %d", cycle)
	}
	chunks, err := c.getLatestChunks(ctx, sess, slotIDs)
	if err != nil {
		return nil, err
	}

	var transactions [][]byte
	for i, raw := range chunks {
		if len(raw) == 0 {
			continue
		}
		msg, err := DecodeSignerMessage(raw)
		if err != nil {
			c.log.Warn("failed to decode chunk as signer message, skipping", "slot", slotIDs[i], "err", err)
			continue
		}
		if msg.Kind != types.Transactions {
			c.log.Warn("signer wrote an unexpected message kind to the transactions slot, skipping", "slot", slotIDs[i], "kind", msg.Kind.String())
			continue
		}
		transactions = append(transactions, msg.Transactions...)
	}
	return transactions, nil
}

// FetchProtocolMessages reads the latest chunk at each signer's fixed
// slot for kind and decodes it as a threshold-protocol message. Empty,
// corrupt, or wrong-variant chunks are omitted from the result rather
// than failing the whole batch, since a slow or silent peer is routine.
func (c *Client) FetchProtocolMessages(ctx context.Context, cycle types.RewardCycle, kind types.SignerMessageKind, signerIDs []types.SignerId) (map[types.SignerId]types.SignerMessage, error) {
	sess, ok := c.sessionFor(cycle, kind)
	if !ok {
		return nil, fmt.Errorf("no stackerdb session open for cycle %d kind %s", cycle, kind)
	}
	slotIDs := make([]uint32, len(signerIDs))
	for i, id := range signerIDs {
		slotIDs[i] = types.SlotIDFor(id, kind)
	}
	chunks, err := c.getLatestChunks(ctx, sess, slotIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[types.SignerId]types.SignerMessage, len(chunks))
	for i, raw := range chunks {
		if len(raw) == 0 {
			continue
		}
		msg, err := DecodeSignerMessage(raw)
		if err != nil {
			c.log.Warn("failed to decode protocol chunk, skipping", "signer", signerIDs[i], "err", err)
			continue
		}
		if msg.Kind != kind {
			c.log.Warn("signer wrote an unexpected message kind to its protocol slot, skipping", "signer", signerIDs[i], "want", kind.String(), "got", msg.Kind.String())
			continue
		}
		out[signerIDs[i]] = *msg
	}
	return out, nil
}

func (c *Client) getLatestChunks(ctx context.Context, sess session, slotIDs []uint32) ([][]byte, error) {
	url := fmt.Sprintf("%s/v2/stackerdb/%s/%s/chunks?", c.baseURL, sess.contractAddr, sess.contractName)
	var out [][]byte
	err := doRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+slotIDsQuery(slotIDs), nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &signererr.RequestFailure{Status: resp.StatusCode, Path: url}
		}
		var chunks [][]byte
		if err := json.Unmarshal(data, &chunks); err != nil {
			return &signererr.UnexpectedResponseFormat{Op: "get_chunks", Err: err}
		}
		out = chunks
		return nil
	})
	return out, err
}

func slotIDsQuery(slotIDs []uint32) string {
	parts := make([]string, len(slotIDs))
	for i, id := range slotIDs {
		parts[i] = fmt.Sprintf("slot_id=%d", id)
	}
	return strings.Join(parts, "&")
}

func doRetry(ctx context.Context, fn func() error) error {
	const deadline = 60 * time.Second
	return retryExp(ctx, deadline, fn)
}
