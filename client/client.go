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

// Package client implements the node RPC client: a stateless
// request/response surface over the blockchain node's HTTP API, with
// exponential backoff on every call.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	stacksconfig "github.com/stacks-network/stacks-signer/config"
	"github.com/stacks-network/stacks-signer/signererr"
	"github.com/stacks-network/stacks-signer/types"
)

// Client talks to a single blockchain node over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	identity   stacksconfig.Identity
	deadline   time.Duration
}

// New builds a Client against nodeHost (e.g. "127.0.0.1:20443"),
// signing outgoing requests that need it with identity.
func New(nodeHost string, identity stacksconfig.Identity) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "http://" + nodeHost,
		identity:   identity,
		deadline:   2 * time.Minute,
	}
}

// WithDeadline returns a copy of c with a different overall retry
// deadline, used by tests that want fast failure.
func (c *Client) WithDeadline(d time.Duration) *Client {
	cp := *c
	cp.deadline = d
	return &cp
}

func isStatusPermanent(err error) bool {
	rf, ok := err.(*signererr.RequestFailure)
	if !ok {
		return false
	}
	return rf.Status >= 400 && rf.Status < 500
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	return retryWithExponentialBackoff(ctx, path, c.deadline, isStatusPermanent, func() error {
		var reqBody io.Reader
		if body != nil {
			if seeker, ok := body.(*bytes.Reader); ok {
				_, _ = seeker.Seek(0, io.SeekStart)
			}
			reqBody = body
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
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
			return &signererr.RequestFailure{Status: resp.StatusCode, Path: path}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &signererr.UnexpectedResponseFormat{Op: path, Err: err}
		}
		return nil
	})
}

// PeerInfo is the /v2/info response, truncated to the fields this
// signer needs.
type PeerInfo struct {
	BurnBlockHeight uint64 `json:"burn_block_height"`
	PoxConsensus    string `json:"pox_consensus"`
	StacksTipHeight uint64 `json:"stacks_tip_height"`
	StacksTip       string `json:"stacks_tip"`
}

// GetPeerInfo fetches /v2/info.
func (c *Client) GetPeerInfo(ctx context.Context) (*PeerInfo, error) {
	var info PeerInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v2/info", nil, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Epoch is the stacks epoch this signer is operating under.
type Epoch int

const (
	Epoch24 Epoch = iota
	Epoch25
	Epoch30
)

// PoxEpoch is one entry of the epochs array in /v2/pox.
type PoxEpoch struct {
	ID          int    `json:"epoch_id"`
	StartHeight uint64 `json:"start_height"`
}

// PoxData is the /v2/pox response, truncated to what this signer
// needs.
type PoxData struct {
	Epochs                       []PoxEpoch `json:"epochs"`
	RewardPhaseBlockLength       uint64     `json:"reward_phase_block_length"`
	PreparePhaseBlockLength      uint64     `json:"prepare_phase_block_length"`
	CurrentBurnchainBlockHeight  uint64     `json:"current_burnchain_block_height"`
	FirstBurnchainBlockHeight    uint64     `json:"first_burnchain_block_height"`
}

// GetPoxData fetches /v2/pox.
func (c *Client) GetPoxData(ctx context.Context) (*PoxData, error) {
	var data PoxData
	if err := c.doJSON(ctx, http.MethodGet, "/v2/pox", nil, "", &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCurrentRewardCycle derives the reward cycle from pox data: integer
// division of blocks mined over cycle length.
func GetCurrentRewardCycle(pox *PoxData) types.RewardCycle {
	blocksMined := saturatingSub(pox.CurrentBurnchainBlockHeight, pox.FirstBurnchainBlockHeight)
	cycleLen := pox.RewardPhaseBlockLength + pox.PreparePhaseBlockLength
	if cycleLen == 0 {
		return 0
	}
	return types.RewardCycle(blocksMined / cycleLen)
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// GetNodeEpoch determines the current epoch by comparing the node's
// burn height against the 2.5 and 3.0 activation heights. Fails with
// UnsupportedStacksFeature if either is absent.
func (c *Client) GetNodeEpoch(ctx context.Context) (Epoch, error) {
	pox, err := c.GetPoxData(ctx)
	if err != nil {
		return 0, err
	}
	info, err := c.GetPeerInfo(ctx)
	if err != nil {
		return 0, err
	}
	var epoch25, epoch30 *PoxEpoch
	for i := range pox.Epochs {
		switch pox.Epochs[i].ID {
		case 25:
			epoch25 = &pox.Epochs[i]
		case 30:
			epoch30 = &pox.Epochs[i]
		}
	}
	if epoch25 == nil || epoch30 == nil {
		return 0, &signererr.UnsupportedStacksFeature{Feature: "/v2/pox must report epochs 2.5 and 3.0"}
	}
	h := info.BurnBlockHeight
	switch {
	case h < epoch25.StartHeight:
		return Epoch24, nil
	case h < epoch30.StartHeight:
		return Epoch25, nil
	default:
		return Epoch30, nil
	}
}

// GetRewardSet fetches /v2/stacker_set/{cycle}.
func (c *Client) GetRewardSet(ctx context.Context, cycle types.RewardCycle) (*types.RewardSet, error) {
	type wireEntry struct {
		SigningKey string `json:"signing_key"`
		Weight     uint32 `json:"weight"`
	}
	type wireResp struct {
		Signers *[]wireEntry `json:"signers"`
	}
	var resp wireResp
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v2/stacker_set/%d", cycle), nil, "", &resp); err != nil {
		return nil, err
	}
	if resp.Signers == nil {
		return nil, &signererr.NoRewardSet{Cycle: uint64(cycle)}
	}
	rs := types.RewardSet{Cycle: cycle}
	for _, e := range *resp.Signers {
		keyBytes, err := hex.DecodeString(e.SigningKey)
		if err != nil {
			keyBytes = nil // left invalid on purpose; DecodeRewardSet will reject it
		}
		rs.Signers = append(rs.Signers, types.RewardSetEntry{SigningKeyBytes: keyBytes, Weight: e.Weight})
	}
	return &rs, nil
}

// AccountEntry is the /v2/accounts/{addr} response, truncated.
type AccountEntry struct {
	Nonce uint64 `json:"nonce"`
}

// GetAccountNonce fetches /v2/accounts/{addr}?proof=0.
func (c *Client) GetAccountNonce(ctx context.Context, address string) (uint64, error) {
	var entry AccountEntry
	path := fmt.Sprintf("/v2/accounts/%s?proof=0", address)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, "", &entry); err != nil {
		return 0, err
	}
	return entry.Nonce, nil
}

// readOnlyResponse is the node's {okay,result,cause} envelope.
type readOnlyResponse struct {
	Okay   bool    `json:"okay"`
	Result *string `json:"result,omitempty"`
	Cause  *string `json:"cause,omitempty"`
}

// ReadOnlyContractCall is the generic read-only call primitive every
// higher-level RPC wraps.
func (c *Client) ReadOnlyContractCall(ctx context.Context, contractAddr, contractName, functionName string, args []string) (*ClarityValue, error) {
	payload := map[string]any{
		"sender":    c.identity.Address,
		"arguments": args,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v2/contracts/call-read/%s/%s/%s", contractAddr, contractName, functionName)
	var resp readOnlyResponse
	if err := c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	if !resp.Okay {
		cause := "unknown"
		if resp.Cause != nil {
			cause = *resp.Cause
		}
		return nil, &signererr.ReadOnlyFailure{Function: functionName, Cause: cause}
	}
	result := ""
	if resp.Result != nil {
		result = *resp.Result
	}
	return DecodeClarityHex(result)
}

// GetApprovedAggregateKey calls get-approved-aggregate-key on the
// voting contract for cycle.
func (c *Client) GetApprovedAggregateKey(ctx context.Context, votingContractAddr, votingContractName string, cycle types.RewardCycle) (*btcec.PublicKey, error) {
	value, err := c.ReadOnlyContractCall(ctx, votingContractAddr, votingContractName, "get-approved-aggregate-key", []string{EncodeUIntHex(uint64(cycle))})
	if err != nil {
		return nil, err
	}
	inner, present := value.ExpectOptional()
	if !present {
		return nil, nil
	}
	if inner.Kind != ClarityBuff {
		return nil, &signererr.UnexpectedResponseFormat{Op: "get-approved-aggregate-key", Err: fmt.Errorf("expected buff, got kind %d", inner.Kind)}
	}
	pk, err := btcec.ParsePubKey(inner.Buff)
	if err != nil {
		return nil, &signererr.InvalidSigningKey{Err: err}
	}
	return pk, nil
}

// GetLastRound calls get-last-round on the voting contract.
func (c *Client) GetLastRound(ctx context.Context, votingContractAddr, votingContractName string, cycle types.RewardCycle) (*uint64, error) {
	value, err := c.ReadOnlyContractCall(ctx, votingContractAddr, votingContractName, "get-last-round", []string{EncodeUIntHex(uint64(cycle))})
	if err != nil {
		return nil, err
	}
	inner, present := value.ExpectOptional()
	if !present {
		return nil, nil
	}
	if inner.Kind != ClarityUInt {
		return nil, &signererr.UnexpectedResponseFormat{Op: "get-last-round", Err: fmt.Errorf("expected uint, got kind %d", inner.Kind)}
	}
	round := inner.UInt.Uint64()
	return &round, nil
}

// GetVoteForAggregatePublicKey calls
// get-vote-for-aggregate-public-key on the voting contract.
func (c *Client) GetVoteForAggregatePublicKey(ctx context.Context, votingContractAddr, votingContractName string, round uint64, cycle types.RewardCycle, signerAddr string) (*btcec.PublicKey, error) {
	principal, err := EncodePrincipalHex(signerAddr)
	if err != nil {
		return nil, err
	}
	value, err := c.ReadOnlyContractCall(ctx, votingContractAddr, votingContractName, "get-vote-for-aggregate-public-key", []string{
		EncodeUIntHex(uint64(cycle)),
		EncodeUIntHex(round),
		principal,
	})
	if err != nil {
		return nil, err
	}
	inner, present := value.ExpectOptional()
	if !present {
		return nil, nil
	}
	if inner.Kind != ClarityBuff {
		return nil, &signererr.UnexpectedResponseFormat{Op: "get-vote-for-aggregate-public-key", Err: fmt.Errorf("expected buff")}
	}
	return btcec.ParsePubKey(inner.Buff)
}

// SlotAssignment maps a registered address to how many stackerdb
// slots it was allotted.
type SlotAssignment struct {
	Address  string
	NumSlots uint32
}

// GetStackerDBSignerSlots calls stackerdb-get-signer-slots-page.
func (c *Client) GetStackerDBSignerSlots(ctx context.Context, contractAddr, contractName string, page uint32) ([]SlotAssignment, error) {
	value, err := c.ReadOnlyContractCall(ctx, contractAddr, contractName, "stackerdb-get-signer-slots-page", []string{EncodeUIntHex(uint64(page))})
	if err != nil {
		return nil, err
	}
	return parseSignerSlots(value)
}

// parseSignerSlots unwraps the (response (list (tuple (signer
// principal) (num-slots uint))) ...) shape stackerdb-get-signer-slots-page
// returns.
func parseSignerSlots(value *ClarityValue) ([]SlotAssignment, error) {
	if value.Kind == ClarityOk {
		value = value.Ok
	} else if value.Kind == ClarityErr {
		return nil, &signererr.UnexpectedResponseFormat{Op: "stackerdb-get-signer-slots-page", Err: fmt.Errorf("contract returned err")}
	}
	if value.Kind != ClarityList {
		return nil, &signererr.UnexpectedResponseFormat{Op: "stackerdb-get-signer-slots-page", Err: fmt.Errorf("expected list, got kind %d", value.Kind)}
	}
	out := make([]SlotAssignment, 0, len(value.List))
	for _, item := range value.List {
		if item.Kind != ClarityTuple {
			return nil, &signererr.UnexpectedResponseFormat{Op: "stackerdb-get-signer-slots-page", Err: fmt.Errorf("expected tuple, got kind %d", item.Kind)}
		}
		signer, ok := item.Tuple["signer"]
		if !ok || signer.Kind != ClarityPrincipalKind {
			return nil, &signererr.UnexpectedResponseFormat{Op: "stackerdb-get-signer-slots-page", Err: fmt.Errorf("missing signer principal")}
		}
		numSlots, ok := item.Tuple["num-slots"]
		if !ok || numSlots.Kind != ClarityUInt {
			return nil, &signererr.UnexpectedResponseFormat{Op: "stackerdb-get-signer-slots-page", Err: fmt.Errorf("missing num-slots")}
		}
		out = append(out, SlotAssignment{Address: signer.Principal.Address(), NumSlots: uint32(numSlots.UInt.Uint64())})
	}
	return out, nil
}

// SubmitTransaction posts raw transaction bytes to /v2/transactions
// and returns the txid the node assigns.
func (c *Client) SubmitTransaction(ctx context.Context, rawTx []byte) (string, error) {
	var txid string
	err := retryWithExponentialBackoff(ctx, "/v2/transactions", c.deadline, isStatusPermanent, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transactions", bytes.NewReader(rawTx))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
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
			return &signererr.RequestFailure{Status: resp.StatusCode, Path: "/v2/transactions"}
		}
		var quoted string
		if err := json.Unmarshal(data, &quoted); err == nil {
			txid = quoted
		} else {
			txid = string(bytes.Trim(data, "\""))
		}
		return nil
	})
	return txid, err
}

// SubmitBlockForValidation posts a block proposal. The node delivers
// the validation verdict asynchronously via the event receiver.
func (c *Client) SubmitBlockForValidation(ctx context.Context, blockProposalJSON []byte) error {
	return c.doJSON(ctx, http.MethodPost, "/v2/block_proposal", bytes.NewReader(blockProposalJSON), "application/json", nil)
}
