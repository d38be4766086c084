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

package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// healthServer is a tiny, separate HTTP server for liveness checks and
// coordinator-state introspection. It is kept apart from the event
// receiver's single-accept-at-a-time listener, which cannot serve
// arbitrary concurrent GETs without breaking its cooperative stop
// protocol.
type healthServer struct {
	signer *Signer
	srv    *http.Server
}

func newHealthServer(s *Signer) *healthServer {
	router := httprouter.New()
	hs := &healthServer{signer: s}
	router.GET("/healthz", hs.handleHealthz)
	router.GET("/status", hs.handleStatus)
	router.POST("/command", hs.handleCommand)
	hs.srv = &http.Server{Addr: s.cfg.HealthBindAddr, Handler: router}
	return hs
}

func (h *healthServer) handleHealthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Cycle         uint64 `json:"cycle"`
	State         string `json:"state"`
	IsCoordinator bool   `json:"is_coordinator"`
}

func (h *healthServer) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	rl := h.signer.runLoop
	resp := statusResponse{
		Cycle:         uint64(rl.Cycle()),
		State:         rl.State().String(),
		IsCoordinator: rl.IsCoordinator(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// commandRequest is the body an operator posts to /command to drive a
// Sign or Dkg ceremony directly, outside of this process's own
// coordinator-election logic.
type commandRequest struct {
	Kind       string `json:"kind"` // "sign" or "dkg"
	Message    string `json:"message,omitempty"`
	IsTaproot  bool   `json:"is_taproot,omitempty"`
	MerkleRoot string `json:"merkle_root,omitempty"`
}

type commandResponse struct {
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *healthServer) handleCommand(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(commandResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch req.Kind {
	case "dkg":
		if err := h.signer.SubmitDkg(r.Context()); err != nil {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(commandResponse{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(commandResponse{})
	case "sign":
		message, err := hex.DecodeString(req.Message)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(commandResponse{Error: "invalid hex message: " + err.Error()})
			return
		}
		var merkleRoot []byte
		if req.MerkleRoot != "" {
			merkleRoot, err = hex.DecodeString(req.MerkleRoot)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(commandResponse{Error: "invalid hex merkle root: " + err.Error()})
				return
			}
		}
		sig, err := h.signer.SubmitSign(r.Context(), message, req.IsTaproot, merkleRoot)
		if err != nil {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(commandResponse{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(commandResponse{Signature: hex.EncodeToString(sig)})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(commandResponse{Error: "unknown command kind: " + req.Kind})
	}
}

// run starts the status server and blocks until ctx is cancelled or
// the server fails for a reason other than a clean shutdown.
func (h *healthServer) run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = h.srv.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
