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

package event

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBindNextEventForwardsDecodedEvent(t *testing.T) {
	r := New(nil)
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	ch := make(chan Event, 1)
	r.AddConsumer(ch)

	done := make(chan error, 1)
	go func() { done <- r.MainLoop() }()

	body, _ := json.Marshal(Event{ContractID: "SP000.signers-1-0", ModifiedSlots: []ModifiedSlot{{SlotID: 2, SlotVersion: 3}}})
	resp, err := http.Post("http://"+addr+"/stackerdb_chunks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	select {
	case ev := <-ch:
		require.Equal(t, "SP000.signers-1-0", ev.ContractID)
		require.Len(t, ev.ModifiedSlots, 1)
		require.EqualValues(t, 2, ev.ModifiedSlots[0].SlotID)
	case <-time.After(2 * time.Second):
		t.Fatal("event never forwarded")
	}

	signaler, err := r.GetStopSignaler()
	require.NoError(t, err)
	require.NoError(t, signaler.Send())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("main loop did not stop")
	}
}

func TestUnknownPathAnswered200AndIgnored(t *testing.T) {
	r := New(nil)
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_, _ = r.NextEvent()
	}()

	resp, err := http.Get("http://" + addr + "/not-a-real-path")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	signaler, _ := r.GetStopSignaler()
	_ = signaler.Send()
}

// After the stop signaler fires, the main loop must return promptly
// without processing additional events.
func TestStopSignalerUnblocksMainLoopPromptly(t *testing.T) {
	r := New(nil)
	_, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.MainLoop() }()

	// Give the accept loop a moment to actually be blocked in Accept.
	time.Sleep(20 * time.Millisecond)

	signaler, err := r.GetStopSignaler()
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, signaler.Send())

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("main loop did not stop promptly")
	}
}

func TestGetStopSignalerBeforeBindFails(t *testing.T) {
	r := New(nil)
	_, err := r.GetStopSignaler()
	require.Error(t, err)
}
