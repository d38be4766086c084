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
	"context"
	"crypto/sha256"
	"math/rand"
	"time"

	"github.com/stacks-network/stacks-signer/signererr"
)

const (
	backoffInitial = 128 * time.Millisecond
	backoffMax     = 16384 * time.Millisecond
)

// retryExp is the same exponential-backoff shape as client.Client uses
// for node RPCs.
func retryExp(ctx context.Context, deadline time.Duration, fn func() error) error {
	start := time.Now()
	interval := backoffInitial
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if rf, ok := err.(*signererr.RequestFailure); ok && rf.Status >= 400 && rf.Status < 500 {
			return err
		}
		if time.Since(start) >= deadline {
			return &signererr.RetryTimeout{Op: "stackerdb", Err: err}
		}
		jittered := interval/2 + time.Duration(rand.Int63n(int64(interval/2+1)))
		select {
		case <-ctx.Done():
			return &signererr.RetryTimeout{Op: "stackerdb", Err: ctx.Err()}
		case <-time.After(jittered):
		}
		interval *= 2
		if interval > backoffMax {
			interval = backoffMax
		}
	}
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
