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

package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/stacks-network/stacks-signer/signererr"
)

// Exponential backoff parameters: initial interval 128ms, max interval
// 16384ms, bounded by an overall deadline.
const (
	backoffInitial = 128 * time.Millisecond
	backoffMax     = 16384 * time.Millisecond
)

// isPermanent classifies an error as one the caller should not retry:
// no operation retries on a 4xx.
type isPermanent func(error) bool

// retryWithExponentialBackoff calls fn until it succeeds, returns a
// permanent error, or the deadline elapses.
func retryWithExponentialBackoff(ctx context.Context, op string, deadline time.Duration, permanent isPermanent, fn func() error) error {
	start := time.Now()
	interval := backoffInitial
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		if time.Since(start) >= deadline {
			return &signererr.RetryTimeout{Op: op, Err: err}
		}
		jittered := interval/2 + time.Duration(rand.Int63n(int64(interval/2+1)))
		select {
		case <-ctx.Done():
			return &signererr.RetryTimeout{Op: op, Err: ctx.Err()}
		case <-time.After(jittered):
		}
		interval *= 2
		if interval > backoffMax {
			interval = backoffMax
		}
	}
}
