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

// Package signererr defines the typed error values shared by every
// package in this module. Peer and node misbehavior is represented as
// values, never as panics: only a handful of local, unrecoverable
// conditions (bad own config, failure to bind the event socket) are
// meant to terminate the process, and those are ordinary errors
// returned up to cmd/signer/main.go rather than panics either.
package signererr

import "fmt"

// RequestFailure is returned when a node RPC or slot-store call
// completed but returned a non-2xx status.
type RequestFailure struct {
	Status int
	Path   string
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.Path, e.Status)
}

// RetryTimeout is returned when exponential backoff exhausted its
// overall deadline without a successful response.
type RetryTimeout struct {
	Op  string
	Err error
}

func (e *RetryTimeout) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: retry timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: retry timeout", e.Op)
}

func (e *RetryTimeout) Unwrap() error { return e.Err }

// ReadOnlyFailure wraps the "cause" string the node returns for a
// read-only contract call with okay=false.
type ReadOnlyFailure struct {
	Function string
	Cause    string
}

func (e *ReadOnlyFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Cause)
}

// UnexpectedResponseFormat is returned when a response body cannot be
// decoded into the shape the caller expected.
type UnexpectedResponseFormat struct {
	Op  string
	Err error
}

func (e *UnexpectedResponseFormat) Error() string {
	return fmt.Sprintf("%s: unexpected response format: %v", e.Op, e.Err)
}

func (e *UnexpectedResponseFormat) Unwrap() error { return e.Err }

// PutChunkRejected is returned when the slot store rejects a write for
// a reason other than a version conflict (those are reconciled
// internally and never reach the caller).
type PutChunkRejected struct {
	Reason string
}

func (e *PutChunkRejected) Error() string {
	return fmt.Sprintf("put chunk rejected: %s", e.Reason)
}

// NotConnected is surfaced when slot-version reconciliation fails to
// converge after the configured number of attempts.
type NotConnected struct {
	SlotID uint32
	Tries  int
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("slot %d: not connected after %d version reconciliation attempts", e.SlotID, e.Tries)
}

// NotBound is returned by the event receiver when an operation that
// requires a listening socket is attempted before bind().
type NotBound struct{}

func (e *NotBound) Error() string { return "event receiver is not bound" }

// UnrecognizedEvent is returned by the event receiver for any request
// whose method/path doesn't match the known contract. The caller
// treats it as a non-error continue.
type UnrecognizedEvent struct {
	Method string
	Path   string
}

func (e *UnrecognizedEvent) Error() string {
	return fmt.Sprintf("unrecognized event: %s %s", e.Method, e.Path)
}

// Terminated is returned by the event receiver once the cooperative
// stop flag has been observed.
type Terminated struct{}

func (e *Terminated) Error() string { return "event receiver terminated" }

// NotRegistered means this signer's address is absent from the
// cycle's reward set; slot-store registration is not consulted.
type NotRegistered struct {
	Address string
	Cycle   uint64
}

func (e *NotRegistered) Error() string {
	return fmt.Sprintf("signer %s is not registered for reward cycle %d", e.Address, e.Cycle)
}

// RewardSetNotYetCalculated means the node has no reward set published
// for the cycle yet.
type RewardSetNotYetCalculated struct {
	Cycle uint64
}

func (e *RewardSetNotYetCalculated) Error() string {
	return fmt.Sprintf("reward set for cycle %d not yet calculated", e.Cycle)
}

// NoRewardSet means the node answered but published no set at all.
type NoRewardSet struct {
	Cycle uint64
}

func (e *NoRewardSet) Error() string {
	return fmt.Sprintf("no reward set for cycle %d", e.Cycle)
}

// CorruptedRewardSet is returned when any entry in a reward set fails
// to decode as a valid signing key. The whole set is rejected; no
// partial state is retained.
type CorruptedRewardSet struct {
	Index int
	Err   error
}

func (e *CorruptedRewardSet) Error() string {
	return fmt.Sprintf("corrupted reward set at index %d: %v", e.Index, e.Err)
}

func (e *CorruptedRewardSet) Unwrap() error { return e.Err }

// InvalidSigningKey is a narrower variant used by callers that already
// know the offending index is irrelevant.
type InvalidSigningKey struct {
	Err error
}

func (e *InvalidSigningKey) Error() string { return fmt.Sprintf("invalid signing key: %v", e.Err) }
func (e *InvalidSigningKey) Unwrap() error { return e.Err }

// UnsupportedStacksFeature is returned when the node's pox info is
// missing an epoch activation height this signer requires.
type UnsupportedStacksFeature struct {
	Feature string
}

func (e *UnsupportedStacksFeature) Error() string {
	return fmt.Sprintf("unsupported stacks feature: %s", e.Feature)
}

// InvalidConfig, ParseError, BadField, UnsupportedAddressVersion are
// fatal at startup.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string { return fmt.Sprintf("invalid config: %s", e.Reason) }

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("config parse error: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

type BadField struct {
	Name  string
	Value string
}

func (e *BadField) Error() string {
	return fmt.Sprintf("bad config field %q: %q", e.Name, e.Value)
}

type UnsupportedAddressVersion struct {
	Version byte
}

func (e *UnsupportedAddressVersion) Error() string {
	return fmt.Sprintf("unsupported address version %d", e.Version)
}

// DkgError and SignError are emitted by the threshold protocol adapter
// when its underlying library reports ceremony failure, including
// timeout.
type DkgError struct {
	Reason string
}

func (e *DkgError) Error() string { return fmt.Sprintf("dkg error: %s", e.Reason) }

type SignError struct {
	Reason string
}

func (e *SignError) Error() string { return fmt.Sprintf("sign error: %s", e.Reason) }
