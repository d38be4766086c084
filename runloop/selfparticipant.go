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

package runloop

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stacks-network/stacks-signer/coordinator"
)

// selfParticipatingLibrary makes the coordinator also count as one of
// the ceremony's own participants: every message the coordinator's
// library wants to send is first handed to its own signer-role
// instance, and whatever that instance answers is fed straight back
// into the coordinator without a slot-store round trip. Network peers
// still see the coordinator's outbound messages normally through the
// values this type returns.
type selfParticipatingLibrary struct {
	main coordinator.Library
	self coordinator.Library

	pending *coordinator.Result
}

func newSelfParticipatingLibrary(main, self coordinator.Library) coordinator.Library {
	return &selfParticipatingLibrary{main: main, self: self}
}

func (s *selfParticipatingLibrary) StartDkg(publicKeys []*btcec.PublicKey, threshold uint32) ([]coordinator.OutboundMessage, error) {
	out, err := s.main.StartDkg(publicKeys, threshold)
	if err != nil {
		return nil, err
	}
	all, res, err := s.drain(out)
	if err != nil {
		return nil, err
	}
	s.pending = res
	return all, nil
}

func (s *selfParticipatingLibrary) StartSign(message []byte, taproot bool, merkleRoot []byte) ([]coordinator.OutboundMessage, error) {
	out, err := s.main.StartSign(message, taproot, merkleRoot)
	if err != nil {
		return nil, err
	}
	all, res, err := s.drain(out)
	if err != nil {
		return nil, err
	}
	s.pending = res
	return all, nil
}

func (s *selfParticipatingLibrary) Feed(msg coordinator.OutboundMessage) ([]coordinator.OutboundMessage, *coordinator.Result, error) {
	if s.pending != nil {
		res := s.pending
		s.pending = nil
		return nil, res, nil
	}
	out, res, err := s.main.Feed(msg)
	if err != nil || res != nil {
		return out, res, err
	}
	return s.drain(out)
}

func (s *selfParticipatingLibrary) Tick(now time.Time) ([]coordinator.OutboundMessage, *coordinator.Result) {
	return s.main.Tick(now)
}

// drain routes every message the coordinator wants to send through its
// own signer instance, folding whatever that instance answers back
// into the coordinator, until neither side has anything new to say.
// Bounded iteration count: the ceremony has a fixed number of request
// kinds, so this always terminates well before the bound is reached.
func (s *selfParticipatingLibrary) drain(out []coordinator.OutboundMessage) ([]coordinator.OutboundMessage, *coordinator.Result, error) {
	all := append([]coordinator.OutboundMessage{}, out...)
	queue := append([]coordinator.OutboundMessage{}, out...)
	for i := 0; i < 8 && len(queue) > 0; i++ {
		msg := queue[0]
		queue = queue[1:]
		selfOut, _, err := s.self.Feed(msg)
		if err != nil {
			return nil, nil, err
		}
		for _, sm := range selfOut {
			out2, res, err := s.main.Feed(sm)
			if err != nil {
				return nil, nil, err
			}
			all = append(all, out2...)
			if res != nil {
				return all, res, nil
			}
			queue = append(queue, out2...)
		}
	}
	return all, nil, nil
}
