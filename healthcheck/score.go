// score.go - per-node health score
// Copyright (C) 2019  David Anthony Stainton
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package provides an active prober for mixnet route health
package healthcheck

import (
	"fmt"

	"github.com/sahith-narahari/nym/topology"
)

// NodeScore tracks how many test packets were sent through a node and
// how many of those probes were observed delivered within one health
// check run.
type NodeScore struct {
	pubKey   topology.NodeAddressBytes
	label    string
	sent     uint32
	received uint32
}

// NewMixNodeScore creates a zero score entry for a mix node.
func NewMixNodeScore(node topology.MixNode) (NodeScore, error) {
	key, err := node.PubKeyBytes()
	if err != nil {
		return NodeScore{}, err
	}
	return NodeScore{
		pubKey: key,
		label:  fmt.Sprintf("mix layer %d %s", node.Layer, node.Host),
	}, nil
}

// NewProviderScore creates a zero score entry for a provider node.
func NewProviderScore(node topology.MixProviderNode) (NodeScore, error) {
	key, err := node.PubKeyBytes()
	if err != nil {
		return NodeScore{}, err
	}
	return NodeScore{
		pubKey: key,
		label:  fmt.Sprintf("provider %s", node.MixnetListener),
	}, nil
}

// PubKey returns the node identity the score belongs to.
func (s *NodeScore) PubKey() topology.NodeAddressBytes {
	return s.pubKey
}

// Sent returns the number of test packets routed through the node.
func (s *NodeScore) Sent() uint32 {
	return s.sent
}

// Received returns the number of probes through the node which were
// observed delivered.
func (s *NodeScore) Received() uint32 {
	return s.received
}

// IncreaseSentCount records one more probe routed through the node.
func (s *NodeScore) IncreaseSentCount() {
	s.sent++
}

// IncreaseReceivedCount records one more observed delivery.
func (s *NodeScore) IncreaseReceivedCount() {
	s.received++
}

// Score derives the node's health as received/sent, or zero when
// nothing was sent.
func (s *NodeScore) Score() float64 {
	if s.sent == 0 {
		return 0
	}
	return float64(s.received) / float64(s.sent)
}

// String renders a single report line.
func (s *NodeScore) String() string {
	return fmt.Sprintf("%s (%s): %d/%d (%.2f%%)", s.pubKey, s.label, s.received, s.sent, s.Score()*100)
}
