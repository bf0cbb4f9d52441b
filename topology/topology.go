// topology.go - mixnet topology representation
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

// Package provides the mixnet topology model
package topology

import (
	"encoding/base64"
	"errors"
	"net"
)

const (
	// NodeAddressLength is the length of a node identity key in bytes.
	NodeAddressLength = 32

	// NrLayers is the number of mix layers a route traverses before
	// reaching a provider.
	NrLayers = 3
)

// ErrInsufficientNodes is returned by AllPaths when a mix layer or the
// provider set is empty, making route construction impossible.
var ErrInsufficientNodes = errors.New("topology: insufficient nodes to construct any path")

// NodeAddressBytes is the raw identity key of a mix or provider node.
type NodeAddressBytes [NodeAddressLength]byte

// NodeAddressFromBase64 decodes a base64 URL-safe encoded node identity.
func NodeAddressFromBase64(s string) (NodeAddressBytes, error) {
	var a NodeAddressBytes
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(raw) != NodeAddressLength {
		return a, errors.New("topology: node address has invalid length")
	}
	copy(a[:], raw)
	return a, nil
}

// String returns the base64 URL-safe encoding of the node identity.
func (a NodeAddressBytes) String() string {
	return base64.URLEncoding.EncodeToString(a[:])
}

// CocoNode is a validator layer node. It is carried verbatim through
// topology conversions and is never probed or routed through.
type CocoNode struct {
	Host     string
	PubKey   string
	LastSeen uint64
	Version  string
}

// MixNode is an interior routing node assigned to exactly one layer.
// Host is the resolved address of its mixnet listener.
type MixNode struct {
	Host     *net.TCPAddr
	PubKey   string
	Layer    uint64
	LastSeen uint64
	Version  string
}

// PubKeyBytes returns the decoded identity key of the mix node.
func (m *MixNode) PubKeyBytes() (NodeAddressBytes, error) {
	return NodeAddressFromBase64(m.PubKey)
}

// MixProviderClient is a client registered with a provider, identified
// by its base64 URL-safe encoded public key.
type MixProviderClient struct {
	PubKey string
}

// MixProviderNode is a terminal store-and-forward node. ClientListener
// is where end clients retrieve messages, MixnetListener is where mix
// packets arrive.
type MixProviderNode struct {
	ClientListener    *net.TCPAddr
	MixnetListener    *net.TCPAddr
	PubKey            string
	RegisteredClients []MixProviderClient
	LastSeen          uint64
	Version           string
}

// PubKeyBytes returns the decoded identity key of the provider.
func (p *MixProviderNode) PubKeyBytes() (NodeAddressBytes, error) {
	return NodeAddressFromBase64(p.PubKey)
}

// NymTopology is the capability set shared by all topology snapshots.
// Accessors perform lazy host resolution and silently drop entries
// whose host cannot be resolved; the underlying wire records are left
// intact so a transient DNS outage does not permanently evict a node.
type NymTopology interface {
	// MixNodes returns the resolvable mix nodes of the snapshot.
	MixNodes() []MixNode

	// ProviderNodes returns the resolvable provider nodes of the snapshot.
	ProviderNodes() []MixProviderNode

	// CocoNodes returns the validator nodes of the snapshot.
	CocoNodes() []CocoNode

	// NewFromNodes constructs a fresh snapshot of the same concrete
	// type from already converted model nodes. Used to rebuild
	// filtered views while preserving layer assignments.
	NewFromNodes(mixes []MixNode, providers []MixProviderNode, cocos []CocoNode) NymTopology
}

// PathHop is a single hop of an onion route: the address of the hop's
// mixnet listener together with its identity key.
type PathHop struct {
	Address string
	PubKey  string
}

// AllPaths enumerates every route of shape (layer 1 mix, ..., layer
// NrLayers mix, provider) as a Cartesian product across layers. The
// enumeration is deterministic in the insertion order of the underlying
// sequences; two successive calls on the same topology yield identical
// paths. Returns ErrInsufficientNodes when any layer or the provider
// set is empty.
func AllPaths(t NymTopology) ([][]PathHop, error) {
	layers := make([][]MixNode, NrLayers)
	for _, mix := range t.MixNodes() {
		if mix.Layer < 1 || mix.Layer > NrLayers {
			continue
		}
		layers[mix.Layer-1] = append(layers[mix.Layer-1], mix)
	}
	providers := t.ProviderNodes()

	for _, layer := range layers {
		if len(layer) == 0 {
			return nil, ErrInsufficientNodes
		}
	}
	if len(providers) == 0 {
		return nil, ErrInsufficientNodes
	}

	paths := [][]PathHop{}
	prefix := make([]PathHop, 0, NrLayers+1)
	var expand func(layer int)
	expand = func(layer int) {
		if layer == NrLayers {
			for _, provider := range providers {
				path := make([]PathHop, NrLayers+1)
				copy(path, prefix)
				path[NrLayers] = PathHop{
					Address: provider.MixnetListener.String(),
					PubKey:  provider.PubKey,
				}
				paths = append(paths, path)
			}
			return
		}
		for _, mix := range layers[layer] {
			prefix = append(prefix, PathHop{
				Address: mix.Host.String(),
				PubKey:  mix.PubKey,
			})
			expand(layer + 1)
			prefix = prefix[:len(prefix)-1]
		}
	}
	expand(0)
	return paths, nil
}
