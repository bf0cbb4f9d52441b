// presence.go - directory presence wire types and conversions
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

// Package provides a client for the mixnet directory service
package directory

import (
	"errors"
	"net"

	"github.com/op/go-logging"

	"github.com/sahith-narahari/nym/topology"
)

var log = logging.MustGetLogger("nym")

// ErrHostUnresolvable is returned when a presence record's host string
// does not resolve to any socket address.
var ErrHostUnresolvable = errors.New("directory: no valid socket address for host")

// CocoPresence is the wire form of a validator node registration.
type CocoPresence struct {
	Host     string `json:"host"`
	PubKey   string `json:"pubKey"`
	LastSeen uint64 `json:"lastSeen"`
	Version  string `json:"version"`
}

// ToCocoNode converts the wire record into its model form. The host is
// carried verbatim, so the conversion cannot fail.
func (c *CocoPresence) ToCocoNode() topology.CocoNode {
	return topology.CocoNode{
		Host:     c.Host,
		PubKey:   c.PubKey,
		LastSeen: c.LastSeen,
		Version:  c.Version,
	}
}

// CocoPresenceFromNode converts a model validator node back into its
// wire form.
func CocoPresenceFromNode(n topology.CocoNode) CocoPresence {
	return CocoPresence{
		Host:     n.Host,
		PubKey:   n.PubKey,
		LastSeen: n.LastSeen,
		Version:  n.Version,
	}
}

// MixNodePresence is the wire form of a mix node registration. Host is
// an unresolved "dns-or-ip:port" string; resolution happens only when
// converting to the model.
type MixNodePresence struct {
	Host     string `json:"host"`
	PubKey   string `json:"pubKey"`
	Layer    uint64 `json:"layer"`
	LastSeen uint64 `json:"lastSeen"`
	Version  string `json:"version"`
}

// ToMixNode resolves the presence host and converts the record into its
// model form. Fails with ErrHostUnresolvable when name resolution
// yields no address.
func (m *MixNodePresence) ToMixNode() (topology.MixNode, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.Host)
	if err != nil {
		return topology.MixNode{}, ErrHostUnresolvable
	}
	if addr.IP == nil {
		return topology.MixNode{}, ErrHostUnresolvable
	}
	return topology.MixNode{
		Host:     addr,
		PubKey:   m.PubKey,
		Layer:    m.Layer,
		LastSeen: m.LastSeen,
		Version:  m.Version,
	}, nil
}

// MixPresenceFromNode converts a model mix node back into its wire
// form. The resolved host is rendered in "ip:port" form.
func MixPresenceFromNode(n topology.MixNode) MixNodePresence {
	return MixNodePresence{
		Host:     n.Host.String(),
		PubKey:   n.PubKey,
		Layer:    n.Layer,
		LastSeen: n.LastSeen,
		Version:  n.Version,
	}
}

// RegisteredClient is a client entry within a provider presence.
type RegisteredClient struct {
	PubKey string `json:"pubKey"`
}

// MixProviderPresence is the wire form of a provider registration,
// including its current client roster.
type MixProviderPresence struct {
	ClientListener    string             `json:"clientListener"`
	MixnetListener    string             `json:"mixnetListener"`
	PubKey            string             `json:"pubKey"`
	RegisteredClients []RegisteredClient `json:"registeredClients"`
	LastSeen          uint64             `json:"lastSeen"`
	Version           string             `json:"version"`
}

// ToProviderNode resolves both listener addresses and converts the
// record into its model form.
func (p *MixProviderPresence) ToProviderNode() (topology.MixProviderNode, error) {
	clientAddr, err := net.ResolveTCPAddr("tcp", p.ClientListener)
	if err != nil {
		return topology.MixProviderNode{}, ErrHostUnresolvable
	}
	mixnetAddr, err := net.ResolveTCPAddr("tcp", p.MixnetListener)
	if err != nil {
		return topology.MixProviderNode{}, ErrHostUnresolvable
	}
	if clientAddr.IP == nil || mixnetAddr.IP == nil {
		return topology.MixProviderNode{}, ErrHostUnresolvable
	}
	clients := make([]topology.MixProviderClient, 0, len(p.RegisteredClients))
	for _, c := range p.RegisteredClients {
		clients = append(clients, topology.MixProviderClient{PubKey: c.PubKey})
	}
	return topology.MixProviderNode{
		ClientListener:    clientAddr,
		MixnetListener:    mixnetAddr,
		PubKey:            p.PubKey,
		RegisteredClients: clients,
		LastSeen:          p.LastSeen,
		Version:           p.Version,
	}, nil
}

// ProviderPresenceFromNode converts a model provider node back into its
// wire form.
func ProviderPresenceFromNode(n topology.MixProviderNode) MixProviderPresence {
	clients := make([]RegisteredClient, 0, len(n.RegisteredClients))
	for _, c := range n.RegisteredClients {
		clients = append(clients, RegisteredClient{PubKey: c.PubKey})
	}
	return MixProviderPresence{
		ClientListener:    n.ClientListener.String(),
		MixnetListener:    n.MixnetListener.String(),
		PubKey:            n.PubKey,
		RegisteredClients: clients,
		LastSeen:          n.LastSeen,
		Version:           n.Version,
	}
}

// Topology is the directory's snapshot of the overlay membership. It
// retains the unresolved wire records so the directory round-trips
// untouched; resolution happens in the accessors.
type Topology struct {
	CocoPresences     []CocoPresence        `json:"cocoNodes"`
	MixPresences      []MixNodePresence     `json:"mixNodes"`
	ProviderPresences []MixProviderPresence `json:"mixProviderNodes"`
}

// MixNodes resolves and returns the snapshot's mix nodes. Unresolvable
// entries are dropped from the output; the wire records stay intact.
func (t *Topology) MixNodes() []topology.MixNode {
	nodes := []topology.MixNode{}
	for i := range t.MixPresences {
		presence := &t.MixPresences[i]
		node, err := presence.ToMixNode()
		if err != nil {
			log.Debugf("dropping unresolvable mix node %s: %v", presence.Host, err)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// ProviderNodes resolves and returns the snapshot's provider nodes.
func (t *Topology) ProviderNodes() []topology.MixProviderNode {
	nodes := []topology.MixProviderNode{}
	for i := range t.ProviderPresences {
		presence := &t.ProviderPresences[i]
		node, err := presence.ToProviderNode()
		if err != nil {
			log.Debugf("dropping unresolvable provider node %s: %v", presence.MixnetListener, err)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// CocoNodes returns the snapshot's validator nodes.
func (t *Topology) CocoNodes() []topology.CocoNode {
	nodes := make([]topology.CocoNode, 0, len(t.CocoPresences))
	for i := range t.CocoPresences {
		nodes = append(nodes, t.CocoPresences[i].ToCocoNode())
	}
	return nodes
}

// NewFromNodes rebuilds a wire snapshot from model nodes, preserving
// layer assignments.
func (t *Topology) NewFromNodes(mixes []topology.MixNode, providers []topology.MixProviderNode, cocos []topology.CocoNode) topology.NymTopology {
	fresh := &Topology{
		CocoPresences:     make([]CocoPresence, 0, len(cocos)),
		MixPresences:      make([]MixNodePresence, 0, len(mixes)),
		ProviderPresences: make([]MixProviderPresence, 0, len(providers)),
	}
	for _, n := range cocos {
		fresh.CocoPresences = append(fresh.CocoPresences, CocoPresenceFromNode(n))
	}
	for _, n := range mixes {
		fresh.MixPresences = append(fresh.MixPresences, MixPresenceFromNode(n))
	}
	for _, n := range providers {
		fresh.ProviderPresences = append(fresh.ProviderPresences, ProviderPresenceFromNode(n))
	}
	return fresh
}
