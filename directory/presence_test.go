// presence_test.go - presence conversion tests
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

package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixPresenceResolvableHost(t *testing.T) {
	require := require.New(t)

	presence := MixNodePresence{
		Host:     "localhost:1234",
		PubKey:   "",
		Layer:    1,
		LastSeen: 0,
		Version:  "",
	}
	node, err := presence.ToMixNode()
	require.NoError(err)
	require.NotNil(node.Host.IP)
	require.Equal(1234, node.Host.Port)
}

func TestMixPresenceUnresolvableHost(t *testing.T) {
	require := require.New(t)

	presence := MixNodePresence{
		Host:     "foomp.foomp.foomp:1234",
		PubKey:   "",
		Layer:    0,
		LastSeen: 0,
		Version:  "",
	}
	_, err := presence.ToMixNode()
	require.Error(err)
}

func TestTopologyAccessorDropsUnresolvable(t *testing.T) {
	require := require.New(t)

	topo := Topology{
		MixPresences: []MixNodePresence{
			{Host: "localhost:1789", Layer: 1, Version: "0.3.0"},
			{Host: "foomp.foomp.foomp:1234", Layer: 2, Version: "0.3.0"},
		},
	}
	nodes := topo.MixNodes()
	require.Len(nodes, 1)
	require.Equal(uint64(1), nodes[0].Layer)

	// the wire record is left intact
	require.Len(topo.MixPresences, 2)
}

func TestPresenceRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	presence := MixNodePresence{
		Host:     "127.0.0.1:1789",
		PubKey:   "key",
		Layer:    2,
		LastSeen: 1234567,
		Version:  "0.3.0",
	}
	node, err := presence.ToMixNode()
	require.NoError(err)
	back := MixPresenceFromNode(node)
	assert.Equal(presence, back)

	providerPresence := MixProviderPresence{
		ClientListener: "127.0.0.1:9000",
		MixnetListener: "127.0.0.1:1789",
		PubKey:         "provider-key",
		RegisteredClients: []RegisteredClient{
			{PubKey: "client-key"},
		},
		LastSeen: 7654321,
		Version:  "0.3.0",
	}
	providerNode, err := providerPresence.ToProviderNode()
	require.NoError(err)
	assert.Equal(providerPresence, ProviderPresenceFromNode(providerNode))

	cocoPresence := CocoPresence{
		Host:     "validator.nymtech.net:8081",
		PubKey:   "coco-key",
		LastSeen: 42,
		Version:  "0.3.0",
	}
	assert.Equal(cocoPresence, CocoPresenceFromNode(cocoPresence.ToCocoNode()))
}

func TestNewFromNodesPreservesLayers(t *testing.T) {
	require := require.New(t)

	topo := Topology{
		CocoPresences: []CocoPresence{
			{Host: "validator.nymtech.net:8081", Version: "0.3.0"},
		},
		MixPresences: []MixNodePresence{
			{Host: "127.0.0.1:1789", Layer: 1, Version: "0.3.0"},
			{Host: "127.0.0.1:1790", Layer: 2, Version: "0.3.0"},
			{Host: "127.0.0.1:1791", Layer: 3, Version: "0.3.0"},
		},
		ProviderPresences: []MixProviderPresence{
			{ClientListener: "127.0.0.1:9000", MixnetListener: "127.0.0.1:1792", Version: "0.3.0"},
		},
	}

	rebuilt := topo.NewFromNodes(topo.MixNodes(), topo.ProviderNodes(), topo.CocoNodes())
	fresh, ok := rebuilt.(*Topology)
	require.True(ok)
	require.Len(fresh.MixPresences, 3)
	for i, presence := range fresh.MixPresences {
		require.Equal(uint64(i+1), presence.Layer)
	}
	require.Len(fresh.ProviderPresences, 1)
	require.Len(fresh.CocoPresences, 1)
}
