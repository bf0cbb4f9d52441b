// sphinx_test.go - onion packet tests
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

package sphinx

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRoute(t *testing.T, hops int) ([]Hop, []*PrivateKey) {
	route := make([]Hop, hops)
	keys := make([]*PrivateKey, hops)
	for i := 0; i < hops; i++ {
		key, err := GenerateKeyPair()
		require.NoError(t, err)
		keys[i] = key
		route[i] = Hop{
			Address: fmt.Sprintf("127.0.0.1:%d", 1789+i),
			PubKey:  key.PublicKey(),
		}
	}
	return route, keys
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	require := require.New(t)

	route, keys := testRoute(t, 4)
	var destination DestinationAddressBytes
	copy(destination[:], bytes.Repeat([]byte{7}, DestinationLength))
	payload := []byte("very secret test payload")

	packet, err := Wrap(route, destination, payload)
	require.NoError(err)
	require.Len(packet, PacketSize)

	for i := 0; i < 3; i++ {
		processed, err := Unwrap(packet, keys[i])
		require.NoError(err)
		require.Equal(FlagRelay, processed.Flag)
		require.Equal(route[i+1].Address, processed.NextHopAddress)
		require.Len(processed.NextPacket, PacketSize)
		packet = processed.NextPacket
	}

	processed, err := Unwrap(packet, keys[3])
	require.NoError(err)
	require.Equal(FlagFinal, processed.Flag)
	require.Equal(destination, processed.Destination)
	require.Equal(payload, processed.Payload)
}

func TestWrapSingleHop(t *testing.T) {
	require := require.New(t)

	route, keys := testRoute(t, 1)
	var destination DestinationAddressBytes
	destination[0] = 1

	packet, err := Wrap(route, destination, []byte{0xca, 0xfe})
	require.NoError(err)

	processed, err := Unwrap(packet, keys[0])
	require.NoError(err)
	require.Equal(FlagFinal, processed.Flag)
	require.Equal([]byte{0xca, 0xfe}, processed.Payload)
}

func TestUnwrapWrongKey(t *testing.T) {
	require := require.New(t)

	route, _ := testRoute(t, 2)
	other, err := GenerateKeyPair()
	require.NoError(err)

	packet, err := Wrap(route, DestinationAddressBytes{}, []byte("payload"))
	require.NoError(err)

	_, err = Unwrap(packet, other)
	require.Equal(ErrMalformedPacket, err)
}

func TestUnwrapTamperedPacket(t *testing.T) {
	require := require.New(t)

	route, keys := testRoute(t, 2)
	packet, err := Wrap(route, DestinationAddressBytes{}, []byte("payload"))
	require.NoError(err)

	packet[40] ^= 0xff
	_, err = Unwrap(packet, keys[0])
	require.Equal(ErrMalformedPacket, err)
}

func TestWrapBounds(t *testing.T) {
	require := require.New(t)

	_, err := Wrap(nil, DestinationAddressBytes{}, nil)
	require.Equal(ErrInvalidRoute, err)

	route, _ := testRoute(t, MaxRouteLength+1)
	_, err = Wrap(route, DestinationAddressBytes{}, nil)
	require.Equal(ErrInvalidRoute, err)

	route, _ = testRoute(t, 2)
	_, err = Wrap(route, DestinationAddressBytes{}, make([]byte, PayloadSize+1))
	require.Equal(ErrPayloadTooLarge, err)

	// the guaranteed maximum payload must fit across a full route
	route, _ = testRoute(t, MaxRouteLength)
	_, err = Wrap(route, DestinationAddressBytes{}, make([]byte, PayloadSize))
	require.NoError(err)
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	require := require.New(t)

	key, err := GenerateKeyPair()
	require.NoError(err)

	restored := new(PrivateKey)
	require.NoError(restored.FromBytes(key.Bytes()))
	require.Equal(key.PublicKey().Bytes(), restored.PublicKey().Bytes())
}
