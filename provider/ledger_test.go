// ledger_test.go - client ledger tests
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

package provider

import (
	"encoding/base64"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sahith-narahari/nym/provider/requests"
	"github.com/sahith-narahari/nym/sphinx"
)

func testToken(b byte) requests.AuthToken {
	var token requests.AuthToken
	for i := range token {
		token[i] = b
	}
	return token
}

func testDestination(b byte) sphinx.DestinationAddressBytes {
	var destination sphinx.DestinationAddressBytes
	for i := range destination {
		destination[i] = b
	}
	return destination
}

func TestLedgerCurrentClients(t *testing.T) {
	require := require.New(t)

	ledger := NewClientLedger()
	require.Empty(ledger.CurrentClients())

	for i := byte(1); i <= 3; i++ {
		ledger.InsertToken(testToken(i), testDestination(i))
	}

	clients := ledger.CurrentClients()
	require.Len(clients, 3)
	seen := make(map[string]bool)
	for _, client := range clients {
		raw, err := base64.URLEncoding.DecodeString(client.PubKey)
		require.NoError(err)
		require.Len(raw, sphinx.DestinationLength)
		seen[client.PubKey] = true
	}
	require.Len(seen, 3)
}

func TestLedgerHasToken(t *testing.T) {
	require := require.New(t)

	ledger := NewClientLedger()
	require.False(ledger.HasToken(testToken(9)))

	ledger.InsertToken(testToken(9), testDestination(9))
	require.True(ledger.HasToken(testToken(9)))

	destination, ok := ledger.GetDestination(testToken(9))
	require.True(ok)
	require.Equal(testDestination(9), destination)
}

func TestLedgerSaveLoadRoundTrip(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "nymLedgerTest")
	require.NoError(err, "TempDir failed")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "ledger.db")

	ledger := NewClientLedger()
	ledger.InsertToken(testToken(1), testDestination(1))
	ledger.InsertToken(testToken(2), testDestination(2))
	require.NoError(ledger.Save(path))

	restored, err := LoadClientLedger(path)
	require.NoError(err)
	require.True(restored.HasToken(testToken(1)))
	require.True(restored.HasToken(testToken(2)))
	require.Len(restored.CurrentClients(), 2)
}

func TestDeriveAuthTokenDeterministic(t *testing.T) {
	require := require.New(t)

	secretKey, err := sphinx.GenerateKeyPair()
	require.NoError(err)
	p := &ServiceProvider{secretKey: secretKey}

	clientKey, err := sphinx.GenerateKeyPair()
	require.NoError(err)

	first := p.deriveAuthToken(clientKey.PublicKey())
	second := p.deriveAuthToken(clientKey.PublicKey())
	require.Equal(first, second)

	otherKey, err := sphinx.GenerateKeyPair()
	require.NoError(err)
	require.NotEqual(first, p.deriveAuthToken(otherKey.PublicKey()))
}
