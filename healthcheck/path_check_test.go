// path_check_test.go - path checker tests
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

package healthcheck

import (
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sahith-narahari/nym/provider"
	"github.com/sahith-narahari/nym/provider/requests"
	"github.com/sahith-narahari/nym/sphinx"
	"github.com/sahith-narahari/nym/topology"
)

func TestPathKeyRoundTrip(t *testing.T) {
	require := require.New(t)

	path := []topology.PathHop{
		{Address: "127.0.0.1:1789", PubKey: testKey(1)},
		{Address: "127.0.0.1:1790", PubKey: testKey(2)},
		{Address: "127.0.0.1:1791", PubKey: testKey(3)},
		{Address: "127.0.0.1:1792", PubKey: testKey(4)},
	}
	pathKey, err := PathKey(path, 17)
	require.NoError(err)
	require.Len(pathKey, 4*topology.NodeAddressLength+1)
	require.Equal(byte(17), pathKey[len(pathKey)-1])

	nodeKeys := PathKeyToNodeKeys(pathKey)
	require.Len(nodeKeys, 4)
	for i, hop := range path {
		require.Equal(testAddress(t, hop.PubKey), nodeKeys[i])
	}

	// distinct iterations yield distinct tags for the same path
	other, err := PathKey(path, 18)
	require.NoError(err)
	require.NotEqual(pathKey, other)
}

func TestPathKeyTooLong(t *testing.T) {
	require := require.New(t)

	hops := sphinx.PayloadSize/topology.NodeAddressLength + 1
	path := make([]topology.PathHop, hops)
	for i := range path {
		path[i] = topology.PathHop{Address: "127.0.0.1:1789", PubKey: testKey(byte(i))}
	}
	_, err := PathKey(path, 0)
	require.Equal(ErrPathKeyTooLong, err)
}

func TestSendTestPacketMarksMalformed(t *testing.T) {
	require := require.New(t)

	checker := &PathChecker{
		providerTokens:    map[string]requests.AuthToken{},
		providerListeners: map[string]string{},
		statuses:          map[string]PathStatus{},
	}
	key, err := sphinx.GenerateKeyPair()
	require.NoError(err)
	checker.ephemeralKey = key
	copy(checker.address[:], key.PublicKey().Bytes())

	// nothing listens on this port, the send must fail immediately
	path := []topology.PathHop{
		{Address: "127.0.0.1:1", PubKey: testKey(1)},
		{Address: "127.0.0.1:1", PubKey: testKey(2)},
		{Address: "127.0.0.1:1", PubKey: testKey(3)},
		{Address: "127.0.0.1:1", PubKey: testKey(4)},
	}
	require.Error(checker.SendTestPacket(path, 0))

	pathKey, err := PathKey(path, 0)
	require.NoError(err)
	statuses := checker.AllStatuses()
	require.Equal(PathMalformed, statuses[string(pathKey)])
}

// startProbedProvider runs a real provider instance for the checker to
// register with and resolve against.
func startProbedProvider(t *testing.T) (*provider.ServiceProvider, topology.MixProviderNode, func()) {
	dir, err := ioutil.TempDir("", "nymPathCheckTest")
	require.NoError(t, err, "TempDir failed")

	directoryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cfg := &provider.Config{
		ClientSocketAddress:     "127.0.0.1:0",
		MixSocketAddress:        "127.0.0.1:0",
		DirectoryServer:         directoryServer.URL,
		StoreDir:                filepath.Join(dir, "inboxes"),
		PrivateKeyFile:          filepath.Join(dir, "private.key"),
		PresenceIntervalSeconds: 3600,
	}
	secretKey, err := provider.LoadOrGenerateKey(cfg.PrivateKeyFile)
	require.NoError(t, err)
	p, err := provider.New(cfg, secretKey)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	clientAddr := p.ClientListenerAddr().(*net.TCPAddr)
	mixnetAddr := p.MixListenerAddr().(*net.TCPAddr)
	node := topology.MixProviderNode{
		ClientListener: clientAddr,
		MixnetListener: mixnetAddr,
		PubKey:         topology.NodeAddressBytes(publicKeyBytes(secretKey)).String(),
		Version:        "0.3.0",
	}
	return p, node, func() {
		p.Shutdown()
		directoryServer.Close()
		os.RemoveAll(dir)
	}
}

func publicKeyBytes(key *sphinx.PrivateKey) (raw [topology.NodeAddressLength]byte) {
	copy(raw[:], key.PublicKey().Bytes())
	return
}

func TestResolvePendingChecks(t *testing.T) {
	require := require.New(t)

	_, node, cleanup := startProbedProvider(t)
	defer cleanup()

	checker, err := NewPathChecker([]topology.MixProviderNode{node})
	require.NoError(err)
	require.Len(checker.providerTokens, 1)

	// fabricate two pending probes and deliver only one of them
	// through the provider's mixnet ingress
	path := []topology.PathHop{
		{Address: "unused", PubKey: testKey(1)},
		{Address: "unused", PubKey: testKey(2)},
		{Address: "unused", PubKey: testKey(3)},
		{Address: node.MixnetListener.String(), PubKey: node.PubKey},
	}
	delivered, err := PathKey(path, 0)
	require.NoError(err)
	lost, err := PathKey(path, 1)
	require.NoError(err)
	checker.statuses[string(delivered)] = PathPending
	checker.statuses[string(lost)] = PathPending

	providerKey := new(sphinx.PublicKey)
	rawKey := testAddress(t, node.PubKey)
	require.NoError(providerKey.FromBytes(rawKey[:]))
	packet, err := sphinx.Wrap(
		[]sphinx.Hop{{Address: node.MixnetListener.String(), PubKey: providerKey}},
		checker.address,
		delivered,
	)
	require.NoError(err)

	conn, err := net.DialTimeout("tcp", node.MixnetListener.String(), 5*time.Second)
	require.NoError(err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(packet)
	require.NoError(err)
	ack := make([]byte, len(provider.MixAck))
	_, err = io.ReadFull(conn, ack)
	require.NoError(err)
	require.Equal([]byte(provider.MixAck), ack)
	conn.Close()

	checker.ResolvePendingChecks()

	statuses := checker.AllStatuses()
	require.Equal(PathHealthy, statuses[string(delivered)])
	require.Equal(PathUnresolved, statuses[string(lost)])
}
