// path_check.go - sphinx test packet construction and correlation
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
	"errors"
	"io/ioutil"
	"net"
	"time"

	"github.com/sahith-narahari/nym/provider/requests"
	"github.com/sahith-narahari/nym/sphinx"
	"github.com/sahith-narahari/nym/topology"
)

// PathStatus is the outcome of probing a single (path, iteration) pair.
type PathStatus int

const (
	// PathPending means the probe was sent and not yet resolved.
	PathPending PathStatus = iota

	// PathHealthy means the probe was recovered from the terminal
	// provider's mailbox.
	PathHealthy

	// PathUnresolved means the probe was still pending when the
	// resolution window closed.
	PathUnresolved

	// PathMalformed means the probe could not even be sent.
	PathMalformed
)

// ErrPathKeyTooLong is returned when a path's encoded tag would not fit
// a sphinx payload.
var ErrPathKeyTooLong = errors.New("healthcheck: path key exceeds sphinx payload capacity")

const checkerDialTimeout = 5 * time.Second

// PathChecker builds uniquely tagged sphinx test packets, sends them
// along candidate routes, and later correlates the probes it can
// recover from provider mailboxes. The checker acts as an ephemeral
// client: it registers a throwaway identity with every provider so the
// terminal payloads can be queried back.
type PathChecker struct {
	ephemeralKey *sphinx.PrivateKey
	address      sphinx.DestinationAddressBytes

	providerTokens    map[string]requests.AuthToken
	providerListeners map[string]string

	statuses map[string]PathStatus
}

// NewPathChecker generates an ephemeral identity and registers it with
// every given provider. Providers which cannot be registered with are
// skipped; probes through them will simply stay unresolved.
func NewPathChecker(providers []topology.MixProviderNode) (*PathChecker, error) {
	key, err := sphinx.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	checker := &PathChecker{
		ephemeralKey:      key,
		providerTokens:    make(map[string]requests.AuthToken),
		providerListeners: make(map[string]string),
		statuses:          make(map[string]PathStatus),
	}
	copy(checker.address[:], key.PublicKey().Bytes())

	for _, provider := range providers {
		token, err := checker.register(provider.ClientListener.String())
		if err != nil {
			log.Warningf("failed to register with provider %s: %v", provider.PubKey, err)
			continue
		}
		checker.providerTokens[provider.PubKey] = token
		checker.providerListeners[provider.PubKey] = provider.ClientListener.String()
	}
	return checker, nil
}

func (c *PathChecker) register(clientListener string) (requests.AuthToken, error) {
	var token requests.AuthToken
	request, err := requests.NewRegisterRequest(c.ephemeralKey.PublicKey().Bytes())
	if err != nil {
		return token, err
	}
	response, err := c.roundTrip(clientListener, request)
	if err != nil {
		return token, err
	}
	return requests.ParseRegisterResponse(response)
}

func (c *PathChecker) roundTrip(address string, request []byte) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", address, checkerDialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(checkerDialTimeout))
	if _, err := conn.Write(request); err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}
	return ioutil.ReadAll(conn)
}

// PathKey encodes the (path, iteration) tag: the concatenated identity
// keys of every hop followed by the iteration byte.
func PathKey(path []topology.PathHop, iteration uint8) ([]byte, error) {
	if len(path)*topology.NodeAddressLength+1 > sphinx.PayloadSize {
		return nil, ErrPathKeyTooLong
	}
	key := make([]byte, 0, len(path)*topology.NodeAddressLength+1)
	for _, hop := range path {
		address, err := topology.NodeAddressFromBase64(hop.PubKey)
		if err != nil {
			return nil, err
		}
		key = append(key, address[:]...)
	}
	return append(key, iteration), nil
}

// PathKeyToNodeKeys recovers the per-hop identity keys from a path key.
// It is the inverse helper used by the scorer.
func PathKeyToNodeKeys(pathKey []byte) []topology.NodeAddressBytes {
	nrHops := (len(pathKey) - 1) / topology.NodeAddressLength
	keys := make([]topology.NodeAddressBytes, 0, nrHops)
	for i := 0; i < nrHops; i++ {
		var key topology.NodeAddressBytes
		copy(key[:], pathKey[i*topology.NodeAddressLength:])
		keys = append(keys, key)
	}
	return keys
}

// SendTestPacket wraps the path's tag in sphinx for the route and sends
// it to the entry hop. A send failure classifies the probe as malformed
// immediately; it must not count toward the sent totals.
func (c *PathChecker) SendTestPacket(path []topology.PathHop, iteration uint8) error {
	pathKey, err := PathKey(path, iteration)
	if err != nil {
		return err
	}

	route := make([]sphinx.Hop, 0, len(path))
	for _, hop := range path {
		pubKey := new(sphinx.PublicKey)
		raw, err := topology.NodeAddressFromBase64(hop.PubKey)
		if err != nil {
			c.statuses[string(pathKey)] = PathMalformed
			return err
		}
		if err := pubKey.FromBytes(raw[:]); err != nil {
			c.statuses[string(pathKey)] = PathMalformed
			return err
		}
		route = append(route, sphinx.Hop{Address: hop.Address, PubKey: pubKey})
	}

	packet, err := sphinx.Wrap(route, c.address, pathKey)
	if err != nil {
		c.statuses[string(pathKey)] = PathMalformed
		return err
	}

	conn, err := net.DialTimeout("tcp", path[0].Address, checkerDialTimeout)
	if err != nil {
		c.statuses[string(pathKey)] = PathMalformed
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(checkerDialTimeout))
	if _, err := conn.Write(packet); err != nil {
		c.statuses[string(pathKey)] = PathMalformed
		return err
	}

	c.statuses[string(pathKey)] = PathPending
	return nil
}

// ResolvePendingChecks drains the ephemeral identity's mailbox on every
// provider; each recovered payload is a path key whose probe is marked
// healthy.
func (c *PathChecker) ResolvePendingChecks() {
	for providerKey, token := range c.providerTokens {
		listener := c.providerListeners[providerKey]
		for {
			response, err := c.roundTrip(listener, requests.NewRetrieveRequest(token))
			if err != nil {
				log.Warningf("failed to retrieve messages from provider %s: %v", providerKey, err)
				break
			}
			messages, err := requests.ParseRetrieveResponse(response)
			if err != nil {
				log.Warningf("malformed retrieve response from provider %s: %v", providerKey, err)
				break
			}
			if len(messages) == 0 {
				break
			}
			for _, message := range messages {
				status, known := c.statuses[string(message)]
				if !known {
					log.Debugf("recovered unknown probe payload from provider %s", providerKey)
					continue
				}
				if status == PathPending {
					c.statuses[string(message)] = PathHealthy
				}
			}
		}
	}
}

// AllStatuses returns the final status of every probed (path,
// iteration) pair. Probes still pending after the resolution window are
// reported unresolved.
func (c *PathChecker) AllStatuses() map[string]PathStatus {
	statuses := make(map[string]PathStatus, len(c.statuses))
	for key, status := range c.statuses {
		if status == PathPending {
			status = PathUnresolved
		}
		statuses[key] = status
	}
	return statuses
}
