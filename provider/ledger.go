// ledger.go - registered clients ledger
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
	"errors"
	"sync"

	bolt "github.com/coreos/bbolt"

	"github.com/sahith-narahari/nym/directory"
	"github.com/sahith-narahari/nym/provider/requests"
	"github.com/sahith-narahari/nym/sphinx"
)

var clientsBucket = []byte("clients")

// ClientLedger maps authentication tokens to the destination addresses
// of registered clients. It is shared between the client ingress tasks
// and the presence notifier; every critical section is a single insert
// or a single roster snapshot, never I/O.
type ClientLedger struct {
	sync.Mutex
	tokens map[requests.AuthToken]sphinx.DestinationAddressBytes
}

// NewClientLedger creates an empty ledger.
func NewClientLedger() *ClientLedger {
	return &ClientLedger{
		tokens: make(map[requests.AuthToken]sphinx.DestinationAddressBytes),
	}
}

// HasToken reports whether the token belongs to a registered client.
func (l *ClientLedger) HasToken(token requests.AuthToken) bool {
	l.Lock()
	defer l.Unlock()
	_, ok := l.tokens[token]
	return ok
}

// GetDestination returns the destination registered under the token.
func (l *ClientLedger) GetDestination(token requests.AuthToken) (sphinx.DestinationAddressBytes, bool) {
	l.Lock()
	defer l.Unlock()
	destination, ok := l.tokens[token]
	return destination, ok
}

// InsertToken registers a destination under the token. Entries are
// never removed during a process lifetime.
func (l *ClientLedger) InsertToken(token requests.AuthToken, destination sphinx.DestinationAddressBytes) {
	l.Lock()
	defer l.Unlock()
	l.tokens[token] = destination
}

// CurrentClients snapshots the roster of registered destinations as
// directory client records, base64url encoded.
func (l *ClientLedger) CurrentClients() []directory.RegisteredClient {
	l.Lock()
	defer l.Unlock()
	clients := make([]directory.RegisteredClient, 0, len(l.tokens))
	for _, destination := range l.tokens {
		clients = append(clients, directory.RegisteredClient{PubKey: destination.String()})
	}
	return clients
}

// Save persists the ledger to a boltdb file. The on-disk format is
// opaque to every other component.
func (l *ClientLedger) Save(path string) error {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	l.Lock()
	entries := make(map[requests.AuthToken]sphinx.DestinationAddressBytes, len(l.tokens))
	for token, destination := range l.tokens {
		entries[token] = destination
	}
	l.Unlock()

	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(clientsBucket)
		if err != nil {
			return err
		}
		for token, destination := range entries {
			if err := bucket.Put(token[:], destination[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadClientLedger restores a ledger previously written with Save.
func LoadClientLedger(path string) (*ClientLedger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ledger := NewClientLedger()
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(clientsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(k) != requests.AuthTokenLength || len(v) != sphinx.DestinationLength {
				return errors.New("provider: corrupted ledger entry")
			}
			var token requests.AuthToken
			var destination sphinx.DestinationAddressBytes
			copy(token[:], k)
			copy(destination[:], v)
			ledger.tokens[token] = destination
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}
