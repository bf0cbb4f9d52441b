// presence.go - provider presence notifier
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
	"time"

	"github.com/sahith-narahari/nym/directory"
)

const (
	nymVersion = "0.3.0"

	defaultPresenceInterval = 5 * time.Second
)

// notifier periodically publishes the provider's presence, including
// its current client roster, to the directory. Transient directory
// failures are logged and retried on the next tick; they never tear
// down the listeners.
type notifier struct {
	directory      *directory.Client
	clientListener string
	mixnetListener string
	pubKey         string
	ledger         *ClientLedger
	interval       time.Duration
}

func (n *notifier) currentPresence() *directory.MixProviderPresence {
	return &directory.MixProviderPresence{
		ClientListener:    n.clientListener,
		MixnetListener:    n.mixnetListener,
		PubKey:            n.pubKey,
		RegisteredClients: n.ledger.CurrentClients(),
		LastSeen:          uint64(time.Now().Unix()),
		Version:           nymVersion,
	}
}

func (n *notifier) run(haltCh <-chan struct{}) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := n.directory.PostProviderPresence(n.currentPresence()); err != nil {
				log.Errorf("failed to register presence with directory: %v", err)
			}
		case <-haltCh:
			return
		}
	}
}
