// provider.go - store-and-forward provider service
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

// Package provides the store-and-forward provider service
package provider

import (
	"encoding/base64"
	"net"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/sahith-narahari/nym/directory"
	"github.com/sahith-narahari/nym/provider/storage"
	"github.com/sahith-narahari/nym/sphinx"
)

var log = logging.MustGetLogger("nym")

// ServiceProvider is a two-port store-and-forward endpoint: it accepts
// mix packets on one listener, authenticated retrieval requests on the
// other, and periodically publishes its presence to the directory.
type ServiceProvider struct {
	cfg       *Config
	secretKey *sphinx.PrivateKey
	store     *storage.Store
	ledger    *ClientLedger
	log       *logging.Logger

	mixListener    *listener
	clientListener *listener
	notifierWg     sync.WaitGroup

	haltedCh chan struct{}
	haltOnce sync.Once
}

// New creates a ServiceProvider from its configuration. The client
// ledger is restored from the configured ledger file when one exists.
func New(cfg *Config, secretKey *sphinx.PrivateKey) (*ServiceProvider, error) {
	store, err := storage.New(cfg.StoreDir)
	if err != nil {
		return nil, err
	}

	ledger := NewClientLedger()
	if cfg.LedgerFile != "" {
		if _, err := os.Stat(cfg.LedgerFile); err == nil {
			ledger, err = LoadClientLedger(cfg.LedgerFile)
			if err != nil {
				return nil, err
			}
			log.Noticef("restored %d registered clients from ledger", len(ledger.tokens))
		}
	}

	p := &ServiceProvider{
		cfg:       cfg,
		secretKey: secretKey,
		store:     store,
		ledger:    ledger,
		log:       log,
		haltedCh:  make(chan struct{}),
	}
	return p, nil
}

// Start binds both listeners and starts the presence notifier. A bind
// failure is fatal and returned to the caller; everything after that
// recovers locally.
func (p *ServiceProvider) Start() error {
	var err error

	p.mixListener, err = newListener(p.cfg.MixSocketAddress, p.cfg.MaxConnections, p.processMixConnection, p.log)
	if err != nil {
		return err
	}
	p.clientListener, err = newListener(p.cfg.ClientSocketAddress, p.cfg.MaxConnections, p.processClientConnection, p.log)
	if err != nil {
		p.mixListener.halt()
		return err
	}

	interval := defaultPresenceInterval
	if p.cfg.PresenceIntervalSeconds > 0 {
		interval = time.Duration(p.cfg.PresenceIntervalSeconds) * time.Second
	}
	n := &notifier{
		directory:      directory.New(p.cfg.DirectoryServer),
		clientListener: p.cfg.ClientSocketAddress,
		mixnetListener: p.cfg.MixSocketAddress,
		pubKey:         base64.URLEncoding.EncodeToString(p.secretKey.PublicKey().Bytes()),
		ledger:         p.ledger,
		interval:       interval,
	}
	p.notifierWg.Add(1)
	go func() {
		defer p.notifierWg.Done()
		n.run(p.haltedCh)
	}()

	p.log.Notice("provider startup complete")
	return nil
}

// Ledger exposes the registered clients ledger.
func (p *ServiceProvider) Ledger() *ClientLedger {
	return p.ledger
}

// MixListenerAddr returns the bound address of the mixnet listener.
func (p *ServiceProvider) MixListenerAddr() net.Addr {
	return p.mixListener.l.Addr()
}

// ClientListenerAddr returns the bound address of the client listener.
func (p *ServiceProvider) ClientListenerAddr() net.Addr {
	return p.clientListener.l.Addr()
}

// Shutdown cleanly stops the provider: the notifier, both listeners and
// every connection they spawned.
func (p *ServiceProvider) Shutdown() {
	p.haltOnce.Do(func() { p.halt() })
}

// Wait blocks until the provider is terminated for any reason.
func (p *ServiceProvider) Wait() {
	<-p.haltedCh
}

func (p *ServiceProvider) halt() {
	p.log.Notice("starting graceful shutdown")
	close(p.haltedCh)
	p.notifierWg.Wait()
	if p.clientListener != nil {
		p.clientListener.halt()
	}
	if p.mixListener != nil {
		p.mixListener.halt()
	}
	if p.cfg.LedgerFile != "" {
		if err := p.ledger.Save(p.cfg.LedgerFile); err != nil {
			p.log.Errorf("failed to persist client ledger on shutdown: %v", err)
		}
	}
}
