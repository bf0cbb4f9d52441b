// client_handling.go - client ingress request processing
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
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/sahith-narahari/nym/provider/requests"
	"github.com/sahith-narahari/nym/sphinx"
)

// MessageRetrievalLimit caps the number of mailbox entries returned per
// retrieval request.
const MessageRetrievalLimit = 5

const clientRequestTimeout = 30 * time.Second

// authTokenContext domain-separates token derivation from other uses of
// the shared secret.
var authTokenContext = []byte("nym-provider-auth-token")

// deriveAuthToken computes the client's token deterministically from
// the provider secret and the client public key, so repeated
// registrations yield the same token.
func (p *ServiceProvider) deriveAuthToken(clientKey *sphinx.PublicKey) requests.AuthToken {
	shared := sphinx.SharedSecret(p.secretKey, clientKey)
	return requests.AuthToken(blake2b.Sum256(append(shared[:], authTokenContext...)))
}

// processClientConnection serves a single length-bounded request and
// closes the connection.
func (p *ServiceProvider) processClientConnection(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(clientRequestTimeout))

	// Clients half-close after writing; read the whole length-bounded
	// request up to EOF.
	buf := make([]byte, requests.MaxRequestLength)
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("provider: client socket read failed: %v", err)
		}
	}

	op, body, err := requests.ParseRequest(buf[:n])
	if err != nil {
		conn.Write(requests.UnauthorizedResponse)
		return err
	}

	switch op {
	case requests.OpRegister:
		return p.handleRegisterRequest(conn, body)
	case requests.OpRetrieve:
		return p.handleRetrieveRequest(conn, body)
	default:
		conn.Write(requests.UnauthorizedResponse)
		return fmt.Errorf("provider: unknown client request opcode 0x%x", op)
	}
}

func (p *ServiceProvider) handleRegisterRequest(conn net.Conn, body []byte) error {
	rawKey, err := requests.ParseRegisterRequest(body)
	if err != nil {
		conn.Write(requests.UnauthorizedResponse)
		return err
	}
	clientKey := new(sphinx.PublicKey)
	if err := clientKey.FromBytes(rawKey); err != nil {
		conn.Write(requests.UnauthorizedResponse)
		return err
	}

	var destination sphinx.DestinationAddressBytes
	copy(destination[:], rawKey)
	token := p.deriveAuthToken(clientKey)
	p.ledger.InsertToken(token, destination)
	p.log.Debugf("registered client %s", destination)

	if p.cfg.LedgerFile != "" {
		if err := p.ledger.Save(p.cfg.LedgerFile); err != nil {
			p.log.Errorf("failed to persist client ledger: %v", err)
		}
	}

	if _, err := conn.Write(requests.NewRegisterResponse(token)); err != nil {
		return fmt.Errorf("provider: failed to write register response: %v", err)
	}
	return nil
}

func (p *ServiceProvider) handleRetrieveRequest(conn net.Conn, body []byte) error {
	token, err := requests.ParseRetrieveRequest(body)
	if err != nil {
		conn.Write(requests.UnauthorizedResponse)
		return err
	}
	destination, ok := p.ledger.GetDestination(token)
	if !ok {
		p.log.Debug("retrieve request with unknown token")
		if _, err := conn.Write(requests.UnauthorizedResponse); err != nil {
			return fmt.Errorf("provider: failed to write unauthorized response: %v", err)
		}
		return nil
	}

	messages, err := p.store.RetrieveMessages(destination, MessageRetrievalLimit)
	if err != nil {
		return fmt.Errorf("provider: mailbox read for %s failed: %v", destination, err)
	}
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, message.Data)
	}

	if _, err := conn.Write(requests.NewRetrieveResponse(payloads)); err != nil {
		return fmt.Errorf("provider: failed to write retrieve response: %v", err)
	}

	// Messages are consumed only once the send succeeded.
	if err := p.store.DeleteMessages(messages); err != nil {
		return fmt.Errorf("provider: failed to delete sent messages: %v", err)
	}
	p.log.Debugf("delivered %d messages to %s", len(payloads), destination)
	return nil
}
