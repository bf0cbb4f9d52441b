// mix_handling.go - mixnet ingress packet processing
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

	"github.com/sahith-narahari/nym/sphinx"
)

// MixAck is written back after every accepted mix packet. Peers must
// not parse its contents.
const MixAck = "foomp"

// processMixConnection reads fixed-size packets off one mixnet
// connection until the peer closes, unwrapping one onion layer each and
// persisting final payloads into the destination mailbox. Providers are
// terminal in this design; forward hops are dropped.
func (p *ServiceProvider) processMixConnection(conn net.Conn) error {
	buf := make([]byte, sphinx.PacketSize)

	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if err == io.EOF {
				p.log.Debug("remote mixnet connection closed")
				return nil
			}
			return fmt.Errorf("provider: mixnet socket read failed: %v", err)
		}

		packet, err := sphinx.Unwrap(buf, p.secretKey)
		if err != nil {
			return fmt.Errorf("provider: failed to process sphinx packet: %v", err)
		}

		switch packet.Flag {
		case sphinx.FlagFinal:
			if err := p.store.StoreMessage(packet.Destination, packet.Payload); err != nil {
				return fmt.Errorf("provider: failed to store processed sphinx message: %v", err)
			}
		case sphinx.FlagRelay:
			p.log.Warningf("dropping relay packet addressed to %s; provider is a terminal hop", packet.NextHopAddress)
		}

		if _, err := conn.Write([]byte(MixAck)); err != nil {
			return fmt.Errorf("provider: failed to write ack to mixnet socket: %v", err)
		}
	}
}
