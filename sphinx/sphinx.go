// sphinx.go - fixed-size onion packet primitive
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

// Package provides the Sphinx cryptographic packet format
package sphinx

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the size of a node public key in bytes.
	PublicKeySize = 32

	// PrivateKeySize is the size of a node private key in bytes.
	PrivateKeySize = 32

	// DestinationLength is the size of a final destination address.
	DestinationLength = 32

	// PacketSize is the size of every packet on the wire. Framing is
	// implicit in the fixed size.
	PacketSize = 4096

	// PayloadSize is the maximum payload a packet is guaranteed to
	// carry across a route of MaxRouteLength hops.
	PayloadSize = 1024

	// MaxRouteLength bounds the number of hops a packet traverses.
	MaxRouteLength = 5

	// layer framing: ephemeral public key, ciphertext length prefix,
	// AEAD tag
	headerOverhead = PublicKeySize + 2 + 16

	flagRelay byte = 0x01
	flagFinal byte = 0x02
)

var (
	// ErrInvalidRoute is returned by Wrap for empty or oversized routes.
	ErrInvalidRoute = errors.New("sphinx: route must have between 1 and 5 hops")

	// ErrPayloadTooLarge is returned by Wrap when the payload exceeds
	// PayloadSize.
	ErrPayloadTooLarge = errors.New("sphinx: payload exceeds maximum size")

	// ErrMalformedPacket is returned by Unwrap for packets which fail
	// to parse or authenticate.
	ErrMalformedPacket = errors.New("sphinx: malformed packet")
)

// DestinationAddressBytes is the address of a packet's final recipient.
type DestinationAddressBytes [DestinationLength]byte

// DestinationFromBase64 decodes a base64 URL-safe encoded destination.
func DestinationFromBase64(s string) (DestinationAddressBytes, error) {
	var d DestinationAddressBytes
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(raw) != DestinationLength {
		return d, errors.New("sphinx: destination has invalid length")
	}
	copy(d[:], raw)
	return d, nil
}

// String returns the base64 URL-safe encoding of the destination.
func (d DestinationAddressBytes) String() string {
	return base64.URLEncoding.EncodeToString(d[:])
}

// PublicKey is a node's packet decryption public key.
type PublicKey struct {
	bytes [PublicKeySize]byte
}

// Bytes returns the raw key material.
func (k *PublicKey) Bytes() []byte {
	return k.bytes[:]
}

// FromBytes deserializes the raw key material.
func (k *PublicKey) FromBytes(raw []byte) error {
	if len(raw) != PublicKeySize {
		return errors.New("sphinx: public key has invalid length")
	}
	copy(k.bytes[:], raw)
	return nil
}

// PrivateKey is a node's packet decryption private key.
type PrivateKey struct {
	bytes  [PrivateKeySize]byte
	public PublicKey
}

// Bytes returns the raw key material.
func (k *PrivateKey) Bytes() []byte {
	return k.bytes[:]
}

// FromBytes deserializes the raw key material and recomputes the
// public key.
func (k *PrivateKey) FromBytes(raw []byte) error {
	if len(raw) != PrivateKeySize {
		return errors.New("sphinx: private key has invalid length")
	}
	copy(k.bytes[:], raw)
	clampScalar(&k.bytes)
	curve25519.ScalarBaseMult(&k.public.bytes, &k.bytes)
	return nil
}

// PublicKey returns the public half of the key pair.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &k.public
}

// GenerateKeyPair creates a fresh packet decryption key pair.
func GenerateKeyPair() (*PrivateKey, error) {
	k := new(PrivateKey)
	if _, err := rand.Read(k.bytes[:]); err != nil {
		return nil, err
	}
	clampScalar(&k.bytes)
	curve25519.ScalarBaseMult(&k.public.bytes, &k.bytes)
	return k, nil
}

func clampScalar(s *[32]byte) {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
}

// SharedSecret computes the Diffie-Hellman shared secret between a
// private key and a peer's public key.
func SharedSecret(priv *PrivateKey, peer *PublicKey) [32]byte {
	var shared [32]byte
	curve25519.ScalarMult(&shared, &priv.bytes, &peer.bytes)
	return shared
}

// Hop is one forwarding step of a route: the mixnet listener address of
// the node together with its public key.
type Hop struct {
	Address string
	PubKey  *PublicKey
}

// PacketFlag discriminates the two Unwrap outcomes.
type PacketFlag byte

const (
	// FlagRelay marks a packet which must be forwarded to NextHopAddress.
	FlagRelay = PacketFlag(flagRelay)

	// FlagFinal marks a packet whose payload is to be delivered to
	// Destination.
	FlagFinal = PacketFlag(flagFinal)
)

// ProcessedPacket is the result of removing one onion layer.
type ProcessedPacket struct {
	Flag PacketFlag

	// relay results
	NextHopAddress string
	NextPacket     []byte

	// final results
	Destination DestinationAddressBytes
	Payload     []byte
}

// Wrap onion-encrypts payload for the given route, innermost layer
// first. The last hop recovers the destination and payload; every
// earlier hop recovers only the next hop's address. The returned packet
// is exactly PacketSize bytes.
func Wrap(route []Hop, destination DestinationAddressBytes, payload []byte) ([]byte, error) {
	if len(route) == 0 || len(route) > MaxRouteLength {
		return nil, ErrInvalidRoute
	}
	if len(payload) > PayloadSize {
		return nil, ErrPayloadTooLarge
	}

	inner := make([]byte, 0, 1+DestinationLength+len(payload))
	inner = append(inner, flagFinal)
	inner = append(inner, destination[:]...)
	inner = append(inner, payload...)

	blob, err := sealLayer(route[len(route)-1].PubKey, inner)
	if err != nil {
		return nil, err
	}
	for i := len(route) - 2; i >= 0; i-- {
		addr := []byte(route[i+1].Address)
		if len(addr) == 0 || len(addr) > 255 {
			return nil, ErrInvalidRoute
		}
		plaintext := make([]byte, 0, 2+len(addr)+len(blob))
		plaintext = append(plaintext, flagRelay)
		plaintext = append(plaintext, byte(len(addr)))
		plaintext = append(plaintext, addr...)
		plaintext = append(plaintext, blob...)
		blob, err = sealLayer(route[i].PubKey, plaintext)
		if err != nil {
			return nil, err
		}
	}
	return padPacket(blob)
}

// Unwrap removes one onion layer with the node's private key.
func Unwrap(packet []byte, key *PrivateKey) (*ProcessedPacket, error) {
	plaintext, err := openLayer(packet, key)
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, ErrMalformedPacket
	}
	switch plaintext[0] {
	case flagRelay:
		if len(plaintext) < 2 {
			return nil, ErrMalformedPacket
		}
		addrLen := int(plaintext[1])
		if len(plaintext) < 2+addrLen {
			return nil, ErrMalformedPacket
		}
		next, err := padPacket(plaintext[2+addrLen:])
		if err != nil {
			return nil, err
		}
		return &ProcessedPacket{
			Flag:           FlagRelay,
			NextHopAddress: string(plaintext[2 : 2+addrLen]),
			NextPacket:     next,
		}, nil
	case flagFinal:
		if len(plaintext) < 1+DestinationLength {
			return nil, ErrMalformedPacket
		}
		processed := &ProcessedPacket{Flag: FlagFinal}
		copy(processed.Destination[:], plaintext[1:1+DestinationLength])
		processed.Payload = plaintext[1+DestinationLength:]
		return processed, nil
	default:
		return nil, ErrMalformedPacket
	}
}

// sealLayer encrypts plaintext to the node key under a fresh ephemeral
// key. Each layer uses a one-shot AEAD key so a zero nonce is safe.
func sealLayer(nodeKey *PublicKey, plaintext []byte) ([]byte, error) {
	var ephemeral, ephemeralPub, shared [32]byte
	if _, err := rand.Read(ephemeral[:]); err != nil {
		return nil, err
	}
	clampScalar(&ephemeral)
	curve25519.ScalarBaseMult(&ephemeralPub, &ephemeral)
	curve25519.ScalarMult(&shared, &ephemeral, &nodeKey.bytes)

	aead, err := chacha20poly1305.New(layerKey(shared))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, PublicKeySize+2+len(ciphertext))
	blob = append(blob, ephemeralPub[:]...)
	lenPrefix := make([]byte, 2)
	binary.BigEndian.PutUint16(lenPrefix, uint16(len(ciphertext)))
	blob = append(blob, lenPrefix...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

func openLayer(packet []byte, key *PrivateKey) ([]byte, error) {
	if len(packet) < headerOverhead {
		return nil, ErrMalformedPacket
	}
	var ephemeralPub, shared [32]byte
	copy(ephemeralPub[:], packet[:PublicKeySize])
	ctLen := int(binary.BigEndian.Uint16(packet[PublicKeySize : PublicKeySize+2]))
	if len(packet) < PublicKeySize+2+ctLen {
		return nil, ErrMalformedPacket
	}
	ciphertext := packet[PublicKeySize+2 : PublicKeySize+2+ctLen]

	curve25519.ScalarMult(&shared, &key.bytes, &ephemeralPub)
	aead, err := chacha20poly1305.New(layerKey(shared))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformedPacket
	}
	return plaintext, nil
}

func layerKey(shared [32]byte) []byte {
	key := blake2b.Sum256(shared[:])
	return key[:]
}

func padPacket(blob []byte) ([]byte, error) {
	if len(blob) > PacketSize {
		return nil, ErrPayloadTooLarge
	}
	packet := make([]byte, PacketSize)
	copy(packet, blob)
	return packet, nil
}
