// config.go - provider configuration
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
	"errors"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pelletier/go-toml"

	"github.com/sahith-narahari/nym/sphinx"
)

// Config is the provider daemon configuration.
type Config struct {
	// ClientSocketAddress is where end clients register and retrieve
	// messages.
	ClientSocketAddress string

	// MixSocketAddress is where mix packets arrive.
	MixSocketAddress string

	// DirectoryServer is the base URL of the directory service.
	DirectoryServer string

	// StoreDir is the mailbox root directory.
	StoreDir string

	// LedgerFile optionally persists the registered clients ledger
	// across restarts. Empty disables persistence.
	LedgerFile string

	// PrivateKeyFile holds the provider's packet decryption key.
	PrivateKeyFile string

	// PresenceIntervalSeconds is the period of presence beacons.
	PresenceIntervalSeconds int

	// MaxConnections optionally caps concurrent connections per
	// listener. Zero delegates backpressure to the OS accept queue.
	MaxConnections int
}

func (c *Config) validate() error {
	if c.ClientSocketAddress == "" || c.MixSocketAddress == "" {
		return errors.New("provider: both listener addresses must be configured")
	}
	if c.DirectoryServer == "" {
		return errors.New("provider: directory server must be configured")
	}
	if c.StoreDir == "" {
		return errors.New("provider: store directory must be configured")
	}
	if c.PrivateKeyFile == "" {
		return errors.New("provider: private key file must be configured")
	}
	return nil
}

// FromFile loads a provider Config from a TOML file.
func FromFile(fileName string) (*Config, error) {
	config := Config{}
	fileData, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	err = toml.Unmarshal(fileData, &config)
	if err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadOrGenerateKey reads the provider key from path, generating and
// persisting a fresh key pair when the file does not exist yet.
func LoadOrGenerateKey(path string) (*sphinx.PrivateKey, error) {
	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		key, err := sphinx.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		encoded := base64.URLEncoding.EncodeToString(key.Bytes())
		if err := ioutil.WriteFile(path, []byte(encoded+"\n"), 0600); err != nil {
			return nil, err
		}
		log.Noticef("generated new provider key pair at %s", path)
		return key, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	key := new(sphinx.PrivateKey)
	if err := key.FromBytes(decoded); err != nil {
		return nil, err
	}
	return key, nil
}
