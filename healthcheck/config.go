// config.go - health check configuration
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
	"time"

	"github.com/pelletier/go-toml"
)

// Config drives a health check run.
type Config struct {
	// DirectoryServer is the base URL of the directory service.
	DirectoryServer string

	// Iterations is the number of test packets sent along every path.
	Iterations int

	// ResolutionTimeoutSeconds is the wall-clock gap between the send
	// phase and the resolve phase.
	ResolutionTimeoutSeconds int

	// ScoreThreshold is the minimum score a node must exceed to
	// survive topology filtering.
	ScoreThreshold float64
}

// ResolutionTimeout returns the configured resolution window.
func (c *Config) ResolutionTimeout() time.Duration {
	return time.Duration(c.ResolutionTimeoutSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.DirectoryServer == "" {
		return errors.New("healthcheck: directory server must be configured")
	}
	if c.Iterations < 0 {
		return errors.New("healthcheck: iterations must not be negative")
	}
	if c.Iterations > MaxIterations {
		return ErrTooManyIterations
	}
	return nil
}

// ConfigFromFile loads a health check Config from a TOML file.
func ConfigFromFile(fileName string) (*Config, error) {
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
