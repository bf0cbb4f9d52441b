// client.go - mixnet directory HTTP client
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

package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"
)

const (
	presenceTopologyPath     = "/api/presence/topology"
	presenceMixNodesPath     = "/api/presence/mixnodes"
	presenceCocoNodesPath    = "/api/presence/coconodes"
	presenceMixProvidersPath = "/api/presence/mixproviders"

	requestTimeout = 10 * time.Second
)

// Client is a stateless client for the directory HTTP service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a directory Client bound to the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// GetTopology fetches the current network topology from the presence
// endpoint.
func (c *Client) GetTopology() (*Topology, error) {
	resp, err := c.httpClient.Get(c.baseURL + presenceTopologyPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: topology request returned status %d", resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	topology := Topology{}
	if err := json.Unmarshal(body, &topology); err != nil {
		return nil, err
	}
	return &topology, nil
}

// PostMixPresence uploads a mix node presence beacon.
func (c *Client) PostMixPresence(presence *MixNodePresence) error {
	return c.post(presenceMixNodesPath, presence)
}

// PostCocoPresence uploads a validator presence beacon.
func (c *Client) PostCocoPresence(presence *CocoPresence) error {
	return c.post(presenceCocoNodesPath, presence)
}

// PostProviderPresence uploads a provider presence beacon together with
// its current client roster.
func (c *Client) PostProviderPresence(presence *MixProviderPresence) error {
	return c.post(presenceMixProvidersPath, presence)
}

func (c *Client) post(path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("directory: presence post to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// FetchTopology downloads a fresh topology snapshot from the given
// directory server. It is the blocking entry point used by clients and
// the health checker on every refresh cycle.
func FetchTopology(directoryServer string) (*Topology, error) {
	log.Debugf("using directory server: %s", directoryServer)
	client := New(directoryServer)
	return client.GetTopology()
}
