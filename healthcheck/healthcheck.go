// healthcheck.go - network health calculation and topology filtering
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
	"sort"
	"strings"
	"time"

	"github.com/op/go-logging"

	"github.com/sahith-narahari/nym/topology"
)

var log = logging.MustGetLogger("nym")

// MaxIterations caps a health check run; the iteration tag is a single
// byte.
const MaxIterations = 255

// ErrTooManyIterations is returned when a run is requested with more
// iterations than the tag field can carry.
var ErrTooManyIterations = errors.New("healthcheck: iterations must not exceed 255")

// HealthCheckResult is the per-node outcome of one health check run.
type HealthCheckResult struct {
	scores []NodeScore
}

// Scores returns the per-node scores. They are unsorted unless
// SortScores was called.
func (r *HealthCheckResult) Scores() []NodeScore {
	return r.scores
}

// SortScores orders the result by score ascending for reporting.
func (r *HealthCheckResult) SortScores() {
	sort.SliceStable(r.scores, func(i, j int) bool {
		return r.scores[i].Score() < r.scores[j].Score()
	})
}

// String renders the network health report.
func (r *HealthCheckResult) String() string {
	var b strings.Builder
	b.WriteString("NETWORK HEALTH\n==============\n")
	for i := range r.scores {
		b.WriteString(r.scores[i].String())
		b.WriteString("\n")
	}
	return b.String()
}

// nodeScore does a linear scan for the given node. The result set is
// small enough that an index is not worth maintaining.
func (r *HealthCheckResult) nodeScore(key topology.NodeAddressBytes) (float64, bool) {
	for i := range r.scores {
		if r.scores[i].pubKey == key {
			return r.scores[i].Score(), true
		}
	}
	return 0, false
}

// ZeroScore builds the all-zero result used when no packets could be
// sent at all.
func ZeroScore(t topology.NymTopology) *HealthCheckResult {
	log.Warning("the network is unhealthy, could not send any packets - returning zero score!")
	result := &HealthCheckResult{}
	for _, node := range t.MixNodes() {
		score, err := NewMixNodeScore(node)
		if err != nil {
			log.Errorf("mix node %s has an invalid identity key: %v", node.PubKey, err)
			continue
		}
		result.scores = append(result.scores, score)
	}
	for _, node := range t.ProviderNodes() {
		score, err := NewProviderScore(node)
		if err != nil {
			log.Errorf("provider node %s has an invalid identity key: %v", node.PubKey, err)
			continue
		}
		result.scores = append(result.scores, score)
	}
	return result
}

// Calculate probes every route of the topology iterations times, waits
// resolutionTimeout for deliveries to settle, and returns the per-node
// scores. Coco nodes are never probed. Iterations beyond the tag range
// hard-fail.
func Calculate(t topology.NymTopology, iterations int, resolutionTimeout time.Duration) (*HealthCheckResult, error) {
	if iterations > MaxIterations {
		return nil, ErrTooManyIterations
	}

	allPaths, err := topology.AllPaths(t)
	if err != nil {
		return ZeroScore(t), nil
	}

	scoreMap := make(map[topology.NodeAddressBytes]*NodeScore)
	for _, node := range t.MixNodes() {
		score, err := NewMixNodeScore(node)
		if err != nil {
			log.Errorf("mix node %s has an invalid identity key: %v", node.PubKey, err)
			continue
		}
		entry := score
		scoreMap[entry.pubKey] = &entry
	}
	for _, node := range t.ProviderNodes() {
		score, err := NewProviderScore(node)
		if err != nil {
			log.Errorf("provider node %s has an invalid identity key: %v", node.PubKey, err)
			continue
		}
		entry := score
		scoreMap[entry.pubKey] = &entry
	}

	checker, err := NewPathChecker(t.ProviderNodes())
	if err != nil {
		return nil, err
	}

	for i := 0; i < iterations; i++ {
		log.Debugf("running healthcheck iteration %d / %d", i+1, iterations)
		for _, path := range allPaths {
			if err := checker.SendTestPacket(path, uint8(i)); err != nil {
				log.Warningf("failed to send test packet: %v", err)
				continue
			}
			for _, hop := range path {
				key, err := topology.NodeAddressFromBase64(hop.PubKey)
				if err != nil {
					continue
				}
				if score, ok := scoreMap[key]; ok {
					score.IncreaseSentCount()
				}
			}
		}
	}

	log.Infof("waiting %v for pending requests to resolve", resolutionTimeout)
	time.Sleep(resolutionTimeout)
	checker.ResolvePendingChecks()

	for pathKey, status := range checker.AllStatuses() {
		if status != PathHealthy {
			continue
		}
		for _, nodeKey := range PathKeyToNodeKeys([]byte(pathKey)) {
			if score, ok := scoreMap[nodeKey]; ok {
				score.IncreaseReceivedCount()
			}
		}
	}

	result := &HealthCheckResult{scores: make([]NodeScore, 0, len(scoreMap))}
	for _, score := range scoreMap {
		result.scores = append(result.scores, *score)
	}
	return result, nil
}

// FilterTopologyByScore rebuilds the topology keeping only the mix and
// provider nodes scoring strictly above the threshold. Nodes absent
// from the result are dropped and logged; coco nodes are carried
// through untouched.
func (r *HealthCheckResult) FilterTopologyByScore(t topology.NymTopology, scoreThreshold float64) topology.NymTopology {
	mixes := []topology.MixNode{}
	for _, node := range t.MixNodes() {
		key, err := node.PubKeyBytes()
		if err != nil {
			log.Errorf("unknown node in topology - %s", node.PubKey)
			continue
		}
		score, known := r.nodeScore(key)
		if !known {
			log.Errorf("unknown node in topology - %s", node.PubKey)
			continue
		}
		if score > scoreThreshold {
			mixes = append(mixes, node)
		}
	}

	providers := []topology.MixProviderNode{}
	for _, node := range t.ProviderNodes() {
		key, err := node.PubKeyBytes()
		if err != nil {
			log.Errorf("unknown node in topology - %s", node.PubKey)
			continue
		}
		score, known := r.nodeScore(key)
		if !known {
			log.Errorf("unknown node in topology - %s", node.PubKey)
			continue
		}
		if score > scoreThreshold {
			providers = append(providers, node)
		}
	}

	// coco nodes remain unchanged as no healthcheck is run on them
	return t.NewFromNodes(mixes, providers, t.CocoNodes())
}
