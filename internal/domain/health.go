package domain

import (
	"cmp"
	"slices"
	"time"

	"github.com/umbrellafw/umbrella/pkg/opt"
)

// NodeHealth is the last liveness ping recorded for one node of an organization.
type NodeHealth struct {
	OrganizationName string    `json:"organizationName" dynamodbav:"organizationName"`
	ID               string    `json:"id" dynamodbav:"id"`
	LastPing         time.Time `json:"lastPing" dynamodbav:"lastPing"`
	TTLInEpochSec    int64     `json:"ttlInEpochSec" dynamodbav:"ttlInEpochSec"`
}

// Expired reports whether the row is past its TTL and only awaits removal by the store.
func (n NodeHealth) Expired(now time.Time) bool {
	return n.TTLInEpochSec > 0 && now.Unix() >= n.TTLInEpochSec
}

// PingResult pairs the row a ping wrote with the row it replaced.
type PingResult struct {
	Current  NodeHealth
	Previous opt.Option[NodeHealth]
}

// FirstPing reports whether the node had no recorded ping before this one.
func (r PingResult) FirstPing() bool {
	return !r.Previous.IsSome()
}

type nodeKey struct {
	org string
	id  string
}

// DedupeNodeHealth collapses rows describing the same node, keeping the most
// recent ping. Sharded index scans can return a logical row more than once.
// The result is ordered by organization then node id.
func DedupeNodeHealth(rows []NodeHealth) []NodeHealth {
	latest := make(map[nodeKey]NodeHealth, len(rows))
	for _, row := range rows {
		k := nodeKey{org: row.OrganizationName, id: row.ID}
		if prev, ok := latest[k]; ok && !row.LastPing.After(prev.LastPing) {
			continue
		}
		latest[k] = row
	}
	out := make([]NodeHealth, 0, len(latest))
	for _, row := range latest {
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b NodeHealth) int {
		if c := cmp.Compare(a.OrganizationName, b.OrganizationName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
