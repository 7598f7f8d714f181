package loop

import (
	"context"
	"math/rand"
	"time"

	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/store"
)

// findCycles enumerates every simple directed cycle that starts and ends at
// the origin account using only edges of the given owing-category. The
// search runs over the reduced index (one edge per anchor), not the full
// ledger, so the graph is small: one node per account with live debt in the
// category, one edge per debtor/creditor pair.
func findCycles(ctx context.Context, tx *store.Tx, originID string, cat ledger.Category, maxLen int) ([][]*ledger.SearchAnchor, error) {
	anchors, err := tx.AnchorsInCategory(ctx, cat)
	if err != nil {
		return nil, err
	}
	if maxLen <= 0 {
		maxLen = len(anchors)
	}

	adj := make(map[string][]*ledger.SearchAnchor)
	for _, a := range anchors {
		adj[a.IssuerID] = append(adj[a.IssuerID], a)
	}

	var (
		cycles  [][]*ledger.SearchAnchor
		path    []*ledger.SearchAnchor
		visited = map[string]bool{}
	)
	var dfs func(nodeID string)
	dfs = func(nodeID string) {
		for _, edge := range adj[nodeID] {
			if edge.AcceptorID == originID {
				cycle := make([]*ledger.SearchAnchor, len(path)+1)
				copy(cycle, path)
				cycle[len(path)] = edge
				cycles = append(cycles, cycle)
				continue
			}
			if visited[edge.AcceptorID] || len(path)+1 >= maxLen {
				continue
			}
			visited[edge.AcceptorID] = true
			path = append(path, edge)
			dfs(edge.AcceptorID)
			path = path[:len(path)-1]
			visited[edge.AcceptorID] = false
		}
	}
	visited[originID] = true
	dfs(originID)
	return cycles, nil
}

// selectCycle applies the netting priority order to the candidate set:
// keep only cycles touching the globally earliest cached due date, then the
// longest by edge count (maximizing debt removed per pass), then a random
// pick among remaining ties.
func selectCycle(cycles [][]*ledger.SearchAnchor, rng *rand.Rand) []*ledger.SearchAnchor {
	earliest := globalEarliestDue(cycles)
	var dueFiltered [][]*ledger.SearchAnchor
	for _, cyc := range cycles {
		if cycleTouchesDue(cyc, earliest) {
			dueFiltered = append(dueFiltered, cyc)
		}
	}

	longest := 0
	for _, cyc := range dueFiltered {
		if len(cyc) > longest {
			longest = len(cyc)
		}
	}
	var candidates [][]*ledger.SearchAnchor
	for _, cyc := range dueFiltered {
		if len(cyc) == longest {
			candidates = append(candidates, cyc)
		}
	}

	if len(candidates) == 1 {
		return candidates[0]
	}
	return candidates[rng.Intn(len(candidates))]
}

func globalEarliestDue(cycles [][]*ledger.SearchAnchor) time.Time {
	var earliest time.Time
	first := true
	for _, cyc := range cycles {
		for _, a := range cyc {
			if first || a.EarliestDue.Before(earliest) {
				earliest = a.EarliestDue
				first = false
			}
		}
	}
	return earliest
}

func cycleTouchesDue(cycle []*ledger.SearchAnchor, due time.Time) bool {
	for _, a := range cycle {
		if a.EarliestDue.Equal(due) {
			return true
		}
	}
	return false
}
