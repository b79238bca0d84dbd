// SPDX-License-Identifier: Apache-2.0
package graph

import "sort"

// Severity buckets impact by descendant count.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func severityForCount(n int) Severity {
	switch {
	case n > 20:
		return SeverityCritical
	case n > 10:
		return SeverityHigh
	case n > 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ImpactResult is the downstream blast radius of one job.
type ImpactResult struct {
	Job           string   `json:"job"`
	AffectedJobs  []string `json:"affected_jobs"`
	AffectedCount int      `json:"affected_count"`
	Severity      Severity `json:"severity"`
}

// ImpactAnalysis returns the descendants of job with a severity bucket.
func ImpactAnalysis(g *Graph, job string) ImpactResult {
	affected := g.Descendants(job)
	return ImpactResult{
		Job:           job,
		AffectedJobs:  affected,
		AffectedCount: len(affected),
		Severity:      severityForCount(len(affected)),
	}
}

// CriticalPath returns the longest directed path in the graph. A cyclic
// graph has no critical path: the result is empty and cyclic is true so
// the caller can count the event.
func CriticalPath(g *Graph) (path []string, cyclic bool) {
	order, ok := g.topoOrder()
	if !ok {
		return nil, true
	}

	// Longest path by DP over the topological order.
	dist := make([]int, len(g.nodes))
	prev := make([]int, len(g.nodes))
	for i := range prev {
		prev[i] = -1
	}
	for _, u := range order {
		for _, ei := range g.out[u] {
			v := g.edges[ei].Target
			if dist[u]+1 > dist[v] {
				dist[v] = dist[u] + 1
				prev[v] = u
			}
		}
	}

	best := -1
	for i := range dist {
		if best == -1 || dist[i] > dist[best] {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}

	for cur := best; cur != -1; cur = prev[cur] {
		path = append(path, g.nodes[cur])
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, false
}

// CriticalJob is one entry of the betweenness ranking.
type CriticalJob struct {
	Job         string   `json:"job"`
	Betweenness float64  `json:"betweenness"`
	Impact      Severity `json:"impact"`
}

// CriticalJobs ranks nodes by betweenness centrality (Brandes) and
// returns the topN with their impact bucket attached.
func CriticalJobs(g *Graph, topN int) []CriticalJob {
	n := len(g.nodes)
	if n == 0 || topN <= 0 {
		return nil
	}

	bc := make([]float64, n)
	for s := 0; s < n; s++ {
		// BFS from s collecting shortest-path counts.
		sigma := make([]float64, n)
		dist := make([]int, n)
		preds := make([][]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		var stack []int
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, ei := range g.out[v] {
				w := g.edges[ei].Target
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		// Dependency accumulation in reverse finish order.
		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w]
			}
		}
	}

	ranked := make([]CriticalJob, 0, n)
	for i, score := range bc {
		ranked = append(ranked, CriticalJob{
			Job:         g.nodes[i],
			Betweenness: score,
			Impact:      severityForCount(len(g.Descendants(g.nodes[i]))),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Betweenness != ranked[j].Betweenness {
			return ranked[i].Betweenness > ranked[j].Betweenness
		}
		return ranked[i].Job < ranked[j].Job
	})
	if topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return ranked
}

// ChainDirection selects which side of the dependency chain to walk.
type ChainDirection string

const (
	DirectionUpstream   ChainDirection = "upstream"
	DirectionDownstream ChainDirection = "downstream"
)

// DependencyChain returns the ancestors (upstream) or descendants
// (downstream) of job.
func DependencyChain(g *Graph, job string, direction ChainDirection) []string {
	if direction == DirectionUpstream {
		return g.Ancestors(job)
	}
	return g.Descendants(job)
}
