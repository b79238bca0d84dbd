// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"sort"
	"sync"
)

// SafeJobs returns every node that is neither failingJob nor one of its
// descendants: the jobs a failure cannot reach.
func SafeJobs(g *Graph, failingJob string) []string {
	excluded := map[string]struct{}{failingJob: {}}
	for _, d := range g.Descendants(failingJob) {
		excluded[d] = struct{}{}
	}
	var out []string
	for _, n := range g.Nodes() {
		if _, skip := excluded[n]; !skip {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// IndependentJobs returns the nodes with no path to or from resource.
func IndependentJobs(g *Graph, resource string) []string {
	connected := map[string]struct{}{resource: {}}
	for _, n := range g.Ancestors(resource) {
		connected[n] = struct{}{}
	}
	for _, n := range g.Descendants(resource) {
		connected[n] = struct{}{}
	}
	var out []string
	for _, n := range g.Nodes() {
		if _, skip := connected[n]; !skip {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Bottleneck is a shared upstream dependency of several jobs.
type Bottleneck struct {
	Job   string `json:"job"`
	Count int    `json:"count"`
}

// SharedBottlenecks returns the nodes that are ancestors of at least two
// of the given jobs, ordered by how many jobs depend on them.
func SharedBottlenecks(g *Graph, jobs []string) []Bottleneck {
	counts := make(map[string]int)
	for _, job := range jobs {
		for _, anc := range g.Ancestors(job) {
			counts[anc]++
		}
	}
	var out []Bottleneck
	for job, c := range counts {
		if c >= 2 {
			out = append(out, Bottleneck{Job: job, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Job < out[j].Job
	})
	return out
}

// ConflictRisk buckets the likelihood that two jobs contend.
type ConflictRisk string

const (
	RiskNone   ConflictRisk = "none"
	RiskLow    ConflictRisk = "low"
	RiskMedium ConflictRisk = "medium"
	RiskHigh   ConflictRisk = "high"
)

func riskForCount(n int) ConflictRisk {
	switch {
	case n == 0:
		return RiskNone
	case n <= 2:
		return RiskLow
	case n <= 5:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func escalate(r ConflictRisk) ConflictRisk {
	switch r {
	case RiskNone:
		return RiskLow
	case RiskLow:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ConflictResult reports the shared neighborhood of two jobs.
type ConflictResult struct {
	CommonPredecessors []string     `json:"common_predecessors"`
	CommonSuccessors   []string     `json:"common_successors"`
	SharedResources    []string     `json:"shared_resources,omitempty"`
	ConflictRisk       ConflictRisk `json:"conflict_risk"`
}

// ResourceConflict intersects the predecessor and successor sets of a and
// b. Risk is derived from the common-predecessor count; when resources
// lists both jobs' resources, any shared resource raises the bucket one
// step.
func ResourceConflict(g *Graph, a, b string, resources map[string][]string) ConflictResult {
	res := ConflictResult{
		CommonPredecessors: intersect(g.Ancestors(a), g.Ancestors(b)),
		CommonSuccessors:   intersect(g.Descendants(a), g.Descendants(b)),
	}
	res.ConflictRisk = riskForCount(len(res.CommonPredecessors))

	if resources != nil {
		shared := intersect(resources[a], resources[b])
		if len(shared) > 0 {
			res.SharedResources = shared
			res.ConflictRisk = escalate(res.ConflictRisk)
		}
	}
	return res
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, x := range b {
		if _, ok := set[x]; ok {
			if _, dup := seen[x]; !dup {
				seen[x] = struct{}{}
				out = append(out, x)
			}
		}
	}
	sort.Strings(out)
	return out
}

// VerificationResult is the answer to an edge-verification query.
type VerificationResult struct {
	Confidence Confidence `json:"-"`
	Class      string     `json:"confidence"`
	Evidence   []string   `json:"evidence,omitempty"`
	Path       []string   `json:"path,omitempty"`
}

// Verifier keeps the set of operator-confirmed dependencies. Verified
// edges are the only ones strong enough to support transitive inference;
// co-occurrence in a graph never is.
type Verifier struct {
	mu       sync.RWMutex
	verified map[[2]string]map[string]struct{}
}

// NewVerifier returns an empty verifier.
func NewVerifier() *Verifier {
	return &Verifier{verified: make(map[[2]string]map[string]struct{})}
}

// RegisterVerifiedDependency marks source→target as EXPLICIT and unions
// the supplied evidence. Registration is permanent: an explicit edge
// never downgrades.
func (v *Verifier) RegisterVerifiedDependency(source, target string, evidence []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := [2]string{source, target}
	set, ok := v.verified[key]
	if !ok {
		set = make(map[string]struct{})
		v.verified[key] = set
	}
	for _, ev := range evidence {
		set[ev] = struct{}{}
	}
}

// VerifyDependency classifies source→target:
//
//   - EXPLICIT when the edge was registered, with its evidence;
//   - INFERRED when a path of EXPLICIT edges connects the two, with the
//     derivation path;
//   - CO_OCCURRENCE when both nodes appear in g without a supporting path;
//   - UNKNOWN otherwise.
func (v *Verifier) VerifyDependency(g *Graph, source, target string) VerificationResult {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if set, ok := v.verified[[2]string{source, target}]; ok {
		out := VerificationResult{Confidence: ConfidenceExplicit, Class: ConfidenceExplicit.String()}
		for ev := range set {
			out.Evidence = append(out.Evidence, ev)
		}
		sort.Strings(out.Evidence)
		return out
	}

	if path := v.explicitPath(source, target); path != nil {
		return VerificationResult{
			Confidence: ConfidenceInferred,
			Class:      ConfidenceInferred.String(),
			Path:       path,
		}
	}

	if g != nil && g.HasNode(source) && g.HasNode(target) {
		return VerificationResult{Confidence: ConfidenceCoOccurrence, Class: ConfidenceCoOccurrence.String()}
	}
	return VerificationResult{Confidence: ConfidenceUnknown, Class: ConfidenceUnknown.String()}
}

// explicitPath finds a path from source to target over registered edges
// only. Caller holds at least the read lock.
func (v *Verifier) explicitPath(source, target string) []string {
	adj := make(map[string][]string)
	for key := range v.verified {
		adj[key[0]] = append(adj[key[0]], key[1])
	}

	prev := map[string]string{source: ""}
	queue := []string{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target && cur != source {
			break
		}
		next := adj[cur]
		sort.Strings(next)
		for _, n := range next {
			if _, seen := prev[n]; seen {
				continue
			}
			prev[n] = cur
			queue = append(queue, n)
		}
	}

	if _, ok := prev[target]; !ok || source == target {
		return nil
	}
	var path []string
	for cur := target; cur != source; cur = prev[cur] {
		path = append(path, cur)
	}
	path = append(path, source)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
