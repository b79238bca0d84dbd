// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"reflect"
	"testing"
	"time"
)

func edge(g *Graph, src, tgt string) {
	g.AddEdge(src, tgt, RelationDependsOn, ConfidenceCoOccurrence, nil, time.Now())
}

func buildGraph(edges [][2]string) *Graph {
	g := New()
	for _, e := range edges {
		edge(g, e[0], e[1])
	}
	return g
}

func TestEdgeConfidenceNeverDowngrades(t *testing.T) {
	g := New()
	now := time.Now()
	g.AddEdge("A", "B", RelationDependsOn, ConfidenceExplicit, []string{"schedule"}, now)
	g.AddEdge("A", "B", RelationDependsOn, ConfidenceCoOccurrence, []string{"plan"}, now.Add(time.Minute))

	e, ok := g.EdgeBetween("A", "B")
	if !ok {
		t.Fatal("edge missing")
	}
	if e.Confidence != ConfidenceExplicit {
		t.Errorf("confidence downgraded to %s", e.Confidence)
	}
	if _, ok := e.Evidence["schedule"]; !ok {
		t.Errorf("evidence lost")
	}
	if _, ok := e.Evidence["plan"]; !ok {
		t.Errorf("evidence not unioned")
	}
	if !e.LastSeen.After(e.FirstSeen) {
		t.Errorf("last_seen not advanced")
	}
	if g.EdgeCount() != 1 {
		t.Errorf("duplicate edge stored")
	}
}

func TestDescendantsAndAncestors(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}, {"B", "D"}, {"D", "E"}})

	if got := g.Descendants("B"); !reflect.DeepEqual(got, []string{"C", "D", "E"}) {
		t.Errorf("descendants(B) = %v", got)
	}
	if got := g.Ancestors("E"); !reflect.DeepEqual(got, []string{"A", "B", "D"}) {
		t.Errorf("ancestors(E) = %v", got)
	}
	if got := g.Descendants("E"); got != nil {
		t.Errorf("leaf has descendants: %v", got)
	}
}

func TestImpactSeverityBuckets(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}, {"B", "D"}, {"D", "E"}})

	res := ImpactAnalysis(g, "B")
	if res.AffectedCount != 3 || res.Severity != SeverityLow {
		t.Errorf("expected 3/low, got %d/%s", res.AffectedCount, res.Severity)
	}
	if !reflect.DeepEqual(res.AffectedJobs, []string{"C", "D", "E"}) {
		t.Errorf("affected = %v", res.AffectedJobs)
	}

	for _, e := range [][2]string{
		{"D", "F"}, {"E", "G"}, {"G", "H"}, {"H", "I"}, {"I", "J"}, {"J", "K"},
		{"K", "L"}, {"L", "M"}, {"M", "N"}, {"N", "O"}, {"O", "P"},
	} {
		edge(g, e[0], e[1])
	}
	res = ImpactAnalysis(g, "B")
	if res.AffectedCount != 14 || res.Severity != SeverityHigh {
		t.Errorf("expected 14/high, got %d/%s", res.AffectedCount, res.Severity)
	}
}

func TestCriticalPathOnDAG(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}, {"A", "C"}, {"C", "D"}})

	path, cyclic := CriticalPath(g)
	if cyclic {
		t.Fatal("DAG reported cyclic")
	}
	if !reflect.DeepEqual(path, []string{"A", "B", "C", "D"}) {
		t.Errorf("critical path = %v", path)
	}
}

func TestCriticalPathOnCycle(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}, {"C", "A"}})

	path, cyclic := CriticalPath(g)
	if !cyclic || path != nil {
		t.Errorf("expected empty cyclic result, got %v cyclic=%v", path, cyclic)
	}
}

func TestCriticalJobsBetweenness(t *testing.T) {
	// B sits on every A/X -> C/D path, so it dominates the ranking.
	g := buildGraph([][2]string{{"A", "B"}, {"X", "B"}, {"B", "C"}, {"B", "D"}})

	ranked := CriticalJobs(g, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ranked))
	}
	if ranked[0].Job != "B" {
		t.Errorf("expected B on top, got %+v", ranked[0])
	}
	if ranked[0].Betweenness <= ranked[1].Betweenness {
		t.Errorf("ranking not descending: %+v", ranked)
	}
}

func TestDependencyChainDirections(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}})

	if got := DependencyChain(g, "B", DirectionUpstream); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("upstream = %v", got)
	}
	if got := DependencyChain(g, "B", DirectionDownstream); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("downstream = %v", got)
	}
}

func TestSafeJobsSoundness(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}, {"D", "E"}})

	safe := SafeJobs(g, "B")
	for _, j := range safe {
		if j == "B" || j == "C" {
			t.Errorf("safe set contains affected job %s", j)
		}
	}
	if !reflect.DeepEqual(safe, []string{"A", "D", "E"}) {
		t.Errorf("safe = %v", safe)
	}
}

func TestIndependentJobs(t *testing.T) {
	g := buildGraph([][2]string{{"A", "R"}, {"R", "B"}, {"X", "Y"}})

	got := IndependentJobs(g, "R")
	if !reflect.DeepEqual(got, []string{"X", "Y"}) {
		t.Errorf("independent = %v", got)
	}
}

func TestSharedBottlenecks(t *testing.T) {
	// S feeds both J1 and J2; P feeds only J1.
	g := buildGraph([][2]string{{"S", "M1"}, {"S", "M2"}, {"M1", "J1"}, {"M2", "J2"}, {"P", "J1"}})

	got := SharedBottlenecks(g, []string{"J1", "J2"})
	if len(got) != 1 || got[0].Job != "S" || got[0].Count != 2 {
		t.Errorf("bottlenecks = %v", got)
	}
}

func TestResourceConflictRisk(t *testing.T) {
	g := buildGraph([][2]string{
		{"P1", "A"}, {"P1", "B"},
		{"P2", "A"}, {"P2", "B"},
		{"P3", "A"}, {"P3", "B"},
		{"A", "S1"}, {"B", "S1"},
	})

	res := ResourceConflict(g, "A", "B", nil)
	if !reflect.DeepEqual(res.CommonPredecessors, []string{"P1", "P2", "P3"}) {
		t.Errorf("common predecessors = %v", res.CommonPredecessors)
	}
	if !reflect.DeepEqual(res.CommonSuccessors, []string{"S1"}) {
		t.Errorf("common successors = %v", res.CommonSuccessors)
	}
	if res.ConflictRisk != RiskMedium {
		t.Errorf("3 common predecessors should be medium, got %s", res.ConflictRisk)
	}

	// A shared resource raises the bucket one step.
	res = ResourceConflict(g, "A", "B", map[string][]string{
		"A": {"DB_POOL"}, "B": {"DB_POOL", "FS"},
	})
	if res.ConflictRisk != RiskHigh {
		t.Errorf("shared resource should escalate to high, got %s", res.ConflictRisk)
	}
	if !reflect.DeepEqual(res.SharedResources, []string{"DB_POOL"}) {
		t.Errorf("shared resources = %v", res.SharedResources)
	}
}

func TestResourceConflictNone(t *testing.T) {
	g := buildGraph([][2]string{{"A", "X"}, {"B", "Y"}})
	res := ResourceConflict(g, "X", "Y", nil)
	if res.ConflictRisk != RiskNone || len(res.CommonPredecessors) != 0 {
		t.Errorf("expected none, got %+v", res)
	}
}
