// SPDX-License-Identifier: Apache-2.0
package graph

import (
	"reflect"
	"testing"
)

func TestVerifyExplicit(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}})
	v := NewVerifier()
	v.RegisterVerifiedDependency("A", "B", []string{"schedule-def"})

	res := v.VerifyDependency(g, "A", "B")
	if res.Confidence != ConfidenceExplicit {
		t.Fatalf("expected EXPLICIT, got %s", res.Class)
	}
	if !reflect.DeepEqual(res.Evidence, []string{"schedule-def"}) {
		t.Errorf("evidence = %v", res.Evidence)
	}

	// Re-registration unions evidence and stays EXPLICIT.
	v.RegisterVerifiedDependency("A", "B", []string{"operator"})
	res = v.VerifyDependency(g, "A", "B")
	if res.Confidence != ConfidenceExplicit || len(res.Evidence) != 2 {
		t.Errorf("expected unioned explicit, got %+v", res)
	}
}

func TestVerifyInferredRequiresExplicitChain(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}, {"B", "C"}})
	v := NewVerifier()
	v.RegisterVerifiedDependency("A", "B", nil)

	// B→C only co-occurs, so A→C cannot be inferred.
	res := v.VerifyDependency(g, "A", "C")
	if res.Confidence != ConfidenceCoOccurrence {
		t.Fatalf("expected CO_OCCURRENCE, got %s", res.Class)
	}

	v.RegisterVerifiedDependency("B", "C", nil)
	res = v.VerifyDependency(g, "A", "C")
	if res.Confidence != ConfidenceInferred {
		t.Fatalf("expected INFERRED, got %s", res.Class)
	}
	if !reflect.DeepEqual(res.Path, []string{"A", "B", "C"}) {
		t.Errorf("derivation path = %v", res.Path)
	}
}

func TestVerifyUnknownOutsideScope(t *testing.T) {
	g := buildGraph([][2]string{{"A", "B"}})
	v := NewVerifier()

	res := v.VerifyDependency(g, "A", "Z")
	if res.Confidence != ConfidenceUnknown {
		t.Errorf("expected UNKNOWN, got %s", res.Class)
	}
	if res := v.VerifyDependency(nil, "A", "B"); res.Confidence != ConfidenceUnknown {
		t.Errorf("nil graph should be UNKNOWN, got %s", res.Class)
	}
}

func TestExplicitNeverDowngrades(t *testing.T) {
	v := NewVerifier()
	v.RegisterVerifiedDependency("A", "B", []string{"e1"})

	// Queries against graphs that do not contain the edge still see it.
	empty := New()
	res := v.VerifyDependency(empty, "A", "B")
	if res.Confidence != ConfidenceExplicit {
		t.Errorf("registration must persist across scopes, got %s", res.Class)
	}
}
