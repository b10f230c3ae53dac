package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	m := New()
	m.MatchesSubmitted.Inc()
	m.SessionAssignments.WithLabelValues("venue_change").Add(2)

	if got := testutil.ToFloat64(m.MatchesSubmitted); got != 1 {
		t.Fatalf("expected 1 submitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionAssignments.WithLabelValues("venue_change")); got != 2 {
		t.Fatalf("expected 2 venue changes, got %v", got)
	}
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tracker_matches_submitted_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tracker collector missing from registry")
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.StaleRowsRemoved.Add(3)
	if got := testutil.ToFloat64(b.StaleRowsRemoved); got != 0 {
		t.Fatalf("registries leaked state: %v", got)
	}
}
