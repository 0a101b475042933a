package usecase

import (
	"testing"

	"github.com/kirillkom/agrirag/internal/core/domain"
)

func TestNormalizeCooperative(t *testing.T) {
	cases := map[string]string{
		"Leads Agri":              "leads",
		"  LEADS AGRICULTURE ":    "leads",
		"Sunrise Cooperative":     "sunrise",
		"Bayanihan Coop":          "bayanihan",
		"Leads Agri Coop":         "leads agri",
		"OtherCoop":               "othercoop",
		"   ":                     "",
		"Agri":                    "agri",
		"Northern Agriculture Co": "northern agriculture co",
	}
	for in, want := range cases {
		if got := normalizeCooperative(in); got != want {
			t.Fatalf("normalizeCooperative(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestIsolateByCooperativeKeepsOnlyTenant(t *testing.T) {
	in := []domain.SearchResult{
		result("1", 0.9, map[string]any{"cooperative": "Leads Agri"}),
		result("2", 0.8, map[string]any{"cooperative": "OtherCoop"}),
		result("3", 0.7, map[string]any{"cooperative": "LEADS"}),
		result("4", 0.6, map[string]any{}),
		result("5", 0.5, map[string]any{"cooperative": " coop"}),
	}

	out, dropped, err := IsolateByCooperative(in, "Leads")
	if err != nil {
		t.Fatalf("IsolateByCooperative() error = %v", err)
	}
	got := ids(out)
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Fatalf("expected [1 3], got %v", got)
	}
	if dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
}

func TestIsolateByCooperativeRejectsBlankTenant(t *testing.T) {
	in := []domain.SearchResult{result("1", 0.9, map[string]any{"cooperative": "Leads"})}
	for _, coop := range []string{"", "   "} {
		_, _, err := IsolateByCooperative(in, coop)
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("cooperative %q: expected ErrInvalidInput, got %v", coop, err)
		}
	}
}

func TestIsolationNeverLeaksAcrossTenants(t *testing.T) {
	docs := []domain.SearchResult{
		result("leads", 0.9, map[string]any{"cooperative": "Leads Agri"}),
		result("sunrise", 0.8, map[string]any{"cooperative": "Sunrise Cooperative"}),
		result("bayan", 0.7, map[string]any{"cooperative": "Bayanihan Coop"}),
	}
	tenants := map[string]string{
		"Leads":     "leads",
		"Sunrise":   "sunrise",
		"Bayanihan": "bayan",
	}
	for tenant, own := range tenants {
		out, _, err := IsolateByCooperative(docs, tenant)
		if err != nil {
			t.Fatalf("tenant %s: unexpected error %v", tenant, err)
		}
		for _, r := range out {
			if r.ID != own {
				t.Fatalf("tenant %s received foreign document %s", tenant, r.ID)
			}
		}
		if len(out) != 1 {
			t.Fatalf("tenant %s: expected own document only, got %v", tenant, ids(out))
		}
	}
}

func TestIsolatePointsShortNameOverMatch(t *testing.T) {
	// Containment runs both ways, so a one-letter tenant matches longer names.
	points := []domain.ScoredPoint{
		point("1", 0.5, map[string]any{"cooperative": "AgriCorp"}),
	}
	out, err := IsolatePoints(points, "A")
	if err != nil {
		t.Fatalf("IsolatePoints() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected documented short-name over-match, got %d points", len(out))
	}
}
