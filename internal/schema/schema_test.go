package schema

import (
	"strings"
	"testing"
)

func TestContractValidate(t *testing.T) {
	c := Contract{
		Table:    "weekly_panel",
		Required: []string{"week_start", "country", "market", "grade", "price_eur_per_l"},
		Optional: []string{"usd_per_eur"},
	}

	if err := c.Validate([]string{"week_start", "country", "market", "grade", "price_eur_per_l"}); err != nil {
		t.Errorf("Validate(complete) = %v, want nil", err)
	}

	err := c.Validate([]string{"week_start", "country", "price_eur_per_l"})
	if err == nil {
		t.Fatal("Validate(incomplete) = nil, want error")
	}
	for _, col := range []string{"market", "grade"} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("error %q does not name missing column %q", err, col)
		}
	}

	// Missing optional columns are fine.
	if err := c.Validate([]string{"week_start", "country", "market", "grade", "price_eur_per_l"}); err != nil {
		t.Errorf("Validate without optional = %v, want nil", err)
	}
}

func TestResolve(t *testing.T) {
	header := []string{"week_start", "eurusd", "notes"}
	cols := []Column{
		{Canonical: "week_start", Candidates: []string{"week_start", "date"}},
		{Canonical: "usd_per_eur", Candidates: []string{"usd_per_eur", "value", "eurusd", "eur_usd"}},
		{Canonical: "fbx", Candidates: []string{"fbx_global", "fbx"}},
	}

	got := Resolve(header, cols)
	if got["week_start"] != 0 {
		t.Errorf("week_start index = %d, want 0", got["week_start"])
	}
	if got["usd_per_eur"] != 1 {
		t.Errorf("usd_per_eur index = %d, want 1 (eurusd candidate)", got["usd_per_eur"])
	}
	if _, ok := got["fbx"]; ok {
		t.Error("fbx resolved but no candidate present")
	}
}

func TestResolveCandidateOrder(t *testing.T) {
	// Both candidates present: the earlier candidate wins, not header order.
	header := []string{"value", "usd_per_eur"}
	cols := []Column{{Canonical: "usd_per_eur", Candidates: []string{"usd_per_eur", "value"}}}
	got := Resolve(header, cols)
	if got["usd_per_eur"] != 1 {
		t.Errorf("usd_per_eur index = %d, want 1", got["usd_per_eur"])
	}
}

func TestNormalizeHeader(t *testing.T) {
	in := []string{"Member State", " MFN Ad Val Rate ", "price_eur_per_l", "HTS8"}
	want := []string{"member_state", "mfn_ad_val_rate", "price_eur_per_l", "hts8"}
	got := NormalizeHeader(in)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeHeader[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
