package tariff_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enerflux/billing-engine/billing"
	"github.com/enerflux/billing-engine/tariff"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Shared by every test file of the package.

func day(y int, m time.Month, d int) billing.Day { return billing.NewDay(y, m, d) }

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func bands(pairs ...any) billing.BandValues {
	var v billing.BandValues
	for i := 0; i+1 < len(pairs); i += 2 {
		v.SetValue(pairs[i].(billing.Band), decimal.NewFromFloat(pairs[i+1].(float64)))
	}
	return v
}

// testRules builds a small table with three flat codes and one 4-tier
// code, valid 2023-08-01 to 2025-12-31.
func testRules(t *testing.T) *tariff.RuleSet {
	t.Helper()

	start := day(2023, time.August, 1)
	end := day(2025, time.December, 31)

	set, err := tariff.NewRuleSet([]tariff.Rule{
		{
			FTA: "BTINFCUST", Start: start, End: end,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: tariff.Flat{B: dec(9.96)},
			Rates: bands(billing.BandBase, 4.37),
		},
		{
			FTA: "BTINFCU4", Start: start, End: end,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: tariff.Flat{B: dec(9.00)},
			Rates: bands(billing.BandHPH, 6.67, billing.BandHCH, 4.56, billing.BandHPB, 1.43, billing.BandHCB, 0.88),
		},
		{
			FTA: "BTINFMU4", Start: start, End: end,
			Cg: dec(15.48), Cc: dec(19.92),
			Shape: tariff.Flat{B: dec(10.56)},
			Rates: bands(billing.BandHPH, 6.12, billing.BandHCH, 4.24, billing.BandHPB, 1.39, billing.BandHCB, 0.87),
		},
		{
			FTA: "BTSUPCU4", Start: start, End: end,
			Cg: dec(37.80), Cc: dec(55.32),
			Shape: tariff.FourTier{B1: dec(15.24), B2: dec(13.87), B3: dec(11.55), B4: dec(10.14)},
			Rates: bands(billing.BandHPH, 6.91, billing.BandHCH, 4.21, billing.BandHPB, 2.13, billing.BandHCB, 1.52),
			CMDPS: decimal.NewNullDecimal(dec(12.41)),
		},
	})
	if err != nil {
		t.Fatalf("building test rules: %v", err)
	}
	return set
}

// =============================================================================
// RULE SELECTION
// =============================================================================

func TestRuleSet_Lookup_SelectsByCodeAndDate(t *testing.T) {
	// GIVEN: a table with one version per code
	// WHEN: looking up a code on a covered day
	// THEN: that code's rule comes back

	rules := testRules(t)

	rule, err := rules.Lookup("BTINFCUST", day(2024, time.June, 1))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if rule.FTA != "BTINFCUST" {
		t.Errorf("wrong rule selected: %s", rule.FTA)
	}
	if !rule.Cg.Equal(dec(15.48)) {
		t.Errorf("wrong version selected, cg = %s", rule.Cg)
	}
}

func TestRuleSet_Lookup_UnknownCode_RuleNotFound(t *testing.T) {
	rules := testRules(t)

	_, err := rules.Lookup("HTA5", day(2024, time.June, 1))
	if !errors.Is(err, tariff.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}

	var lookupErr *tariff.RuleLookupError
	if !errors.As(err, &lookupErr) {
		t.Fatal("expected a RuleLookupError")
	}
	if lookupErr.Matches != 0 {
		t.Errorf("expected zero matches, got %d", lookupErr.Matches)
	}
}

func TestRuleSet_Lookup_BeforeFirstVersion_RuleNotFound(t *testing.T) {
	rules := testRules(t)

	_, err := rules.Lookup("BTINFCUST", day(2023, time.July, 31))
	if !errors.Is(err, tariff.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound before the first version, got %v", err)
	}
}

func TestSelectRule_OverlappingVersions_RuleAmbiguous(t *testing.T) {
	// Raw, unvalidated slices can carry overlapping versions; selection
	// reports the ambiguity instead of picking one by position.
	overlapping := []tariff.Rule{
		{FTA: "BTINFCUST", Start: day(2024, time.January, 1), Shape: tariff.Flat{B: dec(9.96)}},
		{FTA: "BTINFCUST", Start: day(2024, time.June, 1), Shape: tariff.Flat{B: dec(10.44)}},
	}

	_, err := tariff.SelectRule(overlapping, "BTINFCUST", day(2024, time.July, 1))
	if !errors.Is(err, tariff.ErrRuleAmbiguous) {
		t.Fatalf("expected ErrRuleAmbiguous, got %v", err)
	}

	var lookupErr *tariff.RuleLookupError
	if !errors.As(err, &lookupErr) {
		t.Fatal("expected a RuleLookupError")
	}
	if lookupErr.Matches != 2 {
		t.Errorf("expected two matches, got %d", lookupErr.Matches)
	}
}

// =============================================================================
// RULE SET VALIDATION
// =============================================================================

func TestNewRuleSet_OverlappingVersions_Rejected(t *testing.T) {
	_, err := tariff.NewRuleSet([]tariff.Rule{
		{FTA: "BTINFCUST", Start: day(2024, time.January, 1), Shape: tariff.Flat{B: dec(9.96)}},
		{FTA: "BTINFCUST", Start: day(2024, time.June, 1), Shape: tariff.Flat{B: dec(10.44)}},
	})
	if err == nil {
		t.Fatal("expected overlapping versions to be rejected")
	}
	if !strings.Contains(err.Error(), "overlapping") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestNewRuleSet_AdjacentVersions_Accepted(t *testing.T) {
	// A version ending exactly where the next starts is not an overlap.
	_, err := tariff.NewRuleSet([]tariff.Rule{
		{FTA: "BTINFCUST", Start: day(2024, time.January, 1), End: day(2024, time.June, 1), Shape: tariff.Flat{B: dec(9.96)}},
		{FTA: "BTINFCUST", Start: day(2024, time.June, 1), Shape: tariff.Flat{B: dec(10.44)}},
	})
	if err != nil {
		t.Fatalf("adjacent versions should be accepted: %v", err)
	}
}

func TestNewRuleSet_MalformedRules_Rejected(t *testing.T) {
	cases := []struct {
		name string
		rule tariff.Rule
	}{
		{"empty code", tariff.Rule{Start: day(2024, time.January, 1), Shape: tariff.Flat{B: dec(9)}}},
		{"no shape", tariff.Rule{FTA: "BTINFCUST", Start: day(2024, time.January, 1)}},
		{"no start", tariff.Rule{FTA: "BTINFCUST", Shape: tariff.Flat{B: dec(9)}}},
		{"end before start", tariff.Rule{
			FTA: "BTINFCUST", Start: day(2024, time.June, 1), End: day(2024, time.January, 1),
			Shape: tariff.Flat{B: dec(9)},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tariff.NewRuleSet([]tariff.Rule{tc.rule}); err == nil {
				t.Error("expected the rule to be rejected")
			}
		})
	}
}

func TestRule_Covers_OpenEnd(t *testing.T) {
	rule := tariff.Rule{FTA: "BTINFCUST", Start: day(2024, time.November, 1), Shape: tariff.Flat{B: dec(10.44)}}

	if rule.Covers(day(2024, time.October, 31)) {
		t.Error("must not cover days before the version start")
	}
	if !rule.Covers(day(2024, time.November, 1)) {
		t.Error("must cover the version start day")
	}
	if !rule.Covers(day(2099, time.December, 31)) {
		t.Error("an open-ended version must cover the far future")
	}
}

// =============================================================================
// BUILT-IN CATALOG
// =============================================================================

func TestDefaultRules_VersionBoundary(t *testing.T) {
	rules := tariff.DefaultRules()

	before, err := rules.Lookup("BTINFCUST", day(2024, time.October, 31))
	if err != nil {
		t.Fatalf("lookup before the boundary: %v", err)
	}
	after, err := rules.Lookup("BTINFCUST", day(2024, time.November, 1))
	if err != nil {
		t.Fatalf("lookup on the boundary: %v", err)
	}

	if !before.Cg.Equal(dec(15.48)) {
		t.Errorf("expected the v1 rule before the boundary, cg = %s", before.Cg)
	}
	if !after.Cg.Equal(dec(16.20)) {
		t.Errorf("expected the v2 rule from the boundary, cg = %s", after.Cg)
	}
}

func TestDefaultRules_CoversAllCodes(t *testing.T) {
	rules := tariff.DefaultRules()
	asOf := day(2025, time.January, 15)

	for _, fta := range []billing.FTA{
		"BTINFCUST", "BTINFMUDT", "BTINFCU4", "BTINFMU4", "BTINFCUMP", "BTSUPCUST", "BTSUPCU4",
	} {
		rule, err := rules.Lookup(fta, asOf)
		if err != nil {
			t.Errorf("%s: %v", fta, err)
			continue
		}

		_, fourTier := rule.Shape.(tariff.FourTier)
		if fourTier != rule.CMDPS.Valid {
			t.Errorf("%s: only 4-tier rules carry an overrun rate", fta)
		}
	}
}

func TestDefaultRules_ActiveAt_OneVersionPerCode(t *testing.T) {
	active := tariff.DefaultRules().ActiveAt(day(2025, time.January, 15))

	seen := map[billing.FTA]bool{}
	for _, r := range active {
		if seen[r.FTA] {
			t.Errorf("code %s active twice", r.FTA)
		}
		seen[r.FTA] = true
	}
	if len(active) != 7 {
		t.Errorf("expected 7 active rules, got %d", len(active))
	}
}
