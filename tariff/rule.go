/*
rule.go - TURPE rule table and rule selection

PURPOSE:
  A Rule is one dated version of the grid-access tariff for one tariff
  formula code (FTA). The fixed fee comes in two structural variants,
  resolved once when the rule is built, never by probing fields at
  pricing time:

    Flat     - single subscribed power, annual = b*P + cg + cc
    FourTier - four seasonal powers P1..P4 under the regulatory
               ordering P1 <= P2 <= P3 <= P4

  A RuleSet holds the whole reference table. NewRuleSet rejects
  overlapping date ranges for one code, which makes Lookup
  deterministic: at most one rule covers (code, day).

RULES:
  1. Selection is by code and date-range containment:
     start <= day < end. An open end is treated as 2100-01-01.
  2. Zero matches is RuleNotFound, two or more is RuleAmbiguous.
     Both are row-level faults, never a batch abort.
  3. The table is immutable for the duration of a run.

SEE ALSO:
  - fixed.go: fixed-fee and overrun formulas
  - variable.go: per-cadran consumption pricing
  - catalog.go: the built-in versioned rule table
*/
package tariff

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// ruleHorizon stands in for the end of an open-ended rule version.
var ruleHorizon = billing.NewDay(2100, time.January, 1)

// =============================================================================
// FIXED-FEE SHAPE - Tagged variant, one per rule
// =============================================================================

// Shape is the structural variant of a rule's fixed fee. The two
// implementations live in fixed.go.
type Shape interface {
	// annualPowerPart returns the power-dependent part of the annual
	// fixed fee in euros, before cg and cc.
	annualPowerPart(power decimal.Decimal, tiers *billing.TierPowers) (decimal.Decimal, error)
}

// Flat is the single-power fixed fee of C5 supplies.
type Flat struct {
	B decimal.Decimal // €/kVA/year
}

// FourTier is the seasonal fixed fee of C4 supplies. Coefficients are
// ordered like the tiers: winter peak, winter off-peak, summer peak,
// summer off-peak.
type FourTier struct {
	B1 decimal.Decimal // €/kVA/year, applies to P1
	B2 decimal.Decimal // applies to P2 - P1
	B3 decimal.Decimal // applies to P3 - P2
	B4 decimal.Decimal // applies to P4 - P3
}

// =============================================================================
// RULE - One dated tariff version for one code
// =============================================================================

// Rule is one row of the TURPE reference table.
type Rule struct {
	FTA   billing.FTA
	Start billing.Day
	End   billing.Day // zero means open-ended

	Cg decimal.Decimal // annual management component, €
	Cc decimal.Decimal // annual metering component, €

	Shape Shape

	// Rates are the variable coefficients per cadran, in c€/kWh. A null
	// cell means the rule does not price that cadran.
	Rates billing.BandValues

	// CMDPS is the power-overrun rate in €/h. Only 4-tier rules carry
	// one; it stays null on flat rules.
	CMDPS decimal.NullDecimal
}

// effectiveEnd is the exclusive end of the rule's validity.
func (r Rule) effectiveEnd() billing.Day {
	if r.End.IsZero() {
		return ruleHorizon
	}
	return r.End
}

// Covers reports whether the rule applies on the given day.
func (r Rule) Covers(day billing.Day) bool {
	return day.AfterOrEqual(r.Start) && day.Before(r.effectiveEnd())
}

// =============================================================================
// RULE SET - The loaded reference table
// =============================================================================

// RuleSet is an immutable tariff reference table.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates the table: every rule needs a code, a shape and
// a well-formed range, and two versions of one code must not overlap.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	byCode := make(map[billing.FTA][]Rule)
	for i, r := range rules {
		if r.FTA == "" {
			return nil, fmt.Errorf("rule %d: empty tariff formula code", i)
		}
		if r.Shape == nil {
			return nil, fmt.Errorf("rule %d (%s): no fixed-fee shape", i, r.FTA)
		}
		if r.Start.IsZero() {
			return nil, fmt.Errorf("rule %d (%s): missing start date", i, r.FTA)
		}
		if !r.End.IsZero() && !r.Start.Before(r.End) {
			return nil, fmt.Errorf("rule %d (%s): end %s not after start %s", i, r.FTA, r.End, r.Start)
		}
		byCode[r.FTA] = append(byCode[r.FTA], r)
	}

	for code, versions := range byCode {
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].Start.Before(versions[j].Start)
		})
		for i := 1; i < len(versions); i++ {
			if versions[i].Start.Before(versions[i-1].effectiveEnd()) {
				return nil, fmt.Errorf("overlapping rule versions for %s at %s",
					code, versions[i].Start)
			}
		}
	}

	set := &RuleSet{rules: make([]Rule, len(rules))}
	copy(set.rules, rules)
	return set, nil
}

// Lookup selects the one rule covering (code, day).
func (s *RuleSet) Lookup(fta billing.FTA, day billing.Day) (Rule, error) {
	return SelectRule(s.rules, fta, day)
}

// SelectRule picks the one rule covering (code, day) from an arbitrary
// slice. On a validated RuleSet the ambiguous case cannot happen; on a
// raw slice it can, and is reported rather than resolved by position.
func SelectRule(rules []Rule, fta billing.FTA, day billing.Day) (Rule, error) {
	var found Rule
	matches := 0
	for _, r := range rules {
		if r.FTA == fta && r.Covers(day) {
			found = r
			matches++
		}
	}
	if matches != 1 {
		return Rule{}, &RuleLookupError{FTA: fta, Day: day, Matches: matches}
	}
	return found, nil
}

// Rules returns a copy of the whole table.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ActiveAt returns the versions in force on the given day, sorted by
// code.
func (s *RuleSet) ActiveAt(day billing.Day) []Rule {
	var out []Rule
	for _, r := range s.rules {
		if r.Covers(day) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FTA < out[j].FTA })
	return out
}

// =============================================================================
// RULE SOURCE - Boundary to the persistence layer
// =============================================================================

// RuleSource loads the tariff reference table. The caller treats the
// result as static for the duration of one pipeline run.
type RuleSource interface {
	TariffRules(ctx context.Context) ([]Rule, error)
}
