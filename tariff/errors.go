/*
errors.go - Pricing-side error taxonomy

PURPOSE:
  Errors raised by rule lookup and by the fixed-fee formulas. All of
  them are row-level: a pricing failure on one contract-month never
  blocks the rest of the batch. The engine records them as Faults and
  leaves the row's amount null.

SEE ALSO:
  - rule.go: Lookup raises RuleLookupError
  - fixed.go: the 4-tier formula raises TierOrderError
  - billing/errors.go: input-side taxonomy (schema, readings)
*/
package tariff

import (
	"errors"
	"fmt"

	"github.com/enerflux/billing-engine/billing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRuleNotFound is returned when no rule covers a tariff formula
	// code at a given date.
	ErrRuleNotFound = errors.New("no tariff rule matches")

	// ErrRuleAmbiguous is returned when several rules cover the same
	// code and date. A validated RuleSet cannot produce it; it guards
	// rule sets built by hand.
	ErrRuleAmbiguous = errors.New("several tariff rules match")

	// ErrConstraintViolation is returned when a 4-tier input breaks the
	// regulatory tier ordering P1 <= P2 <= P3 <= P4. The formula refuses
	// to compute; tiers are never clamped or reordered.
	ErrConstraintViolation = errors.New("tier powers not monotonic")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// RuleLookupError reports a failed rule selection. Matches carries how
// many rules covered the key: 0 for not-found, 2+ for ambiguous.
type RuleLookupError struct {
	FTA     billing.FTA
	Day     billing.Day
	Matches int
}

func (e *RuleLookupError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no tariff rule for %s at %s", e.FTA, e.Day)
	}
	return fmt.Sprintf("%d tariff rules for %s at %s", e.Matches, e.FTA, e.Day)
}

func (e *RuleLookupError) Unwrap() error {
	if e.Matches == 0 {
		return ErrRuleNotFound
	}
	return ErrRuleAmbiguous
}

// TierOrderError reports the offending tiers in regulatory order.
type TierOrderError struct {
	Tiers [4]decimal.Decimal // P1..P4 as supplied
}

func (e *TierOrderError) Error() string {
	return fmt.Sprintf("tier powers not monotonic: P1=%s P2=%s P3=%s P4=%s",
		e.Tiers[0], e.Tiers[1], e.Tiers[2], e.Tiers[3])
}

func (e *TierOrderError) Unwrap() error { return ErrConstraintViolation }
