package billing

import "fmt"

// ValidateEvents checks the input contract of the event stream before
// any stage runs. A violation means the caller's contract is broken, so
// the first one aborts the whole run rather than faulting single rows.
func ValidateEvents(events []ContractEvent) error {
	for i, ev := range events {
		if err := validateEvent(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

func validateEvent(ev ContractEvent) error {
	switch {
	case ev.PDL == "":
		return &SchemaError{Field: "pdl", Reason: "empty"}
	case ev.Ref == "":
		return &SchemaError{Field: "ref", Reason: "empty"}
	case ev.Date.IsZero():
		return &SchemaError{Field: "date", Reason: "missing"}
	case ev.Type == "":
		return &SchemaError{Field: "type", Reason: "empty"}
	case ev.Power.IsNegative():
		return &SchemaError{Field: "power", Reason: fmt.Sprintf("negative subscribed power %s", ev.Power)}
	}
	if ev.CalendarID != "" {
		if _, ok := BandsForCalendar(ev.CalendarID); !ok {
			return &SchemaError{Field: "calendar_id", Reason: fmt.Sprintf("unknown distributor calendar %q", ev.CalendarID)}
		}
	}
	if ev.TierPowers != nil {
		for i, p := range ev.TierPowers.Slice() {
			if p.IsNegative() {
				return &SchemaError{Field: "tier_powers", Reason: fmt.Sprintf("negative tier power P%d = %s", i+1, p)}
			}
		}
	}
	return nil
}
