package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/enerflux/billing-engine/billing"
)

func TestValidateEvents_ValidStream(t *testing.T) {
	events := []billing.ContractEvent{
		event("R1", day(2024, time.January, 15), billing.EventMES, 6, "BTINFCUST"),
		event("R1", day(2024, time.March, 20), billing.EventRES, 6, "BTINFCUST"),
	}
	if err := billing.ValidateEvents(events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEvents_BrokenContract_SchemaViolation(t *testing.T) {
	base := event("R1", day(2024, time.January, 15), billing.EventMES, 6, "BTINFCUST")

	cases := []struct {
		name  string
		wreck func(*billing.ContractEvent)
	}{
		{"empty pdl", func(ev *billing.ContractEvent) { ev.PDL = "" }},
		{"empty ref", func(ev *billing.ContractEvent) { ev.Ref = "" }},
		{"missing date", func(ev *billing.ContractEvent) { ev.Date = billing.Day{} }},
		{"empty type", func(ev *billing.ContractEvent) { ev.Type = "" }},
		{"negative power", func(ev *billing.ContractEvent) { ev.Power = kva(-3) }},
		{"unknown calendar", func(ev *billing.ContractEvent) { ev.CalendarID = "DI000099" }},
		{"negative tier power", func(ev *billing.ContractEvent) {
			ev.TierPowers = &billing.TierPowers{HPH: kva(-1), HCH: kva(2), HPB: kva(3), HCB: kva(4)}
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev := base
			c.wreck(&ev)
			err := billing.ValidateEvents([]billing.ContractEvent{ev})
			if !errors.Is(err, billing.ErrSchemaViolation) {
				t.Fatalf("expected a schema violation, got %v", err)
			}
		})
	}
}
