/*
cutover.go - Monthly billing cutover synthesis

PURPOSE:
  Generates one synthetic FACTURATION event at each first-of-month between
  a contract's entry and exit, so monthly accounting happens even when no
  real contractual event falls on the boundary.

RULES:
  - entry = date of the first entry event; a reference without an entry
    never receives cutovers
  - exit = date of the last exit event; open contracts are billed up to
    the first of the current month
  - cutovers fall strictly after the entry (the entry reading opens the
    first period) and no later than the exit
  - a reference already carrying a FACTURATION row for a month is not
    given a second one, so re-running the injector is a no-op
  - each synthetic event inherits power, tariff formula and calendar from
    the last preceding real event (forward carry, never interpolation)
*/
package billing

// InjectCutovers returns the event stream merged with the synthetic
// monthly FACTURATION events, sorted in canonical order. The input slice
// is not modified. The output is not yet impact-flagged; run it through
// DetectBreakpoints.
func InjectCutovers(events []ContractEvent, now Day) []ContractEvent {
	merged := make([]ContractEvent, len(events), len(events)+len(events)/2)
	copy(merged, events)

	for _, g := range groupByRef(merged) {
		merged = append(merged, cutoversForRef(g, now)...)
	}

	SortEvents(merged)
	carryContractState(merged)
	return merged
}

// refGroup is one reference's events, in canonical order.
type refGroup struct {
	ref    ContractRef
	events []ContractEvent
}

func groupByRef(events []ContractEvent) []refGroup {
	sorted := make([]ContractEvent, len(events))
	copy(sorted, events)
	SortEvents(sorted)

	var groups []refGroup
	for _, ev := range sorted {
		if len(groups) == 0 || groups[len(groups)-1].ref != ev.Ref {
			groups = append(groups, refGroup{ref: ev.Ref})
		}
		g := &groups[len(groups)-1]
		g.events = append(g.events, ev)
	}
	return groups
}

// cutoversForRef generates the missing FACTURATION events of one
// reference.
func cutoversForRef(g refGroup, now Day) []ContractEvent {
	var entry, exit Day
	var pdl PDL
	existing := map[string]bool{}

	for _, ev := range g.events {
		pdl = ev.PDL
		switch {
		case ev.Type.IsEntry():
			if entry.IsZero() || ev.Date.Before(entry) {
				entry = ev.Date
			}
		case ev.Type.IsExit():
			if ev.Date.After(exit) {
				exit = ev.Date
			}
		case ev.Type.IsCutover():
			existing[ev.Date.MonthKey()] = true
		}
	}

	if entry.IsZero() {
		return nil
	}
	open := exit.IsZero()
	if open {
		exit = now.StartOfMonth()
	}
	if exit.Before(entry) {
		return nil
	}
	// A contract that enters and leaves within one month has no cutover.
	if !open && entry.SameMonth(exit) {
		return nil
	}

	var out []ContractEvent
	for d := entry.NextMonth(); d.BeforeOrEqual(exit); d = d.NextMonth() {
		if existing[d.MonthKey()] {
			continue
		}
		out = append(out, ContractEvent{
			PDL:  pdl,
			Ref:  g.ref,
			Date: d,
			Type: EventFacturation,
			Memo: "Facturation mensuelle",
		})
	}
	return out
}

// carryContractState forward-fills power, tariff formula and calendar
// from the last preceding real event into each synthetic row. Explicit
// last-known-value scan per reference over the sorted stream. Cutovers
// are strictly after the entry event, so a carrier row always exists.
func carryContractState(events []ContractEvent) {
	var ref ContractRef
	var last *ContractEvent
	for i := range events {
		ev := &events[i]
		if ev.Ref != ref {
			ref = ev.Ref
			last = nil
		}
		if ev.Type.IsCutover() {
			if last != nil {
				ev.Power = last.Power
				ev.TierPowers = last.TierPowers
				ev.FTA = last.FTA
				ev.CalendarID = last.CalendarID
			}
			continue
		}
		last = ev
	}
}
