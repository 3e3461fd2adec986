/*
detector.go - Breakpoint detection over the contractual history

PURPOSE:
  Flags, per contract event, which aspects of billing state changed since
  the prior event of the same contractual reference. Downstream stages cut
  periods exactly at the flagged rows.

DERIVATION RULES:
  ImpactsEnergy   = changed(calendar) OR meter swap embedded in the event
  ImpactsVariable = ImpactsEnergy OR changed(FTA)
  ImpactsFixed    = changed(power) OR changed(FTA)

  Entry and exit events open and close billing state, so they impact
  everything regardless of field comparison. Billing cutovers impact the
  fixed and energy sides to force month-boundary accounting.

ORDERING:
  Events are ordered by (reference, date, event rank, sequence). The rank
  places same-day events as entry < change < cutover < exit; the sequence
  is the stable ingestion ordinal for equal-rank rows.
*/
package billing

import (
	"fmt"
	"sort"
	"strings"
)

// SortEvents orders events by (reference, date, event rank, sequence),
// the canonical order every per-reference scan relies on.
func SortEvents(events []ContractEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if ra, rb := eventRank(a.Type), eventRank(b.Type); ra != rb {
			return ra < rb
		}
		return a.Seq < b.Seq
	})
}

// DetectBreakpoints returns a sorted copy of the events enriched with the
// three impact flags and a French change memo. Pure per-group scan; the
// input slice is not modified.
func DetectBreakpoints(events []ContractEvent) []ContractEvent {
	out := make([]ContractEvent, len(events))
	copy(out, events)
	SortEvents(out)

	for i := range out {
		ev := &out[i]

		var prev *ContractEvent
		if i > 0 && out[i-1].Ref == ev.Ref {
			prev = &out[i-1]
		}

		powerChanged := prev != nil && (!ev.Power.Equal(prev.Power) || tierPowersChanged(prev.TierPowers, ev.TierPowers))
		ftaChanged := prev != nil && prev.FTA != "" && prev.FTA != ev.FTA
		calendarChanged := prev != nil && prev.CalendarID != "" && ev.CalendarID != "" && prev.CalendarID != ev.CalendarID
		meterSwapped := ev.Before != nil && ev.After != nil && !ev.Before.Equal(*ev.After)

		ev.ImpactsEnergy = calendarChanged || meterSwapped
		ev.ImpactsVariable = ev.ImpactsEnergy || ftaChanged
		ev.ImpactsFixed = powerChanged || ftaChanged

		switch {
		case ev.Type.IsEntry() || ev.Type.IsExit():
			ev.ImpactsFixed = true
			ev.ImpactsEnergy = true
			ev.ImpactsVariable = true
		case ev.Type.IsCutover():
			// Month boundaries bound both period families.
			ev.ImpactsFixed = true
			ev.ImpactsEnergy = true
			ev.ImpactsVariable = true
		}

		if !ev.Type.IsCutover() {
			ev.Memo = changeMemo(prev, ev, powerChanged, ftaChanged, calendarChanged, meterSwapped)
		}
	}

	return out
}

func tierPowersChanged(a, b *TierPowers) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && !a.Equal(*b)
}

// changeMemo renders the human-readable summary of a breakpoint, e.g.
// "P: 6 → 9, FTA: BTINFCUST → BTINFCU4".
func changeMemo(prev, ev *ContractEvent, powerChanged, ftaChanged, calendarChanged, meterSwapped bool) string {
	var parts []string
	if powerChanged {
		parts = append(parts, fmt.Sprintf("P: %s → %s", prev.Power, ev.Power))
	}
	if ftaChanged {
		parts = append(parts, fmt.Sprintf("FTA: %s → %s", prev.FTA, ev.FTA))
	}
	if meterSwapped {
		parts = append(parts, "rupture index")
	}
	if calendarChanged {
		parts = append(parts, fmt.Sprintf("Cal: %s → %s", prev.CalendarID, ev.CalendarID))
	}
	switch {
	case ev.Type.IsEntry():
		parts = append(parts, "entrée dans le périmètre")
	case ev.Type.IsExit():
		parts = append(parts, "sortie du périmètre")
	}
	return strings.Join(parts, ", ")
}
