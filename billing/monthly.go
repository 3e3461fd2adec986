/*
monthly.go - Monthly aggregation and reconciliation

PURPOSE:
  Folds the two period families into one line per (reference, pdl, month)
  and reconciles them with an outer join. Subscription aggregates use a
  day-weighted mean power, which is exactly equivalent to pricing every
  sub-period because the fixed fee is linear in the subscribed power.

RECONCILIATION:
  The join never blocks on a half-empty month: a contract with reading
  gaps still yields its subscription line and vice versa. Partiality is
  bookkept as coverage fractions against the civil month length, not
  inferred downstream. Priced components stay null when the month has no
  basis for them; they are never silently zero.
*/
package billing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ReconcileMonthly groups both period families by (reference, pdl, month
// of the period start), aggregates each side and outer-joins them into
// priceable monthly lines, sorted by (reference, pdl, month).
func ReconcileMonthly(subs []SubscriptionPeriod, energy []EnergyPeriod) []MonthlyAggregate {
	subAgg := map[string]*subMonthly{}
	for _, p := range subs {
		k := monthlyKey(p.Ref, p.PDL, p.Start.MonthKey())
		m, ok := subAgg[k]
		if !ok {
			m = &subMonthly{ref: p.Ref, pdl: p.PDL, month: p.Start.MonthKey()}
			subAgg[k] = m
		}
		m.add(p)
	}

	enAgg := map[string]*energyMonthly{}
	for _, p := range energy {
		k := monthlyKey(p.Ref, p.PDL, p.Start.MonthKey())
		m, ok := enAgg[k]
		if !ok {
			m = &energyMonthly{ref: p.Ref, pdl: p.PDL, month: p.Start.MonthKey(), complete: true}
			enAgg[k] = m
		}
		m.add(p)
	}

	keys := make([]string, 0, len(subAgg)+len(enAgg))
	for k := range subAgg {
		keys = append(keys, k)
	}
	for k := range enAgg {
		if _, dup := subAgg[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]MonthlyAggregate, 0, len(keys))
	for _, k := range keys {
		out = append(out, reconcileOne(subAgg[k], enAgg[k]))
	}
	return out
}

func monthlyKey(ref ContractRef, pdl PDL, month string) string {
	return string(ref) + "|" + string(pdl) + "|" + month
}

// reconcileOne outer-joins the two sides of one (reference, pdl, month)
// key. At least one side is non-nil.
func reconcileOne(sub *subMonthly, en *energyMonthly) MonthlyAggregate {
	var a MonthlyAggregate
	if sub != nil {
		a.Ref, a.PDL, a.Month = sub.ref, sub.pdl, sub.month
	} else {
		a.Ref, a.PDL, a.Month = en.ref, en.pdl, en.month
	}

	if sub != nil {
		a.Start, a.End = sub.start, sub.end
		a.DayCount = sub.days
		a.SubscriptionDays = sub.days
		a.Power = sub.weighted.Div(decimal.NewFromInt(int64(sub.days)))
		a.TierPowers = sub.tiers
		a.FTA = sub.fta
		a.CalendarID = sub.calendar
		a.TurpeFixe = sub.turpe.value()
		a.HasChangementAbo = len(sub.states) > 1
		if a.HasChangementAbo {
			a.Memo = subscriptionMemo(sub.states)
		}
	}

	if en != nil {
		a.EnergyDays = en.days
		a.Energy = en.energy
		a.TurpeVariable = en.turpe.value()
		a.DataComplete = en.complete
		a.HasChangementEnergie = en.count > 1
		a.FTA = FTA(coalesce(string(a.FTA), string(en.fta)))
		a.CalendarID = coalesce(a.CalendarID, en.calendar)
		if sub == nil {
			a.Start, a.End = en.start, en.end
			a.DayCount = a.Start.DaysUntil(a.End)
		}
	}

	a.HasChangement = a.HasChangementAbo || a.HasChangementEnergie
	if first, err := ParseMonthKey(a.Month); err == nil {
		a.MonthLabel = first.MonthLabel()
		month := float64(first.DaysInMonth())
		a.CoverageAbo = float64(a.SubscriptionDays) / month
		a.CoverageEnergie = float64(a.EnergyDays) / month
	}
	return a
}

// subState is one distinct contractual state seen during a month, with
// the days it covered. Distinctness drives the change flag and the memo.
type subState struct {
	power decimal.Decimal
	tiers *TierPowers
	fta   FTA
	days  int
}

type subMonthly struct {
	ref   ContractRef
	pdl   PDL
	month string

	days     int
	weighted decimal.Decimal // sum of power x days
	turpe    nullSum
	fta      FTA
	tiers    *TierPowers
	calendar string
	start    Day
	end      Day
	states   []subState
}

func (m *subMonthly) add(p SubscriptionPeriod) {
	m.days += p.DayCount
	m.weighted = m.weighted.Add(p.Power.Mul(decimal.NewFromInt(int64(p.DayCount))))
	m.turpe.add(p.TurpeFixe)
	if m.fta == "" {
		m.fta = p.FTA
	}
	if m.tiers == nil {
		m.tiers = p.TierPowers
	}
	if m.calendar == "" {
		m.calendar = p.CalendarID
	}
	if m.start.IsZero() || p.Start.Before(m.start) {
		m.start = p.Start
	}
	if p.End.After(m.end) {
		m.end = p.End
	}
	for i := range m.states {
		s := &m.states[i]
		if s.power.Equal(p.Power) && s.fta == p.FTA && !tierPowersChanged(s.tiers, p.TierPowers) {
			s.days += p.DayCount
			return
		}
	}
	m.states = append(m.states, subState{power: p.Power, tiers: p.TierPowers, fta: p.FTA, days: p.DayCount})
}

type energyMonthly struct {
	ref   ContractRef
	pdl   PDL
	month string

	days     int
	count    int
	energy   BandValues
	turpe    nullSum
	fta      FTA
	calendar string
	start    Day
	end      Day
	complete bool
}

func (m *energyMonthly) add(p EnergyPeriod) {
	m.days += p.DayCount
	m.count++
	m.turpe.add(p.TurpeVariable)
	m.complete = m.complete && p.DataComplete
	if m.fta == "" {
		m.fta = p.FTA
	}
	if m.calendar == "" {
		m.calendar = p.CalendarID
	}
	if m.start.IsZero() || p.Start.Before(m.start) {
		m.start = p.Start
	}
	if p.End.After(m.end) {
		m.end = p.End
	}
	for _, b := range AllBands {
		v := p.Energy.Get(b)
		if !v.Valid {
			continue
		}
		if cur := m.energy.Get(b); cur.Valid {
			m.energy.SetValue(b, cur.Decimal.Add(v.Decimal))
		} else {
			m.energy.SetValue(b, v.Decimal)
		}
	}
}

// subscriptionMemo renders the distinct states of a changed month for
// the back office, e.g. "9j à 6kVA, 19j à 9kVA".
func subscriptionMemo(states []subState) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = fmt.Sprintf("%dj à %skVA", s.days, s.power)
	}
	return strings.Join(parts, ", ")
}

// nullSum accumulates nullable decimals: the sum is null until at least
// one valid term arrives.
type nullSum struct {
	total decimal.Decimal
	valid bool
}

func (s *nullSum) add(v decimal.NullDecimal) {
	if v.Valid {
		s.total = s.total.Add(v.Decimal)
		s.valid = true
	}
}

func (s nullSum) value() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: s.total, Valid: s.valid}
}
