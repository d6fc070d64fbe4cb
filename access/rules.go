// Package access stores per-collection access control rules and
// policies. Rules select captures by canonical URL prefix and date
// predicates; the policy a rule points at names the access points the
// capture remains visible to.
package access

import (
	"strings"
	"time"
)

// Date is a calendar day. It marshals as "2006-01-02" in rule JSON.
type Date struct {
	time.Time
}

const dateFormat = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateFormat) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		// tolerate full timestamps from older clients
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	d.Time = t
	return nil
}

// DateRange is a half-open interval [Start, End). A nil bound is
// unbounded on that side.
type DateRange struct {
	Start *Date `json:"start,omitempty"`
	End   *Date `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range. A nil range
// contains every time.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && t.Before(r.Start.Time) {
		return false
	}
	if r.End != nil && !t.Before(r.End.Time) {
		return false
	}
	return true
}

// Period is a relative span after the capture date during which a
// rule applies, e.g. an embargo of {Years: 3}.
type Period struct {
	Years  int `json:"years,omitempty"`
	Months int `json:"months,omitempty"`
	Days   int `json:"days,omitempty"`
}

// IsZero reports whether the period has no extent.
func (p *Period) IsZero() bool {
	return p == nil || (p.Years == 0 && p.Months == 0 && p.Days == 0)
}

// Rule matches captures by SURT prefix and date predicates and binds
// them to a policy. A zero ID marks a rule not yet stored. Unknown
// JSON fields in stored rows are ignored when loading.
type Rule struct {
	ID       uint64     `json:"id,omitempty"`
	PolicyID uint64     `json:"policyId"`
	Surts    []string   `json:"surts"`
	Captured *DateRange `json:"captured,omitempty"`
	Accessed *DateRange `json:"accessed,omitempty"`
	Period   *Period    `json:"period,omitempty"`
}

// matchesDates reports whether the rule applies to a capture taken at
// captured when accessed at the given time. All configured predicates
// must hold.
func (r *Rule) matchesDates(captured, accessed time.Time) bool {
	if !r.Captured.Contains(captured) {
		return false
	}
	if !r.Accessed.Contains(accessed) {
		return false
	}
	if !r.Period.IsZero() {
		until := captured.AddDate(r.Period.Years, r.Period.Months, r.Period.Days)
		if !accessed.Before(until) {
			return false
		}
	}
	return true
}

// Policy names the set of access points its captures remain visible
// to. A capture governed by a rule is visible at access point A iff
// the rule's policy lists A.
type Policy struct {
	ID           uint64   `json:"id,omitempty"`
	Name         string   `json:"name"`
	AccessPoints []string `json:"accessPoints"`
}

func (p *Policy) allows(accessPoint string) bool {
	for _, a := range p.AccessPoints {
		if a == accessPoint {
			return true
		}
	}
	return false
}
