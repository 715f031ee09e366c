package pdp

import (
	"strings"
	"time"
)

// WindowKind classifies a freeze window.
type WindowKind string

const (
	WindowWeekend    WindowKind = "weekend"
	WindowHoliday    WindowKind = "holiday"
	WindowAfterHours WindowKind = "after_hours"
)

// FreezeWindow is one configured change-freeze range. Weekend windows cover
// Saturday and Sunday in the window's timezone; holiday windows cover a
// date range; after-hours windows block outside [BusinessStart,BusinessEnd)
// local hours on every day, so a weekend evening can sit inside both a
// weekend and an after-hours window at once.
type FreezeWindow struct {
	Name          string     `json:"name" yaml:"name"`
	Kind          WindowKind `json:"kind" yaml:"kind"`
	Scope         string     `json:"scope" yaml:"scope"`
	Start         time.Time  `json:"start,omitempty" yaml:"start,omitempty"` // holiday range
	End           time.Time  `json:"end,omitempty" yaml:"end,omitempty"`
	BusinessStart int        `json:"business_start,omitempty" yaml:"business_start,omitempty"` // hour, after-hours kind
	BusinessEnd   int        `json:"business_end,omitempty" yaml:"business_end,omitempty"`
	Timezone      string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Active reports whether the window covers the given instant.
func (w *FreezeWindow) Active(now time.Time) bool {
	loc := now.Location()
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	switch w.Kind {
	case WindowWeekend:
		wd := local.Weekday()
		return wd == time.Saturday || wd == time.Sunday
	case WindowHoliday:
		if w.Start.IsZero() || w.End.IsZero() {
			return false
		}
		return !local.Before(w.Start) && local.Before(w.End)
	case WindowAfterHours:
		h := local.Hour()
		return h < w.BusinessStart || h >= w.BusinessEnd
	}
	return false
}

// FreezeResult is the freeze-window slice of a decision.
type FreezeResult struct {
	Blocked bool
	Reason  string
	Window  string
	Trace   []string
}

// Override reason categories accepted during after-hours windows. A bare
// maintenance justification is enough for weekend and holiday windows but
// never for after-hours; that asymmetry is deliberate.
func reasonCategory(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	if i := strings.IndexByte(r, ':'); i > 0 {
		r = r[:i]
	}
	return r
}

func incidentOrRelease(reason string) bool {
	switch reasonCategory(reason) {
	case "incident", "release":
		return true
	}
	return false
}

// EvaluateFreeze checks the active windows against now and the optional
// override token. Blocked when any active window lacks a valid override:
// the token must not be expired, its approver roles must intersect the
// window scope's required roles, and for after-hours windows the reason
// must be categorically an incident or release justification.
func EvaluateFreeze(windows []FreezeWindow, overrideRoles map[string][]string, token *OverrideToken, now time.Time) *FreezeResult {
	out := &FreezeResult{}
	for i := range windows {
		w := &windows[i]
		if !w.Active(now) {
			out.Trace = append(out.Trace, "window "+w.Name+": inactive")
			continue
		}
		if overrideLifts(w, overrideRoles, token, now) {
			out.Trace = append(out.Trace, "window "+w.Name+": lifted by override "+token.ID)
			continue
		}
		out.Blocked = true
		out.Reason = ReasonFreezeWindow
		if out.Window == "" {
			out.Window = w.Name
		}
		out.Trace = append(out.Trace, "window "+w.Name+": BLOCKED")
	}
	return out
}

func overrideLifts(w *FreezeWindow, overrideRoles map[string][]string, token *OverrideToken, now time.Time) bool {
	if token == nil || token.IsExpired(now) {
		return false
	}
	required := overrideRoles[w.Scope]
	if len(required) == 0 || !rolesIntersect(token.ApprovedBy, required) {
		return false
	}
	if w.Kind == WindowAfterHours && !incidentOrRelease(token.Reason) {
		return false
	}
	return token.Reason != ""
}

func rolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
