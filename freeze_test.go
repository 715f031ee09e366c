package pdp

import (
	"testing"
	"time"
)

func freezeConfig() ([]FreezeWindow, map[string][]string) {
	windows := []FreezeWindow{
		{Name: "weekend", Kind: WindowWeekend, Scope: "prod", Timezone: "UTC"},
		{
			Name:  "year-end",
			Kind:  WindowHoliday,
			Scope: "prod",
			Start: time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			Name:          "after-hours",
			Kind:          WindowAfterHours,
			Scope:         "prod",
			BusinessStart: 9,
			BusinessEnd:   18,
			Timezone:      "UTC",
		},
	}
	roles := map[string][]string{"prod": {"sre-lead", "release-manager"}}
	return windows, roles
}

func TestFreezeWeekendBlocks(t *testing.T) {
	windows, roles := freezeConfig()
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	res := EvaluateFreeze(windows, roles, nil, saturday)
	if !res.Blocked || res.Window != "weekend" {
		t.Fatalf("expected weekend block, got blocked=%v window=%s", res.Blocked, res.Window)
	}
}

func TestFreezeBusinessHoursClear(t *testing.T) {
	windows, roles := freezeConfig()
	wednesday := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	res := EvaluateFreeze(windows, roles, nil, wednesday)
	if res.Blocked {
		t.Fatalf("weekday business hours should not block, got window %s", res.Window)
	}
}

func TestFreezeHolidayRange(t *testing.T) {
	windows, roles := freezeConfig()
	// Dec 28 2026 is a Monday inside the holiday range, during business hours.
	inside := time.Date(2026, 12, 28, 12, 0, 0, 0, time.UTC)
	res := EvaluateFreeze(windows, roles, nil, inside)
	if !res.Blocked || res.Window != "year-end" {
		t.Fatalf("expected holiday block, got blocked=%v window=%s", res.Blocked, res.Window)
	}
}

func TestFreezeOverrideLiftsWeekend(t *testing.T) {
	windows, roles := freezeConfig()
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-1",
		Scope:      "prod",
		Reason:     "maintenance: quarterly patching",
		ApprovedBy: []string{"sre-lead"},
		ExpiresAt:  saturday.Add(time.Hour),
	}
	res := EvaluateFreeze(windows, roles, token, saturday)
	if res.Blocked {
		t.Fatalf("valid override should lift the weekend window, got window %s", res.Window)
	}
}

func TestFreezeAfterHoursRejectsMaintenanceReason(t *testing.T) {
	windows, roles := freezeConfig()
	lateTuesday := time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-2",
		Scope:      "prod",
		Reason:     "maintenance: index rebuild",
		ApprovedBy: []string{"sre-lead"},
		ExpiresAt:  lateTuesday.Add(time.Hour),
	}
	res := EvaluateFreeze(windows, roles, token, lateTuesday)
	if !res.Blocked || res.Window != "after-hours" {
		t.Fatalf("maintenance reason must not lift after-hours, got blocked=%v window=%s", res.Blocked, res.Window)
	}

	token.Reason = "incident: sev1 outage INC-4432"
	res = EvaluateFreeze(windows, roles, token, lateTuesday)
	if res.Blocked {
		t.Fatalf("incident reason should lift after-hours, got window %s", res.Window)
	}
}

func TestFreezeReleaseReasonLiftsAfterHours(t *testing.T) {
	windows, roles := freezeConfig()
	lateTuesday := time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-3",
		Scope:      "prod",
		Reason:     "release: approved hotfix 4.2.1",
		ApprovedBy: []string{"release-manager"},
		ExpiresAt:  lateTuesday.Add(time.Hour),
	}
	res := EvaluateFreeze(windows, roles, token, lateTuesday)
	if res.Blocked {
		t.Fatalf("release reason should lift after-hours, got window %s", res.Window)
	}
}

func TestFreezeExpiredOverride(t *testing.T) {
	windows, roles := freezeConfig()
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-4",
		Scope:      "prod",
		Reason:     "incident: sev1",
		ApprovedBy: []string{"sre-lead"},
		ExpiresAt:  saturday.Add(-time.Minute),
	}
	res := EvaluateFreeze(windows, roles, token, saturday)
	if !res.Blocked {
		t.Fatalf("expired override must be treated as absent")
	}
}

func TestFreezeOverrideRoleMustMatchScope(t *testing.T) {
	windows, roles := freezeConfig()
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-5",
		Scope:      "prod",
		Reason:     "incident: sev1",
		ApprovedBy: []string{"developer"},
		ExpiresAt:  saturday.Add(time.Hour),
	}
	res := EvaluateFreeze(windows, roles, token, saturday)
	if !res.Blocked {
		t.Fatalf("override approved by the wrong roles must not lift the window")
	}
}

func TestFreezeAfterHoursCoversWeekendEvenings(t *testing.T) {
	windows := []FreezeWindow{{
		Name:          "after-hours",
		Kind:          WindowAfterHours,
		Scope:         "prod",
		BusinessStart: 9,
		BusinessEnd:   18,
		Timezone:      "UTC",
	}}
	saturdayNoon := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	res := EvaluateFreeze(windows, nil, nil, saturdayNoon)
	if res.Blocked {
		t.Fatalf("saturday noon is inside business hours, got window %s", res.Window)
	}

	saturdayNight := time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)
	res = EvaluateFreeze(windows, nil, nil, saturdayNight)
	if !res.Blocked || res.Window != "after-hours" {
		t.Fatalf("after-hours applies on weekend evenings too, got blocked=%v window=%s", res.Blocked, res.Window)
	}
}

func TestFreezeMaintenanceOverrideLiftsWeekendButNotAfterHours(t *testing.T) {
	windows, roles := freezeConfig()
	saturdayNight := time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)
	token := &OverrideToken{
		ID:         "ovr-6",
		Scope:      "prod",
		Reason:     "maintenance: cert rotation",
		ApprovedBy: []string{"sre-lead"},
		ExpiresAt:  saturdayNight.Add(time.Hour),
	}
	res := EvaluateFreeze(windows, roles, token, saturdayNight)
	if !res.Blocked || res.Window != "after-hours" {
		t.Fatalf("maintenance lifts the weekend window only, got blocked=%v window=%s", res.Blocked, res.Window)
	}

	token.Reason = "incident: sev1 outage INC-9001"
	res = EvaluateFreeze(windows, roles, token, saturdayNight)
	if res.Blocked {
		t.Fatalf("incident reason lifts both windows, got window %s", res.Window)
	}
}
