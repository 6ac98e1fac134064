package entity

import (
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// Schedule describes an optional recurrence for a template. Time is "HH:MM"
// wall-clock in Timezone; DayOfWeek uses 0=Sunday..6=Saturday.
type Schedule struct {
	Enabled    bool       `json:"enabled"`
	Frequency  Frequency  `json:"frequency,omitempty"`
	DayOfWeek  int        `json:"dayOfWeek,omitempty"`
	DayOfMonth int        `json:"dayOfMonth,omitempty"`
	Time       string     `json:"time,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
}

type Permission string

const (
	PermissionView Permission = "view"
	PermissionUse  Permission = "use"
	PermissionEdit Permission = "edit"
)

type Grant struct {
	GranteeID  string     `json:"granteeId"`
	Permission Permission `json:"permission"`
}

type TemplateStats struct {
	TimesUsed   int        `json:"timesUsed"`
	LastUsed    *time.Time `json:"lastUsed,omitempty"`
	SuccessRate int        `json:"successRate"`
}

// Template is a saved, reusable export spec, optionally recurring.
type Template struct {
	ID          uuid.UUID     `json:"id"`
	Owner       string        `json:"owner"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Spec        ExportSpec    `json:"spec"`
	Schedule    Schedule      `json:"schedule"`
	Sharing     []Grant       `json:"sharing"`
	Stats       TemplateStats `json:"stats"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// GrantFor returns the grant for a grantee, if any.
func (t *Template) GrantFor(granteeID string) (Grant, bool) {
	for _, g := range t.Sharing {
		if g.GranteeID == granteeID {
			return g, true
		}
	}
	return Grant{}, false
}
