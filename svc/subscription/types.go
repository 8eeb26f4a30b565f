package subscription

import (
	"fmt"
	"strings"
)

// Status is the canonical subscription status shared by every platform.
type Status string

const (
	StatusFreemium Status = "FREEMIUM"
	StatusTrial    Status = "TRIAL"
	StatusPremium  Status = "PREMIUM"
)

// Statuses lists every canonical status.
var Statuses = []Status{StatusFreemium, StatusTrial, StatusPremium}

func (s Status) Valid() bool {
	switch s {
	case StatusFreemium, StatusTrial, StatusPremium:
		return true
	}
	return false
}

// Entitled reports whether the status grants premium content access.
func (s Status) Entitled() bool {
	return s == StatusTrial || s == StatusPremium
}

func (s Status) String() string { return string(s) }

// Cadence is a billing interval.
type Cadence string

const (
	CadenceOneDay     Cadence = "ONE_DAY"
	CadenceWeekly     Cadence = "WEEKLY"
	CadenceMonthly    Cadence = "MONTHLY"
	CadenceQuarterly  Cadence = "QUARTERLY"
	CadenceSemiannual Cadence = "SEMIANNUAL"
	CadenceAnnual     Cadence = "ANNUAL"
)

// Days returns the calendar-day length of one billing period, or 0 for an
// unknown cadence.
func (c Cadence) Days() int {
	switch c {
	case CadenceOneDay:
		return 1
	case CadenceWeekly:
		return 7
	case CadenceMonthly:
		return 30
	case CadenceQuarterly:
		return 90
	case CadenceSemiannual:
		return 180
	case CadenceAnnual:
		return 365
	}
	return 0
}

// ParseCadence accepts canonical names case-insensitively, plus the
// compact spellings used by store price nicknames ("ONEDAY", "SEMI_ANNUAL").
func ParseCadence(s string) (Cadence, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	switch normalized {
	case "ONEDAY", "DAILY", "ONE-DAY":
		return CadenceOneDay, nil
	case "SEMI_ANNUAL", "SEMI-ANNUAL", "BIANNUAL":
		return CadenceSemiannual, nil
	case "YEARLY":
		return CadenceAnnual, nil
	}
	c := Cadence(normalized)
	if c.Days() == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
	}
	return c, nil
}

// Platform identifies the payment platform an event came from.
type Platform string

const (
	PlatformAndroid  Platform = "android"
	PlatformAppStore Platform = "app_store"
	PlatformCard     Platform = "card"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformAndroid, PlatformAppStore, PlatformCard:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

// AccountKind distinguishes subscription owners from dependents.
type AccountKind string

const (
	KindGuardian  AccountKind = "guardian"
	KindDependent AccountKind = "dependent"
)

func (k AccountKind) Valid() bool {
	return k == KindGuardian || k == KindDependent
}

// SingleIdentity reports whether an account may hold at most one external
// id on the platform. Android purchase tokens are per purchase, so an
// account collects many of them.
func (p Platform) SingleIdentity() bool {
	return p == PlatformAppStore || p == PlatformCard
}
