package subscription

import "fmt"

// RenewalPolicy decides how many calendar days an entitling event grants.
// Platforms disagree on where the renewal length comes from, so each one
// is bound to an explicitly named policy.
type RenewalPolicy interface {
	Name() string
	Days(ev Event) (int, error)
}

type cadencePolicy struct{}

// PolicyCadence grants the cadence length. Used for the card processor.
var PolicyCadence RenewalPolicy = cadencePolicy{}

func (cadencePolicy) Name() string { return "cadence" }

func (cadencePolicy) Days(ev Event) (int, error) {
	if d := ev.Cadence.Days(); d > 0 {
		return d, nil
	}
	return 0, fmt.Errorf("%w: cadence %q", ErrUnknownDuration, ev.Cadence)
}

type storedDurationPolicy struct{}

// PolicyStoredDuration grants the catalog product duration, falling back to
// the cadence length. Used for Android.
var PolicyStoredDuration RenewalPolicy = storedDurationPolicy{}

func (storedDurationPolicy) Name() string { return "stored_duration" }

func (storedDurationPolicy) Days(ev Event) (int, error) {
	if ev.DurationDays > 0 {
		return ev.DurationDays, nil
	}
	return PolicyCadence.Days(ev)
}

type storedDurationOrOneDayPolicy struct{}

// PolicyStoredDurationOrOneDay grants the catalog product duration or a
// single day when none is stored. Used for the App Store.
var PolicyStoredDurationOrOneDay RenewalPolicy = storedDurationOrOneDayPolicy{}

func (storedDurationOrOneDayPolicy) Name() string { return "stored_duration_or_one_day" }

func (storedDurationOrOneDayPolicy) Days(ev Event) (int, error) {
	if ev.DurationDays > 0 {
		return ev.DurationDays, nil
	}
	return 1, nil
}

func defaultPolicies() map[Platform]RenewalPolicy {
	return map[Platform]RenewalPolicy{
		PlatformAndroid:  PolicyStoredDuration,
		PlatformAppStore: PolicyStoredDurationOrOneDay,
		PlatformCard:     PolicyCadence,
	}
}
