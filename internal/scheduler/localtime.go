package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"nudge/internal/types"
)

// LocalTime is a recipient's wall clock resolved from UTC "now". DateISO is
// the recipient's local calendar date, not the server's — the digest dedupe
// key depends on "today" meaning the recipient's today.
type LocalTime struct {
	Hour         int
	Minute       int
	MinutesOfDay int
	DayAbbrev    string // "Mon".."Sun"
	DateISO      string // "2006-01-02"
}

// TimeResolver converts UTC instants into recipient-local wall clock values
// and evaluates quiet-hours windows. Resolution never fails: an unknown
// timezone identifier falls back to UTC and is logged, never surfaced to
// callers.
type TimeResolver struct {
	logger *slog.Logger
}

// NewTimeResolver creates a TimeResolver. A nil logger falls back to
// slog.Default().
func NewTimeResolver(logger *slog.Logger) *TimeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeResolver{logger: logger}
}

// LocalAt resolves now into the wall clock of the given IANA timezone.
func (r *TimeResolver) LocalAt(tz string, now time.Time) LocalTime {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.logger.Warn("unknown timezone, falling back to UTC",
			"timezone", tz,
			"error", err,
		)
		loc = time.UTC
	}

	local := now.In(loc)
	return LocalTime{
		Hour:         local.Hour(),
		Minute:       local.Minute(),
		MinutesOfDay: local.Hour()*60 + local.Minute(),
		DayAbbrev:    local.Format("Mon"),
		DateISO:      local.Format("2006-01-02"),
	}
}

// QuietHours reports whether now falls inside the user's configured quiet
// window, evaluated in the user's timezone. Disabled quiet hours are never
// quiet. A start later than the end means the window spans midnight
// (22:00-08:00: quiet when now >= start OR now < end); otherwise it is a
// same-day window (quiet when start <= now < end). A malformed HH:MM value
// disables the window rather than blocking delivery.
func (r *TimeResolver) QuietHours(prefs *types.NotificationPrefs, now time.Time) bool {
	if prefs == nil || !prefs.QuietHoursEnabled {
		return false
	}

	start, err := parseTimeOfDay(prefs.QuietStart)
	if err != nil {
		r.logger.Warn("invalid quiet hours start, ignoring quiet hours",
			"user_id", prefs.UserID,
			"quiet_start", prefs.QuietStart,
			"error", err,
		)
		return false
	}
	end, err := parseTimeOfDay(prefs.QuietEnd)
	if err != nil {
		r.logger.Warn("invalid quiet hours end, ignoring quiet hours",
			"user_id", prefs.UserID,
			"quiet_end", prefs.QuietEnd,
			"error", err,
		)
		return false
	}

	nowMinutes := r.LocalAt(prefs.Timezone, now).MinutesOfDay

	if start > end {
		// Overnight window, e.g. 22:00-08:00.
		return nowMinutes >= start || nowMinutes < end
	}
	// Same-day window, e.g. 13:00-14:00.
	return nowMinutes >= start && nowMinutes < end
}

// parseTimeOfDay parses a "HH:MM" string into minutes since midnight.
// The input must be exactly in HH:MM format (5 characters). Trailing content
// is rejected to prevent ambiguity.
func parseTimeOfDay(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	var hour, minute int
	n, err := fmt.Sscanf(s, "%d:%d", &hour, &minute)
	if err != nil || n != 2 {
		return 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, fmt.Errorf("minute %d out of range [0,59]", minute)
	}
	return hour*60 + minute, nil
}

// minuteDistance returns the circular distance in minutes between two
// minutes-of-day values, so 23:55 and 00:05 are 10 minutes apart, not 1430.
// The digest time match uses this to stay correct across midnight.
func minuteDistance(a, b int) int {
	const dayMinutes = 24 * 60
	d := a - b
	if d < 0 {
		d = -d
	}
	if wrap := dayMinutes - d; wrap < d {
		return wrap
	}
	return d
}
