package utils

import "time"

// Cameroon local time (WAT, +01:00), used for anything shown to users.
var doualaLoc = func() *time.Location {
	if loc, err := time.LoadLocation("Africa/Douala"); err == nil {
		return loc
	}
	return time.FixedZone("WAT", 1*3600)
}()

// Clock returns the current instant. Services take one so tests can move time.
type Clock func() time.Time

// SystemClock is UTC so stored timestamps compare consistently across drivers.
func SystemClock() time.Time { return time.Now().UTC() }

func Days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func FormatDisplayLocal(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(doualaLoc).Format("02/01/2006 15:04")
}
