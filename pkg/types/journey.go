package types

import (
	"fmt"
	"time"
)

// TokenRecord is the persisted OAuth state for one subject (a Strava athlete).
type TokenRecord struct {
	SubjectID        string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	JourneyStartDate Date

	// NotificationTokens are FCM device tokens used to tell the subject that
	// re-authorization is required. Never touched by a refresh.
	NotificationTokens []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentials returns the three fields a refresh replaces.
func (r *TokenRecord) Credentials() Credentials {
	return Credentials{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
	}
}

// Credentials is the unit of atomic replacement on refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token must be refreshed at now.
// skew moves the deadline earlier; zero means refresh exactly when now >= expires_at.
func (c Credentials) Expired(now time.Time, skew time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// MilestoneEntry is one row of the milestone table. Threshold is in miles.
type MilestoneEntry struct {
	Threshold float64
	Label     string
}

// Activity is the subset of a provider activity the journey needs.
type Activity struct {
	ID          int64
	Name        string
	SportType   string
	StartLocal  time.Time // provider-local wall clock, zone is not meaningful
	Distance    float64   // meters
	Description string
}

// StartDate is the calendar date the activity started on, in provider-local time.
func (a *Activity) StartDate() Date {
	return DateOf(a.StartLocal)
}

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}
