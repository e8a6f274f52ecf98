// Package report turns a week of activities into the plain-text weekly report.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/joshdurbin/strava-weekly/internal/strava"
)

// Session is an activity with every optional field resolved to its default
type Session struct {
	ID            int64
	Sport         string
	Name          string
	StartLocal    string
	MovingSeconds float64
	Meters        float64
	Elevation     float64
}

// NewSession resolves an activity. Sport falls back from sport_type to type
// to "Unknown", skipping empty values; name defaults to "Activity"; missing
// numbers are zero and a missing start is "".
func NewSession(a strava.Activity) Session {
	return Session{
		ID:            a.ID,
		Sport:         firstNonEmpty(a.SportType, a.Type, "Unknown"),
		Name:          stringOr(a.Name, "Activity"),
		StartLocal:    stringOr(a.StartDateLocal, ""),
		MovingSeconds: floatOr(a.MovingTime),
		Meters:        floatOr(a.Distance),
		Elevation:     floatOr(a.TotalElevationGain),
	}
}

// StartLabel is the start time trimmed to minutes with spaces for any T
func (s Session) StartLabel() string {
	start := []rune(s.StartLocal)
	if len(start) > 16 {
		start = start[:16]
	}
	return strings.ReplaceAll(string(start), "T", " ")
}

// SportAggregate is the weekly total for one sport
type SportAggregate struct {
	Sport          string  `json:"sport"`
	Count          int     `json:"count"`
	TotalSeconds   float64 `json:"total_seconds"`
	TotalMeters    float64 `json:"total_meters"`
	TotalElevation float64 `json:"total_elevation"`
}

// Hours is the summed moving time in hours
func (a SportAggregate) Hours() float64 {
	return a.TotalSeconds / 3600
}

// Meta is the machine-readable side of a report
type Meta struct {
	TotalHours float64                   `json:"total_hours"`
	BySport    map[string]SportAggregate `json:"by_sport"`
}

// Summarize builds the report text and its totals. It never fails: anything
// missing from an activity takes the Session default.
func Summarize(activities []strava.Activity) (string, Meta) {
	sessions := make([]Session, len(activities))
	for i, a := range activities {
		sessions[i] = NewSession(a)
	}

	bySport := make(map[string]SportAggregate)
	var order []string
	var totalSeconds float64

	for _, s := range sessions {
		agg, ok := bySport[s.Sport]
		if !ok {
			agg.Sport = s.Sport
			order = append(order, s.Sport)
		}
		agg.Count++
		agg.TotalSeconds += s.MovingSeconds
		agg.TotalMeters += s.Meters
		agg.TotalElevation += s.Elevation
		bySport[s.Sport] = agg
		totalSeconds += s.MovingSeconds
	}

	// Ties keep first-seen order
	sort.SliceStable(order, func(i, j int) bool {
		return bySport[order[i]].TotalSeconds > bySport[order[j]].TotalSeconds
	})

	lines := []string{
		fmt.Sprintf("# Weekly report (%d activities)", len(activities)),
		"",
		fmt.Sprintf("Total training time: %.2f hours", totalSeconds/3600),
		"",
	}

	for _, sport := range order {
		agg := bySport[sport]
		lines = append(lines, fmt.Sprintf("- %s: %dx, %.2f h, %.1f km, %d m elevation",
			sport, agg.Count, agg.Hours(), agg.TotalMeters/1000, int64(math.RoundToEven(agg.TotalElevation))))
	}

	sorted := make([]Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartLocal < sorted[j].StartLocal
	})

	lines = append(lines, "", "## Sessions")
	for _, s := range sorted {
		lines = append(lines, fmt.Sprintf("- %s | %s: %.1f km, %.0f min | %s",
			s.StartLabel(), s.Sport, s.Meters/1000, s.MovingSeconds/60, s.Name))
	}

	text := strings.TrimSpace(strings.Join(lines, "\n")) + "\n"

	return text, Meta{
		TotalHours: totalSeconds / 3600,
		BySport:    bySport,
	}
}

func firstNonEmpty(primary, secondary *string, fallback string) string {
	if primary != nil && *primary != "" {
		return *primary
	}
	if secondary != nil && *secondary != "" {
		return *secondary
	}
	return fallback
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
