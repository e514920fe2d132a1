package service

import (
	"fmt"
	"strconv"
	"strings"
)

// Year-level labels are operator-entered free text ("3rd Year", "Grade 11"),
// so track rules match tokens case-insensitively anywhere in the label. Each
// track is an ordered ladder with its terminal rung first, so a label that
// somehow carries several tokens resolves to the terminal rule.
type ladderRung struct {
	token string
	next  string
}

var tertiaryLadder = []ladderRung{
	{token: "4th", next: ""},
	{token: "3rd", next: "4th Year"},
	{token: "2nd", next: "3rd Year"},
	{token: "1st", next: "2nd Year"},
}

var seniorHighLadder = []ladderRung{
	{token: "12", next: ""},
	{token: "11", next: "Grade 12"},
}

func matchRung(ladder []ladderRung, yearLevel string) (ladderRung, bool) {
	normalized := strings.ToLower(yearLevel)
	for _, rung := range ladder {
		if strings.Contains(normalized, rung.token) {
			return rung, true
		}
	}
	return ladderRung{}, false
}

func ladderFor(course, strand string) []ladderRung {
	if course != "" {
		return tertiaryLadder
	}
	if strand != "" {
		return seniorHighLadder
	}
	return nil
}

// IsFinalYear reports whether the member sits on the terminal rung of their
// track. A member with neither course nor strand has no track and is never
// final year.
func IsFinalYear(yearLevel, course, strand string) bool {
	ladder := ladderFor(course, strand)
	if ladder == nil {
		return false
	}
	rung, ok := matchRung(ladder, yearLevel)
	return ok && rung.next == ""
}

// NextYearLevel returns the label the member promotes into. The second
// return is false when no promotion applies: the member is on the terminal
// rung, has no track, or carries a label no rule recognises. Callers treat
// that as "cannot auto-promote", not as an error.
func NextYearLevel(yearLevel, course, strand string) (string, bool) {
	ladder := ladderFor(course, strand)
	if ladder == nil {
		return "", false
	}
	rung, ok := matchRung(ladder, yearLevel)
	if !ok || rung.next == "" {
		return "", false
	}
	return rung.next, true
}

// NextAcademicYearLabel derives the label following "<start>-<end>", e.g.
// "2025-2026" becomes "2026-2027". It fails when the label does not parse as
// two integers separated by a single dash; callers must reject the run.
func NextAcademicYearLabel(current string) (string, error) {
	start, end, ok := strings.Cut(current, "-")
	if !ok {
		return "", fmt.Errorf("academic year %q is not in <start>-<end> form", current)
	}
	startYear, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return "", fmt.Errorf("academic year %q has a non-numeric start: %w", current, err)
	}
	endYear, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return "", fmt.Errorf("academic year %q has a non-numeric end: %w", current, err)
	}
	return fmt.Sprintf("%d-%d", startYear+1, endYear+1), nil
}
