package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFinalYear(t *testing.T) {
	cases := []struct {
		name      string
		yearLevel string
		course    string
		strand    string
		want      bool
	}{
		{"tertiary 4th year", "4th Year", "BSIT", "", true},
		{"tertiary 4th yr abbreviation", "4th yr", "BSCS", "", true},
		{"tertiary 3rd year", "3rd Year", "BSIT", "", false},
		{"tertiary 1st year", "1st Year", "BSIT", "", false},
		{"senior high grade 12", "Grade 12", "", "STEM", true},
		{"senior high g12 shorthand", "G12", "", "ABM", true},
		{"senior high grade 11", "Grade 11", "", "STEM", false},
		{"no track", "3rd Year", "", "", false},
		{"unrecognised label", "Freshman", "BSIT", "", false},
		{"grade 12 label on tertiary track", "Grade 12", "BSIT", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFinalYear(tc.yearLevel, tc.course, tc.strand))
		})
	}
}

func TestNextYearLevel(t *testing.T) {
	cases := []struct {
		name      string
		yearLevel string
		course    string
		strand    string
		want      string
		ok        bool
	}{
		{"tertiary 1st to 2nd", "1st Year", "BSIT", "", "2nd Year", true},
		{"tertiary 2nd to 3rd", "2nd year", "BSIT", "", "3rd Year", true},
		{"tertiary 3rd to 4th", "3rd Year", "BSCS", "", "4th Year", true},
		{"tertiary terminal", "4th Year", "BSIT", "", "", false},
		{"senior high 11 to 12", "Grade 11", "", "STEM", "Grade 12", true},
		{"senior high terminal", "Grade 12", "", "STEM", "", false},
		{"no track", "2nd Year", "", "", "", false},
		{"unrecognised label", "Grade 10", "", "STEM", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextYearLevel(tc.yearLevel, tc.course, tc.strand)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextYearLevelChainTerminates(t *testing.T) {
	// Starting from the bottom rung of either track, repeated promotion
	// must reach the terminal rung in a bounded number of steps.
	level := "1st Year"
	steps := 0
	for {
		next, ok := NextYearLevel(level, "BSIT", "")
		if !ok {
			break
		}
		level = next
		steps++
		require.Less(t, steps, 10, "promotion ladder must terminate")
	}
	assert.Equal(t, "4th Year", level)
	assert.True(t, IsFinalYear(level, "BSIT", ""))

	level = "Grade 11"
	next, ok := NextYearLevel(level, "", "STEM")
	require.True(t, ok)
	assert.Equal(t, "Grade 12", next)
	assert.True(t, IsFinalYear(next, "", "STEM"))
}

func TestNextAcademicYearLabel(t *testing.T) {
	got, err := NextAcademicYearLabel("2024-2025")
	require.NoError(t, err)
	assert.Equal(t, "2025-2026", got)

	got, err = NextAcademicYearLabel("2025-2026")
	require.NoError(t, err)
	assert.Equal(t, "2026-2027", got)

	_, err = NextAcademicYearLabel("2024")
	assert.Error(t, err)

	_, err = NextAcademicYearLabel("SY 2024")
	assert.Error(t, err)

	_, err = NextAcademicYearLabel("abcd-efgh")
	assert.Error(t, err)
}
