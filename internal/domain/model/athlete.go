package model

import "strings"

// unknownAthleteName is used when the profile lacks a first or last name.
const unknownAthleteName = "Unknown Athlete"

// Athlete is the subset of the Strava athlete profile the relay needs.
type Athlete struct {
	ID        string
	FirstName string
	LastName  string
}

// DisplayName returns "First Last", or "Unknown Athlete" when either part is
// missing.
func (a Athlete) DisplayName() string {
	first := strings.TrimSpace(a.FirstName)
	last := strings.TrimSpace(a.LastName)
	if first == "" || last == "" {
		return unknownAthleteName
	}
	return first + " " + last
}
