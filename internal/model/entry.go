package model

import "time"

// EntryTypeWork marks a regular clock-in as opposed to a pause.
const EntryTypeWork = "work"

// WorkEntry is one clock-in/clock-out interval as returned by the HR API.
// Start is nil when the upstream record never got a clock-in; such entries
// cannot be placed on a timeline and are skipped by assembly.
type WorkEntry struct {
	ID            string
	EmployeeID    string
	EmployeeName  string
	IDType        string
	IDNumber      string
	Group         string
	EntryType     string
	BreakID       string
	Start         *time.Time
	End           *time.Time
	WorkedSeconds *int64
	SourcePage    int
}

// StartsBefore orders entries chronologically; entries without a start sort
// last so a merge never loses them before assembly decides what to do.
func (e WorkEntry) StartsBefore(other WorkEntry) bool {
	switch {
	case e.Start == nil:
		return false
	case other.Start == nil:
		return true
	}
	return e.Start.Before(*other.Start)
}

// ActivityType is a cached check type (activity) keyed by its remote id.
type ActivityType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Employee is the subset of the remote employee record needed for filters.
type Employee struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IDNumber  string `json:"id_number,omitempty"`
	IDType    string `json:"id_type,omitempty"`
}

// Named is an office or department.
type Named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
