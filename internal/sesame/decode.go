package sesame

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

type rawEmployee struct {
	ID                 string `json:"id"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	NID                string `json:"nid"`
	IdentityNumberType string `json:"identityNumberType"`
}

type rawEntryPoint struct {
	Date string `json:"date"`
}

type rawWorkEntry struct {
	ID            string         `json:"id"`
	Employee      rawEmployee    `json:"employee"`
	WorkEntryIn   *rawEntryPoint `json:"workEntryIn"`
	WorkEntryOut  *rawEntryPoint `json:"workEntryOut"`
	WorkEntryType string         `json:"workEntryType"`
	WorkBreakID   *string        `json:"workBreakId"`
	WorkedSeconds *float64       `json:"workedSeconds"`
}

// DecodeWorkEntry converts one raw work entry. Unparsable timestamps are
// treated as missing rather than failing the whole page.
func DecodeWorkEntry(raw json.RawMessage) (model.WorkEntry, error) {
	var r rawWorkEntry
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.WorkEntry{}, fmt.Errorf("decode work entry: %w", err)
	}
	entry := model.WorkEntry{
		ID:           r.ID,
		EmployeeID:   r.Employee.ID,
		EmployeeName: fullName(r.Employee.FirstName, r.Employee.LastName),
		IDType:       r.Employee.IdentityNumberType,
		IDNumber:     r.Employee.NID,
		EntryType:    r.WorkEntryType,
	}
	if entry.IDType == "" {
		entry.IDType = "DNI"
	}
	if r.WorkBreakID != nil {
		entry.BreakID = *r.WorkBreakID
	}
	if r.WorkEntryIn != nil {
		entry.Start = parseTimestamp(r.WorkEntryIn.Date)
	}
	if r.WorkEntryOut != nil {
		entry.End = parseTimestamp(r.WorkEntryOut.Date)
	}
	if r.WorkedSeconds != nil {
		secs := int64(*r.WorkedSeconds)
		entry.WorkedSeconds = &secs
	}
	return entry, nil
}

// DecodeCheckType converts one check type into a cacheable activity type.
func DecodeCheckType(raw json.RawMessage) (model.ActivityType, error) {
	var r struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.ActivityType{}, fmt.Errorf("decode check type: %w", err)
	}
	if r.ID == "" {
		return model.ActivityType{}, fmt.Errorf("decode check type: missing id")
	}
	return model.ActivityType{ID: r.ID, Name: r.Name, Description: r.Description}, nil
}

// DecodeEmployee converts one employee record.
func DecodeEmployee(raw json.RawMessage) (model.Employee, error) {
	var r rawEmployee
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Employee{}, fmt.Errorf("decode employee: %w", err)
	}
	return model.Employee{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		IDNumber:  r.NID,
		IDType:    r.IdentityNumberType,
	}, nil
}

// DecodeNamed converts offices and departments.
func DecodeNamed(raw json.RawMessage) (model.Named, error) {
	var r model.Named
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Named{}, fmt.Errorf("decode named resource: %w", err)
	}
	return r, nil
}

func fullName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		return "Unknown employee"
	}
	return name
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
