package model

import (
	"fmt"
	"time"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
)

// DateLayout is the wire format of report date filters.
const DateLayout = "2006-01-02"

// ReportType selects the grouping used by the assembly engine.
type ReportType string

const (
	ByEmployee ReportType = "by_employee"
	ByActivity ReportType = "by_activity"
	ByGroup    ReportType = "by_group"
)

// Format is the output encoding of a report.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ContentType returns the MIME type served on download.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Strategy names accepted as a forced override.
const (
	StrategySequential        = "sequential"
	StrategyParallelStreaming = "parallel_streaming"
)

// ReportRequest carries the user filters for one report.
type ReportRequest struct {
	From         string     `json:"from,omitempty"`
	To           string     `json:"to,omitempty"`
	EmployeeID   string     `json:"employee_id,omitempty"`
	OfficeID     string     `json:"office_id,omitempty"`
	DepartmentID string     `json:"department_id,omitempty"`
	ReportType   ReportType `json:"report_type"`
	Format       Format     `json:"format"`
	Strategy     string     `json:"strategy,omitempty"`
}

// Normalize fills defaults for omitted enum fields.
func (r *ReportRequest) Normalize() {
	if r.ReportType == "" {
		r.ReportType = ByEmployee
	}
	if r.Format == "" {
		r.Format = FormatXLSX
	}
}

// Validate rejects malformed filters before any remote call is made.
func (r ReportRequest) Validate() error {
	switch r.ReportType {
	case ByEmployee, ByActivity, ByGroup:
	default:
		return apperror.New(apperror.CodeValidation, fmt.Sprintf("unknown report type %q", r.ReportType))
	}
	switch r.Format {
	case FormatXLSX, FormatCSV:
	default:
		return apperror.New(apperror.CodeValidation, fmt.Sprintf("unknown format %q", r.Format))
	}
	switch r.Strategy {
	case "", StrategySequential, StrategyParallelStreaming:
	default:
		return apperror.New(apperror.CodeValidation, fmt.Sprintf("unknown strategy %q", r.Strategy))
	}
	var from, to time.Time
	var err error
	if r.From != "" {
		if from, err = time.Parse(DateLayout, r.From); err != nil {
			return apperror.New(apperror.CodeDateValidation, "from must be formatted as YYYY-MM-DD")
		}
	}
	if r.To != "" {
		if to, err = time.Parse(DateLayout, r.To); err != nil {
			return apperror.New(apperror.CodeDateValidation, "to must be formatted as YYYY-MM-DD")
		}
	}
	if r.From != "" && r.To != "" && from.After(to) {
		return apperror.New(apperror.CodeDateValidation, "from must not be after to")
	}
	return nil
}

// Days returns the inclusive number of days covered by the filter. ok is false
// when either bound is missing or unparsable.
func (r ReportRequest) Days() (days int, ok bool) {
	from, err := time.Parse(DateLayout, r.From)
	if err != nil {
		return 0, false
	}
	to, err := time.Parse(DateLayout, r.To)
	if err != nil {
		return 0, false
	}
	return int(to.Sub(from).Hours()/24) + 1, true
}

// Scoped reports whether the request narrows the company to an office or
// department.
func (r ReportRequest) Scoped() bool {
	return r.OfficeID != "" || r.DepartmentID != ""
}

// RowFlag marks rows carrying a data quality issue.
type RowFlag string

const (
	FlagNone             RowFlag = ""
	FlagNegativeDuration RowFlag = "negative_duration"
	FlagOpenEntry        RowFlag = "open_entry"
)

// ReportRow is one logical spreadsheet row. Total rows summarize the group
// that precedes them.
type ReportRow struct {
	Employee   string
	IDType     string
	IDNumber   string
	Date       string
	Activity   string
	Group      string
	Start      string
	End        string
	Duration   string
	Seconds    int64
	Total      bool
	EntryCount int
	Flag       RowFlag
}
