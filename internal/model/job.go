// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// JobStatus describes the report generation lifecycle. Transitions only move
// forward: pending -> processing -> completed | error | cancelled.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job can still be cancelled.
func (s JobStatus) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// Progress is the pagination snapshot the fetch stage publishes while a job
// runs.
type Progress struct {
	CurrentPage        int  `json:"current_page"`
	TotalPages         int  `json:"total_pages"`
	CurrentRecords     int  `json:"current_records"`
	TotalRecords       int  `json:"total_records"`
	PaginationComplete bool `json:"pagination_complete"`
}

// ReportJob tracks one asynchronous report request.
type ReportJob struct {
	ID       string        `json:"id"`
	Status   JobStatus     `json:"status"`
	Request  ReportRequest `json:"request"`
	Strategy string        `json:"strategy,omitempty"`
	Progress Progress      `json:"progress"`
	Filename string        `json:"filename,omitempty"`
	// FilePath never leaves the process; downloads resolve it server side.
	FilePath     string    `json:"-"`
	ErrorMessage string    `json:"error,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReportFile describes a generated report on disk.
type ReportFile struct {
	ReportID         string    `json:"report_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	Format           Format    `json:"format"`
	Size             int64     `json:"size"`
	Path             string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// JobUpdate is a conditional state change applied by a job store. Empty
// string fields leave the stored value untouched.
type JobUpdate struct {
	Status       JobStatus
	Strategy     string
	Filename     string
	FilePath     string
	ErrorMessage string
	ErrorCode    string
	At           time.Time
}
