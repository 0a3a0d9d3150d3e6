// Package filestore keeps generated report files on local disk and bounds how
// many of them are retained.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/metrics"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

// DefaultName is used when a report has no descriptive name.
const DefaultName = "activity_report"

const timestampLayout = "20060102_150405"

var (
	// ErrNotFound is returned when no file exists for a report id.
	ErrNotFound = errors.New("report file not found")
	// ErrLimitExceeded is returned when eviction cannot make room.
	ErrLimitExceeded = errors.New("report file limit exceeded")

	reportPattern = regexp.MustCompile(`^([0-9a-fA-F-]{36})_(.+)_(\d{8}_\d{6})\.(csv|xlsx)$`)
)

// Store is a directory of report files named
// {report_id}_{descriptive_name}_{timestamp}.{ext}.
type Store struct {
	dir        string
	maxReports int
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu sync.Mutex
}

// Stats summarizes the directory.
type Stats struct {
	Count          int        `json:"count"`
	TotalBytes     int64      `json:"total_bytes"`
	MaxReports     int        `json:"max_reports"`
	AvailableSlots int        `json:"available_slots"`
	Oldest         *time.Time `json:"oldest,omitempty"`
	Newest         *time.Time `json:"newest,omitempty"`
}

// New creates the directory when needed.
func New(dir string, maxReports int, log logrus.FieldLogger, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	if maxReports <= 0 {
		maxReports = 10
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		dir:        dir,
		maxReports: maxReports,
		log:        log.WithField("component", "filestore"),
		metrics:    m,
		now:        time.Now,
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data for a report after evicting the oldest files so that at
// most maxReports files exist afterwards.
func (s *Store) Save(data []byte, reportID string, format model.Format, name string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.enforceLimit(s.maxReports - 1); err != nil {
		return "", "", err
	}
	files, err := s.list()
	if err != nil {
		return "", "", err
	}
	if len(files) >= s.maxReports {
		return "", "", apperror.Wrap(apperror.CodeLimitExceeded, "too many stored reports", ErrLimitExceeded)
	}

	if name == "" {
		name = DefaultName
	}
	filename := fmt.Sprintf("%s_%s_%s.%s", reportID, sanitize(name), s.now().Format(timestampLayout), format)
	path := filepath.Join(s.dir, filename)

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("rename report: %w", err)
	}
	return path, filename, nil
}

// Get returns the newest file of a report.
func (s *Store) Get(reportID string) (*model.ReportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.list()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.ReportID == reportID {
			file := f
			return &file, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes every file of a report and returns how many were removed.
func (s *Store) Delete(reportID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if f.ReportID != reportID {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", f.Filename, err)
		}
		removed++
	}
	return removed, nil
}

// List returns stored report files, newest first.
func (s *Store) List() ([]model.ReportFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// EnforceLimit deletes the oldest files until at most max remain.
func (s *Store) EnforceLimit(max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforceLimit(max)
}

// Stats reports usage against the retention limit.
func (s *Store) Stats() (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.list()
	if err != nil {
		return nil, err
	}
	st := &Stats{Count: len(files), MaxReports: s.maxReports}
	if free := s.maxReports - len(files); free > 0 {
		st.AvailableSlots = free
	}
	for _, f := range files {
		st.TotalBytes += f.Size
	}
	if len(files) > 0 {
		newest, oldest := files[0].CreatedAt, files[len(files)-1].CreatedAt
		st.Newest, st.Oldest = &newest, &oldest
	}
	return st, nil
}

// CleanupInvalid removes regular files whose names do not follow the report
// naming scheme, such as leftovers of interrupted writes.
func (s *Store) CleanupInvalid() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read reports dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || reportPattern.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.WithError(err).WithField("file", e.Name()).Warn("could not remove invalid file")
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) enforceLimit(max int) (int, error) {
	if max < 0 {
		max = 0
	}
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	removed := 0
	// files are newest first; evict from the tail.
	for i := len(files) - 1; i >= 0 && len(files)-removed > max; i-- {
		if err := os.Remove(files[i].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("file", files[i].Filename).Warn("could not evict report")
			continue
		}
		s.log.WithField("file", files[i].Filename).Info("evicted old report")
		removed++
	}
	s.metrics.AddEvicted(removed)
	return removed, nil
}

func (s *Store) list() ([]model.ReportFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read reports dir: %w", err)
	}
	var files []model.ReportFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := reportPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, model.ReportFile{
			ReportID:         m[1],
			Filename:         e.Name(),
			OriginalFilename: strings.SplitN(e.Name(), "_", 2)[1],
			Format:           model.Format(m[4]),
			Size:             info.Size(),
			Path:             filepath.Join(s.dir, e.Name()),
			CreatedAt:        info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].CreatedAt.After(files[j].CreatedAt)
		}
		return files[i].Filename > files[j].Filename
	})
	return files, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
