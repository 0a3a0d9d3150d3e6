// Package report turns work entries into grouped spreadsheet rows and encodes
// them as XLSX or CSV.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dharsanguruparan/ClockSheet/internal/cancel"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
)

// Labels written into generated reports.
const (
	TotalLabel   = "TOTAL"
	NoGroupLabel = "No group"
	OpenEndLabel = "-"
	maxBreakdown = 5
	displayDate  = "02/01/2006"
	displayTime  = "15:04:05"
	sortableDate = "2006-01-02"
)

// Resolver names the activity of an entry.
type Resolver interface {
	Resolve(ctx context.Context, entryType, breakID string) string
}

// Summary describes what Assemble did with its input.
type Summary struct {
	Entries int
	Dropped int
	Groups  int
	Flagged int
	Seconds int64
}

type item struct {
	entry    model.WorkEntry
	activity string
	group    string
	seconds  int64
	flag     model.RowFlag
}

type bucket struct {
	key     string
	sortKey string
	label   string
	dateKey string
	items   []item
}

// Assemble groups entries by the dimension selected by kind and date, orders
// each group by start time and appends one total row per group. Entries
// without a start time are dropped and counted in Summary.Dropped.
func Assemble(ctx context.Context, entries []model.WorkEntry, kind model.ReportType, resolver Resolver, token cancel.Token) ([]model.ReportRow, Summary, error) {
	var sum Summary
	buckets := make(map[string]*bucket)
	for _, e := range entries {
		if err := cancel.Check(token); err != nil {
			return nil, Summary{}, err
		}
		if e.Start == nil {
			sum.Dropped++
			continue
		}
		it := item{
			entry:    e,
			activity: resolver.Resolve(ctx, e.EntryType, e.BreakID),
			group:    e.Group,
		}
		if it.group == "" {
			it.group = NoGroupLabel
		}
		it.seconds, it.flag = entrySeconds(e)

		dateKey := e.Start.Format(sortableDate)
		var dim, sortKey string
		switch kind {
		case model.ByActivity:
			dim, sortKey = it.activity, it.activity
		case model.ByGroup:
			dim, sortKey = it.group, it.group
		default:
			dim = e.EmployeeID
			if dim == "" {
				dim = e.EmployeeName
			}
			sortKey = e.EmployeeName + "\x00" + dim
		}
		key := dim + "\x00" + dateKey
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key, sortKey: sortKey, label: dim, dateKey: dateKey}
			buckets[key] = b
		}
		b.items = append(b.items, it)
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].dateKey != ordered[j].dateKey {
			return ordered[i].dateKey < ordered[j].dateKey
		}
		if ordered[i].sortKey != ordered[j].sortKey {
			return ordered[i].sortKey < ordered[j].sortKey
		}
		return ordered[i].key < ordered[j].key
	})

	rows := make([]model.ReportRow, 0, len(entries)+len(ordered))
	for _, b := range ordered {
		sort.SliceStable(b.items, func(i, j int) bool {
			return b.items[i].entry.Start.Before(*b.items[j].entry.Start)
		})
		var total int64
		for _, it := range b.items {
			if err := cancel.Check(token); err != nil {
				return nil, Summary{}, err
			}
			rows = append(rows, dataRow(it, kind))
			total += it.seconds
			sum.Entries++
			if it.flag == model.FlagNegativeDuration {
				sum.Flagged++
			}
		}
		rows = append(rows, totalRow(b, kind, total))
		sum.Seconds += total
	}
	sum.Groups = len(ordered)
	return rows, sum, nil
}

// entrySeconds prefers end - start, then the API's worked seconds, then 0.
// Negative intervals are kept and flagged.
func entrySeconds(e model.WorkEntry) (int64, model.RowFlag) {
	switch {
	case e.End != nil:
		secs := int64(e.End.Sub(*e.Start) / time.Second)
		if secs < 0 {
			return secs, model.FlagNegativeDuration
		}
		return secs, model.FlagNone
	case e.WorkedSeconds != nil:
		return *e.WorkedSeconds, model.FlagOpenEntry
	}
	return 0, model.FlagOpenEntry
}

func dataRow(it item, kind model.ReportType) model.ReportRow {
	e := it.entry
	end := OpenEndLabel
	if e.End != nil {
		end = e.End.Format(displayTime)
	}
	group := ""
	if kind == model.ByGroup || e.Group != "" {
		group = it.group
	}
	return model.ReportRow{
		Employee:   e.EmployeeName,
		IDType:     e.IDType,
		IDNumber:   e.IDNumber,
		Date:       e.Start.Format(displayDate),
		Activity:   it.activity,
		Group:      group,
		Start:      e.Start.Format(displayTime),
		End:        end,
		Duration:   FormatDuration(it.seconds),
		Seconds:    it.seconds,
		EntryCount: 1,
		Flag:       it.flag,
	}
}

func totalRow(b *bucket, kind model.ReportType, total int64) model.ReportRow {
	first := b.items[0].entry
	row := model.ReportRow{
		Date:       first.Start.Format(displayDate),
		Activity:   TotalLabel,
		Duration:   FormatDuration(total),
		Seconds:    total,
		Total:      true,
		EntryCount: len(b.items),
	}
	switch kind {
	case model.ByActivity:
		row.Employee = b.label
		row.Group = breakdown(b.items, func(it item) string { return it.entry.EmployeeName })
	case model.ByGroup:
		row.Employee = b.label
		row.Group = breakdown(b.items, func(it item) string { return it.activity })
	default:
		row.Employee = first.EmployeeName
		row.IDType = first.IDType
		row.IDNumber = first.IDNumber
		row.Group = breakdown(b.items, func(it item) string { return it.activity })
	}
	return row
}

// breakdown summarizes a group's seconds per dimension value, largest first,
// listing at most five values.
func breakdown(items []item, dim func(item) string) string {
	totals := make(map[string]int64)
	for _, it := range items {
		totals[dim(it)] += it.seconds
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if totals[names[i]] != totals[names[j]] {
			return totals[names[i]] > totals[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, 0, maxBreakdown+1)
	for i, name := range names {
		if i == maxBreakdown {
			parts = append(parts, fmt.Sprintf("... and %d more", len(names)-maxBreakdown))
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, FormatDuration(totals[name])))
	}
	return strings.Join(parts, "; ")
}

// FormatDuration renders seconds as HH:MM:SS using floor division. Hours are
// not capped at 24 and negative values keep a leading minus sign.
func FormatDuration(seconds int64) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, (seconds%3600)/60, seconds%60)
}
