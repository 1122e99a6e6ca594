package codec

import (
	"sort"
	"time"
)

// Type tags.
const (
	TagDatetime  = "datetime_isoformat"
	TagDate      = "date_isoformat"
	TagRecordRef = "record_ref"

	typeKey = "_type"
)

// ContextAllowList holds the record context keys that survive decoding.
// Other keys are dropped so a stored job cannot smuggle arbitrary context.
var ContextAllowList = []string{"tz", "lang", "allowed_company_ids", "active_test"}

// Date is a calendar date without time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String returns the ISO 8601 form.
func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

// ParseDate parses an ISO 8601 date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// RecordRef identifies a set of domain records a job operates on.
type RecordRef struct {
	Model string
	IDs   []int64
	// UID is the user the records are accessed as. Zero means unset.
	UID     int64
	Context map[string]any
}

// Single reports whether the reference points at exactly one record.
func (r RecordRef) Single() bool { return len(r.IDs) == 1 }

// Slice returns a reference to ids[from:to] sharing model, uid and context.
func (r RecordRef) Slice(from, to int) RecordRef {
	ids := make([]int64, to-from)
	copy(ids, r.IDs[from:to])
	return RecordRef{Model: r.Model, IDs: ids, UID: r.UID, Context: r.Context}
}

// SortedIDs returns a sorted copy of the ids.
func (r RecordRef) SortedIDs() []int64 {
	ids := append([]int64(nil), r.IDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FilterContext keeps only the allow-listed keys of ctx.
func FilterContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any)
	for _, k := range ContextAllowList {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
