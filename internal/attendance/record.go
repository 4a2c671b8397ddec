package attendance

import (
	"encoding/json"
	"time"
)

// Record is one visit as returned by the backend. Records are created and
// mutated server-side only; the agent reads and classifies them.
type Record struct {
	ID    int
	Name  string
	USN   string
	Date  string
	Entry string
	Exit  ExitStatus
	// Duration is the server-formatted duration string. It is only
	// trustworthy for completed records; ongoing durations are computed
	// locally from Entry.
	Duration string
	IsLate   bool
}

// ExitStatus is the normalized form of the wire-level exit field. The backend
// spells "no exit yet" four different ways (null, absent, "N/A",
// "In Progress"); all of them normalize to Ongoing at decode time so nothing
// downstream ever sees the raw sentinels.
type ExitStatus struct {
	Completed bool
	ExitTime  string // set only when Completed
}

// Ongoing reports whether the visitor has not exited yet.
func (e ExitStatus) Ongoing() bool { return !e.Completed }

func (e ExitStatus) String() string {
	if e.Completed {
		return e.ExitTime
	}
	return "In Progress"
}

type wireRecord struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	USN      string   `json:"usn"`
	Date     string   `json:"date"`
	Entry    string   `json:"entry"`
	Exit     *string  `json:"exit"`
	Duration string   `json:"duration"`
	IsLate   wireBool `json:"is_late"`
}

// wireBool accepts both JSON booleans and 0/1 integers, which the backend has
// emitted at different points in its history.
type wireBool bool

func (b *wireBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = wireBool(t)
	case float64:
		*b = t != 0
	default:
		*b = false
	}
	return nil
}

// UnmarshalJSON decodes a wire record and normalizes the exit sentinels.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Name = w.Name
	r.USN = w.USN
	r.Date = w.Date
	r.Entry = w.Entry
	r.Duration = w.Duration
	r.IsLate = bool(w.IsLate)
	r.Exit = normalizeExit(w.Exit)
	return nil
}

func normalizeExit(exit *string) ExitStatus {
	if exit == nil {
		return ExitStatus{}
	}
	switch *exit {
	case "", "N/A", "In Progress":
		return ExitStatus{}
	}
	return ExitStatus{Completed: true, ExitTime: *exit}
}

// EntryTime parses the entry timestamp. The backend formats entries as
// "2006-01-02 15:04:05" in local time.
func (r Record) EntryTime() (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05", r.Entry, time.Local)
}
