package attendance

import (
	"fmt"
	"time"
)

// Row is one rendered line of an attendance panel.
type Row struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	USN      string `json:"usn"`
	Entry    string `json:"entry"`
	Exit     string `json:"exit,omitempty"`
	Duration string `json:"duration"`
	IsLate   bool   `json:"is_late"`
}

// View is a rendered attendance panel. Exactly one of the three shapes is
// produced: rows, the empty placeholder, or the error placeholder. A failed
// refresh never leaves rows from an earlier fetch in place without flagging.
type View struct {
	Rows        []Row  `json:"rows"`
	Placeholder string `json:"placeholder,omitempty"`
	Err         bool   `json:"error,omitempty"`
}

// Placeholders are distinct so an empty panel is never mistaken for a failed one.
const (
	noOngoingPlaceholder   = "No ongoing attendance"
	noCompletedPlaceholder = "No completed attendance records yet"
	errorPlaceholder       = "Error loading data"
)

// Classify partitions records into ongoing and completed by exit status.
// Server order is preserved; nothing is sorted client-side.
func Classify(records []Record) (ongoing, completed []Record) {
	for _, r := range records {
		if r.Exit.Ongoing() {
			ongoing = append(ongoing, r)
		} else {
			completed = append(completed, r)
		}
	}
	return ongoing, completed
}

// FormatElapsed renders a live duration from whole elapsed minutes:
// "45 min" below an hour, "1h 15m" at or above.
func FormatElapsed(elapsed time.Duration) string {
	minutes := int(elapsed / time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// OngoingView renders the ongoing partition. Durations are recomputed from
// entry time and now on every call; the computation is pure so repeated
// renders of the same input agree.
func OngoingView(records []Record, now time.Time) View {
	ongoing, _ := Classify(records)
	if len(ongoing) == 0 {
		return View{Placeholder: noOngoingPlaceholder}
	}
	rows := make([]Row, 0, len(ongoing))
	for _, r := range ongoing {
		duration := "N/A"
		if entry, err := r.EntryTime(); err == nil {
			duration = FormatElapsed(now.Sub(entry))
		}
		rows = append(rows, Row{
			ID:       r.ID,
			Name:     r.Name,
			USN:      r.USN,
			Entry:    r.Entry,
			Duration: duration,
			IsLate:   r.IsLate,
		})
	}
	return View{Rows: rows}
}

// CompletedView renders the completed partition using the server-supplied
// duration verbatim, never recomputing it.
func CompletedView(records []Record) View {
	_, completed := Classify(records)
	if len(completed) == 0 {
		return View{Placeholder: noCompletedPlaceholder}
	}
	rows := make([]Row, 0, len(completed))
	for _, r := range completed {
		duration := r.Duration
		if duration == "" {
			duration = "N/A"
		}
		rows = append(rows, Row{
			ID:       r.ID,
			Name:     r.Name,
			USN:      r.USN,
			Entry:    r.Entry,
			Exit:     r.Exit.ExitTime,
			Duration: duration,
			IsLate:   r.IsLate,
		})
	}
	return View{Rows: rows}
}

// ErrorView is rendered when a refresh fails; it replaces whatever was shown
// before so stale data is never presented as current.
func ErrorView() View {
	return View{Placeholder: errorPlaceholder, Err: true}
}
