package models

import "time"

// CandidateEvent is an event as returned by the extraction service.
// None of its fields are trusted.
type CandidateEvent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"` // ISO calendar date, e.g. 2024-10-15
}

// ValidatedEvent is a CandidateEvent whose date has been normalized into
// concrete start and end times. It is ready for remote insertion.
type ValidatedEvent struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Warning     string         // non-fatal remark, e.g. an empty title
	Source      CandidateEvent // the candidate this event was derived from
}

// TimeZone returns the IANA name of the zone the event is expressed in.
func (e ValidatedEvent) TimeZone() string {
	return e.Start.Location().String()
}

// SyncStatus is the disposition of one candidate event.
type SyncStatus string

const (
	StatusInserted SyncStatus = "inserted"
	StatusSkipped  SyncStatus = "skipped"
	StatusFailed   SyncStatus = "failed"
)

// SyncResult records what happened to a single candidate event.
type SyncResult struct {
	Event    CandidateEvent
	Status   SyncStatus
	Reason   string // set for skipped and failed events
	RemoteID string // identifier assigned by the remote calendar
	Warning  string
}

// Inserted reports ev as created remotely under remoteID.
func Inserted(ev CandidateEvent, remoteID string) SyncResult {
	return SyncResult{Event: ev, Status: StatusInserted, RemoteID: remoteID}
}

// Skipped reports ev as deliberately not sent.
func Skipped(ev CandidateEvent, reason string) SyncResult {
	return SyncResult{Event: ev, Status: StatusSkipped, Reason: reason}
}

// Failed reports ev as sent but rejected, or not sent because of an error.
func Failed(ev CandidateEvent, reason string) SyncResult {
	return SyncResult{Event: ev, Status: StatusFailed, Reason: reason}
}

// Report is the outcome of processing one document.
// Results[i] is the disposition of Events[i].
type Report struct {
	Events  []CandidateEvent
	Results []SyncResult
	// Err is set when the batch was aborted as a whole, e.g. because the
	// grant could not be refreshed. Every result is still present.
	Err error
}

// Summary counts results by status.
type Summary struct {
	Total    int
	Inserted int
	Skipped  int
	Failed   int
}

func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusInserted:
			s.Inserted++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
