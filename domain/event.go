package domain

import (
	"time"

	"example.com/backstage/services/provenance/contenthash"
)

// CustodyEvent is one recorded handling step of a batch. ID is the
// position of the event in the batch timeline, starting at 1.
type CustodyEvent struct {
	ID              int64     `json:"id"`
	BatchID         string    `json:"batchId"`
	Actor           string    `json:"actor"`
	Role            string    `json:"role"`
	Note            string    `json:"note"`
	FirstViewImage  string    `json:"firstViewImage"`
	SecondViewImage string    `json:"secondViewImage"`
	EventHash       string    `json:"eventHash"`
	Timestamp       time.Time `json:"timestamp"`
	LoggedBy        string    `json:"loggedBy"`
}

// StampTime normalizes t to the precision every store keeps
func StampTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ComputeHash digests the logged fields of the event. The id and the
// submitting principal are not part of the digest.
func (e CustodyEvent) ComputeHash() string {
	return contenthash.Fields(
		contenthash.Field{Name: "batchId", Value: e.BatchID},
		contenthash.Field{Name: "actor", Value: e.Actor},
		contenthash.Field{Name: "role", Value: e.Role},
		contenthash.Field{Name: "note", Value: e.Note},
		contenthash.Field{Name: "firstViewImage", Value: e.FirstViewImage},
		contenthash.Field{Name: "secondViewImage", Value: e.SecondViewImage},
		contenthash.Field{Name: "timestamp", Value: StampTime(e.Timestamp).Format(time.RFC3339Nano)},
	)
}

// VerifyHash recomputes the digest and compares it with the stored one
func (e CustodyEvent) VerifyHash() error {
	computed := e.ComputeHash()
	if !contenthash.Equal(computed, e.EventHash) {
		return &HashMismatchError{
			BatchID:  e.BatchID,
			EventID:  e.ID,
			Stored:   e.EventHash,
			Computed: computed,
		}
	}
	return nil
}
