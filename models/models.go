package models

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Batch represents a registered batch in the database
type Batch struct {
	BatchID            string    `gorm:"primaryKey;size:64" json:"batch_id"`
	ProductName        string    `gorm:"not null;index" json:"product_name"`
	SKU                string    `gorm:"size:128" json:"sku"`
	Origin             string    `json:"origin"`
	BaselineFirstView  string    `gorm:"type:text" json:"baseline_first_view"`
	BaselineSecondView string    `gorm:"type:text" json:"baseline_second_view"`
	Creator            string    `gorm:"index;size:255" json:"creator"`
	EventCount         int64     `gorm:"not null;default:0" json:"event_count"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
}

// CustodyEvent represents one appended ledger event in the database.
// Rows are never updated or deleted.
type CustodyEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	BatchID         string    `gorm:"size:64;not null;uniqueIndex:idx_custody_batch_seq,priority:1" json:"batch_id"`
	Sequence        int64     `gorm:"not null;uniqueIndex:idx_custody_batch_seq,priority:2" json:"sequence"`
	Actor           string    `json:"actor"`
	Role            string    `json:"role"`
	Note            string    `gorm:"type:text" json:"note"`
	FirstViewImage  string    `gorm:"type:text" json:"first_view_image"`
	SecondViewImage string    `gorm:"type:text" json:"second_view_image"`
	EventHash       string    `gorm:"size:64;not null" json:"event_hash"`
	LoggedBy        string    `gorm:"index;size:255" json:"logged_by"`
	Timestamp       time.Time `gorm:"not null" json:"timestamp"`
}

// OutboxEvent represents a ledger change waiting to be projected
type OutboxEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EventID       string    `gorm:"uniqueIndex;size:36" json:"event_id"`
	AggregateID   string    `gorm:"index;size:64" json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	EventType     string    `json:"event_type"`
	Data          []byte    `json:"data"`
	Version       int64     `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Processed     bool      `gorm:"index" json:"processed"`
	Attempts      int       `gorm:"not null;default:0" json:"attempts"`
	Error         *string   `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SetupModels runs migrations for every ledger table
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Batch{},
		&CustodyEvent{},
		&OutboxEvent{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
