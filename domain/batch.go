package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const batchIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var batchIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Batch is a registered physical unit of product under provenance tracking.
// Every field is fixed at creation.
type Batch struct {
	ID                 string    `json:"id"`
	ProductName        string    `json:"productName"`
	SKU                string    `json:"sku,omitempty"`
	Origin             string    `json:"origin"`
	CreatedAt          time.Time `json:"createdAt"`
	BaselineFirstView  string    `json:"baselineFirstView"`
	BaselineSecondView string    `json:"baselineSecondView"`
	Creator            string    `json:"creator"`
}

// BatchState is derived from the presence of a batch, never stored
type BatchState int

const (
	StateUncreated BatchState = iota
	StateActive
)

func (s BatchState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	default:
		return "UNCREATED"
	}
}

// ValidBatchID reports whether id is usable as a batch id
func ValidBatchID(id string) bool {
	return batchIDPattern.MatchString(id)
}

// NewBatchID generates an id of the form PREFIX-###-XXX
func NewBatchID(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "CHT"
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate batch number: %w", err)
	}

	suffix := make([]byte, 3)
	base := big.NewInt(int64(len(batchIDAlphabet)))
	for i := range suffix {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate batch suffix: %w", err)
		}
		suffix[i] = batchIDAlphabet[idx.Int64()]
	}

	id := fmt.Sprintf("%s-%03d-%s", prefix, n.Int64(), suffix)
	if !ValidBatchID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBatchID, id)
	}
	return id, nil
}
