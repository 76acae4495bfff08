package eventstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/models"
)

// GormStore implements Store using GORM
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM store
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateBatch inserts the batch row and its outbox change in one transaction.
// The primary key rejects a concurrent insert of the same id.
func (s *GormStore) CreateBatch(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	if !domain.ValidBatchID(batch.ID) {
		return domain.Batch{}, fmt.Errorf("%w: %q", domain.ErrInvalidBatchID, batch.ID)
	}
	batch.CreatedAt = domain.StampTime(batch.CreatedAt)

	change, err := domain.NewBatchCreated(batch)
	if err != nil {
		return domain.Batch{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toBatchModel(batch)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		outbox := toOutboxModel(change)
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return domain.Batch{}, translateError(err, fmt.Errorf("%w: %s", domain.ErrDuplicateBatch, batch.ID))
	}

	log.Info().
		Str("batch_id", batch.ID).
		Str("creator", batch.Creator).
		Msg("Batch saved")

	return batch, nil
}

// GetBatch returns a batch by id
func (s *GormStore) GetBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	var row models.Batch
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Batch{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
		}
		return domain.Batch{}, translateError(err, nil)
	}
	return toBatch(row), nil
}

// ListBatchIDs returns every batch id in creation order
func (s *GormStore) ListBatchIDs(ctx context.Context) ([]string, error) {
	return s.pluckIDs(s.db.WithContext(ctx).Model(&models.Batch{}))
}

// ListBatchIDsByCreator returns the ids of batches created by creator
func (s *GormStore) ListBatchIDsByCreator(ctx context.Context, creator string) ([]string, error) {
	return s.pluckIDs(s.db.WithContext(ctx).Model(&models.Batch{}).Where("creator = ?", creator))
}

// SearchByProductName matches a case-insensitive substring of the product name
func (s *GormStore) SearchByProductName(ctx context.Context, term string) ([]string, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(term))) + "%"
	return s.pluckIDs(s.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("LOWER(product_name) LIKE ? ESCAPE '!'", pattern))
}

func (s *GormStore) pluckIDs(query *gorm.DB) ([]string, error) {
	ids := []string{}
	if err := query.Order("created_at ASC").Order("batch_id ASC").Pluck("batch_id", &ids).Error; err != nil {
		return nil, translateError(err, nil)
	}
	return ids, nil
}

// AppendEvent locks the batch row, takes the next sequence number and
// inserts the event with its outbox change. Nothing is written on failure.
func (s *GormStore) AppendEvent(ctx context.Context, event domain.CustodyEvent) (domain.CustodyEvent, error) {
	event.Timestamp = domain.StampTime(event.Timestamp)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.Batch
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("batch_id = ?", event.BatchID).
			Take(&batch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, event.BatchID)
			}
			return err
		}

		event.ID = batch.EventCount + 1

		res := tx.Model(&models.Batch{}).
			Where("batch_id = ? AND event_count = ?", batch.BatchID, batch.EventCount).
			Update("event_count", event.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: concurrent append to batch %s", domain.ErrStorageUnavailable, event.BatchID)
		}

		row := toEventModel(event)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		change, err := domain.NewCustodyEventLogged(event)
		if err != nil {
			return err
		}
		outbox := toOutboxModel(change)
		return tx.Create(&outbox).Error
	})
	if err != nil {
		return domain.CustodyEvent{}, translateError(err, nil)
	}

	log.Info().
		Str("batch_id", event.BatchID).
		Int64("event_id", event.ID).
		Str("actor", event.Actor).
		Str("role", event.Role).
		Msg("Event saved")

	return event, nil
}

// GetEvents returns the ordered timeline of a batch
func (s *GormStore) GetEvents(ctx context.Context, batchID string) ([]domain.CustodyEvent, error) {
	var rows []models.CustodyEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Batch{}).Where("batch_id = ?", batchID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
		}
		return tx.Where("batch_id = ?", batchID).Order("sequence ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, translateError(err, nil)
	}

	events := make([]domain.CustodyEvent, len(rows))
	for i, row := range rows {
		events[i] = toEvent(row)
	}
	return events, nil
}

// CountEvents returns the number of events of a batch
func (s *GormStore) CountEvents(ctx context.Context, batchID string) (int64, error) {
	batch, err := s.getBatchRow(ctx, batchID)
	if err != nil {
		return 0, err
	}
	return batch.EventCount, nil
}

func (s *GormStore) getBatchRow(ctx context.Context, batchID string) (models.Batch, error) {
	var row models.Batch
	if err := s.db.WithContext(ctx).Select("batch_id", "event_count").Where("batch_id = ?", batchID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return row, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
		}
		return row, translateError(err, nil)
	}
	return row, nil
}

// Stats returns ledger totals
func (s *GormStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Batch{}).Count(&stats.Batches).Error; err != nil {
		return Stats{}, translateError(err, nil)
	}
	if err := db.Model(&models.CustodyEvent{}).Count(&stats.Events).Error; err != nil {
		return Stats{}, translateError(err, nil)
	}
	return stats, nil
}

// GetUnprocessedEvents gets outbox changes not yet projected, oldest first
func (s *GormStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	var rows []models.OutboxEvent
	if err := s.db.WithContext(ctx).
		Where("processed = ? AND attempts < ?", false, MaxOutboxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, translateError(err, nil)
	}

	events := make([]domain.Event, len(rows))
	for i, row := range rows {
		events[i] = domain.Event{
			ID:            row.EventID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			Type:          row.EventType,
			Version:       row.Version,
			Timestamp:     row.Timestamp,
			Data:          row.Data,
		}
	}
	return events, nil
}

// MarkEventAsProcessed marks an outbox change as projected
func (s *GormStore) MarkEventAsProcessed(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{"processed": true, "error": nil}).
		Error; err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", translateError(err, nil))
	}
	return nil
}

// MarkEventFailed records a failed projection attempt
func (s *GormStore) MarkEventFailed(ctx context.Context, eventID string, reason string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"attempts": gorm.Expr("attempts + 1"),
			"error":    reason,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", translateError(err, nil))
	}
	return nil
}

// translateError maps driver errors onto the domain taxonomy. A unique
// violation becomes duplicate when given, otherwise a retryable conflict.
func translateError(err error, duplicate error) error {
	var (
		pgErr   *pgconn.PgError
		connErr *pgconn.ConnectError
		netErr  net.Error
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrDuplicateBatch),
		errors.Is(err, domain.ErrStorageUnavailable),
		errors.Is(err, domain.ErrInvalidBatchID):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.As(err, &pgErr) && pgErr.Code == "23505":
		if duplicate != nil {
			return duplicate
		}
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		pgconn.Timeout(err),
		errors.As(err, &connErr),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	default:
		return err
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func toBatchModel(b domain.Batch) models.Batch {
	return models.Batch{
		BatchID:            b.ID,
		ProductName:        b.ProductName,
		SKU:                b.SKU,
		Origin:             b.Origin,
		BaselineFirstView:  b.BaselineFirstView,
		BaselineSecondView: b.BaselineSecondView,
		Creator:            b.Creator,
		CreatedAt:          b.CreatedAt,
	}
}

func toBatch(row models.Batch) domain.Batch {
	return domain.Batch{
		ID:                 row.BatchID,
		ProductName:        row.ProductName,
		SKU:                row.SKU,
		Origin:             row.Origin,
		CreatedAt:          domain.StampTime(row.CreatedAt),
		BaselineFirstView:  row.BaselineFirstView,
		BaselineSecondView: row.BaselineSecondView,
		Creator:            row.Creator,
	}
}

func toEventModel(e domain.CustodyEvent) models.CustodyEvent {
	return models.CustodyEvent{
		BatchID:         e.BatchID,
		Sequence:        e.ID,
		Actor:           e.Actor,
		Role:            e.Role,
		Note:            e.Note,
		FirstViewImage:  e.FirstViewImage,
		SecondViewImage: e.SecondViewImage,
		EventHash:       e.EventHash,
		LoggedBy:        e.LoggedBy,
		Timestamp:       e.Timestamp,
	}
}

func toEvent(row models.CustodyEvent) domain.CustodyEvent {
	return domain.CustodyEvent{
		ID:              row.Sequence,
		BatchID:         row.BatchID,
		Actor:           row.Actor,
		Role:            row.Role,
		Note:            row.Note,
		FirstViewImage:  row.FirstViewImage,
		SecondViewImage: row.SecondViewImage,
		EventHash:       row.EventHash,
		Timestamp:       domain.StampTime(row.Timestamp),
		LoggedBy:        row.LoggedBy,
	}
}

func toOutboxModel(e domain.Event) models.OutboxEvent {
	return models.OutboxEvent{
		EventID:       e.ID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.Type,
		Data:          e.Data,
		Version:       e.Version,
		Timestamp:     e.Timestamp,
	}
}
