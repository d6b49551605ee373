package repository

import (
	"database/sql"

	"marketmaker/internal/models"
)

// EventRepository - журнал исходящих событий (таблица pricing_events)
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create сохраняет событие и заполняет ID
func (r *EventRepository) Create(record *models.EventRecord) error {
	query := `
		INSERT INTO pricing_events (event_id, kind, asset_pair_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return r.db.QueryRow(query,
		record.EventID,
		record.Kind,
		record.AssetPairID,
		[]byte(record.Payload),
		record.CreatedAt,
	).Scan(&record.ID)
}

// GetRecent возвращает последние события по всем парам
func (r *EventRepository) GetRecent(limit int) ([]*models.EventRecord, error) {
	query := `
		SELECT id, event_id, kind, asset_pair_id, payload, created_at
		FROM pricing_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	return r.query(query, limit)
}

// GetByAssetPair возвращает последние события по одной паре
func (r *EventRepository) GetByAssetPair(assetPairID string, limit int) ([]*models.EventRecord, error) {
	query := `
		SELECT id, event_id, kind, asset_pair_id, payload, created_at
		FROM pricing_events
		WHERE asset_pair_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	return r.query(query, assetPairID, limit)
}

// KeepRecent удаляет все события, кроме последних n. Возвращает количество удалённых.
func (r *EventRepository) KeepRecent(n int) (int64, error) {
	query := `
		DELETE FROM pricing_events
		WHERE id NOT IN (
			SELECT id FROM pricing_events
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		)`

	result, err := r.db.Exec(query, n)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *EventRepository) query(query string, args ...interface{}) ([]*models.EventRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EventRecord
	for rows.Next() {
		record := &models.EventRecord{}
		var payload []byte
		err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.Kind,
			&record.AssetPairID,
			&payload,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		record.Payload = append(record.Payload[:0], payload...)
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
