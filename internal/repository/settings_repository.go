package repository

import (
	"database/sql"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"marketmaker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория настроек
var (
	ErrSettingsNotFound = errors.New("settings not found")
)

// SettingsRepository - работа с таблицами asset_pair_settings и exchange_settings
//
// Настройки хранятся в JSONB колонке settings целиком, ключевые поля
// (asset_pair_id, exchange) вынесены в отдельные колонки.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// ============================================================
// Настройки торговых пар
// ============================================================

// GetAllAssetPairs возвращает настройки всех торговых пар
func (r *SettingsRepository) GetAllAssetPairs() ([]*models.AssetPairSettings, error) {
	query := `
		SELECT asset_pair_id, settings, updated_at
		FROM asset_pair_settings
		ORDER BY asset_pair_id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.AssetPairSettings
	for rows.Next() {
		s, err := scanAssetPairSettings(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, rows.Err()
}

// GetAssetPair возвращает настройки одной пары
func (r *SettingsRepository) GetAssetPair(assetPairID string) (*models.AssetPairSettings, error) {
	query := `
		SELECT asset_pair_id, settings, updated_at
		FROM asset_pair_settings
		WHERE asset_pair_id = $1`

	s, err := scanAssetPairSettings(r.db.QueryRow(query, assetPairID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}

	return s, nil
}

// UpsertAssetPair создаёт или заменяет настройки пары
func (r *SettingsRepository) UpsertAssetPair(settings *models.AssetPairSettings) error {
	settings.UpdatedAt = time.Now()

	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO asset_pair_settings (asset_pair_id, settings, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (asset_pair_id) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(query, settings.AssetPairID, payload, settings.UpdatedAt)
	return err
}

// DeleteAssetPair удаляет настройки пары вместе с настройками её бирж
//
// ErrSettingsNotFound - только если не было ни настроек пары, ни настроек бирж.
func (r *SettingsRepository) DeleteAssetPair(assetPairID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total int64
	for _, query := range []string{
		`DELETE FROM exchange_settings WHERE asset_pair_id = $1`,
		`DELETE FROM asset_pair_settings WHERE asset_pair_id = $1`,
	} {
		result, err := tx.Exec(query, assetPairID)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		total += rowsAffected
	}

	// Пара без каких-либо сохранённых настроек
	if total == 0 {
		return ErrSettingsNotFound
	}

	return tx.Commit()
}

// ============================================================
// Настройки бирж
// ============================================================

// GetAllExchanges возвращает настройки бирж по всем парам
func (r *SettingsRepository) GetAllExchanges() ([]*models.ExchangeSettings, error) {
	query := `
		SELECT asset_pair_id, exchange, settings, updated_at
		FROM exchange_settings
		ORDER BY asset_pair_id, exchange`

	return r.queryExchanges(query)
}

// GetExchanges возвращает настройки бирж одной пары
func (r *SettingsRepository) GetExchanges(assetPairID string) ([]*models.ExchangeSettings, error) {
	query := `
		SELECT asset_pair_id, exchange, settings, updated_at
		FROM exchange_settings
		WHERE asset_pair_id = $1
		ORDER BY exchange`

	return r.queryExchanges(query, assetPairID)
}

// UpsertExchange создаёт или заменяет настройки биржи в паре
func (r *SettingsRepository) UpsertExchange(settings *models.ExchangeSettings) error {
	settings.UpdatedAt = time.Now()

	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO exchange_settings (asset_pair_id, exchange, settings, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_pair_id, exchange) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(query, settings.AssetPairID, settings.Exchange, payload, settings.UpdatedAt)
	return err
}

// DeleteExchange удаляет настройки биржи в паре
func (r *SettingsRepository) DeleteExchange(assetPairID, exchange string) error {
	result, err := r.db.Exec(
		`DELETE FROM exchange_settings WHERE asset_pair_id = $1 AND exchange = $2`,
		assetPairID, exchange,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrSettingsNotFound
	}

	return nil
}

func (r *SettingsRepository) queryExchanges(query string, args ...interface{}) ([]*models.ExchangeSettings, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ExchangeSettings
	for rows.Next() {
		var (
			s       models.ExchangeSettings
			payload []byte
		)
		var assetPairID, exchange string
		var updatedAt time.Time
		if err := rows.Scan(&assetPairID, &exchange, &payload, &updatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &s); err != nil {
				return nil, err
			}
		}
		// Ключевые колонки главнее содержимого JSON
		s.AssetPairID = assetPairID
		s.Exchange = exchange
		s.UpdatedAt = updatedAt
		result = append(result, &s)
	}

	return result, rows.Err()
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssetPairSettings(row rowScanner) (*models.AssetPairSettings, error) {
	var (
		s           models.AssetPairSettings
		assetPairID string
		payload     []byte
		updatedAt   time.Time
	)

	if err := row.Scan(&assetPairID, &payload, &updatedAt); err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
	}
	s.AssetPairID = assetPairID
	s.UpdatedAt = updatedAt

	return &s, nil
}
