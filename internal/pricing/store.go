package pricing

import (
	"errors"
	"fmt"
	"sync"

	"marketmaker/internal/models"
)

// Ошибки ядра ценообразования
var (
	// ErrInvalidOrderbook - стакан отброшен до конвейера (пустая сторона, некорректные числа)
	ErrInvalidOrderbook = errors.New("invalid orderbook")

	// ErrNegativeSpread - после синтеза bid > ask, дефект расчёта
	ErrNegativeSpread = errors.New("negative spread in synthesized orderbook")
)

// ValidateOrderbook проверяет стакан на границе хранилища
//
// Обе стороны непустые, цены положительные, объёмы неотрицательные.
func ValidateOrderbook(ob *models.ExternalOrderbook) error {
	if ob == nil {
		return fmt.Errorf("%w: nil orderbook", ErrInvalidOrderbook)
	}
	if ob.AssetPairID == "" || ob.ExchangeName == "" {
		return fmt.Errorf("%w: empty asset pair or exchange", ErrInvalidOrderbook)
	}
	if len(ob.Bids) == 0 {
		return fmt.Errorf("%w: %s/%s has no bids", ErrInvalidOrderbook, ob.AssetPairID, ob.ExchangeName)
	}
	if len(ob.Asks) == 0 {
		return fmt.Errorf("%w: %s/%s has no asks", ErrInvalidOrderbook, ob.AssetPairID, ob.ExchangeName)
	}
	if err := validateLevels(ob.Bids); err != nil {
		return fmt.Errorf("%w: %s/%s bids: %v", ErrInvalidOrderbook, ob.AssetPairID, ob.ExchangeName, err)
	}
	if err := validateLevels(ob.Asks); err != nil {
		return fmt.Errorf("%w: %s/%s asks: %v", ErrInvalidOrderbook, ob.AssetPairID, ob.ExchangeName, err)
	}
	return nil
}

func validateLevels(levels []models.OrderbookPosition) error {
	for i, l := range levels {
		if !l.Price.IsPositive() {
			return fmt.Errorf("level %d: non-positive price %s", i, l.Price)
		}
		if l.Volume.IsNegative() {
			return fmt.Errorf("level %d: negative volume %s", i, l.Volume)
		}
	}
	return nil
}

// OrderbookStore - шардированный кэш последних стаканов по (пара, биржа)
//
// Стаканы неизменяемы: Update сохраняет копию, а снимки содержат
// новые карты, поэтому читатель никогда не видит чужую запись в процессе.
type OrderbookStore struct {
	shards    []*storeShard
	numShards uint32
}

type storeShard struct {
	mu    sync.RWMutex
	books map[string]map[string]*models.ExternalOrderbook // assetPair -> exchange -> стакан
}

// NewOrderbookStore создаёт хранилище с numShards шардами
func NewOrderbookStore(numShards int) *OrderbookStore {
	if numShards <= 0 {
		numShards = 16
	}

	s := &OrderbookStore{
		shards:    make([]*storeShard, numShards),
		numShards: uint32(numShards),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{books: make(map[string]map[string]*models.ExternalOrderbook)}
	}
	return s
}

func (s *OrderbookStore) shard(assetPairID string) *storeShard {
	return s.shards[FNVHash(assetPairID)%s.numShards]
}

// Update сохраняет стакан и возвращает снимок всех стаканов пары после обновления
func (s *OrderbookStore) Update(ob *models.ExternalOrderbook) (map[string]*models.ExternalOrderbook, error) {
	if err := ValidateOrderbook(ob); err != nil {
		return nil, err
	}

	stored := ob.Clone()
	sh := s.shard(ob.AssetPairID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	pair, ok := sh.books[ob.AssetPairID]
	if !ok {
		pair = make(map[string]*models.ExternalOrderbook)
		sh.books[ob.AssetPairID] = pair
	}
	pair[ob.ExchangeName] = stored

	return copyBooks(pair), nil
}

// GetAll возвращает снимок стаканов пары (пустая карта, если данных нет)
func (s *OrderbookStore) GetAll(assetPairID string) map[string]*models.ExternalOrderbook {
	sh := s.shard(assetPairID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	return copyBooks(sh.books[assetPairID])
}

func copyBooks(src map[string]*models.ExternalOrderbook) map[string]*models.ExternalOrderbook {
	dst := make(map[string]*models.ExternalOrderbook, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
