package service

import (
	"errors"

	"marketmaker/internal/models"
)

// ErrAssetPairNotFound - по паре ещё не было ни одного цикла расчёта
var ErrAssetPairNotFound = errors.New("asset pair not found")

// StatusService - чтение состояния пар для API.
//
// Каждая пара читается под своей блокировкой, согласованности между парами нет.
type StatusService struct {
	source StatusSource
}

// NewStatusService создает новый экземпляр StatusService.
func NewStatusService(source StatusSource) *StatusService {
	return &StatusService{source: source}
}

// GetAllStatuses возвращает состояние всех пар, отсортированное по id
func (s *StatusService) GetAllStatuses() []models.AssetPairStatus {
	statuses := s.source.Statuses()
	if statuses == nil {
		return []models.AssetPairStatus{}
	}
	return statuses
}

// GetStatus возвращает состояние одной пары
func (s *StatusService) GetStatus(assetPairID string) (*models.AssetPairStatus, error) {
	st, ok := s.source.Status(assetPairID)
	if !ok {
		return nil, ErrAssetPairNotFound
	}
	return &st, nil
}

// GetHedgingPreferences возвращает предпочтения хеджирования бирж по всем парам
func (s *StatusService) GetHedgingPreferences() []models.HedgingPreference {
	prefs := s.source.HedgingPreferences()
	if prefs == nil {
		return []models.HedgingPreference{}
	}
	return prefs
}
