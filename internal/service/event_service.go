package service

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"marketmaker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Лимиты выборки журнала
const (
	DefaultEventsLimit = 100
	MaxEventsLimit     = 1000
)

// EventService публикует события ядра ценообразования.
//
// Отвечает за:
// - Преобразование PricingEvent в исходящие сообщения с marketMakerId
// - Запись событий смены первичной биржи и запрета/разрешения сделок в журнал
// - Broadcast сообщений через WebSocket
// - Отправку сообщений в очередь
//
// Пакеты команд ордеров в журнал не пишутся: они порождаются на каждом тике.
type EventService struct {
	eventRepo     EventRepositoryInterface
	marketMakerID string
	logger        *zap.Logger

	wsHub EventBroadcaster
	queue MessageSender
}

// NewEventService создает новый экземпляр EventService.
func NewEventService(eventRepo EventRepositoryInterface, marketMakerID string, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		eventRepo:     eventRepo,
		marketMakerID: marketMakerID,
		logger:        logger,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast событий.
//
// Вызывается после инициализации Hub в main.go:
//
//	eventService := service.NewEventService(eventRepo, cfg.MarketMaker.ID, log)
//	eventService.SetWebSocketHub(wsHub)
func (s *EventService) SetWebSocketHub(hub EventBroadcaster) {
	s.wsHub = hub
}

// SetQueue устанавливает отправителя в очередь (nil - очередь отключена)
func (s *EventService) SetQueue(queue MessageSender) {
	s.queue = queue
}

// Publish обрабатывает события одного цикла.
//
// Ошибки журнала и очереди логируются и не прерывают публикацию остальных событий.
func (s *EventService) Publish(ctx context.Context, events []models.PricingEvent) {
	var outbound []models.OutboundMessage

	for i := range events {
		e := &events[i]
		msgs := s.ToMessages(e)
		if len(msgs) == 0 {
			s.logger.Warn("unknown pricing event kind",
				zap.String("kind", string(e.Kind)),
				zap.String("asset_pair", e.AssetPairID),
			)
			continue
		}

		if e.Kind != models.EventOrderCommands {
			s.journal(e, msgs[len(msgs)-1])
		}

		if s.wsHub != nil {
			for _, m := range msgs {
				s.wsHub.BroadcastOutbound(m)
			}
		}

		outbound = append(outbound, msgs...)
	}

	if s.queue == nil || len(outbound) == 0 {
		return
	}
	if err := s.queue.Send(ctx, outbound); err != nil {
		s.logger.Error("failed to send messages to queue",
			zap.Int("messages", len(outbound)),
			zap.Error(err),
		)
	}
}

// ToMessages преобразует событие в исходящие сообщения
//
// Запрет сделок порождает StopNewTradesMessage и StopOrAllowNewTradesMessage,
// разрешение - только StopOrAllowNewTradesMessage.
func (s *EventService) ToMessages(e *models.PricingEvent) []models.OutboundMessage {
	out := func(topic models.Topic, payload interface{}) models.OutboundMessage {
		return models.OutboundMessage{Topic: topic, AssetPairID: e.AssetPairID, Payload: payload}
	}

	switch e.Kind {
	case models.EventPrimaryExchangeSwitched:
		msg := &models.PrimaryExchangeSwitchedMessage{
			MarketMakerID:      s.marketMakerID,
			AssetPairID:        e.AssetPairID,
			AllExchangesStates: make([]models.ExchangeQualityMessage, 0, len(e.Qualities)),
		}
		for _, q := range e.Qualities {
			qm := toQualityMessage(q)
			if q.Exchange == e.NewPrimary {
				msg.NewPrimaryExchange = qm
			}
			msg.AllExchangesStates = append(msg.AllExchangesStates, qm)
		}
		if msg.NewPrimaryExchange.Exchange == "" {
			msg.NewPrimaryExchange.Exchange = e.NewPrimary
		}
		return []models.OutboundMessage{out(models.TopicPrimaryExchangeSwitched, msg)}

	case models.EventStopNewTrades:
		return []models.OutboundMessage{
			out(models.TopicStopNewTrades, &models.StopNewTradesMessage{
				AssetPairID:   e.AssetPairID,
				MarketMakerID: s.marketMakerID,
				Reason:        e.Reason,
			}),
			out(models.TopicStopOrAllowNewTrades, &models.StopOrAllowNewTradesMessage{
				AssetPairID:   e.AssetPairID,
				MarketMakerID: s.marketMakerID,
				Reason:        e.Reason,
				Stop:          true,
			}),
		}

	case models.EventAllowNewTrades:
		return []models.OutboundMessage{
			out(models.TopicStopOrAllowNewTrades, &models.StopOrAllowNewTradesMessage{
				AssetPairID:   e.AssetPairID,
				MarketMakerID: s.marketMakerID,
				Reason:        e.Reason,
				Stop:          false,
			}),
		}

	case models.EventOrderCommands:
		return []models.OutboundMessage{
			out(models.TopicOrderCommands, &models.OrderCommandsBatchMessage{
				AssetPairID:   e.AssetPairID,
				Timestamp:     e.Timestamp,
				MarketMakerID: s.marketMakerID,
				Commands:      e.Commands,
			}),
		}
	}

	return nil
}

// GetEvents возвращает последние события из журнала.
//
// Пустой assetPairID - события всех пар. limit <= 0 заменяется на DefaultEventsLimit,
// сверху ограничен MaxEventsLimit.
func (s *EventService) GetEvents(assetPairID string, limit int) ([]*models.EventRecord, error) {
	if limit <= 0 {
		limit = DefaultEventsLimit
	}
	if limit > MaxEventsLimit {
		limit = MaxEventsLimit
	}

	if assetPairID == "" {
		return s.eventRepo.GetRecent(limit)
	}
	return s.eventRepo.GetByAssetPair(assetPairID, limit)
}

// StartJournalCleanup периодически оставляет в журнале только keep последних событий.
//
// Блокирует до отмены ctx, запускается в отдельной горутине.
func (s *EventService) StartJournalCleanup(ctx context.Context, interval time.Duration, keep int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.eventRepo.KeepRecent(keep)
			if err != nil {
				s.logger.Warn("event journal cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Debug("event journal cleaned", zap.Int64("deleted", deleted))
			}
		}
	}
}

func (s *EventService) journal(e *models.PricingEvent, msg models.OutboundMessage) {
	if s.eventRepo == nil {
		return
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload", zap.String("event_id", e.ID), zap.Error(err))
		return
	}

	record := &models.EventRecord{
		EventID:     e.ID,
		Kind:        e.Kind,
		AssetPairID: e.AssetPairID,
		Payload:     payload,
		CreatedAt:   e.Timestamp,
	}
	if err := s.eventRepo.Create(record); err != nil {
		s.logger.Warn("failed to journal pricing event",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}

func toQualityMessage(q models.ExchangeQuality) models.ExchangeQualityMessage {
	m := models.ExchangeQualityMessage{
		Exchange:          q.Exchange,
		HedgingPreference: q.HedgingPreference,
		OrderbookReceived: q.OrderbookReceived,
	}
	if q.ErrorState != nil {
		m.ErrorState = string(*q.ErrorState)
	}
	return m
}
