package websocket

import (
	"time"

	"marketmaker/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeEvent - исходящее событие маркет-мейкера
	// (смена первичной биржи, запрет/разрешение сделок, пакет команд)
	MessageTypeEvent MessageType = "event"

	// MessageTypeStatus - снимок состояния пар, отправляется при подключении клиента
	MessageTypeStatus MessageType = "status"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - исходящее сообщение маркет-мейкера для дашборда
//
// Topic совпадает с темой в очереди, Data - тело сообщения.
type EventMessage struct {
	BaseMessage
	Topic       models.Topic `json:"topic"`
	AssetPairID string       `json:"asset_pair_id"`
	Data        interface{}  `json:"data"`
}

// StatusMessage - состояние всех пар
type StatusMessage struct {
	BaseMessage
	Data []models.AssetPairStatus `json:"data"`
}

// NewEventMessage оборачивает исходящее сообщение
func NewEventMessage(msg models.OutboundMessage) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEvent, Timestamp: time.Now()},
		Topic:       msg.Topic,
		AssetPairID: msg.AssetPairID,
		Data:        msg.Payload,
	}
}

// NewStatusMessage создаёт снимок состояния пар
func NewStatusMessage(statuses []models.AssetPairStatus) *StatusMessage {
	if statuses == nil {
		statuses = []models.AssetPairStatus{}
	}
	return &StatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStatus, Timestamp: time.Now()},
		Data:        statuses,
	}
}
