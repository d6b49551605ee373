package feed

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"marketmaker/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedMessage - сообщение не удалось разобрать
var ErrMalformedMessage = errors.New("malformed feed message")

// MessageType - тип сообщения ретранслятора
type MessageType string

const (
	MessageOrderbook MessageType = "orderbook"
	MessageSpot      MessageType = "spot"
	MessageSettings  MessageType = "settings"
)

// envelope - конверт сообщения ретранслятора
type envelope struct {
	Type    MessageType         `json:"type"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// Message - разобранное сообщение фида
//
// Заполнено ровно одно поле в соответствии с Type.
type Message struct {
	Type      MessageType
	Orderbook *models.ExternalExchangeOrderbookMessage
	Spot      *models.SpotOrderbookMessage
	Settings  *models.SettingsChangedMessage
}

// AssetPairID возвращает пару сообщения (ключ шардирования)
func (m *Message) AssetPairID() string {
	switch m.Type {
	case MessageOrderbook:
		return m.Orderbook.AssetPairID
	case MessageSpot:
		return m.Spot.AssetPair
	case MessageSettings:
		if m.Settings.AssetPair != nil {
			return m.Settings.AssetPair.AssetPairID
		}
		if m.Settings.Exchange != nil {
			return m.Settings.Exchange.AssetPairID
		}
	}
	return ""
}

// IsMarketData - стакан или спотовый тик (может быть отброшен при переполнении)
func (m *Message) IsMarketData() bool {
	return m.Type == MessageOrderbook || m.Type == MessageSpot
}

// Decode разбирает сообщение {"type": ..., "payload": {...}}
//
// Нечисловые и нечитаемые цены (NaN, Inf, строки) отклоняются decimal при разборе.
func Decode(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}

	msg := &Message{Type: env.Type}

	switch env.Type {
	case MessageOrderbook:
		var ob models.ExternalExchangeOrderbookMessage
		if err := json.Unmarshal(env.Payload, &ob); err != nil {
			return nil, fmt.Errorf("%w: orderbook: %v", ErrMalformedMessage, err)
		}
		if ob.Source == "" || ob.AssetPairID == "" {
			return nil, fmt.Errorf("%w: orderbook without source or asset pair", ErrMalformedMessage)
		}
		msg.Orderbook = &ob

	case MessageSpot:
		var spot models.SpotOrderbookMessage
		if err := json.Unmarshal(env.Payload, &spot); err != nil {
			return nil, fmt.Errorf("%w: spot: %v", ErrMalformedMessage, err)
		}
		if spot.AssetPair == "" {
			return nil, fmt.Errorf("%w: spot tick without asset pair", ErrMalformedMessage)
		}
		msg.Spot = &spot

	case MessageSettings:
		var s models.SettingsChangedMessage
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return nil, fmt.Errorf("%w: settings: %v", ErrMalformedMessage, err)
		}
		msg.Settings = &s

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}

	return msg, nil
}
