package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderbookPosition представляет один уровень стакана
type OrderbookPosition struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// ExternalOrderbook - стакан внешней биржи по одной торговой паре
//
// Неизменяемый после создания: при каждом обновлении заменяется целиком.
// Bids отсортированы по убыванию цены, Asks - по возрастанию.
type ExternalOrderbook struct {
	AssetPairID     string              `json:"asset_pair_id"`
	ExchangeName    string              `json:"exchange_name"`
	LastUpdatedTime time.Time           `json:"last_updated_time"`
	Bids            []OrderbookPosition `json:"bids"`
	Asks            []OrderbookPosition `json:"asks"`
}

// BestBid возвращает лучшую цену покупки (первый уровень Bids)
func (o *ExternalOrderbook) BestBid() decimal.Decimal {
	if len(o.Bids) == 0 {
		return decimal.Zero
	}
	return o.Bids[0].Price
}

// BestAsk возвращает лучшую цену продажи (первый уровень Asks)
func (o *ExternalOrderbook) BestAsk() decimal.Decimal {
	if len(o.Asks) == 0 {
		return decimal.Zero
	}
	return o.Asks[0].Price
}

// Clone возвращает глубокую копию стакана
func (o *ExternalOrderbook) Clone() *ExternalOrderbook {
	if o == nil {
		return nil
	}
	c := *o
	c.Bids = append([]OrderbookPosition(nil), o.Bids...)
	c.Asks = append([]OrderbookPosition(nil), o.Asks...)
	return &c
}

// Orderbook - внутренний (синтезированный) стакан, публикуемый маркет-мейкером
type Orderbook struct {
	AssetPairID string              `json:"asset_pair_id"`
	Exchange    string              `json:"exchange"` // первичная биржа, из которой построен стакан
	Timestamp   time.Time           `json:"timestamp"`
	Bids        []OrderbookPosition `json:"bids"`
	Asks        []OrderbookPosition `json:"asks"`
}

// BestBid возвращает лучшую цену покупки
func (o *Orderbook) BestBid() decimal.Decimal {
	if len(o.Bids) == 0 {
		return decimal.Zero
	}
	return o.Bids[0].Price
}

// BestAsk возвращает лучшую цену продажи
func (o *Orderbook) BestAsk() decimal.Decimal {
	if len(o.Asks) == 0 {
		return decimal.Zero
	}
	return o.Asks[0].Price
}

// BestPrices - лучшие цены биржи для одного цикла
type BestPrices struct {
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
}
