package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
)

var two = decimal.NewFromInt(2)

// FindOutliers возвращает биржи, чьи лучшие цены отклоняются от медианы свежих стаканов
//
// Биржа - выброс, если |best - median| / median > threshold хотя бы по одной стороне.
// Отклонение ровно на threshold выбросом не считается. Меньше двух стаканов - выбросов нет.
func FindOutliers(fresh map[string]*models.ExternalOrderbook, threshold decimal.Decimal) map[string]bool {
	outliers := make(map[string]bool)
	if len(fresh) < 2 {
		return outliers
	}

	bids := make([]decimal.Decimal, 0, len(fresh))
	asks := make([]decimal.Decimal, 0, len(fresh))
	for _, ob := range fresh {
		bids = append(bids, ob.BestBid())
		asks = append(asks, ob.BestAsk())
	}

	refBid := Median(bids)
	refAsk := Median(asks)

	for exchange, ob := range fresh {
		if deviates(ob.BestBid(), refBid, threshold) || deviates(ob.BestAsk(), refAsk, threshold) {
			outliers[exchange] = true
		}
	}

	return outliers
}

func deviates(price, reference, threshold decimal.Decimal) bool {
	if !reference.IsPositive() {
		return false
	}
	return price.Sub(reference).Abs().Div(reference).GreaterThan(threshold)
}

// Median - медиана; при чётном количестве среднее двух центральных значений
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(two)
}
