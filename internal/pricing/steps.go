package pricing

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"marketmaker/internal/models"
)

// Cycle - данные одного цикла конвейера по торговой паре
//
// Заполняется шагами по порядку; каждый шаг читает результаты предыдущих.
type Cycle struct {
	AssetPairID string
	Now         time.Time
	Settings    *models.PairSettings
	Incoming    *models.ExternalOrderbook

	Books     map[string]*models.ExternalOrderbook // все стаканы пары
	Fresh     map[string]*models.ExternalOrderbook // не устаревшие
	Stale     map[string]bool
	Outliers  map[string]bool
	Repeated  map[string]bool
	Qualities []models.ExchangeQuality
	Primary   string

	Result *models.Orderbook
	Err    error // нарушение инварианта в цикле

	Events []models.PricingEvent
}

func newCycle(ob *models.ExternalOrderbook, settings *models.PairSettings, books map[string]*models.ExternalOrderbook, now time.Time) *Cycle {
	return &Cycle{
		AssetPairID: ob.AssetPairID,
		Now:         now,
		Settings:    settings,
		Incoming:    ob,
		Books:       books,
		Fresh:       make(map[string]*models.ExternalOrderbook, len(books)),
		Stale:       make(map[string]bool),
		Outliers:    make(map[string]bool),
		Repeated:    make(map[string]bool),
	}
}

// Quality возвращает качество биржи в цикле
func (c *Cycle) Quality(exchange string) (models.ExchangeQuality, bool) {
	for _, q := range c.Qualities {
		if q.Exchange == exchange {
			return q, true
		}
	}
	return models.ExchangeQuality{}, false
}

func (c *Cycle) addEvent(e models.PricingEvent) {
	c.Events = append(c.Events, e)
}

// Step - шаг конвейера
//
// Run выполняется, когда шаг включён в настройках пары, Skip - когда отключён;
// Skip оставляет классификацию шага в значении "не проблема".
type Step struct {
	Kind models.StepKind
	Run  func(c *Cycle)
	Skip func(c *Cycle)
}

// DefaultSteps возвращает шаги конвейера в порядке выполнения
func (p *Pipeline) DefaultSteps() []Step {
	return []Step{
		{Kind: models.StepStaleness, Run: p.runStaleness, Skip: skipStaleness},
		{Kind: models.StepOutliers, Run: p.runOutliers, Skip: noop},
		{Kind: models.StepRepeatedOutliers, Run: p.runRepeatedOutliers, Skip: noop},
		{Kind: models.StepPrimarySelection, Run: p.runPrimarySelection, Skip: p.skipPrimarySelection},
		{Kind: models.StepArbitrageFree, Run: p.runArbitrageFree, Skip: p.skipArbitrageFree},
		{Kind: models.StepStopTrades, Run: p.runStopTrades, Skip: p.skipStopTrades},
	}
}

func noop(*Cycle) {}

// ============ Staleness ============

func (p *Pipeline) runStaleness(c *Cycle) {
	for exchange, ob := range c.Books {
		threshold := c.Settings.Exchange(exchange).OrderbookOutdatingThreshold
		if threshold <= 0 {
			threshold = c.Settings.ExchangeDefaults.OrderbookOutdatingThreshold
		}
		if IsStale(ob, c.Now, threshold) {
			c.Stale[exchange] = true
			continue
		}
		c.Fresh[exchange] = ob
	}
}

func skipStaleness(c *Cycle) {
	for exchange, ob := range c.Books {
		c.Fresh[exchange] = ob
	}
}

// ============ Outliers ============

func (p *Pipeline) runOutliers(c *Cycle) {
	// Отключённые вручную биржи не участвуют в консенсусе
	candidates := make(map[string]*models.ExternalOrderbook, len(c.Fresh))
	for exchange, ob := range c.Fresh {
		if !c.Settings.Exchange(exchange).Disabled.IsTemporarilyDisabled {
			candidates[exchange] = ob
		}
	}

	c.Outliers = FindOutliers(candidates, c.Settings.AssetPair.OutlierThreshold)
	for exchange := range c.Outliers {
		RecordOutlier(c.AssetPairID, exchange)
	}
}

// ============ Repeated outliers ============

func (p *Pipeline) runRepeatedOutliers(c *Cycle) {
	for exchange, ob := range c.Books {
		if p.tracker.IsRepeatedProblem(ob, c.Stale[exchange], c.Outliers[exchange], c.Now, c.Settings.AssetPair.RepeatedOutliers) {
			c.Repeated[exchange] = true
		}
	}
}

// ============ Primary selection ============

func (p *Pipeline) runPrimarySelection(c *Cycle) {
	c.Qualities = BuildQualities(c)
	res := p.selector.SelectPrimary(c.AssetPairID, c.Qualities, c.Settings.AssetPair.PresetPrimaryExchange, c.Now)
	p.applySelection(c, res)
}

func (p *Pipeline) skipPrimarySelection(c *Cycle) {
	c.Qualities = BuildQualities(c)

	next := ""
	if preset := c.Settings.AssetPair.PresetPrimaryExchange; preset != "" && c.Books[preset] != nil {
		next = preset
	} else if current := p.selector.State(c.AssetPairID).Exchange; current != "" && c.Books[current] != nil {
		next = current
	}

	res := p.selector.ForcePrimary(c.AssetPairID, c.Qualities, next, c.Now)
	p.applySelection(c, res)
}

func (p *Pipeline) applySelection(c *Cycle, res SelectionResult) {
	c.Primary = res.Primary
	if !res.Switched {
		return
	}

	RecordPrimarySwitch(c.AssetPairID)
	p.logger.Info("primary exchange switched",
		zap.String("asset_pair", c.AssetPairID),
		zap.String("from", res.Previous),
		zap.String("to", res.Primary),
	)

	c.addEvent(p.newEvent(c, models.EventPrimaryExchangeSwitched, func(e *models.PricingEvent) {
		e.NewPrimary = res.Primary
		e.Qualities = append([]models.ExchangeQuality(nil), c.Qualities...)
	}))
}

// BuildQualities вычисляет качество всех бирж пары
//
// Приоритет ошибок: Disabled > Stale > RepeatedProblem > Outlier.
// Биржи без стакана: OrderbookReceived=false, ErrorState=nil. Результат отсортирован по id биржи.
func BuildQualities(c *Cycle) []models.ExchangeQuality {
	names := make(map[string]struct{}, len(c.Books))
	for name := range c.Books {
		names[name] = struct{}{}
	}
	for _, name := range c.Settings.ExchangeNames() {
		names[name] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	qualities := make([]models.ExchangeQuality, 0, len(sorted))
	for _, name := range sorted {
		es := c.Settings.Exchange(name)
		q := models.ExchangeQuality{
			Exchange:          name,
			HedgingPreference: es.HedgingPreference,
			OrderbookReceived: c.Books[name] != nil,
		}

		if q.OrderbookReceived {
			state := models.ExchangeErrorNone
			switch {
			case es.Disabled.IsTemporarilyDisabled:
				state = models.ExchangeErrorDisabled
			case c.Stale[name]:
				state = models.ExchangeErrorStale
			case c.Repeated[name]:
				state = models.ExchangeErrorRepeatedProblem
			case c.Outliers[name]:
				state = models.ExchangeErrorOutlier
			}
			q.ErrorState = models.ErrorStatePtr(state)
		}

		qualities = append(qualities, q)
	}

	return qualities
}

// ============ Arbitrage-free synthesis ============

func (p *Pipeline) runArbitrageFree(c *Cycle) {
	primary := c.Books[c.Primary]
	if primary == nil {
		return
	}

	others := make(map[string]models.BestPrices)
	for _, q := range c.Qualities {
		if q.Exchange == c.Primary || !q.IsEligible() {
			continue
		}
		ob := c.Books[q.Exchange]
		others[q.Exchange] = models.BestPrices{BestBid: ob.BestBid(), BestAsk: ob.BestAsk()}
	}

	result, err := p.synth.Transform(primary, others, c.Settings.AssetPair.VolumeMultiplier, c.Now)
	if err != nil {
		c.Err = err
		RecordInvariantViolation(c.AssetPairID, "negative_spread")
		p.logger.Error("synthesized orderbook violates invariant",
			zap.String("asset_pair", c.AssetPairID),
			zap.String("primary", c.Primary),
			zap.String("primary_bid", primary.BestBid().String()),
			zap.String("primary_ask", primary.BestAsk().String()),
			zap.Any("others", others),
			zap.Any("qualities", c.Qualities),
			zap.Error(err),
		)
		return
	}

	c.Result = result
}

func (p *Pipeline) skipArbitrageFree(c *Cycle) {
	primary := c.Books[c.Primary]
	if primary == nil {
		return
	}
	c.Result = p.synth.PassThrough(primary, c.Settings.AssetPair.VolumeMultiplier, c.Now)
}

// ============ Stop trades ============

func (p *Pipeline) runStopTrades(c *Cycle) {
	var (
		preference = c.Settings.ExchangeDefaults.HedgingPreference
		errorState *models.ExchangeErrorState
	)
	if q, ok := c.Quality(c.Primary); ok {
		preference = q.HedgingPreference
		errorState = q.ErrorState
	}

	p.guard.SetPrimaryOrderbookState(c.AssetPairID, c.Primary, c.Now, preference, errorState)
	p.guard.SetFreshOrderbooksState(c.AssetPairID, c.Fresh, c.Now)
	if c.Err != nil {
		p.guard.SetCycleError(c.AssetPairID, c.Err)
	}

	p.applyTransition(c, p.guard.FinishCycle(c.AssetPairID, c.Result, c.Now))
}

func (p *Pipeline) skipStopTrades(c *Cycle) {
	p.applyTransition(c, p.guard.Allow(c.AssetPairID, "stop trades check disabled", c.Now))
}

func (p *Pipeline) applyTransition(c *Cycle, tr *TradesTransition) {
	if tr == nil {
		return
	}

	kind := models.EventAllowNewTrades
	if tr.Stopped() {
		kind = models.EventStopNewTrades
	}

	p.logger.Info("trading state changed",
		zap.String("asset_pair", tr.AssetPairID),
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.String("reason", tr.Reason),
	)

	c.addEvent(p.newEvent(c, kind, func(e *models.PricingEvent) {
		e.Reason = tr.Reason
	}))
}
