package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/internal/models"
)

// maxWindowEntries ограничивает окно, если оба возраста не заданы
const maxWindowEntries = 10000

// problemFlag - результат одного цикла для биржи
type problemFlag struct {
	at        time.Time
	isProblem bool
}

// problemWindow - скользящее окно флагов одной биржи
type problemWindow struct {
	flags    []problemFlag
	promoted bool
}

// PersistentProblemTracker отслеживает систематические выбросы/устаревание биржи
//
// Переход в "повторяющуюся проблему" происходит, когда:
//   - хвостовая серия проблемных флагов в пределах MaxSequenceAge достигает MaxSequenceLength, или
//   - доля проблемных флагов в пределах MaxAvgAge достигает MaxAvg
//     (критерий учитывается, когда в окне не меньше max(2, MaxSequenceLength) флагов).
//
// Выход требует восстановления: хвостовая серия хороших флагов длиной
// max(2, MaxSequenceLength) и доля проблем ниже MaxAvg. Один хороший тик не снимает отметку.
//
// Состояние изменяется только под блокировкой пары.
type PersistentProblemTracker struct {
	windows *pairMap[map[string]*problemWindow]
}

// NewPersistentProblemTracker создаёт трекер
func NewPersistentProblemTracker() *PersistentProblemTracker {
	return &PersistentProblemTracker{
		windows: newPairMap(func(string) *map[string]*problemWindow {
			m := make(map[string]*problemWindow)
			return &m
		}),
	}
}

// IsRepeatedProblem записывает флаг isStale || isOutlier для цикла и возвращает текущее состояние биржи
func (t *PersistentProblemTracker) IsRepeatedProblem(
	ob *models.ExternalOrderbook,
	isStale, isOutlier bool,
	now time.Time,
	settings models.RepeatedOutliersSettings,
) bool {
	w := t.window(ob.AssetPairID, ob.ExchangeName)

	w.flags = append(w.flags, problemFlag{at: now, isProblem: isStale || isOutlier})
	w.prune(now, settings)

	seqHit := w.sequenceHit(now, settings)
	avgHit := w.averageHit(now, settings)

	if !w.promoted {
		if seqHit || avgHit {
			w.promoted = true
			RecordRepeatedProblem(ob.AssetPairID, ob.ExchangeName)
		}
		return w.promoted
	}

	if w.trailingGood() >= recoveryLength(settings) && !avgHit {
		w.promoted = false
	}

	return w.promoted
}

// Reset очищает окно биржи после ручного включения
func (t *PersistentProblemTracker) Reset(assetPairID, exchange string) {
	m, ok := t.windows.peek(assetPairID)
	if !ok {
		return
	}
	delete(*m, exchange)
}

func (t *PersistentProblemTracker) window(assetPairID, exchange string) *problemWindow {
	m := t.windows.get(assetPairID)
	w, ok := (*m)[exchange]
	if !ok {
		w = &problemWindow{}
		(*m)[exchange] = w
	}
	return w
}

func recoveryLength(s models.RepeatedOutliersSettings) int {
	if s.MaxSequenceLength > 2 {
		return s.MaxSequenceLength
	}
	return 2
}

// prune удаляет флаги старше максимального из двух окон
func (w *problemWindow) prune(now time.Time, s models.RepeatedOutliersSettings) {
	maxAge := s.MaxSequenceAge
	if s.MaxAvgAge > maxAge {
		maxAge = s.MaxAvgAge
	}

	start := 0
	if maxAge > 0 {
		for start < len(w.flags) && now.Sub(w.flags[start].at) > maxAge {
			start++
		}
	}
	if len(w.flags)-start > maxWindowEntries {
		start = len(w.flags) - maxWindowEntries
	}
	if start > 0 {
		w.flags = append(w.flags[:0], w.flags[start:]...)
	}
}

func (w *problemWindow) sequenceHit(now time.Time, s models.RepeatedOutliersSettings) bool {
	if s.MaxSequenceLength <= 0 {
		return false
	}

	run := 0
	for i := len(w.flags) - 1; i >= 0; i-- {
		f := w.flags[i]
		if !f.isProblem {
			break
		}
		if s.MaxSequenceAge > 0 && now.Sub(f.at) > s.MaxSequenceAge {
			break
		}
		run++
	}

	return run >= s.MaxSequenceLength
}

func (w *problemWindow) averageHit(now time.Time, s models.RepeatedOutliersSettings) bool {
	if !s.MaxAvg.IsPositive() {
		return false
	}

	total, problems := 0, 0
	for i := len(w.flags) - 1; i >= 0; i-- {
		f := w.flags[i]
		if s.MaxAvgAge > 0 && now.Sub(f.at) > s.MaxAvgAge {
			break
		}
		total++
		if f.isProblem {
			problems++
		}
	}

	if total < recoveryLength(s) {
		return false
	}

	avg := decimal.NewFromInt(int64(problems)).Div(decimal.NewFromInt(int64(total)))
	return avg.GreaterThanOrEqual(s.MaxAvg)
}

func (w *problemWindow) trailingGood() int {
	run := 0
	for i := len(w.flags) - 1; i >= 0; i-- {
		if w.flags[i].isProblem {
			break
		}
		run++
	}
	return run
}
