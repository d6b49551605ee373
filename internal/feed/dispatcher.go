package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"marketmaker/internal/pricing"
)

// Ошибки диспетчера
var (
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrShardFull        = errors.New("shard queue full")
)

// MessageHandler обрабатывает одно сообщение фида
type MessageHandler interface {
	Handle(ctx context.Context, msg *Message)
}

// Dispatcher распределяет сообщения фида по шардам.
//
// Шард выбирается по FNV-1a хэшу пары, у каждого шарда один воркер,
// поэтому сообщения одной пары обрабатываются строго в порядке поступления.
//
// Поток данных:
// Connection → Decode → Dispatcher (hash by asset pair) → Worker[N] → Handler
type Dispatcher struct {
	shards  []chan *Message
	handler MessageHandler
	logger  *zap.Logger

	// closed и отправка в шард под mu: Close не закрывает канал во время Submit
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер и запускает воркеры шардов
func NewDispatcher(numShards, queueSize int, handler MessageHandler, logger *zap.Logger) *Dispatcher {
	if numShards < 1 {
		numShards = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		shards:  make([]chan *Message, numShards),
		handler: handler,
		logger:  logger,
	}

	for i := range d.shards {
		d.shards[i] = make(chan *Message, queueSize)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}

	return d
}

// ShardIndex - индекс шарда для пары
func (d *Dispatcher) ShardIndex(assetPairID string) int {
	return int(pricing.FNVHash(assetPairID) % uint32(len(d.shards)))
}

// Submit ставит сообщение в очередь шарда.
//
// Рыночные данные при переполнении очереди отбрасываются (ErrShardFull):
// следующий стакан всё равно заменит этот. Изменения настроек ждут места в очереди.
func (d *Dispatcher) Submit(ctx context.Context, msg *Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	shard := d.shards[d.ShardIndex(msg.AssetPairID())]

	if msg.IsMarketData() {
		select {
		case shard <- msg:
			return nil
		default:
			DispatcherOverflows.WithLabelValues(string(msg.Type)).Inc()
			return ErrShardFull
		}
	}

	select {
	case shard <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close перестаёт принимать сообщения, дожидается обработки очередей и остановки воркеров
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("feed dispatcher drained", zap.Int("shards", len(d.shards)))
}

func (d *Dispatcher) worker(shard <-chan *Message) {
	defer d.wg.Done()

	// Контекст обработки не отменяется: очередь дочитывается до конца при остановке
	ctx := context.Background()
	for msg := range shard {
		d.handler.Handle(ctx, msg)
	}
}
