package pricing

import (
	"sort"
	"sync"
)

// Константы FNV-1a для 32-битного хэша
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// FNVHash вычисляет FNV-1a hash строки без аллокаций
//
// Используется для шардирования по торговой паре и в диспетчере фида,
// чтобы сообщения одной пары всегда попадали в один шард.
func FNVHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// PairLocks - по одному мьютексу на торговую пару
//
// Пары обрабатываются параллельно, обновления одной пары строго последовательны.
// Глобальная блокировка берётся только на создание мьютекса новой пары.
type PairLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// NewPairLocks создаёт реестр блокировок
func NewPairLocks() *PairLocks {
	return &PairLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *PairLocks) get(assetPairID string) *sync.Mutex {
	l.mu.RLock()
	m, ok := l.locks[assetPairID]
	l.mu.RUnlock()
	if ok {
		return m
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok = l.locks[assetPairID]; ok {
		return m
	}
	m = &sync.Mutex{}
	l.locks[assetPairID] = m
	return m
}

// Lock захватывает мьютекс пары и возвращает функцию освобождения
//
//	unlock := locks.Lock(assetPairID)
//	defer unlock()
func (l *PairLocks) Lock(assetPairID string) func() {
	m := l.get(assetPairID)
	m.Lock()
	return m.Unlock
}

// AssetPairs возвращает известные пары в отсортированном порядке
func (l *PairLocks) AssetPairs() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.locks))
	for id := range l.locks {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// pairMap - потокобезопасная карта состояний компонента по торговым парам
//
// Сама карта защищена своим RWMutex, содержимое *T изменяется
// только под блокировкой пары из PairLocks.
type pairMap[T any] struct {
	mu    sync.RWMutex
	items map[string]*T
	init  func(assetPairID string) *T
}

func newPairMap[T any](init func(assetPairID string) *T) *pairMap[T] {
	return &pairMap[T]{items: make(map[string]*T), init: init}
}

// get возвращает состояние пары, создавая его при первом обращении
func (p *pairMap[T]) get(assetPairID string) *T {
	p.mu.RLock()
	item, ok := p.items[assetPairID]
	p.mu.RUnlock()
	if ok {
		return item
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if item, ok = p.items[assetPairID]; ok {
		return item
	}
	item = p.init(assetPairID)
	p.items[assetPairID] = item
	return item
}

// peek возвращает состояние пары без создания
func (p *pairMap[T]) peek(assetPairID string) (*T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[assetPairID]
	return item, ok
}
