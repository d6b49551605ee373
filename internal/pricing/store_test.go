package pricing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketmaker/internal/models"
)

func TestValidateOrderbook(t *testing.T) {
	tests := []struct {
		name    string
		ob      *models.ExternalOrderbook
		wantErr bool
	}{
		{name: "valid", ob: book("BTCUSD", "a", t0, "100", "101")},
		{name: "nil", ob: nil, wantErr: true},
		{name: "empty exchange", ob: book("BTCUSD", "", t0, "100", "101"), wantErr: true},
		{name: "no bids", ob: &models.ExternalOrderbook{
			AssetPairID: "BTCUSD", ExchangeName: "a",
			Asks: []models.OrderbookPosition{level("101", "1")},
		}, wantErr: true},
		{name: "no asks", ob: &models.ExternalOrderbook{
			AssetPairID: "BTCUSD", ExchangeName: "a",
			Bids: []models.OrderbookPosition{level("100", "1")},
		}, wantErr: true},
		{name: "zero price", ob: book("BTCUSD", "a", t0, "0", "101"), wantErr: true},
		{name: "negative volume", ob: &models.ExternalOrderbook{
			AssetPairID: "BTCUSD", ExchangeName: "a",
			Bids: []models.OrderbookPosition{level("100", "-1")},
			Asks: []models.OrderbookPosition{level("101", "1")},
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderbook(tt.ob)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrderbook)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrderbookStore_UpdateReturnsSnapshot(t *testing.T) {
	s := NewOrderbookStore(4)

	_, err := s.Update(book("BTCUSD", "a", t0, "100", "101"))
	require.NoError(t, err)
	snap, err := s.Update(book("BTCUSD", "b", t0, "99", "102"))
	require.NoError(t, err)

	assert.Len(t, snap, 2)
	assert.True(t, snap["a"].BestBid().Equal(d("100")))
	assert.True(t, snap["b"].BestAsk().Equal(d("102")))

	// Другая пара не видна
	assert.Empty(t, s.GetAll("ETHUSD"))
}

func TestOrderbookStore_SnapshotsAreCopies(t *testing.T) {
	s := NewOrderbookStore(1)

	in := book("BTCUSD", "a", t0, "100", "101")
	snap, err := s.Update(in)
	require.NoError(t, err)

	// Изменение входного стакана после Update не влияет на хранилище
	in.Bids[0].Price = d("1")
	assert.True(t, s.GetAll("BTCUSD")["a"].BestBid().Equal(d("100")))

	// Изменение карты снимка не влияет на хранилище
	delete(snap, "a")
	assert.Len(t, s.GetAll("BTCUSD"), 1)
}

func TestOrderbookStore_RejectsInvalid(t *testing.T) {
	s := NewOrderbookStore(1)

	_, err := s.Update(&models.ExternalOrderbook{AssetPairID: "BTCUSD", ExchangeName: "a"})
	assert.ErrorIs(t, err, ErrInvalidOrderbook)
	assert.Empty(t, s.GetAll("BTCUSD"))
}

func TestOrderbookStore_ConcurrentPairs(t *testing.T) {
	s := NewOrderbookStore(8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := fmt.Sprintf("PAIR%d", i%4)
			for j := 0; j < 100; j++ {
				_, err := s.Update(book(pair, fmt.Sprintf("ex%d", i), t0, "100", "101"))
				assert.NoError(t, err)
				_ = s.GetAll(pair)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		assert.Len(t, s.GetAll(fmt.Sprintf("PAIR%d", i)), 4)
	}
}

func TestFNVHash_Stable(t *testing.T) {
	assert.Equal(t, FNVHash("BTCUSD"), FNVHash("BTCUSD"))
	assert.NotEqual(t, FNVHash("BTCUSD"), FNVHash("ETHUSD"))
	assert.Equal(t, uint32(2166136261), FNVHash(""))
}

func TestPairLocks_AssetPairsSorted(t *testing.T) {
	l := NewPairLocks()
	l.Lock("ETHUSD")()
	l.Lock("BTCUSD")()
	l.Lock("ETHUSD")()

	assert.Equal(t, []string{"BTCUSD", "ETHUSD"}, l.AssetPairs())
}
