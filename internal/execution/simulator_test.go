package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide/internal/event"
)

type stubQuoter struct {
	prices map[string]float64
}

func (s stubQuoter) LastClose(_ context.Context, symbol, date string) (float64, error) {
	if p, ok := s.prices[symbol+"/"+date]; ok {
		return p, nil
	}
	return 0, ErrUnknownPrice
}

func TestTieredCommission(t *testing.T) {
	c := DefaultCommission()

	// 最低收费兜底
	assert.Equal(t, 1.3, c.Calculate(10))
	// 小额档 0.013/股
	assert.InDelta(t, 3.9, c.Calculate(300), 1e-9)
	// 大额档 0.008/股
	assert.InDelta(t, 8.0, c.Calculate(1000), 1e-9)
}

func TestSimulatorFillsAtLastClose(t *testing.T) {
	sim := NewSimulator(stubQuoter{prices: map[string]float64{"SH510300/2019-04-02": 3.90}}, nil)

	ord, err := event.NewOrder("SH510300", "2019-04-02", event.OrderMarket, 200, event.DirectionBuy)
	require.NoError(t, err)

	fill, err := sim.Execute(context.Background(), ord)
	require.NoError(t, err)
	assert.Equal(t, event.KindFill, fill.Kind)
	assert.Equal(t, 3.90, fill.Fill.FillCost)
	assert.Equal(t, 200, fill.Fill.Quantity)
	assert.Equal(t, event.DirectionBuy, fill.Fill.Direction)
	assert.InDelta(t, 2.6, fill.Fill.Commission, 1e-9)
	assert.Equal(t, "SIM", fill.Fill.Venue)
}

func TestSimulatorUnknownPrice(t *testing.T) {
	sim := NewSimulator(stubQuoter{}, FreeCommission{})

	ord, err := event.NewOrder("SH510300", "2019-04-02", event.OrderMarket, 100, event.DirectionBuy)
	require.NoError(t, err)

	_, err = sim.Execute(context.Background(), ord)
	assert.True(t, errors.Is(err, ErrUnknownPrice))
}
