package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesAccessors(t *testing.T) {
	s := Series[float64]{1, 2, 3, 4, 5}

	assert.Equal(t, 5, s.Length())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, s.Values())
	assert.Equal(t, 5.0, s.Last(0))
	assert.Equal(t, 3.0, s.Last(2))
	assert.Equal(t, Series[float64]{4, 5}, s.LastValues(2))
	assert.Equal(t, s, s.LastValues(10))
}

func TestSeriesCrossover(t *testing.T) {
	fast := Series[float64]{9, 11}
	slow := Series[float64]{10, 10}

	assert.True(t, fast.Crossover(slow))
	assert.False(t, slow.Crossover(fast))
	assert.False(t, fast.Crossunder(slow))
	assert.True(t, slow.Crossunder(fast))

	// Already above on both bars is not a cross.
	assert.False(t, Series[float64]{11, 12}.Crossover(slow))
}
