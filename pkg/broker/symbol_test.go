package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBrokerSymbol(t *testing.T) {
	assert.Equal(t, "AAPL.US", ToBrokerSymbol("aapl"))
	assert.Equal(t, "NVDA.US", ToBrokerSymbol("NVDA"))
	// Already qualified symbols pass through.
	assert.Equal(t, "BRK.B", ToBrokerSymbol("BRK.B"))
}

func TestFromBrokerSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", FromBrokerSymbol("AAPL.US"))
	assert.Equal(t, "NVDA", FromBrokerSymbol("NVDA"))
}
