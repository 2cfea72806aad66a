package stopmonitor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamNamesLowercasesAndJoins(t *testing.T) {
	assert.Equal(t, "btcusdt@bookTicker/ethusdt@bookTicker", streamNames([]string{"BTCUSDT", "ETHUSDT"}))
}

func TestStreamNamesSingleSymbol(t *testing.T) {
	assert.Equal(t, "btcusdt@bookTicker", streamNames([]string{"BTCUSDT"}))
}

func TestParseBookTickerExtractsBidPrice(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"99.50000000","a":"99.60000000"}}`)
	update, err := parseBookTicker(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", update.Symbol)
	assert.True(t, update.Price.Equal(decimal.RequireFromString("99.5")))
}

func TestParseBookTickerRejectsMalformedEnvelope(t *testing.T) {
	_, err := parseBookTicker([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseBookTickerRejectsUnparsableBidPrice(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"not-a-number","a":"1"}}`)
	_, err := parseBookTicker(raw)
	assert.Error(t, err)
}
