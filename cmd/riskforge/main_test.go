package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOrReturnsEnvValueWhenSet(t *testing.T) {
	t.Setenv("RISKFORGE_TEST_VAR", "from-env")
	assert.Equal(t, "from-env", envOr("RISKFORGE_TEST_VAR", "fallback"))
}

func TestEnvOrReturnsDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("RISKFORGE_TEST_VAR_UNSET")
	assert.Equal(t, "fallback", envOr("RISKFORGE_TEST_VAR_UNSET", "fallback"))
}

func TestSplitSymbolsTrimsAndSplits(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, splitSymbols("BTCUSDT, ETHUSDT"))
}

func TestSplitSymbolsSkipsEmptyParts(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT"}, splitSymbols("BTCUSDT,,"))
}

func TestSplitSymbolsSingleSymbol(t *testing.T) {
	assert.Equal(t, []string{"BTCUSDT"}, splitSymbols("BTCUSDT"))
}
