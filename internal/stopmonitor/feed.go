package stopmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/telemetry"
)

// reconnectDelay is how long the feeder waits before redialing a dropped
// stream, the same fixed backoff the combined-stream reconnect loop this
// is grounded on uses.
const reconnectDelay = 5 * time.Second

// BinanceBookTickerFeeder streams best-bid/ask updates over one combined
// websocket connection and pushes them into the Stop Monitor's trigger
// evaluation as PriceUpdates, generalized from a raw
// websocket.DefaultDialer.Dial + conn.ReadMessage reconnect loop (the
// only gorilla/websocket usage pattern anywhere in the retrieved pack)
// from Binance's book depth/trade stream style into the @bookTicker
// stream this engine actually needs (best bid/ask, not order book depth).
type BinanceBookTickerFeeder struct {
	// StreamBaseURL defaults to Binance's combined-stream endpoint;
	// overridable for tests against a local fake server.
	StreamBaseURL string
}

type combinedStreamMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type bookTickerData struct {
	Symbol  string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// Run dials the combined bookTicker stream for symbols and pushes a
// PriceUpdate per tick until ctx is cancelled, reconnecting on any read
// error after reconnectDelay.
func (f BinanceBookTickerFeeder) Run(ctx context.Context, symbols []string, updates chan<- PriceUpdate) error {
	if len(symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	log := telemetry.NewLogger("stopmonitor.feed")
	base := f.StreamBaseURL
	if base == "" {
		base = "wss://stream.binance.com:9443/stream"
	}
	url := base + "?streams=" + streamNames(symbols)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Warn().Err(err).Msg("price feed: dial failed, retrying")
			if !sleepOrDone(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		f.readLoop(ctx, conn, updates, log)
		conn.Close()

		if !sleepOrDone(ctx, reconnectDelay) {
			return nil
		}
	}
}

// readLoop consumes messages off one connection until ctx is cancelled or
// a read fails, pushing a parsed PriceUpdate per tick. A malformed
// message is skipped rather than killing the connection.
func (f BinanceBookTickerFeeder) readLoop(ctx context.Context, conn *websocket.Conn, updates chan<- PriceUpdate, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				log.Warn().Err(err).Msg("price feed: read failed, reconnecting")
			}
			return
		}
		update, err := parseBookTicker(raw)
		if err != nil {
			continue
		}
		select {
		case updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func streamNames(symbols []string) string {
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = strings.ToLower(s) + "@bookTicker"
	}
	return strings.Join(names, "/")
}

func parseBookTicker(raw []byte) (PriceUpdate, error) {
	var msg combinedStreamMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return PriceUpdate{}, err
	}
	var tick bookTickerData
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		return PriceUpdate{}, err
	}
	bid, err := decimal.NewFromString(tick.BidPrice)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse bid: %w", err)
	}
	return PriceUpdate{Symbol: tick.Symbol, Price: bid, At: time.Now(), Source: domain.SourceWS}, nil
}
