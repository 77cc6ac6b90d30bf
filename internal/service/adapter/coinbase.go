package adapter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/market-collector/internal/entity"
)

const coinbaseDefaultEndpoint = "wss://advanced-trade-ws.coinbase.com"

var coinbaseChannels = []string{"ticker", "level2", "market_trades", "heartbeats"}

type CoinbaseAdapter struct {
	exchange      entity.ExchangeName
	endpoint      string
	authenticated bool
	symbols       *symbolTable
}

func NewCoinbaseAdapter(exchange entity.ExchangeName, opts Options) *CoinbaseAdapter {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = coinbaseDefaultEndpoint
	}

	return &CoinbaseAdapter{
		exchange:      exchange,
		endpoint:      endpoint,
		authenticated: opts.Authenticated,
		symbols:       newSymbolTable(exchange, dashSymbol, opts.Symbols),
	}
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

type coinbaseEnvelope struct {
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Channel     string            `json:"channel"`
	Timestamp   string            `json:"timestamp"`
	SequenceNum *int64            `json:"sequence_num"`
	Events      []json.RawMessage `json:"events"`
}

type coinbaseTickerEvent struct {
	Type    string `json:"type"`
	Tickers []struct {
		ProductID       string `json:"product_id"`
		Price           string `json:"price"`
		Volume24h       string `json:"volume_24_h"`
		BestBid         string `json:"best_bid"`
		BestBidQuantity string `json:"best_bid_quantity"`
		BestAsk         string `json:"best_ask"`
		BestAskQuantity string `json:"best_ask_quantity"`
	} `json:"tickers"`
}

type coinbaseL2Event struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Updates   []struct {
		Side        string `json:"side"`
		EventTime   string `json:"event_time"`
		PriceLevel  string `json:"price_level"`
		NewQuantity string `json:"new_quantity"`
	} `json:"updates"`
}

type coinbaseTradesEvent struct {
	Type   string `json:"type"`
	Trades []struct {
		TradeID   string `json:"trade_id"`
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		Side      string `json:"side"`
		Time      string `json:"time"`
	} `json:"trades"`
}

type coinbaseSubscriptionsEvent struct {
	Subscriptions map[string][]string `json:"subscriptions"`
}

func (a *CoinbaseAdapter) Exchange() entity.ExchangeName {
	return a.exchange
}

func (a *CoinbaseAdapter) Endpoint() string {
	return a.endpoint
}

func (a *CoinbaseAdapter) RequiresAuth() bool {
	return a.authenticated
}

// BuildAuthFrame returns nil; the jwt travels inside every subscribe frame.
func (a *CoinbaseAdapter) BuildAuthFrame(entity.Credential) ([]byte, error) {
	return nil, nil
}

func (a *CoinbaseAdapter) SubscribeFrames(instruments []entity.Instrument, cred entity.Credential) ([][]byte, error) {
	if len(instruments) == 0 {
		return nil, nil
	}

	productIDs := make([]string, 0, len(instruments))
	for _, instrument := range instruments {
		productIDs = append(productIDs, a.symbols.ExchangeSymbol(instrument))
	}

	frames := make([][]byte, 0, len(coinbaseChannels))
	for _, channel := range coinbaseChannels {
		frame, err := json.Marshal(coinbaseSubscribe{
			Type:       "subscribe",
			ProductIDs: productIDs,
			Channel:    channel,
			JWT:        cred.Signature,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	return frames, nil
}

func (a *CoinbaseAdapter) Instrument(symbol string) (entity.Instrument, bool) {
	return a.symbols.Instrument(symbol)
}

func (a *CoinbaseAdapter) ParseFrame(raw []byte) ([]entity.AdapterMessage, error) {
	var envelope coinbaseEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, malformed(a.exchange, "", err)
	}

	if envelope.Type == "error" {
		return []entity.AdapterMessage{coinbaseError(envelope.Message)}, nil
	}

	sequence := null.Int{}
	if envelope.SequenceNum != nil {
		sequence = null.IntFrom(*envelope.SequenceNum)
	}
	eventTime := parseTime(envelope.Timestamp)

	switch envelope.Channel {
	case "ticker":
		return a.parseTicker(envelope, sequence, eventTime)
	case "l2_data":
		return a.parseLevel2(envelope, sequence, eventTime)
	case "market_trades":
		return a.parseTrades(envelope, sequence, eventTime)
	case "heartbeats":
		return []entity.AdapterMessage{{
			Kind:      entity.MessageKindHeartbeat,
			Sequence:  sequence,
			EventTime: eventTime,
		}}, nil
	case "subscriptions":
		return a.parseSubscriptions(envelope)
	case "":
		return nil, malformed(a.exchange, "", errors.New("frame has no channel"))
	default:
		return nil, entity.NewUnknownMessageError(a.exchange, envelope.Channel)
	}
}

func (a *CoinbaseAdapter) parseTicker(envelope coinbaseEnvelope, sequence null.Int, eventTime time.Time) ([]entity.AdapterMessage, error) {
	var out []entity.AdapterMessage
	for _, raw := range envelope.Events {
		var event coinbaseTickerEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, malformed(a.exchange, envelope.Channel, err)
		}

		for _, ticker := range event.Tickers {
			out = append(out, entity.AdapterMessage{
				Kind:        entity.MessageKindTicker,
				Symbol:      ticker.ProductID,
				Sequence:    sequence,
				EventTime:   eventTime,
				Price:       ticker.Price,
				Volume24h:   ticker.Volume24h,
				BestBid:     ticker.BestBid,
				BestBidSize: ticker.BestBidQuantity,
				BestAsk:     ticker.BestAsk,
				BestAskSize: ticker.BestAskQuantity,
			})
		}
	}

	return out, nil
}

// parseLevel2 yields one book message per event of a batched frame.
func (a *CoinbaseAdapter) parseLevel2(envelope coinbaseEnvelope, sequence null.Int, eventTime time.Time) ([]entity.AdapterMessage, error) {
	out := make([]entity.AdapterMessage, 0, len(envelope.Events))
	for _, raw := range envelope.Events {
		var event coinbaseL2Event
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, malformed(a.exchange, envelope.Channel, err)
		}

		msg := entity.AdapterMessage{
			Kind:      entity.MessageKindBook,
			Symbol:    event.ProductID,
			Sequence:  sequence,
			EventTime: eventTime,
			Snapshot:  event.Type == "snapshot",
		}
		for _, update := range event.Updates {
			level := entity.RawLevel{Price: update.PriceLevel, Size: update.NewQuantity}
			switch strings.ToLower(update.Side) {
			case "bid", "buy":
				msg.Bids = append(msg.Bids, level)
			case "offer", "ask", "sell":
				msg.Asks = append(msg.Asks, level)
			default:
				return nil, malformed(a.exchange, envelope.Channel, fmt.Errorf("unknown book side %q", update.Side))
			}
		}
		out = append(out, msg)
	}

	return out, nil
}

func (a *CoinbaseAdapter) parseTrades(envelope coinbaseEnvelope, sequence null.Int, eventTime time.Time) ([]entity.AdapterMessage, error) {
	var out []entity.AdapterMessage
	for _, raw := range envelope.Events {
		var event coinbaseTradesEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, malformed(a.exchange, envelope.Channel, err)
		}

		for _, trade := range event.Trades {
			tradeTime := parseTime(trade.Time)
			if tradeTime.IsZero() {
				tradeTime = eventTime
			}

			out = append(out, entity.AdapterMessage{
				Kind:      entity.MessageKindTrade,
				Symbol:    trade.ProductID,
				Sequence:  sequence,
				EventTime: tradeTime,
				TradeID:   trade.TradeID,
				Price:     trade.Price,
				Size:      trade.Size,
				Side:      parseSide(trade.Side),
			})
		}
	}

	return out, nil
}

func (a *CoinbaseAdapter) parseSubscriptions(envelope coinbaseEnvelope) ([]entity.AdapterMessage, error) {
	var out []entity.AdapterMessage
	for _, raw := range envelope.Events {
		var event coinbaseSubscriptionsEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, malformed(a.exchange, envelope.Channel, err)
		}

		for channel, productIDs := range event.Subscriptions {
			for _, productID := range productIDs {
				out = append(out, entity.AdapterMessage{
					Kind:   entity.MessageKindSubscribed,
					Symbol: productID,
					Reason: channel,
				})
			}
		}
	}

	return out, nil
}

func coinbaseError(message string) entity.AdapterMessage {
	lower := strings.ToLower(message)
	authFailure := false
	for _, marker := range []string{"auth", "jwt", "unauthorized"} {
		if strings.Contains(lower, marker) {
			authFailure = true
			break
		}
	}

	return entity.AdapterMessage{
		Kind:        entity.MessageKindError,
		Reason:      message,
		AuthFailure: authFailure,
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}

func parseSide(raw string) entity.Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "bid":
		return entity.SideBuy
	case "sell", "ask", "offer":
		return entity.SideSell
	default:
		return entity.SideUnknown
	}
}
