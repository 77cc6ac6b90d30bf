package adapter

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/market-collector/internal/entity"
)

const tokocryptoDefaultEndpoint = "wss://stream-cloud.tokocrypto.site/stream"

var tokocryptoStreams = []string{"aggTrade", "depth@100ms"}

type TokocryptoAdapter struct {
	exchange entity.ExchangeName
	endpoint string
	symbols  *symbolTable
	nextID   atomic.Int64
}

func NewTokocryptoAdapter(exchange entity.ExchangeName, opts Options) *TokocryptoAdapter {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = tokocryptoDefaultEndpoint
	}

	return &TokocryptoAdapter{
		exchange: exchange,
		endpoint: endpoint,
		symbols:  newSymbolTable(exchange, concatSymbol, opts.Symbols),
	}
}

type tokocryptoSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type tokocryptoFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	// control replies
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type tokocryptoEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
}

type tokocryptoAggTrade struct {
	tokocryptoEvent
	AggregateID  int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
	// keeps the "M" key from matching "m" case-insensitively
	Ignore bool `json:"M"`
}

type tokocryptoDepthUpdate struct {
	tokocryptoEvent
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (a *TokocryptoAdapter) Exchange() entity.ExchangeName {
	return a.exchange
}

func (a *TokocryptoAdapter) Endpoint() string {
	return a.endpoint
}

func (a *TokocryptoAdapter) RequiresAuth() bool {
	return false
}

func (a *TokocryptoAdapter) BuildAuthFrame(entity.Credential) ([]byte, error) {
	return nil, nil
}

func (a *TokocryptoAdapter) SubscribeFrames(instruments []entity.Instrument, _ entity.Credential) ([][]byte, error) {
	if len(instruments) == 0 {
		return nil, nil
	}

	params := make([]string, 0, len(instruments)*len(tokocryptoStreams))
	for _, instrument := range instruments {
		symbol := strings.ToLower(a.symbols.ExchangeSymbol(instrument))
		for _, stream := range tokocryptoStreams {
			params = append(params, symbol+"@"+stream)
		}
	}

	frame, err := json.Marshal(tokocryptoSubscribe{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     a.nextID.Add(1),
	})
	if err != nil {
		return nil, err
	}

	return [][]byte{frame}, nil
}

func (a *TokocryptoAdapter) Instrument(symbol string) (entity.Instrument, bool) {
	return a.symbols.Instrument(symbol)
}

func (a *TokocryptoAdapter) ParseFrame(raw []byte) ([]entity.AdapterMessage, error) {
	var frame tokocryptoFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, malformed(a.exchange, "", err)
	}

	if frame.Error != nil {
		return []entity.AdapterMessage{{
			Kind:   entity.MessageKindError,
			Reason: strconv.Itoa(frame.Error.Code) + ": " + frame.Error.Msg,
		}}, nil
	}

	if frame.ID != nil && frame.Stream == "" {
		return []entity.AdapterMessage{{
			Kind:   entity.MessageKindSubscribed,
			Reason: "id " + strconv.FormatInt(*frame.ID, 10),
		}}, nil
	}

	// the raw stream endpoint delivers payloads without the combined wrapper
	data := []byte(frame.Data)
	if len(data) == 0 {
		data = raw
	}

	var event tokocryptoEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, malformed(a.exchange, frame.Stream, err)
	}

	switch event.Event {
	case "aggTrade":
		return a.parseAggTrade(data)
	case "depthUpdate":
		return a.parseDepthUpdate(data)
	case "":
		return nil, entity.NewUnknownMessageError(a.exchange, frame.Stream)
	default:
		return nil, entity.NewUnknownMessageError(a.exchange, event.Event)
	}
}

func (a *TokocryptoAdapter) parseAggTrade(data []byte) ([]entity.AdapterMessage, error) {
	var trade tokocryptoAggTrade
	if err := json.Unmarshal(data, &trade); err != nil {
		return nil, malformed(a.exchange, "aggTrade", err)
	}

	// the buyer being the maker means the aggressor sold
	side := entity.SideBuy
	if trade.BuyerIsMaker {
		side = entity.SideSell
	}

	eventTime := trade.TradeTime
	if eventTime == 0 {
		eventTime = trade.EventTime
	}

	return []entity.AdapterMessage{{
		Kind:      entity.MessageKindTrade,
		Symbol:    trade.Symbol,
		Sequence:  null.IntFrom(trade.AggregateID),
		EventTime: time.UnixMilli(eventTime).UTC(),
		TradeID:   strconv.FormatInt(trade.AggregateID, 10),
		Price:     trade.Price,
		Size:      trade.Quantity,
		Side:      side,
	}}, nil
}

func (a *TokocryptoAdapter) parseDepthUpdate(data []byte) ([]entity.AdapterMessage, error) {
	var update tokocryptoDepthUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, malformed(a.exchange, "depthUpdate", err)
	}

	bids, err := rawLevels(update.Bids)
	if err != nil {
		return nil, malformed(a.exchange, "depthUpdate", err)
	}
	asks, err := rawLevels(update.Asks)
	if err != nil {
		return nil, malformed(a.exchange, "depthUpdate", err)
	}

	return []entity.AdapterMessage{{
		Kind:      entity.MessageKindBook,
		Symbol:    update.Symbol,
		Sequence:  null.IntFrom(update.FinalUpdateID),
		EventTime: time.UnixMilli(update.EventTime).UTC(),
		Bids:      bids,
		Asks:      asks,
	}}, nil
}
