package constant

import "fmt"

const (
	MarketEventQueueNameInsert = "market_event_queue_insert"
	MarketEventQueueGroup      = "market_event_group"

	MarketEventStreamName       = "market_event"
	MarketEventStreamSubjectAll = "market_event.>"

	CollectorStatusRedisKey = "collector:status"
)

// GetMarketEventStreamSubject returns market_event.<exchange>.<kind>.
func GetMarketEventStreamSubject(exchange, kind string) string {
	return fmt.Sprintf("%s.%s.%s", MarketEventStreamName, exchange, kind)
}

func GetMarketEventInsertQueueGroup() string {
	return fmt.Sprintf("%s_%s", MarketEventQueueGroup, MarketEventQueueNameInsert)
}

func GetTickerRedisKey(exchange, symbol string) string {
	return fmt.Sprintf("market:ticker:%s:%s", exchange, symbol)
}

func GetBookTopRedisKey(exchange, symbol string) string {
	return fmt.Sprintf("market:book:%s:%s", exchange, symbol)
}

func GetLinkHealthServiceName(exchange string) string {
	return "collector." + exchange
}
