package bus

import "fmt"

// Well-known topic names. Request topics follow the service@operation
// convention; responses always travel on the shared Response channel.
const (
	TopicResponse = "Response"

	TopicPlaceOrder     = "API@place_order"
	TopicPositions      = "API@positions"
	TopicAccountBalance = "API@account_balance"
	TopicClosePosition  = "API@close"
	TopicPortfolioStats = "PortfolioManager@stats"
)

// Channels builds prefixed channel names for one deployment. Two bots
// sharing a Redis instance stay isolated through distinct prefixes.
type Channels struct {
	prefix string
}

// NewChannels creates a channel namer for the given prefix.
func NewChannels(prefix string) Channels {
	return Channels{prefix: prefix}
}

func (c Channels) name(kind, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, symbol)
}

// Candlestick is the closed-kline stream for a symbol.
func (c Channels) Candlestick(symbol string) string { return c.name("candlestick", symbol) }

// OrderBook is the depth snapshot stream for a symbol.
func (c Channels) OrderBook(symbol string) string { return c.name("orderbook", symbol) }

// Execution is the execution report stream for a symbol.
func (c Channels) Execution(symbol string) string { return c.name("execution", symbol) }

// Signal is the strategy signal channel, shared across symbols; the
// event payload carries the symbol.
func (c Channels) Signal() string {
	return fmt.Sprintf("%s:signal", c.prefix)
}

// Request is the channel a service listens on for commands.
func (c Channels) Request(topic string) string {
	return fmt.Sprintf("%s:request:%s", c.prefix, topic)
}

// Response is the shared reply channel all requesters listen on.
func (c Channels) Response() string {
	return fmt.Sprintf("%s:%s", c.prefix, TopicResponse)
}

// LastValueKey is the KV key holding the most recent value on a channel.
func (c Channels) LastValueKey(channel string) string {
	return fmt.Sprintf("%s:last:%s", c.prefix, channel)
}
