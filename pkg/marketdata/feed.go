package marketdata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Feed subscribes to streamed ticks over NATS. Payloads are JSON Tick
// messages on subjects of the form <subject>.<SYMBOL>.
type Feed struct {
	conn *nats.Conn
	subs []*nats.Subscription
	log  zerolog.Logger
}

// NewFeed connects to the NATS server.
func NewFeed(url string, log zerolog.Logger) (*Feed, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("marketdata: connect to NATS: %w", err)
	}
	return &Feed{
		conn: conn,
		subs: make([]*nats.Subscription, 0),
		log:  log.With().Str("component", "feed").Logger(),
	}, nil
}

// Subscribe registers a handler for one symbol's ticks.
func (f *Feed) Subscribe(subjectPrefix, symbol string, handler func(Tick)) error {
	subject := subjectPrefix + "." + symbol
	sub, err := f.conn.Subscribe(subject, func(msg *nats.Msg) {
		var tick Tick
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			f.log.Warn().Str("subject", subject).Err(err).Msg("dropping malformed tick")
			return
		}
		handler(tick)
	})
	if err != nil {
		return fmt.Errorf("marketdata: subscribe %s: %w", subject, err)
	}

	f.subs = append(f.subs, sub)
	return nil
}

// Publish sends one tick, used by replay and simulation tooling.
func (f *Feed) Publish(subjectPrefix string, tick Tick) error {
	data, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marketdata: encode tick: %w", err)
	}
	return f.conn.Publish(subjectPrefix+"."+tick.Symbol, data)
}

// Close drains all subscriptions and closes the connection.
func (f *Feed) Close() {
	for _, sub := range f.subs {
		_ = sub.Unsubscribe()
	}
	if f.conn != nil {
		f.conn.Close()
	}
}
