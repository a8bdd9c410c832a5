package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/portfolio"
)

// Publisher broadcasts cycle decisions over NATS so downstream
// consumers (dashboards, recorders) see the same signal table the
// executor acts on.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewPublisher connects to NATS for signal publishing.
func NewPublisher(url, subject string, log zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("live: connect to NATS: %w", err)
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		log:     log.With().Str("component", "publisher").Logger(),
	}, nil
}

// PublishCycle sends one cycle result as JSON.
func (p *Publisher) PublishCycle(result *portfolio.CycleResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("live: encode cycle result: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("live: publish cycle result: %w", err)
	}
	p.log.Debug().Int("decisions", len(result.Decisions)).Msg("cycle published")
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
