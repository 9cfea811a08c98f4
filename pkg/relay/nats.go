package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cbodonnell/herosync/pkg/events"
	"github.com/cbodonnell/herosync/pkg/game/types"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "herosync.battles.completed"

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRelay forwards battle-completed payloads to a NATS subject.
// Publish failures are logged and not retried.
type NATSRelay struct {
	conn         *nats.Conn
	publisher    Publisher
	subject      string
	subscription events.Subscription
}

type NewNATSRelayOptions struct {
	Bus     *events.Bus
	Subject string
	// Publisher is used as is when set. Otherwise the relay connects to URL.
	Publisher Publisher
	URL       string
}

func NewNATSRelay(opts NewNATSRelayOptions) (*NATSRelay, error) {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	r := &NATSRelay{
		publisher: opts.Publisher,
		subject:   opts.Subject,
	}
	if r.publisher == nil {
		conn, err := nats.Connect(opts.URL,
			nats.Name("herosync"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("Disconnected from NATS: %v", err)
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("Reconnected to NATS at %s", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %v", err)
		}
		log.Info("Connected to NATS at %s", conn.ConnectedUrl())
		r.conn = conn
		r.publisher = conn
	}
	r.subscription = opts.Bus.Subscribe(types.EventBattleCompleted, r.handleBattleCompleted)
	return r, nil
}

func (r *NATSRelay) handleBattleCompleted(e events.Event) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		log.Error("Failed to marshal %s payload: %v", e.Name, err)
		return
	}
	if err := r.publisher.Publish(r.subject, data); err != nil {
		log.Error("Failed to publish %s to %s: %v", e.Name, r.subject, err)
	}
}

// Close stops relaying and drains the connection if the relay owns one.
func (r *NATSRelay) Close() error {
	r.subscription.Unsubscribe()
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %v", err)
	}
	return nil
}
