package ingress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/meshwatch/meshwatch/internal/logging"
)

// NATSConfig configures the bus subscription.
type NATSConfig struct {
	URL     string
	Subject string
}

// NATSSource consumes envelope frames from a NATS subject. Bridges publish
// frames under the MQTT topic with slashes mapped to subject dots, so the
// topic is recovered by the reverse mapping.
type NATSSource struct {
	logger *logging.Logger
	cfg    NATSConfig
	conn   *nats.Conn
	sub    *nats.Subscription
}

func NewNATSSource(logger *logging.Logger, cfg NATSConfig) *NATSSource {
	return &NATSSource{logger: logger, cfg: cfg}
}

func (s *NATSSource) Start(ctx context.Context, handler Handler) error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("meshwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats %s: %w", s.cfg.URL, err)
	}
	s.conn = conn

	sub, err := conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		handler(ctx, SubjectToTopic(msg.Subject), msg.Data)
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.logger.Info("nats connected", "url", s.cfg.URL, "subject", s.cfg.Subject)
	return nil
}

func (s *NATSSource) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

// TopicToSubject maps an MQTT topic or filter to its NATS subject form:
// slashes become dots, "+" becomes "*" and "#" becomes ">".
func TopicToSubject(topic string) string {
	subject := strings.ReplaceAll(topic, "/", ".")
	subject = strings.ReplaceAll(subject, "+", "*")
	subject = strings.ReplaceAll(subject, "#", ">")
	return subject
}

// SubjectToTopic is the inverse mapping for concrete subjects.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
