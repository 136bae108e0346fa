package probe

import (
	"context"
	"fmt"
	"net"

	"github.com/segmentio/kafka-go"
)

// Kafka verifies a Kafka broker accepts connections. A successful dial is
// the readiness signal here: topic-level checks would require knowing the
// application's topics, which the gate deliberately does not.
type Kafka struct {
	src      SettingsSource
	fallback map[string]string
}

// NewKafka builds the broker prober for Kafka-flavoured deployments.
// src may be nil; see NewPostgres.
func NewKafka(src SettingsSource, fallback map[string]string) *Kafka {
	return &Kafka{src: src, fallback: fallback}
}

func (k *Kafka) Kind() string { return KindKafka }

func (k *Kafka) Check(ctx context.Context) error {
	s, err := resolve(ctx, k.src, KindKafka, k.fallback)
	if err != nil {
		return fmt.Errorf("resolving kafka settings: %w", err)
	}

	broker := setting(s, "KAFKA_BROKER", "")
	if broker == "" {
		broker = net.JoinHostPort(
			setting(s, "KAFKA_HOST", "localhost"),
			setting(s, "KAFKA_PORT", "9092"),
		)
	}

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return classify(err)
	}
	return conn.Close()
}
