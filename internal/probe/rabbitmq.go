package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ verifies a broker by exercising the full publish path: declare a
// throwaway exclusive queue, publish one message through the default
// exchange, consume it back, delete the queue. A broker in a partitioned or
// memory-alarmed state accepts connections but blocks publishes, so a plain
// dial is not enough.
type RabbitMQ struct {
	src      SettingsSource
	fallback map[string]string
}

// NewRabbitMQ builds the broker prober. src may be nil; see NewPostgres.
func NewRabbitMQ(src SettingsSource, fallback map[string]string) *RabbitMQ {
	return &RabbitMQ{src: src, fallback: fallback}
}

func (r *RabbitMQ) Kind() string { return KindRabbitMQ }

func (r *RabbitMQ) Check(ctx context.Context) error {
	s, err := resolve(ctx, r.src, KindRabbitMQ, r.fallback)
	if err != nil {
		return fmt.Errorf("resolving rabbitmq settings: %w", err)
	}

	u := url.URL{
		Scheme: "amqp",
		User: url.UserPassword(
			setting(s, "RABBITMQ_USERNAME", "guest"),
			setting(s, "RABBITMQ_PASSWORD", "guest"),
		),
		Host: net.JoinHostPort(
			setting(s, "RABBITMQ_HOSTNAME", "localhost"),
			setting(s, "RABBITMQ_PORT", "5672"),
		),
		Path: "/",
	}

	dialTimeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}
	conn, err := amqp.DialConfig(u.String(), amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return classifyAMQP(err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return classifyAMQP(err)
	}
	defer ch.Close()

	queue := "health-check-queue-" + uuid.NewString()
	q, err := ch.QueueDeclare(queue, false, true, true, false, nil)
	if err != nil {
		return classifyAMQP(err)
	}

	if err := ch.PublishWithContext(ctx, "", q.Name, false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte("RabbitMQ Health Checking"),
	}); err != nil {
		return classifyAMQP(err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return classifyAMQP(err)
	}
	select {
	case <-ctx.Done():
		return classify(ctx.Err())
	case _, ok := <-deliveries:
		if !ok {
			return fmt.Errorf("%w: delivery channel closed before round-trip", ErrUnreachable)
		}
	}

	if _, err := ch.QueueDelete(q.Name, false, false, false); err != nil {
		return classifyAMQP(err)
	}
	return nil
}

// classifyAMQP maps the broker's ACCESS_REFUSED close onto ErrAuth.
func classifyAMQP(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return classify(err)
}
