package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultPrefetch       = 50
	defaultHandlerTimeout = 15 * time.Second
)

// Handler processes one message body. Returning nil acknowledges the message;
// an error schedules a retry.
type Handler func(ctx context.Context, body []byte) error

// RetryPolicy bounds redelivery of a failing message. After MaxAttempts the
// message is moved to the dead-letter exchange.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

type Option func(*Consumer)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithPrefetch(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.prefetch = n
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Consumer) { c.retry = policy.normalized() }
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.handlerTimeout = d
		}
	}
}

// WithResultHook observes transport level results per queue: "requeued",
// "dead_lettered" and "unroutable".
func WithResultHook(hook func(queue, result string)) Option {
	return func(c *Consumer) { c.onResult = hook }
}

// Consumer handles the connection and consumption of messages from RabbitMQ.
type Consumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	publishMu sync.Mutex
	publishCh *amqp091.Channel

	logger         *zap.Logger
	prefetch       int
	retry          RetryPolicy
	handlerTimeout time.Duration
	onResult       func(queue, result string)

	wg sync.WaitGroup
}

// NewConsumer creates a new RabbitMQ consumer. Dead letters are published on
// a channel of their own.
func NewConsumer(amqpURL string, opts ...Option) (*Consumer, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Consumer{
		conn:           conn,
		channel:        ch,
		publishCh:      publishCh,
		logger:         zap.NewNop(),
		prefetch:       defaultPrefetch,
		retry:          RetryPolicy{MaxAttempts: 3, Backoff: time.Second},
		handlerTimeout: defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "rabbitmq_consumer"))
	return c, nil
}

// DeadLetterExchange and DeadLetterQueue name the parking topology of an
// exchange and queue.
func DeadLetterExchange(exchange string) string { return exchange + ".dlx" }
func DeadLetterQueue(queue string) string       { return queue + ".dlq" }

// ConsumeWithBindings declares the topic exchange, the durable queue bound to
// every routing key in bindings, and their dead-letter counterparts, then
// dispatches deliveries to the handler of their routing key until ctx is done
// or the channel closes.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return errors.New("no bindings provided")
	}

	if err := c.declareTopology(exchange, queueName, handlers); err != nil {
		return err
	}
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	consumerTag := queueName + "-" + uuid.NewString()
	msgs, err := c.channel.Consume(queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	p := &deliveryProcessor{
		queue:    queueName,
		handlers: handlers,
		retry:    c.retry,
		timeout:  c.handlerTimeout,
		sleep:    sleepContext,
		deadLetter: func(ctx context.Context, d amqp091.Delivery, cause error, attempts int) error {
			return c.publishDeadLetter(ctx, exchange, queueName, d, cause, attempts)
		},
		logger:   c.logger.With(zap.String("queue", queueName)),
		onResult: c.onResult,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				_ = c.channel.Cancel(consumerTag, false)
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				p.process(ctx, d)
			}
		}
	}()

	c.logger.Info("consuming", zap.String("exchange", exchange), zap.String("queue", queueName), zap.Int("bindings", len(handlers)))
	return nil
}

func (c *Consumer) declareTopology(exchange, queueName string, handlers map[string]Handler) error {
	if err := c.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := c.channel.ExchangeDeclare(DeadLetterExchange(exchange), "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	for routingKey := range handlers {
		if err := c.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, q.Name, err)
		}
	}

	dlq, err := c.channel.QueueDeclare(DeadLetterQueue(queueName), true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	for routingKey := range handlers {
		if err := c.channel.QueueBind(dlq.Name, routingKey, DeadLetterExchange(exchange), false, nil); err != nil {
			return fmt.Errorf("bind dead-letter queue: %w", err)
		}
	}
	return nil
}

func (c *Consumer) publishDeadLetter(ctx context.Context, exchange, queueName string, d amqp091.Delivery, cause error, attempts int) error {
	headers := amqp091.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-death-reason"] = cause.Error()
	headers["x-retry-attempts"] = int32(attempts)
	headers["x-original-exchange"] = exchange
	headers["x-original-queue"] = queueName

	messageID := d.MessageId
	if messageID == "" {
		messageID = uuid.NewString()
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	return c.publishCh.PublishWithContext(ctx, DeadLetterExchange(exchange), d.RoutingKey, false, false, amqp091.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         d.Body,
	})
}

// Close stops the channels and waits for in-flight deliveries to finish.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	c.wg.Wait()
	if c.publishCh != nil {
		c.publishCh.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

type deliveryProcessor struct {
	queue      string
	handlers   map[string]Handler
	retry      RetryPolicy
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	deadLetter func(ctx context.Context, d amqp091.Delivery, cause error, attempts int) error
	logger     *zap.Logger
	onResult   func(queue, result string)
}

func (p *deliveryProcessor) process(ctx context.Context, d amqp091.Delivery) {
	handler, ok := p.handlers[d.RoutingKey]
	if !ok {
		p.logger.Warn("no handler for routing key; acknowledging to drop", zap.String("routing_key", d.RoutingKey))
		p.result("unroutable")
		_ = d.Ack(false)
		return
	}

	retry := p.retry.normalized()
	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, retry.Backoff); err != nil {
				p.requeue(d, err)
				return
			}
		}
		if lastErr = p.invoke(ctx, handler, d.Body); lastErr == nil {
			_ = d.Ack(false)
			return
		}
		p.logger.Warn("handler failed",
			zap.String("routing_key", d.RoutingKey),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", retry.MaxAttempts),
			zap.Error(lastErr),
		)
	}

	if err := p.deadLetter(ctx, d, lastErr, retry.MaxAttempts); err != nil {
		p.requeue(d, fmt.Errorf("dead-letter publish: %w", err))
		return
	}
	p.logger.Error("message dead-lettered",
		zap.String("routing_key", d.RoutingKey),
		zap.String("message_id", d.MessageId),
		zap.Error(lastErr),
	)
	p.result("dead_lettered")
	_ = d.Ack(false)
}

func (p *deliveryProcessor) invoke(ctx context.Context, handler Handler, body []byte) error {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler(hctx, body)
}

func (p *deliveryProcessor) requeue(d amqp091.Delivery, cause error) {
	p.logger.Warn("re-queuing message", zap.String("routing_key", d.RoutingKey), zap.Error(cause))
	p.result("requeued")
	_ = d.Nack(false, true)
}

func (p *deliveryProcessor) result(result string) {
	if p.onResult != nil {
		p.onResult(p.queue, result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
