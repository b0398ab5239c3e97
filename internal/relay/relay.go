// Package relay moves committed outbox rows onto Pub/Sub topics.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/herfa-app/herfa-backend/pkg/db/models"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	"github.com/herfa-app/herfa-backend/pkg/metrics"
	"github.com/herfa-app/herfa-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type rowStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	Bury(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Publisher sends one message and blocks until the broker acknowledges it.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

// PublisherFunc resolves the publisher for a topic; nil means unconfigured.
type PublisherFunc func(topic string) Publisher

// Params wires a Relay.
type Params struct {
	Logger         *logger.Logger
	DB             txRunner
	Rows           rowStore
	DeadLetters    deadLetters
	Registry       resolver
	Publishers     PublisherFunc
	Metrics        *metrics.RelayMetrics
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
}

// Relay polls the outbox and publishes rows in commit order. Rows that can
// never be delivered are copied to the dead-letter table and closed.
type Relay struct {
	logg           *logger.Logger
	db             txRunner
	rows           rowStore
	dlq            deadLetters
	registry       resolver
	publishers     PublisherFunc
	metrics        *metrics.RelayMetrics
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
	jitter         func(time.Duration) time.Duration
}

func New(params Params) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("database required")
	case params.Rows == nil:
		return nil, errors.New("outbox repository required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter repository required")
	case params.Registry == nil:
		return nil, errors.New("event registry required")
	case params.Publishers == nil:
		return nil, errors.New("publisher lookup required")
	}
	r := &Relay{
		logg:           params.Logger,
		db:             params.DB,
		rows:           params.Rows,
		dlq:            params.DeadLetters,
		registry:       params.Registry,
		publishers:     params.Publishers,
		metrics:        params.Metrics,
		batchSize:      params.BatchSize,
		maxAttempts:    params.MaxAttempts,
		pollInterval:   params.PollInterval,
		publishTimeout: params.PublishTimeout,
		now:            params.Now,
		jitter:         withJitter,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = defaultPublishTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Run drains batches back to back and sleeps only when the outbox is empty
// or a batch failed.
func (r *Relay) Run(ctx context.Context) error {
	wait := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.RunOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n > 0:
			wait = r.pollInterval
			continue
		default:
			wait = r.pollInterval
		}
		if err := sleep(ctx, r.jitter(wait)); err != nil {
			return err
		}
	}
}

// RunOnce processes one batch inside a single transaction and reports how
// many rows it touched.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var n int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		n = len(events)
		for _, event := range events {
			if err := r.deliver(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.bury(ctx, tx, event, enums.OutboxDLQReasonUnresolvable, err, r.fields(event, nil))
	}
	fields := r.fields(event, resolved)

	err = r.publish(ctx, event, resolved)
	if err == nil {
		if err := r.rows.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.metrics.Inc(string(event.EventType), metrics.RelayOutcomePublished)
		r.logg.Info(r.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	if errors.Is(err, registry.ErrPermanent) {
		return r.bury(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= r.maxAttempts {
		return r.bury(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), fields)
	}

	r.logg.Warn(r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error()), "outbox publish failed")
	if err := r.rows.MarkFailedTx(tx, event.ID, err); err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	r.metrics.Inc(string(event.EventType), metrics.RelayOutcomeRetry)
	return nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Route.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.Permanent(fmt.Errorf("no publisher for topic %s", topic))
	}
	ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	_, err := pub.Publish(ctx, &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.EventID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	// oversized or malformed messages fail the same way on every attempt
	if status.Code(err) == codes.InvalidArgument {
		return registry.Permanent(err)
	}
	return err
}

// bury copies the row to the dead-letter table and closes it for good.
func (r *Relay) bury(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	r.logg.Warn(r.logg.WithField(r.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event dead-lettered")

	if err := r.dlq.Bury(tx, event.DeadLetter(reason, cause, r.now())); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", event.ID, err)
	}
	if err := r.rows.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.Inc(string(event.EventType), metrics.RelayOutcomeDead)
	return nil
}

func (r *Relay) fields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Route.Topic
		fields["event_id"] = resolved.EventID.String()
	}
	return fields
}

// PubSubPublishers adapts a Pub/Sub client's topic publishers, creating
// each one once.
func PubSubPublishers(lookup func(topic string) *gcppubsub.Publisher) PublisherFunc {
	var (
		mu    sync.Mutex
		cache = map[string]Publisher{}
	)
	return func(topic string) Publisher {
		mu.Lock()
		defer mu.Unlock()
		if p, ok := cache[topic]; ok {
			return p
		}
		p := lookup(topic)
		if p == nil {
			return nil
		}
		cache[topic] = pubsubPublisher{p}
		return cache[topic]
	}
}

type pubsubPublisher struct {
	p *gcppubsub.Publisher
}

func (g pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return g.p.Publish(ctx, msg).Get(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
