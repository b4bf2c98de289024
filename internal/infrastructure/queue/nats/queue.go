package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/infrastructure/resilience"
)

type Subjects struct {
	Batches string
	Cancel  string
	Status  string
	// QueueGroup load-balances batch submissions across workers.
	QueueGroup string
}

func DefaultSubjects() Subjects {
	return Subjects{
		Batches:    "intake.batches",
		Cancel:     "intake.cancel",
		Status:     "intake.status",
		QueueGroup: "intake-workers",
	}
}

func (s Subjects) withDefaults() Subjects {
	def := DefaultSubjects()
	if s.Batches == "" {
		s.Batches = def.Batches
	}
	if s.Cancel == "" {
		s.Cancel = def.Cancel
	}
	if s.Status == "" {
		s.Status = def.Status
	}
	if s.QueueGroup == "" {
		s.QueueGroup = def.QueueGroup
	}
	return s
}

type Queue struct {
	conn     *nats.Conn
	subjects Subjects
	executor *resilience.Executor
	logger   *slog.Logger
}

var (
	_ ports.MessageQueue    = (*Queue)(nil)
	_ ports.StatusPublisher = (*Queue)(nil)
)

type Options struct {
	Name                 string
	Subjects             Subjects
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	name := options.Name
	if name == "" {
		name = "notarial-intake"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subjects: options.Subjects.withDefaults(),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Health() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (q *Queue) PublishBatch(ctx context.Context, submission ports.BatchSubmission) error {
	data, err := json.Marshal(submission)
	if err != nil {
		return fmt.Errorf("marshal batch submission: %w", err)
	}
	return q.publish(ctx, q.subjects.Batches, data)
}

func (q *Queue) PublishCancel(ctx context.Context, batchID string) error {
	return q.publish(ctx, q.subjects.Cancel, []byte(batchID))
}

func (q *Queue) PublishStatus(ctx context.Context, event ports.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return q.publish(ctx, q.subjects.Status, data)
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeBatches blocks until ctx ends, handing each submission to
// handler. Workers in the same queue group share the stream.
func (q *Queue) SubscribeBatches(ctx context.Context, handler func(context.Context, ports.BatchSubmission) error) error {
	sub, err := q.conn.QueueSubscribe(q.subjects.Batches, q.subjects.QueueGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var submission ports.BatchSubmission
		if err := json.Unmarshal(msg.Data, &submission); err != nil {
			q.logger.Error("batch_submission_invalid", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, submission); err != nil {
			q.logger.Error("batch_submission_failed",
				"session_id", submission.SessionID,
				"batch_id", submission.BatchID,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.serve(ctx, sub)
}

// SubscribeCancels delivers every cancel request to every subscriber, since
// only the process running the batch can stop it.
func (q *Queue) SubscribeCancels(ctx context.Context, handler func(batchID string)) error {
	sub, err := q.conn.Subscribe(q.subjects.Cancel, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		handler(string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.serve(ctx, sub)
}

func (q *Queue) serve(ctx context.Context, sub *nats.Subscription) error {
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// SubscribeStatus relays status events published by any process, so an API
// instance can stream progress of batches that run on workers.
func (q *Queue) SubscribeStatus(ctx context.Context, handler func(ports.StatusEvent)) error {
	sub, err := q.conn.Subscribe(q.subjects.Status, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var event ports.StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			q.logger.Warn("status_event_invalid", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	return q.serve(ctx, sub)
}
