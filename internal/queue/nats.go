package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	streamName     = "SKILLDOCK_JOBS"
	subjectRoot    = "jobs"
	defaultAckWait = 2 * time.Minute
	defaultBackoff = 5 * time.Second
)

// envelope is the wire form of a job plus its delivery options, so the
// consumer side knows the retry budget without out-of-band state.
type envelope struct {
	Job     Job           `json:"job"`
	Retries int           `json:"retries"`
	Backoff time.Duration `json:"backoff"`
}

// NatsQueue is the JetStream-backed Queue used in production. Jobs are
// published to jobs.<queue>.<name> with a message id for dedup; workers
// join a durable queue group with explicit acks.
type NatsQueue struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	subs     []*nats.Subscription
	started  bool
}

func NewNatsQueue(url string, logger *zap.Logger) (*NatsQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("skilldock-queue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}
	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &NatsQueue{
		nc:       nc,
		js:       js,
		logger:   logger,
		handlers: make(map[string]Handler),
	}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectRoot + ".>"},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("ensure job stream: %w", err)
	}
	return nil
}

func subjectFor(queueName, jobName string) string {
	return fmt.Sprintf("%s.%s.%s", subjectRoot, queueName, jobName)
}

func (q *NatsQueue) Enqueue(_ context.Context, queueName, jobName string, payload any, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", jobName, err)
	}
	env := envelope{
		Job: Job{
			ID:      uuid.NewString(),
			Queue:   queueName,
			Name:    jobName,
			Payload: raw,
		},
		Retries: opts.Retries,
		Backoff: opts.Backoff,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode job envelope: %w", err)
	}
	if _, err := q.js.Publish(subjectFor(queueName, jobName), data, nats.MsgId(env.Job.ID)); err != nil {
		return "", fmt.Errorf("publish job %s: %w", jobName, err)
	}
	q.logger.Debug("job enqueued",
		zap.String("queue", queueName),
		zap.String("job", jobName),
		zap.String("job_id", env.Job.ID))
	return env.Job.ID, nil
}

func (q *NatsQueue) Handle(queueName, jobName string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subjectFor(queueName, jobName)] = h
}

// Start subscribes every registered handler. Handlers registered after
// Start are ignored.
func (q *NatsQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	for subject, handler := range q.handlers {
		sub, err := q.subscribe(ctx, subject, handler)
		if err != nil {
			return err
		}
		q.subs = append(q.subs, sub)
	}
	q.started = true
	return nil
}

func (q *NatsQueue) subscribe(ctx context.Context, subject string, handler Handler) (*nats.Subscription, error) {
	cb := func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			// A message that cannot decode will never decode; drop it.
			q.logger.Error("dropping undecodable job", zap.String("subject", subject), zap.Error(err))
			_ = msg.Ack()
			return
		}
		job := env.Job
		if meta, err := msg.Metadata(); err == nil {
			job.Attempt = int(meta.NumDelivered)
		}

		if err := handler(ctx, &job); err != nil {
			if job.Attempt > env.Retries {
				q.logger.Error("job failed, retries exhausted",
					zap.String("job", job.Name),
					zap.String("job_id", job.ID),
					zap.Int("attempt", job.Attempt),
					zap.Error(err))
				_ = msg.Ack()
				return
			}
			delay := backoffDelay(env.Backoff, job.Attempt)
			q.logger.Warn("job failed, requeueing",
				zap.String("job", job.Name),
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			_ = msg.NakWithDelay(delay)
			return
		}
		_ = msg.Ack()
	}

	durable := "skilldock-" + sanitizeDurable(subject)
	sub, err := q.js.QueueSubscribe(subject, durable, cb,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(defaultAckWait),
		nats.MaxAckPending(64),
		nats.Durable(durable),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// backoffDelay doubles the base per completed attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBackoff
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sanitizeDurable(subject string) string {
	out := []byte(subject)
	for i, c := range out {
		if c == '.' || c == '>' || c == '*' {
			out[i] = '-'
		}
	}
	return string(out)
}

func (q *NatsQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, sub := range q.subs {
		_ = sub.Drain()
	}
	q.nc.Close()
	return nil
}
