package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
	"github.com/kirillkom/rbac-assistant/internal/infrastructure/resilience"
)

const indexerQueueGroup = "indexers"

// Bus carries reindex requests to the worker and indexed events back to every
// API replica.
type Bus struct {
	conn           *nats.Conn
	reindexSubject string
	indexedSubject string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	ReindexSubject       string
	IndexedSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url string, options Options) (*Bus, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reindexSubject := options.ReindexSubject
	if reindexSubject == "" {
		reindexSubject = "corpus.reindex"
	}
	indexedSubject := options.IndexedSubject
	if indexedSubject == "" {
		indexedSubject = "corpus.indexed"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("rbac-assistant"),
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
	return &Bus{
		conn:           conn,
		reindexSubject: reindexSubject,
		indexedSubject: indexedSubject,
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishReindex(ctx context.Context, req domain.ReindexRequest) error {
	return b.publish(ctx, b.reindexSubject, req)
}

func (b *Bus) PublishIndexed(ctx context.Context, event domain.IndexedEvent) error {
	return b.publish(ctx, b.indexedSubject, event)
}

// SubscribeReindex load-balances reindex requests across workers and blocks
// until ctx is done.
func (b *Bus) SubscribeReindex(ctx context.Context, handler func(context.Context, domain.ReindexRequest) error) error {
	return subscribe(ctx, b, b.reindexSubject, indexerQueueGroup, handler)
}

// SubscribeIndexed delivers every indexed event to this process and blocks
// until ctx is done.
func (b *Bus) SubscribeIndexed(ctx context.Context, handler func(context.Context, domain.IndexedEvent) error) error {
	return subscribe(ctx, b, b.indexedSubject, "", handler)
}

// classifyPublishError retries publishes that failed on connection state.
var classifyPublishError = resilience.RetryOn(
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
)

func (b *Bus) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", subject, err)
	}
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return resilience.MarkTemporary("nats publish", err, classifyPublishError)
}

func subscribe[T any](ctx context.Context, b *Bus, subject, group string, handler func(context.Context, T) error) error {
	onMsg := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		payload, err := decodeMessage[T](msg.Data)
		if err != nil {
			b.logger.Warn("nats_message_invalid", "subject", subject, "error", err)
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, payload); err != nil {
			b.logger.Error("nats_handler_failed", "subject", subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = b.conn.QueueSubscribe(subject, group, onMsg)
	} else {
		sub, err = b.conn.Subscribe(subject, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func decodeMessage[T any](data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode message: %w", err)
	}
	return out, nil
}
