package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/kirillkom/agrirag/internal/infrastructure/resilience"
)

const workerQueueGroup = "report-workers"

// reportUploaded is the event published once an upload is stored.
type reportUploaded struct {
	ReportID string `json:"report_id"`
}

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("agrirag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return nats.ErrDisconnected
	}
	return nil
}

func (q *Queue) PublishReportUploaded(ctx context.Context, reportID string) error {
	data, err := encodeEvent(reportID)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: q.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

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

// SubscribeReportUploaded blocks until ctx is done, then drains in-flight
// messages before returning.
func (q *Queue) SubscribeReportUploaded(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		reportID, err := decodeEvent(msg.Data)
		if err != nil {
			slog.Warn("report_event_invalid", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(otel.GetTextMapPropagator().Extract(ctx, (*headerCarrier)(msg)))
		defer cancel()
		if err := handler(handlerCtx, reportID); err != nil {
			slog.Error("report_processing_failed", "report_id", reportID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

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

func encodeEvent(reportID string) ([]byte, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, errors.New("report id is required")
	}
	data, err := json.Marshal(reportUploaded{ReportID: reportID})
	if err != nil {
		return nil, fmt.Errorf("marshal report event: %w", err)
	}
	return data, nil
}

// decodeEvent accepts the JSON event and a bare id.
func decodeEvent(data []byte) (string, error) {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "{") {
		var evt reportUploaded
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return "", fmt.Errorf("decode report event: %w", err)
		}
		raw = strings.TrimSpace(evt.ReportID)
	}
	if raw == "" {
		return "", errors.New("report event without id")
	}
	return raw, nil
}
