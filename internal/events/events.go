// Package events はドメインイベントの発行を提供する。
// NATS_URLが設定されている場合はNATSへ、未設定の場合は何もしないPublisherを使用する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// イベント種別。
const (
	TypePostCreated   = "post.created"
	TypePostEnriched  = "post.enriched"
	TypeSyncCompleted = "sync.completed"
)

// envelopeSource はエンベロープのsourceに設定する発行元名。
const envelopeSource = "feedsync"

// Event は発行するドメインイベント。
type Event struct {
	Type    string
	Payload any
}

// Envelope はワイヤ上のJSON表現。
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher はイベント発行のインターフェース。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NopPublisher はイベントを破棄するPublisher。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close は何もしない。
func (NopPublisher) Close() {}

// NATSPublisher はNATSへイベントを発行する。
// サブジェクトは "<prefix>.<イベント種別>"。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSPublisher はNATSへ接続してPublisherを生成する。
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("feedsync"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断されました", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続しました", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗しました: %w", err)
	}

	return &NATSPublisher{
		conn:   nc,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Publish はイベントをJSONエンベロープに包んで発行する。
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(event, p.now())
	if err != nil {
		return err
	}
	if err := p.conn.Publish(Subject(p.prefix, event.Type), data); err != nil {
		return fmt.Errorf("イベントの発行に失敗しました: %w", err)
	}
	return nil
}

// Close は未送信のメッセージを送信してから接続を閉じる。
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS接続のドレインに失敗しました", slog.String("error", err.Error()))
		p.conn.Close()
	}
}

// Subject は発行先のサブジェクト名を返す。
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// Encode はイベントをワイヤ上のJSONに変換する。
func Encode(event Event, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのエンコードに失敗しました: %w", err)
	}
	data, err := json.Marshal(Envelope{
		Type:      event.Type,
		Timestamp: at.UTC(),
		Source:    envelopeSource,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}
	return data, nil
}

// New はurlが空の場合NopPublisherを、それ以外はNATSPublisherを返す。
func New(url, prefix string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return NopPublisher{}, nil
	}
	return NewNATSPublisher(url, prefix, logger)
}

// Emit はイベントを発行し、失敗した場合はログに記録する。
// イベント発行の失敗は呼び出し元の処理を中断しない。
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("イベントの発行に失敗しました",
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}
