// Package events は公開実行の結果イベントの送出を提供する。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// publishOutcomeQueue は公開結果イベントを積むキュー名。
const publishOutcomeQueue = "publish_outcomes"

// PublishOutcome は公開実行1回分の結果イベント。
// 下流の通知サービスやダッシュボードが購読する。
type PublishOutcome struct {
	PreviewID string    `json:"preview_id"`
	Status    string    `json:"status"` // "published" または "failed"
	Platforms []string  `json:"platforms"`
	At        time.Time `json:"at"`
}

// Emitter は公開結果イベントの送出インターフェース。
// 送出失敗は公開処理自体を失敗させてはならないため、
// 呼び出し側はエラーをログに留める。
type Emitter interface {
	Emit(ctx context.Context, outcome PublishOutcome) error
	Close() error
}

// AMQPEmitter はRabbitMQへイベントを送出するEmitterの実装。
// 接続は初回送出時に確立し、以後再利用する。
type AMQPEmitter struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ Emitter = (*AMQPEmitter)(nil)

// NewAMQPEmitter はAMQPEmitterを生成する。接続はまだ張らない。
func NewAMQPEmitter(url string, logger *slog.Logger) *AMQPEmitter {
	return &AMQPEmitter{url: url, logger: logger}
}

// Emit は公開結果イベントをpublish_outcomesキューへJSONで送出する。
func (e *AMQPEmitter) Emit(ctx context.Context, outcome PublishOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	ch, err := e.ensureChannel()
	if err != nil {
		return err
	}

	err = ch.Publish(
		"",                  // exchange: デフォルト
		publishOutcomeQueue, // routing key = キュー名
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    outcome.At,
			Body:         body,
		},
	)
	if err != nil {
		// チャネルが死んでいる可能性があるため破棄し、次回のEmitで再接続する
		e.reset()
		return fmt.Errorf("failed to publish outcome event: %w", err)
	}

	e.logger.Info("公開結果イベントを送出しました",
		slog.String("preview_id", outcome.PreviewID),
		slog.String("status", outcome.Status),
	)
	return nil
}

// ensureChannel は接続とチャネルを確立し、durableキューを宣言する。
func (e *AMQPEmitter) ensureChannel() (*amqp.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel != nil {
		return e.channel, nil
	}

	conn, err := amqp.Dial(e.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		publishOutcomeQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare outcome queue: %w", err)
	}

	e.conn = conn
	e.channel = ch
	return ch, nil
}

// reset は保持している接続とチャネルを破棄する。
func (e *AMQPEmitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel != nil {
		e.channel.Close()
		e.channel = nil
	}
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// Close は接続を閉じる。
func (e *AMQPEmitter) Close() error {
	e.reset()
	return nil
}

// NopEmitter は何もしないEmitter。AMQP_URL未設定時に使用する。
type NopEmitter struct{}

var _ Emitter = (*NopEmitter)(nil)

// Emit は何もせず成功する。
func (NopEmitter) Emit(ctx context.Context, outcome PublishOutcome) error { return nil }

// Close は何もせず成功する。
func (NopEmitter) Close() error { return nil }
