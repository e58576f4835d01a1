// Package connector は外部ソースごとのコネクタの共通契約とレジストリを定義する。
//
// 各コネクタは自身専用のキューを1つ持ち、Syncは取得したアイテムをキューに投入した時点で戻る。
// アイテムごとの保存処理はキューのドレインgoroutine上で実行される。
package connector

import (
	"context"
	"encoding/json"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
)

// Connector は1種類の外部ソースを扱うコネクタのインターフェース。
type Connector interface {
	// Type はtype_configのキーと一致する種別名を返す。
	Type() string

	// Sync は外部ソースから取得したアイテムを正規化し、上限件数までキューに投入する。
	// キューへの投入後すぐに戻る。onCompleteが指定された場合、投入したバッチの処理完了時に1回だけ呼ばれる。
	// 設定不備はmodel.ErrInvalidConnectorConfig、取得・認証の失敗はmodel.ErrUpstreamをラップして返す。
	Sync(ctx context.Context, cfg *model.SourceConfig, onComplete queue.CompletionFunc) (*model.SyncResult, error)

	// QueueStatus はコネクタのキューの状態を返す。
	QueueStatus() queue.State
}

// ConfigValidator は同期前に種別固有の設定を構造的に検証できるコネクタが実装する。
type ConfigValidator interface {
	ValidateConfig(settings json.RawMessage) error
}

// Authenticator はSyncごとにアクセストークンを取得するコネクタが実装する。
// トークンの取得は1回のSyncにつき高々1回。
type Authenticator interface {
	Authenticate(ctx context.Context, cfg *model.SourceConfig) (string, error)
}

// Stopper は保持しているキューを停止できるコネクタが実装する。
type Stopper interface {
	Stop()
}
