// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrMissingIdentity はリクエストからSteam IDを解決できなかったことを表す。
var ErrMissingIdentity = errors.New("steamId is missing")

// UpstreamErrorKind は上流APIエラーの分類。
// HTTPステータスへの対応付けはハンドラ境界で1回だけ行う。
type UpstreamErrorKind int

const (
	// KindDealsError はCheapSharkからのセール情報取得に失敗したことを表す。
	KindDealsError UpstreamErrorKind = iota + 1
	// KindAccessDenied はSteamライブラリが非公開で参照できないことを表す。
	KindAccessDenied
	// KindUnavailable はSteamライブラリの取得に失敗したことを表す。
	KindUnavailable
)

// String はログ出力用の種別名を返す。
func (k UpstreamErrorKind) String() string {
	switch k {
	case KindDealsError:
		return "deals_error"
	case KindAccessDenied:
		return "access_denied"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// UpstreamError は上流APIの失敗を種別付きで表す。
// Status が0の場合はHTTPレスポンスを受け取る前に失敗したことを示す。
type UpstreamError struct {
	Kind   UpstreamErrorKind
	Status int
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %d %s: %v", e.Kind, e.Status, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %d %s", e.Kind, e.Status, e.Reason)
}

// Unwrap は元となったエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewDealsError はCheapSharkの失敗を表すエラーを生成する。
func NewDealsError(status int, reason string, err error) *UpstreamError {
	return &UpstreamError{Kind: KindDealsError, Status: status, Reason: reason, Err: err}
}

// NewAccessDeniedError はSteamライブラリ非公開エラーを生成する。
func NewAccessDeniedError(status int, reason string) *UpstreamError {
	return &UpstreamError{Kind: KindAccessDenied, Status: status, Reason: reason}
}

// NewUnavailableError はSteamライブラリ取得失敗エラーを生成する。
func NewUnavailableError(status int, reason string, err error) *UpstreamError {
	return &UpstreamError{Kind: KindUnavailable, Status: status, Reason: reason, Err: err}
}
