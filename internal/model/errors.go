package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に返すメッセージと、ログ専用の原因エラーを分けて保持する。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: validation, upstream, config, system
	Details  []string // バリデーション違反の詳細（任意）
	Err      error    // 原因エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, ErrUnprocessableInput) のように種別だけで判定できるようにする。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrCodeUnprocessableInput   = "UNPROCESSABLE_INPUT"
	ErrCodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrCodeMissingParameter     = "MISSING_PARAMETER"
	ErrCodeInvalidParameterType = "INVALID_PARAMETER_TYPE"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// エラー種別の判定用センチネル。errors.Isと組み合わせて使う。
var (
	ErrInvalidConfiguration = &APIError{Code: ErrCodeInvalidConfiguration}
	ErrUnprocessableInput   = &APIError{Code: ErrCodeUnprocessableInput}
	ErrUpstreamUnavailable  = &APIError{Code: ErrCodeUpstreamUnavailable}
)

// NewInvalidConfigurationError はスコア重みの設定不備エラーを生成する。
func NewInvalidConfigurationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfiguration,
		Message:  fmt.Sprintf("スコア計算の設定が不正です: %s", reason),
		Category: "config",
	}
}

// NewUnprocessableInputError は上流が検索条件を受け付けなかった場合のエラーを生成する。
// 検索構文の誤りや、濫用検知による拒否が該当する。
func NewUnprocessableInputError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeUnprocessableInput,
		Message:  "検索条件を適用できないか、APIへのリクエストが多すぎます。",
		Category: "upstream",
		Err:      cause,
	}
}

// NewUpstreamUnavailableError は上流の障害エラーを生成する。
// 上流のメッセージは診断用にそのまま含める（スタックや生のペイロードは含めない）。
func NewUpstreamUnavailableError(upstreamMessage string, cause error) *APIError {
	msg := "リポジトリ検索中にエラーが発生しました。"
	if upstreamMessage != "" {
		msg = fmt.Sprintf("リポジトリ検索中にエラーが発生しました: %s", upstreamMessage)
	}
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  msg,
		Category: "upstream",
		Err:      cause,
	}
}

// NewMissingParameterError は必須パラメータ欠落エラーを生成する。
func NewMissingParameterError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingParameter,
		Message:  fmt.Sprintf("必須パラメータが指定されていません: '%s'", name),
		Category: "validation",
	}
}

// NewInvalidParameterTypeError はパラメータの型不一致エラーを生成する。
func NewInvalidParameterTypeError(name, typeName string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidParameterType,
		Message:  fmt.Sprintf("パラメータ '%s' は %s 形式で指定してください。", name, typeName),
		Category: "validation",
	}
}

// NewValidationFailedError は制約違反エラーを生成する。
// detailsには "パラメータ名: 違反内容" の形式で違反を列挙する。
func NewValidationFailedError(details []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力値の検証に失敗しました。",
		Category: "validation",
		Details:  details,
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: "system",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
	}
}

// UpstreamError は上流APIが非2xxを返した、または通信に失敗したことを表す。
// StatusCodeは通信エラーの場合0になる。
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("upstream search failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap は原因エラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
