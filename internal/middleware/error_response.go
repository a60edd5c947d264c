package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/reposcorer/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// detailsはバリデーション違反がある場合のみ含む。
type ErrorResponseBody struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// statusByCode はエラーコードとHTTPステータスの対応。
var statusByCode = map[string]int{
	model.ErrCodeInvalidConfiguration: http.StatusInternalServerError,
	model.ErrCodeUnprocessableInput:   http.StatusUnprocessableEntity,
	model.ErrCodeUpstreamUnavailable:  http.StatusInternalServerError,
	model.ErrCodeMissingParameter:     http.StatusBadRequest,
	model.ErrCodeInvalidParameterType: http.StatusBadRequest,
	model.ErrCodeValidationFailed:     http.StatusBadRequest,
	model.ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
	model.ErrCodeInternal:             http.StatusInternalServerError,
}

// StatusCodeFor はAPIErrorに対応するHTTPステータスコードを返す。
// 未知のコードは500とする。
func StatusCodeFor(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Status:  statusCode,
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

// WriteError はエラーをHTTPレスポンスに変換して書き込み、ステータスコードを返す。
// *model.APIErrorでないエラーは内部エラーとして扱い、詳細はレスポンスに含めない。
func WriteError(w http.ResponseWriter, err error) int {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return http.StatusInternalServerError
	}
	status := StatusCodeFor(apiErr)
	WriteErrorResponse(w, status, apiErr)
	return status
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
