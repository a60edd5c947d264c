package search

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/reposcorer/internal/model"
)

// 検索パラメータの制約。
const (
	MaxLanguageLength = 50
	DefaultPage       = 1
	DefaultPageSize   = 100
	MaxPageSize       = 100

	// DateLayout はcreated_afterの書式（YYYY-MM-DD）。
	DateLayout = "2006-01-02"
)

// ValidateRequest は検索リクエストの制約を検証する。
// 違反はすべて集めてVALIDATION_FAILEDの*model.APIErrorとして返す。
// 欠落や型の検査は呼び出し元（HTTP・CLI）の責務。
func ValidateRequest(req model.SearchRequest) error {
	var details []string

	switch {
	case strings.TrimSpace(req.Query.Language) == "":
		details = append(details, "language: 空白のみは指定できません")
	case utf8.RuneCountInString(req.Query.Language) > MaxLanguageLength:
		details = append(details, "language: 50文字以下で指定してください")
	}

	if _, err := time.Parse(DateLayout, req.Query.CreatedAfter); err != nil {
		details = append(details, "created_after: YYYY-MM-DD形式の日付を指定してください")
	}

	if req.Page.Page < 1 {
		details = append(details, "page: 1以上で指定してください")
	}

	switch {
	case req.Page.PageSize < 1:
		details = append(details, "page_size: 1以上で指定してください")
	case req.Page.PageSize > MaxPageSize:
		details = append(details, "page_size: 100以下で指定してください")
	}

	if len(details) > 0 {
		return model.NewValidationFailedError(details)
	}
	return nil
}
