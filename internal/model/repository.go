// Package model はドメインモデルを定義する。
package model

// SearchQuery はリポジトリ検索の条件を表す。
// リクエストごとに生成され、生成後は変更しない。
type SearchQuery struct {
	Language        string
	CreatedAfter    string // ISO日付（YYYY-MM-DD）
	IncludeArchived bool
	IncludeMirrors  bool
}

// PageRequest は呼び出し元が指定するページング条件。
// 値の検証（Page >= 1, 1 <= PageSize <= 100）は境界層の責務。
type PageRequest struct {
	Page     int
	PageSize int
}

// SearchRequest はスコア付き検索の入力。
type SearchRequest struct {
	Query SearchQuery
	Page  PageRequest
}

// RepositoryItem は上流の検索APIが返すリポジトリ1件を表す。
// タイムスタンプはパース前の文字列のまま保持する（不正値をリクエスト単位で救済するため）。
type RepositoryItem struct {
	ID          int64
	Name        string
	Description *string
	CreatedAt   string
	PushedAt    *string
	Stars       int
	Forks       int
	Language    string
}

// SearchResult は上流の検索APIのレスポンス。
type SearchResult struct {
	TotalCount int
	Items      []RepositoryItem
}

// ScoredRepository はスコア計算済みのリポジトリ。
type ScoredRepository struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Score       float64 `json:"score"`
	Language    string  `json:"language"`
	CreatedAt   string  `json:"created_at"`
	Stars       int     `json:"stars"`
	Forks       int     `json:"forks"`
}

// ScoredPage はスコア降順に並んだ検索結果の1ページ。
// TotalCountは上流が報告した総件数であり、Repositoriesの件数ではない。
type ScoredPage struct {
	TotalCount   int                `json:"total_count"`
	Page         int                `json:"page"`
	PageSize     int                `json:"page_size"`
	Repositories []ScoredRepository `json:"repositories"`
}

// ScoreWeights はスコア計算の重み。
// 起動時に1回読み込み、以降は読み取り専用で全リクエストから共有する。
// 各重みは0以上であることが求められるが、検証はスコア計算時に行う。
type ScoreWeights struct {
	Stars   float64
	Forks   float64
	Recency float64
}
