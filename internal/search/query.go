package search

import (
	"strconv"
	"strings"

	"github.com/hitoshi/reposcorer/internal/model"
)

// BuildQuery は上流の検索APIに渡す検索クエリ文字列を組み立てる。
//
//	language:<language> created:><createdAfter> archived:<bool> mirror:<bool>
//
// language・createdAfterは空白のみの場合に省略する。archived/mirror節は常に末尾に付く。
// 値のエスケープや検証は行わない（入力の妥当性は境界層の責務）。
func BuildQuery(q model.SearchQuery) string {
	var b strings.Builder

	if strings.TrimSpace(q.Language) != "" {
		b.WriteString("language:")
		b.WriteString(q.Language)
		b.WriteString(" ")
	}

	if strings.TrimSpace(q.CreatedAfter) != "" {
		b.WriteString("created:>")
		b.WriteString(q.CreatedAfter)
		b.WriteString(" ")
	}

	b.WriteString("archived:")
	b.WriteString(strconv.FormatBool(q.IncludeArchived))
	b.WriteString(" mirror:")
	b.WriteString(strconv.FormatBool(q.IncludeMirrors))

	return b.String()
}
