// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MarkupDetector は上流から取得したリポジトリ説明文にHTMLマークアップが含まれるかを判定する。
// 説明文はJSON文字列としてそのまま返すため、判定結果はログとメトリクスにのみ使う。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// MarkupDetector は説明文中のHTMLマークアップ検出のインターフェース。
type MarkupDetector interface {
	// ContainsMarkup はタグとして解釈される部分を含む場合にtrueを返す。
	// 入力は変更しない。
	ContainsMarkup(text string) bool
}

// markupDetector はMarkupDetectorの実装。
// bluemondayのポリシーはスレッドセーフなので1つを共有する。
type markupDetector struct {
	policy *bluemonday.Policy
}

// NewMarkupDetector はMarkupDetectorの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyを使う。
func NewMarkupDetector() *markupDetector {
	return &markupDetector{
		policy: bluemonday.StrictPolicy(),
	}
}

// ContainsMarkup はStrictPolicyで取り除かれる部分があるかどうかで判定する。
// bluemondayは文字参照を正規化してエスケープし直すため、両辺をアンエスケープして比較する。
// 文字参照で書かれた山括弧はテキストなのでマークアップとはみなさない。
func (d *markupDetector) ContainsMarkup(text string) bool {
	if text == "" {
		return false
	}
	return html.UnescapeString(d.policy.Sanitize(text)) != html.UnescapeString(text)
}
