// Package scoring はリポジトリの人気度・鮮度スコアを計算する。
//
// スコアは次の式で求める:
//
//	ln(stars+1)*Stars + ln(forks+1)*Forks + Recency/(1+daysSinceUpdate)
//
// スター数とフォーク数は対数で逓減させ、鮮度項は (0, Recency] の範囲で
// 更新からの経過日数に応じて0に近づく。結果は小数第2位に四捨五入する。
package scoring

import (
	"fmt"
	"math"
	"math/big"

	"github.com/hitoshi/reposcorer/internal/model"
)

// Calculate はスコアを計算する。
// 重みのいずれかが負の場合はINVALID_CONFIGURATIONエラーを返す（呼び出しごとに検証する）。
// daysSinceUpdateが負の場合は0として扱う。
func Calculate(stars, forks, daysSinceUpdate int, w model.ScoreWeights) (float64, error) {
	if err := validateWeights(w); err != nil {
		return 0, err
	}
	if daysSinceUpdate < 0 {
		daysSinceUpdate = 0
	}

	starsScore := math.Log(float64(stars)+1) * w.Stars
	forksScore := math.Log(float64(forks)+1) * w.Forks
	recencyScore := w.Recency / float64(1+daysSinceUpdate)

	return RoundHalfUp(starsScore+forksScore+recencyScore, 2), nil
}

// RoundHalfUp はfloat64の正確な2進値を基準に小数第places位へ四捨五入する。
// 0.5ちょうどの場合は0から遠い方へ丸める。x*100のような浮動小数点演算を経由しないため、
// 1.005（実際は1.00499...）が1.01に化けることはない。
func RoundHalfUp(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil))
	r := new(big.Rat).SetFloat64(x)
	r.Mul(r, scale)

	neg := r.Sign() < 0
	if neg {
		r.Neg(r)
	}

	// floor(r + 1/2)
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())
	if neg {
		n.Neg(n)
	}

	out, _ := new(big.Rat).SetFrac(n, scale.Num()).Float64()
	return out
}

func validateWeights(w model.ScoreWeights) error {
	switch {
	case w.Stars < 0:
		return model.NewInvalidConfigurationError(fmt.Sprintf("stars weight must be >= 0, got %v", w.Stars))
	case w.Forks < 0:
		return model.NewInvalidConfigurationError(fmt.Sprintf("forks weight must be >= 0, got %v", w.Forks))
	case w.Recency < 0:
		return model.NewInvalidConfigurationError(fmt.Sprintf("recency weight must be >= 0, got %v", w.Recency))
	}
	return nil
}

// Scorer は設定済みの重みを保持するスコア計算器。
// 重みは値としてコピーして保持するため、複数goroutineから同時に使ってよい。
type Scorer struct {
	weights model.ScoreWeights
}

// NewScorer はScorerを生成する。重みの検証はここでは行わない。
func NewScorer(weights model.ScoreWeights) *Scorer {
	return &Scorer{weights: weights}
}

// Score は保持している重みでスコアを計算する。
func (s *Scorer) Score(stars, forks, daysSinceUpdate int) (float64, error) {
	return Calculate(stars, forks, daysSinceUpdate, s.weights)
}

// Weights は保持している重みを返す。
func (s *Scorer) Weights() model.ScoreWeights {
	return s.weights
}
