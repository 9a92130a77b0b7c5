// Package selector はセール一覧を絞り込み、条件に合うセールを1件無作為に選ぶ。
package selector

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/hitoshi/dealpick/internal/model"
)

// Rand は選択に使う乱数源。*rand.Rand（math/rand/v2）が満たす。
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand はプロセス共有の乱数源。
var DefaultRand Rand = globalRand{}

// Filter は条件を満たし、かつ所有していないセールだけを元の順序のまま返す。
//
// 割引率とディール評価は数値として解釈できない場合は除外する。
// しきい値がNaNの場合はすべて除外される。
// SteamアプリIDが整数として解釈できないセールは所有判定の対象外として残す。
func Filter(deals []model.Deal, owned model.OwnershipSet, f model.DealFilterParams) []model.Deal {
	survivors := make([]model.Deal, 0, len(deals))
	for _, d := range deals {
		if !meets(d.Savings, f.MinSavingPct) || !meets(d.DealRating, f.MinDealRating) {
			continue
		}
		if appID, err := strconv.Atoi(strings.TrimSpace(d.SteamAppID)); err == nil && owned.Has(appID) {
			continue
		}
		survivors = append(survivors, d)
	}
	return survivors
}

// Select は Filter の結果から1件を一様に選ぶ。候補がない場合は nil を返す。
// 2番目の戻り値は候補の件数。
func Select(deals []model.Deal, owned model.OwnershipSet, f model.DealFilterParams, rng Rand) (*model.Deal, int) {
	survivors := Filter(deals, owned, f)
	if len(survivors) == 0 {
		return nil, 0
	}
	picked := survivors[rng.IntN(len(survivors))]
	return &picked, len(survivors)
}

// meets は数値文字列がしきい値以上かを返す。しきい値がNaNなら常に偽。
func meets(value string, min model.Threshold) bool {
	if min.IsNaN() {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}
	return v >= float64(min)
}
