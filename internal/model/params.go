package model

import (
	"math"
	"strconv"
)

// Threshold は下限値フィルタ。数値として解釈できない入力はNaNとなり、
// すべてのセールを除外する。JSONではNaNをnullとして出力する。
type Threshold float64

// IsNaN はしきい値が数値でないかを返す。
func (t Threshold) IsNaN() bool {
	return math.IsNaN(float64(t))
}

// MarshalJSON はNaNと無限大をnullとして出力する。
func (t Threshold) MarshalJSON() ([]byte, error) {
	f := float64(t)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// UnmarshalJSON はnullをNaNとして読み込む。
func (t *Threshold) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Threshold(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*t = Threshold(f)
	return nil
}

// 既定のフィルタ値。
const (
	DefaultMaxAgeHours    = "24"
	DefaultMinMetacritic  = "1"
	DefaultMinSteamRating = "1"
	DefaultMaxPrice       = "15"
)

// DefaultStoreIDs はストア指定がない場合に使う既定のストア一覧を返す。
func DefaultStoreIDs() []int {
	return []int{1, 3, 11, 15}
}

// DealFilterParams はセール検索とローカル絞り込みの条件。
// 上流に渡す値は文字列のまま保持する。
type DealFilterParams struct {
	MaxAgeHours    string
	MinMetacritic  string
	MinSteamRating string
	MaxPrice       string
	MinSavingPct   Threshold
	MinDealRating  Threshold
	StoreIDs       []int
}

// DefaultFilterParams は既定値で埋めたフィルタを返す。
func DefaultFilterParams() DealFilterParams {
	return DealFilterParams{
		MaxAgeHours:    DefaultMaxAgeHours,
		MinMetacritic:  DefaultMinMetacritic,
		MinSteamRating: DefaultMinSteamRating,
		MaxPrice:       DefaultMaxPrice,
		StoreIDs:       DefaultStoreIDs(),
	}
}

// RequestIntent は1リクエストから解決した入力。
// SteamID が空の場合は識別子なしを表す。
type RequestIntent struct {
	SteamID string
	Filters DealFilterParams
}

// HasIdentity はSteam IDが解決できたかを返す。
func (r RequestIntent) HasIdentity() bool {
	return r.SteamID != ""
}

// EchoParams はレスポンスの meta.params に返す解決済み入力。
type EchoParams struct {
	SteamID        string    `json:"steamId"`
	MaxAgeHours    string    `json:"csMaxAge"`
	MinMetacritic  string    `json:"csMetacritic"`
	MinSteamRating string    `json:"csSteamRating"`
	MaxPrice       string    `json:"csUpperPrice"`
	MinSavingPct   Threshold `json:"csMinSaving"`
	MinDealRating  Threshold `json:"csMinDealRating"`
	StoreIDs       []int     `json:"csStoreIds"`
}

// Echo は解決済み入力をレスポンス用の形に変換する。
func (r RequestIntent) Echo() *EchoParams {
	f := r.Filters
	return &EchoParams{
		SteamID:        r.SteamID,
		MaxAgeHours:    f.MaxAgeHours,
		MinMetacritic:  f.MinMetacritic,
		MinSteamRating: f.MinSteamRating,
		MaxPrice:       f.MaxPrice,
		MinSavingPct:   f.MinSavingPct,
		MinDealRating:  f.MinDealRating,
		StoreIDs:       f.StoreIDs,
	}
}
