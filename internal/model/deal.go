package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Deal はCheapSharkのセール1件を表す。
// 値は上流から受け取った文字列をそのまま保持する。
type Deal struct {
	DealID      string `json:"dealId"`
	StoreID     string `json:"storeId"`
	Title       string `json:"title"`
	SalePrice   string `json:"salePrice"`
	NormalPrice string `json:"normalPrice"`
	Savings     string `json:"savings"`
	DealRating  string `json:"dealRating"`
	SteamAppID  string `json:"steamAppId"`
}

// dealField は正規名と上流の旧名の対応。
type dealField struct {
	canonical string
	legacy    string
}

var dealFields = []dealField{
	{"dealId", "dealID"},
	{"storeId", "storeID"},
	{"title", "title"},
	{"salePrice", "salePrice"},
	{"normalPrice", "normalPrice"},
	{"savings", "savings"},
	{"dealRating", "dealRating"},
	{"steamAppId", "steamAppID"},
}

// UnmarshalJSON は正規形とCheapShark形式のどちらのキーも受け付ける。
// 正規形のキーが存在すればそちらを優先する。値の変換は行わないため、
// 何度適用しても結果は変わらない。
func (d *Deal) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode deal: %w", err)
	}

	targets := []*string{
		&d.DealID, &d.StoreID, &d.Title, &d.SalePrice,
		&d.NormalPrice, &d.Savings, &d.DealRating, &d.SteamAppID,
	}
	for i, f := range dealFields {
		v, ok := raw[f.canonical]
		if !ok {
			v, ok = raw[f.legacy]
		}
		if !ok {
			*targets[i] = ""
			continue
		}
		s, err := scalarText(v)
		if err != nil {
			return fmt.Errorf("decode deal field %s: %w", f.canonical, err)
		}
		*targets[i] = s
	}
	return nil
}

// scalarText はJSONの文字列・数値・nullを文字列として取り出す。
// 数値はリテラル表記のまま返す。
func scalarText(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	var x any
	if err := json.Unmarshal(v, &x); err == nil && x == nil {
		return "", nil
	}
	return "", fmt.Errorf("unsupported value %s", strconv.Quote(string(v)))
}
