// Package intent はHTTPリクエストからSteam IDとセール絞り込み条件を解決する。
// 値はヘッダ、JSONボディ、クエリの順に探し、見つからなければ既定値を使う。
package intent

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/dealpick/internal/model"
)

// HeaderSteamID はSteam IDを渡すためのリクエストヘッダ。
const HeaderSteamID = "X-Steam-Id"

// maxBodyBytes はJSONボディとして読み込む最大バイト数。
const maxBodyBytes = 64 << 10

// 入力フィールド名。ボディとクエリで共通。
const (
	fieldSteamID       = "steamId"
	fieldMaxAge        = "csMaxAge"
	fieldMetacritic    = "csMetacritic"
	fieldSteamRating   = "csSteamRating"
	fieldUpperPrice    = "csUpperPrice"
	fieldMinSaving     = "csMinSaving"
	fieldMinDealRating = "csMinDealRating"
	fieldStoreIDs      = "csStoreIds"
)

// Resolve はリクエストから RequestIntent を組み立てる。失敗することはない。
// ボディの解析に失敗した場合はボディがないものとして扱う。
func Resolve(r *http.Request) model.RequestIntent {
	b := readBody(r)
	q := r.URL.Query()

	lookup := func(name string) (string, bool) {
		if v, ok := b.text(name); ok {
			return v, true
		}
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v, true
		}
		return "", false
	}

	in := model.RequestIntent{Filters: model.DefaultFilterParams()}

	if v := strings.TrimSpace(r.Header.Get(HeaderSteamID)); v != "" {
		in.SteamID = v
	} else if v, ok := lookup(fieldSteamID); ok {
		in.SteamID = v
	}

	f := &in.Filters
	if v, ok := lookup(fieldMaxAge); ok {
		f.MaxAgeHours = v
	}
	if v, ok := lookup(fieldMetacritic); ok {
		f.MinMetacritic = v
	}
	if v, ok := lookup(fieldSteamRating); ok {
		f.MinSteamRating = v
	}
	if v, ok := lookup(fieldUpperPrice); ok {
		f.MaxPrice = v
	}
	if v, ok := lookup(fieldMinSaving); ok {
		f.MinSavingPct = ParseThreshold(v)
	}
	if v, ok := lookup(fieldMinDealRating); ok {
		f.MinDealRating = ParseThreshold(v)
	}

	if ids := b.storeIDs(); len(ids) > 0 {
		f.StoreIDs = ids
	} else if ids := ParseStoreIDs(q.Get(fieldStoreIDs)); len(ids) > 0 {
		f.StoreIDs = ids
	}

	return in
}

// ParseThreshold は数値文字列をしきい値に変換する。
// 解釈できない場合はNaNを返す。
func ParseThreshold(s string) model.Threshold {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return model.Threshold(math.NaN())
	}
	return model.Threshold(f)
}

// ParseStoreIDs はカンマ区切りのストアIDを整数に変換する。
// 整数として解釈できない要素は捨てる。
func ParseStoreIDs(csv string) []int {
	var ids []int
	for _, tok := range strings.Split(csv, ",") {
		if id, ok := parseStoreID(tok); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseStoreID(tok string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil {
		return 0, false
	}
	return id, true
}

// body はJSONボディのトップレベルのフィールド。
type body map[string]json.RawMessage

// readBody はPOST/PUT/PATCHかつJSONのContent-Typeの場合だけボディを読む。
// 読み込んだボディは後続の処理でも読めるよう元に戻す。
func readBody(r *http.Request) body {
	if r.Body == nil || !methodAllowsBody(r.Method) || !isJSON(r.Header.Get("Content-Type")) {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) > maxBodyBytes {
		return nil
	}

	var b body
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	return b
}

func methodAllowsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// text はフィールドを文字列として取り出す。
// 文字列か数値で、空でない場合だけ存在するとみなす。
func (b body) text(name string) (string, bool) {
	raw, ok := b[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// storeIDs は csStoreIds を配列またはカンマ区切り文字列として解釈する。
func (b body) storeIDs() []int {
	raw, ok := b[fieldStoreIDs]
	if !ok {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var ids []int
		for _, item := range items {
			var n json.Number
			if err := json.Unmarshal(item, &n); err == nil {
				if id, ok := parseStoreID(n.String()); ok {
					ids = append(ids, id)
				}
				continue
			}
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				if id, ok := parseStoreID(s); ok {
					ids = append(ids, id)
				}
			}
		}
		return ids
	}

	if s, ok := b.text(fieldStoreIDs); ok {
		return ParseStoreIDs(s)
	}
	return nil
}
