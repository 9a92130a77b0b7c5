package logger

import (
	"io"
	"log/slog"
	"net/url"
	"os"
)

// level はグローバルロガーのログレベル。SetLevel で実行中に変更できる。
var level = new(slog.LevelVar)

// secretQueryParams はログ出力時に伏せ字にするクエリパラメータ名。
var secretQueryParams = []string{"key"}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
// url 属性に含まれるAPIキーは伏せ字にする。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// SetLevel はSetupで生成したロガーのログレベルを変更する。
func SetLevel(l slog.Level) {
	level.Set(l)
}

// RedactURL はURLのクエリに含まれる秘密情報を伏せ字にする。
// 解析できない文字列はそのまま返す。
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range secretQueryParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == "url" && a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, RedactURL(a.Value.String()))
	}
	return a
}
