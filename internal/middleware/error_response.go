package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dealpick/internal/model"
)

// internalErrorMessage は内部エラー時にクライアントへ返すメッセージ。
// 詳細はログのみに記録する。
const internalErrorMessage = "Internal server error."

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteEnvelope はレスポンスエンベロープを書き込む。
func WriteEnvelope(w http.ResponseWriter, statusCode int, env model.ResponseEnvelope) {
	WriteJSON(w, statusCode, env)
}

// WriteInternalServerError は内部サーバーエラーのエンベロープを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteEnvelope(w, http.StatusInternalServerError, model.ResponseEnvelope{
		Error: internalErrorMessage,
	})
}
