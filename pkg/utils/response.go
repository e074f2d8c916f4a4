package utils

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps the request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorBody 错误响应体；RequestID 来自 chi 的 RequestID 中间件，便于对照日志。
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// DecodeJSON 解析请求体到 v，超过 MaxBodyBytes 的请求体视为错误
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("failed to encode response")
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	RespondJSON(w, status, ErrorBody{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
