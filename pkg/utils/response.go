package utils

import (
	"encoding/json"
	"net/http"

	"github.com/zhouzirui/hertscortex/backend/internal/apperr"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) error {
	return RespondJSON(w, status, ErrorBody{Success: false, Error: message})
}

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// RespondAppError maps err to its HTTP status and writes the user-facing message only.
func RespondAppError(w http.ResponseWriter, err error) error {
	return RespondJSON(w, apperr.HTTPStatus(err), ErrorBody{
		Success: false,
		Error:   apperr.UserMessage(err),
		Code:    string(apperr.KindOf(err)),
	})
}
