package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/studyhub/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// requestIdはロギングミドルウェアが付与したX-Request-IDで、問い合わせ時の照合に使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は500の統一レスポンスを書き込む。原因はレスポンスに含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
