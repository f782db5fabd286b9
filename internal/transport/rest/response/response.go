package response

import (
	"encoding/json"
	"io"
	"net/http"
)

// Envelope wraps every successful JSON body as {"data": ...}.
type Envelope struct {
	Data any `json:"data,omitempty"`
}

// ErrorBody is {"error":{"code","message","meta","request_id"}}. Codes are
// dotted, e.g. "event.full"; meta carries per-field messages or client hints
// such as clear_input.
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, Envelope{Data: payload})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Attachment streams a non-JSON body (the calendar feed) rendered by write.
// Headers are committed before write runs, so its error can only be logged.
func Attachment(w http.ResponseWriter, contentType, filename string, write func(io.Writer) error) error {
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", `inline; filename="`+filename+`"`)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return write(w)
}

func Fail(w http.ResponseWriter, status int, code, message string, meta map[string]string, requestID string) {
	JSON(w, status, ErrorBody{
		Error: ErrorPayload{
			Code:      code,
			Message:   message,
			Meta:      meta,
			RequestID: requestID,
		},
	})
}
