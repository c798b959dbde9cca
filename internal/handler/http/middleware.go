package http

import (
	"mime"
	"net/http"

	"github.com/leowu0329/authservice/pkg/httputil"
	"github.com/leowu0329/authservice/pkg/logger"
)

const maxBodyBytes = 1 << 20

// ContentTypeJSON rejects request bodies that declare a non-JSON media type
// and caps the body size. Bodiless requests such as logout pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" && !isJSONMediaType(ct) {
			httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:      "UNSUPPORTED_MEDIA_TYPE",
					Message:   "Content-Type must be application/json",
					RequestID: logger.CorrelationIDFromContext(r.Context()),
				},
			})
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// isJSONMediaType reports whether a Content-Type header names
// application/json, ignoring case and parameters.
func isJSONMediaType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}
