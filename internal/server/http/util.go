package http

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/leshachaplin/feedbackhook/internal/apierror"
)

func encodeJSONResponse[T any](w http.ResponseWriter, code int, data T) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if code == http.StatusNoContent {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

func badRequest(err error) apierror.Error {
	return apierror.NewAPIError(err.Error(), http.StatusBadRequest)
}

func getClientIP(req *http.Request) string {
	if xoff := req.Header.Get("X-Original-Forwarded-For"); xoff != "" {
		return xoff
	}
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	out, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		out = req.RemoteAddr
	}
	if ip := net.ParseIP(out); ip != nil {
		if ip.IsLoopback() {
			return "127.0.0.1"
		}
		return out
	}

	return "0.0.0.0"
}
