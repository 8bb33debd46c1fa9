package http

import (
	"io"
	"net/http"
)

const maxBodySize = 8 << 20

func (h *Handler) Event(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	res, err := h.eventProcessor.ProcessEvents(body)
	if err != nil {
		_, _ = io.Copy(io.Discard, body)
		h.error(badRequest(err).WithDetail("accepted", res.Accepted), w)
		return
	}

	h.logger.Debug().
		Str("client_ip", getClientIP(r)).
		Str("request_id", r.Header.Get("X-Request-ID")).
		Int("accepted", res.Accepted).
		Int("skipped", res.Skipped).
		Int("invalid", res.Invalid).
		Msg("events received")

	if err = encodeJSONResponse(w, http.StatusAccepted, res); err != nil {
		h.logger.Error().Err(err).Msg("encode events response")
	}
}
