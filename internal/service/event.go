package service

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

const maxLineSize = 1 << 20

type Event interface {
	ProcessEvents(r io.Reader) (Result, error)
}

// Result counts how the lines of one request were handled.
type Result struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
	Invalid  int `json:"invalid"`
}

// ProcessEvents reads newline delimited events and hands them to the hook in order.
// Lines that do not decode are logged and skipped.
func (s *Service) ProcessEvents(r io.Reader) (Result, error) {
	var res Result

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(bufio.ScanLines)

	for scanner.Scan() {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		event := domain.Event{}
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Err(err).Str("raw_event", string(data)).Msg("Failed to decode event")
			res.Invalid++
			continue
		}
		if event.Name == "" {
			s.logger.Warn().Str("raw_event", string(data)).Msg("Event without name")
			res.Invalid++
			continue
		}

		if s.hook.OnEvent(event) {
			res.Accepted++
		} else {
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read events: %w", err)
	}
	return res, nil
}
