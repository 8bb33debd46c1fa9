// Package delivery sends feedback records to the recommendation engine feedback endpoint.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/leshachaplin/feedbackhook/internal/domain"
	"github.com/leshachaplin/feedbackhook/internal/feedback"
	"github.com/leshachaplin/feedbackhook/internal/metrics"
)

const maxErrorBody = 512

type Client struct {
	url      string
	method   string
	batch    bool
	http     *retryablehttp.Client
	tokens   TokenSource
	builder  *feedback.Builder
	counters *metrics.Counters
	logger   zerolog.Logger
}

func NewClient(
	cfg Config,
	builder *feedback.Builder,
	tokens TokenSource,
	counters *metrics.Counters,
	logger zerolog.Logger,
) *Client {
	cfg = cfg.withDefaults()

	httpClient := retryablehttp.NewClient()
	httpClient.HTTPClient.Timeout = cfg.Timeout
	httpClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		httpClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		httpClient.RetryWaitMax = cfg.RetryWaitMax
	}
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.Logger = leveledLogger{logger: logger}

	return &Client{
		url:      cfg.RequestURL,
		method:   cfg.MethodType,
		batch:    cfg.BatchDelivery,
		http:     httpClient,
		tokens:   tokens,
		builder:  builder,
		counters: counters,
		logger:   logger,
	}
}

// DeliverBatch forwards a flushed batch. In batch mode the whole batch is one request;
// otherwise every record is sent on its own and a failure does not stop the rest.
// Per-record failures are reported as *BatchError.
func (c *Client) DeliverBatch(ctx context.Context, batch domain.EventBatch) error {
	records := c.builder.BuildBatch(batch.Events)
	if len(records) == 0 {
		return nil
	}

	if c.batch {
		return c.send(ctx, batch.ID, records, len(records))
	}

	var (
		errs   []error
		failed []int
	)
	for i := range records {
		requestID := batch.ID + "-" + strconv.Itoa(i)
		if err := c.send(ctx, requestID, records[i], 1); err != nil {
			errs = append(errs, err)
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &BatchError{Failed: failed, Err: errors.Join(errs...)}
}

// Deliver sends a single record.
func (c *Client) Deliver(ctx context.Context, requestID string, record domain.FeedbackRecord) error {
	return c.send(ctx, requestID, record, 1)
}

func (c *Client) send(ctx context.Context, requestID string, payload any, records int) error {
	c.counters.TotalRequests.Increment(records)

	if err := c.do(ctx, requestID, payload); err != nil {
		c.counters.Errors.Increment(1)
		c.logger.Warn().Err(err).Str("request_id", requestID).Int("records", records).Msg("feedback delivery failed")
		return err
	}

	c.logger.Debug().Str("request_id", requestID).Int("records", records).Msg("feedback delivered")
	return nil
}

func (c *Client) do(ctx context.Context, requestID string, payload any) error {
	fail := func(status int, body string, cause error) error {
		return &Error{
			URL:        c.url,
			Method:     c.method,
			RequestID:  requestID,
			StatusCode: status,
			Body:       body,
			Cause:      cause,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(0, "", fmt.Errorf("marshal feedback: %w", err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return fail(0, "", fmt.Errorf("could not create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fail(0, "", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		return fail(0, "", fmt.Errorf("could not send request: %w", err))
	}
	defer res.Body.Close()

	if IsSuccess(res.StatusCode) {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return fail(res.StatusCode, string(msg), nil)
}
