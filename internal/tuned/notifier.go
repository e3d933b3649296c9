package tuned

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/tuning-core/internal/improvement"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/models"
	"github.com/GoSim-25-26J-441/tuning-core/pkg/utils"
)

// SecretHeader carries the configured callback secret
const SecretHeader = "X-Tuner-Callback-Secret"

// NotificationPayload is the JSON body posted to the callback URL
type NotificationPayload struct {
	RunID             string                     `json:"run_id"`
	StopReason        string                     `json:"stop_reason"`
	ConvergenceReason string                     `json:"convergence_reason,omitempty"`
	Trials            int                        `json:"trials"`
	Successes         int                        `json:"successes"`
	Counts            map[models.TrialStatus]int `json:"counts"`
	NoSuccess         bool                       `json:"no_success"`
	Best              *models.Trial              `json:"best,omitempty"`
	DurationMs        int64                      `json:"duration_ms"`
	Timestamp         int64                      `json:"timestamp"` // when the notification was sent
}

// PayloadFromResult converts a finished run into a notification payload
func PayloadFromResult(res *improvement.Result) NotificationPayload {
	p := NotificationPayload{
		RunID:             res.RunID,
		StopReason:        string(res.StopReason),
		ConvergenceReason: res.ConvergenceReason,
		Trials:            res.Trials,
		Successes:         res.Successes,
		Counts:            res.Counts,
		NoSuccess:         res.NoSuccess,
		DurationMs:        res.Duration.Milliseconds(),
		Timestamp:         time.Now().UTC().UnixMilli(),
	}
	if !res.NoSuccess {
		best := res.Best
		p.Best = &best
	}
	return p
}

// NotifierOptions tune delivery; zero values take the defaults
type NotifierOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// NotifierOptionsFromConfig maps the notify section. There max_retries 0
// means a single attempt, while NotifierOptions reads 0 as the default.
func NotifierOptionsFromConfig(n config.Notify, l *slog.Logger) NotifierOptions {
	retries := n.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return NotifierOptions{MaxRetries: retries, Logger: l}
}

// Notifier posts run completion to a callback URL
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	backoff    utils.BackoffStrategy
	logger     *slog.Logger
}

// NewNotifier creates a notifier; a negative MaxRetries disables retries
func NewNotifier(opts NotifierOptions) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	return &Notifier{
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxRetries: opts.MaxRetries,
		backoff:    utils.NewExponentialBackoff(opts.BaseDelay, opts.MaxDelay, 2.0, false),
		logger:     logger.OrDefault(opts.Logger),
	}
}

// Send posts the payload, retrying on transport errors and non-2xx replies.
// {run_id} in the URL is replaced with the run ID.
func (n *Notifier) Send(ctx context.Context, callbackURL, secret string, payload NotificationPayload) error {
	finalURL := strings.ReplaceAll(callbackURL, "{run_id}", payload.RunID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	_, err = utils.Retry(ctx, n.maxRetries+1, n.backoff, func(attempt int) error {
		if attempt > 0 {
			n.logger.Debug("retrying notification",
				"callback_url", finalURL, "run_id", payload.RunID, "attempt", attempt)
		}
		err := n.post(ctx, finalURL, secret, body)
		if err != nil {
			n.logger.Warn("notification attempt failed",
				"callback_url", finalURL,
				"run_id", payload.RunID,
				"attempt", attempt+1,
				"error", err)
		}
		return err
	})
	if err != nil {
		return err
	}

	n.logger.Info("notification sent successfully",
		"run_id", payload.RunID, "stop_reason", payload.StopReason)
	return nil
}

func (n *Notifier) post(ctx context.Context, url, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tuning-core/1.0")
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	responseBody := string(bodyBytes)
	if len(responseBody) > 200 {
		responseBody = responseBody[:200] + "..."
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, responseBody)
}
