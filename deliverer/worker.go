package deliverer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/ipcasj/ethhook-sub002/internal/breaker"
	"github.com/ipcasj/ethhook-sub002/internal/catalog"
	"github.com/ipcasj/ethhook-sub002/internal/model"
	"github.com/ipcasj/ethhook-sub002/internal/signing"
	"github.com/ipcasj/ethhook-sub002/internal/streams"
)

type worker struct {
	name  string
	pool  *Pool
	queue *streams.DeliveryQueue
}

// run drives one worker's read/deliver loop. ctx governs admission of
// new work: it is canceled on shutdown, which stops blocking reads and
// reclaims immediately (spec §5: "stop reading new entries"). workCtx
// is a separate, longer-lived context used for in-flight delivery
// work (HTTP calls, retry backoff, attempt-log writes, and the final
// ack) so that a shutdown signal lets those "complete or time out"
// rather than tearing them down on the spot; workCtx is only canceled
// by Pool.Run once the drain deadline elapses.
func (w *worker) run(ctx, workCtx context.Context) error {
	reclaim := time.NewTicker(w.pool.cfg.ReclaimEvery)
	defer reclaim.Stop()

	w.pool.health.Set("deliverer:"+w.name, true)
	defer w.pool.health.Set("deliverer:"+w.name, false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaim.C:
			w.reclaim(ctx, workCtx)
		default:
			if err := w.readAndDeliver(ctx, workCtx); err != nil {
				log.Error("deliverer read failed", "worker", w.name, "err", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *worker) readAndDeliver(ctx, workCtx context.Context) error {
	entries, err := w.queue.ReadBatch(ctx, 1, w.pool.cfg.ReadBlock)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		w.handleEntry(workCtx, entry)
	}
	return nil
}

func (w *worker) reclaim(ctx, workCtx context.Context) {
	entries, err := w.queue.ReclaimStale(ctx, w.pool.cfg.ReclaimIdle, 10)
	if err != nil {
		log.Error("deliverer reclaim failed", "worker", w.name, "err", err)
		return
	}
	for _, entry := range entries {
		w.handleEntry(workCtx, entry)
	}
}

// handleEntry runs entirely against workCtx: the delivery attempt, its
// retries, the attempt-log write, and the final ack all share the
// drain-bounded lifetime rather than the admission context, so a
// shutdown signal does not abort an attempt that is already in flight.
func (w *worker) handleEntry(workCtx context.Context, entry streams.Entry) {
	job, err := streams.DecodeJob(entry)
	if err != nil {
		log.Warn("deliverer poison message, acknowledging", "worker", w.name, "entry_id", entry.ID, "err", err)
		if ackErr := w.queue.Ack(workCtx, entry.ID); ackErr != nil {
			log.Error("deliverer failed to ack poison message", "entry_id", entry.ID, "err", ackErr)
		}
		return
	}

	w.deliverWithRetry(workCtx, job)

	if err := w.queue.Ack(workCtx, entry.ID); err != nil {
		log.Error("deliverer ack failed", "worker", w.name, "entry_id", entry.ID, "job_id", job.JobID, "err", err)
	}
}

// deliverWithRetry runs the per-job flow of spec §4.H steps 1-9,
// retrying in-process (never re-queuing) until success, a non-
// retryable outcome, or max_retries is reached.
func (w *worker) deliverWithRetry(ctx context.Context, job model.DeliveryJob) {
	for attempt := 1; ; attempt++ {
		terminal, retry := w.attemptOnce(ctx, job, attempt)
		if terminal || !retry {
			return
		}
		if attempt >= job.MaxRetries {
			return
		}
		delay := backoffDelay(w.pool.cfg, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// attemptOnce performs one admission check + HTTP attempt + attempt-
// log write + circuit update. terminal is true when the job's retry
// chain is over whatever the attempt count (success, non-retryable
// failure, marshal failure, or circuit-open skip); retry is true when
// the outcome is retryable. attemptOnce does not look at max_retries:
// deliverWithRetry decides whether another attempt is made.
func (w *worker) attemptOnce(ctx context.Context, job model.DeliveryJob, attempt int) (terminal, retry bool) {
	endpointID := job.EndpointID

	if !w.pool.rates.Allow(endpointID, job.RateLimitPerSecond, time.Now()) {
		w.recordSkipped(ctx, job, attempt, "rate_limited")
		return false, true
	}

	body, err := json.Marshal(webhookBody(job.Event))
	if err != nil {
		w.recordFailure(ctx, job, attempt, nil, "", fmt.Sprintf("marshal: %v", err), 0)
		return true, false
	}

	var statusCode int
	var respBody string
	var attemptErr error
	start := time.Now()

	breakerErr := w.pool.circuits.Execute(endpointID, func() error {
		statusCode, respBody, attemptErr = w.post(ctx, job, body, attempt)
		if attemptErr != nil {
			return attemptErr
		}
		if retryable(statusCode, nil) {
			return fmt.Errorf("http %d", statusCode)
		}
		return nil
	})
	duration := time.Since(start)

	if errors.Is(breakerErr, breaker.ErrOpen) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
		w.recordSkipped(ctx, job, attempt, "circuit_open")
		return true, false
	}

	if attemptErr != nil {
		w.recordFailure(ctx, job, attempt, nil, "", attemptErr.Error(), duration)
		return false, true
	}

	if success(statusCode) {
		w.recordOutcome(ctx, job, attempt, statusCode, respBody, "", true, duration)
		return true, false
	}

	retryableOutcome := retryable(statusCode, nil)
	w.recordOutcome(ctx, job, attempt, statusCode, respBody, fmt.Sprintf("http %d", statusCode), false, duration)
	return !retryableOutcome, retryableOutcome
}

func (w *worker) post(ctx context.Context, job model.DeliveryJob, body []byte, attempt int) (statusCode int, respBody string, err error) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = w.pool.cfg.HTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signing.Sign(job.HMACSecret, body))
	req.Header.Set("X-Webhook-Id", job.JobID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", attempt))

	resp, err := w.pool.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	limit := int64(w.pool.cfg.ResponseBodyCap)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, string(data), nil
}

func webhookBody(e model.Event) map[string]interface{} {
	return map[string]interface{}{
		"chain_id":         e.ChainID,
		"block_number":     e.BlockNumber,
		"block_hash":       e.BlockHash,
		"transaction_hash": e.TransactionHash,
		"log_index":        e.LogIndex,
		"contract_address": e.ContractAddress,
		"topics":           e.Topics,
		"data":             e.Data,
		"timestamp":        e.BlockTimestamp,
	}
}

func (w *worker) recordSkipped(ctx context.Context, job model.DeliveryJob, attempt int, reason string) {
	w.writeAttempt(ctx, job, attempt, nil, "", reason, false, 0)
}

func (w *worker) recordFailure(ctx context.Context, job model.DeliveryJob, attempt int, status *int, respBody, errMsg string, duration time.Duration) {
	w.writeAttempt(ctx, job, attempt, status, respBody, errMsg, false, duration)
}

func (w *worker) recordOutcome(ctx context.Context, job model.DeliveryJob, attempt, statusCode int, respBody, errMsg string, ok bool, duration time.Duration) {
	w.writeAttempt(ctx, job, attempt, &statusCode, respBody, errMsg, ok, duration)
}

// writeAttempt persists a DeliveryAttempt row, retrying the write
// itself with backoff (spec §4.H failure semantics: the ack is
// predicated on the log write having happened).
func (w *worker) writeAttempt(ctx context.Context, job model.DeliveryJob, attempt int, statusCode *int, respBody, errMsg string, ok bool, duration time.Duration) {
	row := &catalog.AttemptRow{
		ID:                 uuid.NewString(),
		EventID:            job.Event.Fingerprint(),
		EndpointID:         job.EndpointID,
		AttemptNumber:      attempt,
		HTTPStatusCode:     statusCode,
		ResponseBodyPrefix: respBody,
		ErrorMessage:       errMsg,
		DurationMs:         duration.Milliseconds(),
		Success:            ok,
		AttemptedAt:        time.Now(),
	}

	delay := w.pool.cfg.InitialDelay
	for {
		if err := w.pool.repo.RecordAttempt(ctx, row); err == nil {
			return
		} else {
			log.Error("deliverer attempt log write failed, retrying", "job_id", job.JobID, "err", err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if delay < w.pool.cfg.MaxDelay {
			delay *= 2
		}
	}
}
