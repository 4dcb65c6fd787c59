package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fanchat/internal/app/resultstore"
	"fanchat/internal/pkg/logx"
	"fanchat/internal/pkg/metrics"
)

// Poller waits for the result of a dispatched request by taking it from the result store.
// A result is taken at most once: whichever Poller takes it first gets it. WaitFor only
// takes results that belong to the subject it waits for.
type Poller struct {
	store    resultstore.Store
	interval time.Duration
	timeout  time.Duration
}

// NewPoller reads the store every interval; timeout is used when Wait is given none.
func NewPoller(store resultstore.Store, interval, timeout time.Duration) *Poller {
	return &Poller{store: store, interval: interval, timeout: timeout}
}

// Timeout is the default poll window.
func (p *Poller) Timeout() time.Duration {
	return p.timeout
}

// Wait polls for the result of correlationID until it is found or timeout elapses.
//
// It returns the decoded result (successful or not) when found, ErrTimeout when the window
// elapses, ErrInfrastructure when every read failed or the stored payload cannot be decoded,
// and ctx.Err() when ctx is done first. The last read happens at the deadline.
func (p *Poller) Wait(ctx context.Context, correlationID string, timeout time.Duration) (*AuthorizationResult, error) {
	return p.WaitFor(ctx, correlationID, "", timeout)
}

// WaitFor is Wait on behalf of subjectID: a result owned by another subject is not consumed
// and ErrNotOwner is returned. An empty subjectID accepts any result.
func (p *Poller) WaitFor(ctx context.Context, correlationID, subjectID string, timeout time.Duration) (*AuthorizationResult, error) {
	if timeout <= 0 {
		timeout = p.timeout
	}

	start := time.Now()
	deadline := start.Add(timeout)

	var (
		reads    int
		failures int
		lastErr  error
	)

	for {
		payload, err := p.take(ctx, correlationID, subjectID)
		reads++

		switch {
		case err == nil:
			res, decodeErr := DecodeResult(payload)
			if decodeErr != nil {
				metrics.RecordPoll("infrastructure", time.Since(start))
				logx.Error(decodeErr, "Stored authorization result is undecodable", "correlation_id", correlationID)
				return nil, fmt.Errorf("%w: %w", ErrInfrastructure, decodeErr)
			}
			metrics.RecordPoll("found", time.Since(start))
			return res, nil

		case ctx.Err() != nil:
			metrics.RecordPoll("cancelled", time.Since(start))
			return nil, ctx.Err()

		case errors.Is(err, ErrNotOwner):
			metrics.RecordPoll("not_owner", time.Since(start))
			logx.Warn("Authorization result awaited by another subject", "correlation_id", correlationID)
			return nil, ErrNotOwner

		case errors.Is(err, resultstore.ErrNotFound):

		default:
			failures++
			lastErr = err
			logx.Warn("Result store read failed", "correlation_id", correlationID, "error", err.Error())
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		timer := time.NewTimer(min(p.interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RecordPoll("cancelled", time.Since(start))
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if failures == reads {
		metrics.RecordPoll("infrastructure", time.Since(start))
		return nil, fmt.Errorf("%w: result store unavailable: %w", ErrInfrastructure, lastErr)
	}

	metrics.RecordPoll("timed_out", time.Since(start))
	return nil, ErrTimeout
}

// take consumes the result if subjectID may have it.
func (p *Poller) take(ctx context.Context, correlationID, subjectID string) ([]byte, error) {
	if subjectID == "" {
		return p.store.Take(ctx, correlationID)
	}

	peeked, err := p.store.Peek(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if res, err := DecodeResult(peeked); err == nil && !res.OwnedBy(subjectID) {
		return nil, ErrNotOwner
	}

	// Another poller of the same subject may take it first; that read counts as not found.
	return p.store.Take(ctx, correlationID)
}
