package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the caller-facing verdict of an authorization.
type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusDenied     Status = "denied"
	StatusTimedOut   Status = "timed_out"
)

// Outcome is the answer to one Authorize call.
type Outcome struct {
	Status        Status
	CorrelationID string

	// Result is the engine's result; nil when timed out.
	Result *AuthorizationResult

	// Reason and ErrorKind are set when denied.
	Reason    string
	ErrorKind ErrorKind
}

func (o Outcome) Authorized() bool {
	return o.Status == StatusAuthorized
}

// Authorizer dispatches a request and waits for its result.
type Authorizer struct {
	dispatcher *Dispatcher
	poller     *Poller
}

func NewAuthorizer(dispatcher *Dispatcher, poller *Poller) *Authorizer {
	return &Authorizer{dispatcher: dispatcher, poller: poller}
}

// Authorize runs one full round trip with the poller's default timeout.
// Denials and timeouts are outcomes; only infrastructure failures, an invalid chat kind and
// cancellation are errors.
func (a *Authorizer) Authorize(ctx context.Context, req *AuthorizationRequest) (Outcome, error) {
	return a.AuthorizeWithin(ctx, req, a.poller.Timeout())
}

func (a *Authorizer) AuthorizeWithin(ctx context.Context, req *AuthorizationRequest, timeout time.Duration) (Outcome, error) {
	correlationID, err := a.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	return a.AwaitFor(ctx, correlationID, req.SubjectID, timeout)
}

// Await waits for a request dispatched earlier and resolves its outcome.
func (a *Authorizer) Await(ctx context.Context, correlationID string, timeout time.Duration) (Outcome, error) {
	return a.AwaitFor(ctx, correlationID, "", timeout)
}

// AwaitFor is Await on behalf of subjectID. A result belonging to someone else is left in the
// store and ErrNotOwner is returned.
func (a *Authorizer) AwaitFor(ctx context.Context, correlationID, subjectID string, timeout time.Duration) (Outcome, error) {
	res, err := a.poller.WaitFor(ctx, correlationID, subjectID, timeout)
	if errors.Is(err, ErrTimeout) {
		return Outcome{Status: StatusTimedOut, CorrelationID: correlationID}, nil
	}
	if err != nil {
		return Outcome{CorrelationID: correlationID}, err
	}
	return Resolve(correlationID, res)
}

// Resolve turns a stored result into an Outcome. A failure of kind infrastructure is
// reported as ErrInfrastructure since retrying may succeed.
func Resolve(correlationID string, res *AuthorizationResult) (Outcome, error) {
	if res.Success {
		return Outcome{Status: StatusAuthorized, CorrelationID: correlationID, Result: res}, nil
	}

	out := Outcome{
		Status:        StatusDenied,
		CorrelationID: correlationID,
		Result:        res,
		Reason:        res.ErrorMessage,
		ErrorKind:     res.ErrorKind,
	}
	if res.Retryable() {
		return out, fmt.Errorf("%w: %s", ErrInfrastructure, res.ErrorMessage)
	}
	return out, nil
}
