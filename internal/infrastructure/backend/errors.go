package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/infrastructure/resilience"
)

const maxErrorBody = 4096

// errRequestTimeout marks a request whose own deadline fired while the caller
// was still waiting. It does not wrap context.DeadlineExceeded, so classify
// counts it against the breaker and transportError reports it as transport.
var errRequestTimeout = errors.New("backend did not respond in time")

// withDeadline bounds one backend request by timeout.
func withDeadline[T any](timeout time.Duration, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := fn(reqCtx)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && reqCtx.Err() != nil {
			return v, fmt.Errorf("%w after %s: %v", errRequestTimeout, timeout, err)
		}
		return v, err
	}
}

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("backend %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("backend %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// statusError turns a non-2xx response into a classified domain error. The
// user-facing message comes from the body when the backend supplied one.
func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}

	kind := domain.ErrServer
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		kind = domain.ErrNotFound
	}
	message := messageFromBody(body)
	if message == "" {
		message = domain.GenericServerMessage
	}
	return domain.NewError(kind, operation, message, cause)
}

func messageFromBody(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"error", "detail", "message"} {
		switch v := payload[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			// Validation errors: [{"loc": [...], "msg": "...", "type": "..."}].
			for _, item := range v {
				entry, _ := item.(map[string]any)
				if s, ok := entry["msg"].(string); ok && strings.TrimSpace(s) != "" {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	return ""
}

// transportError classifies a failure that happened before a response arrived.
func transportError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case resilience.IsCanceled(err):
		return fmt.Errorf("%s: %w", operation, err)
	case resilience.IsCircuitOpen(err):
		return domain.NewError(domain.ErrTemporary, operation, "", err)
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	return domain.NewError(domain.ErrTransport, operation, "", err)
}

// classify feeds the circuit breaker. Nothing is retried; only transport
// failures and 5xx count against the backend.
func classify(err error) resilience.ErrorClassification {
	if err == nil || resilience.IsCanceled(err) {
		return resilience.ErrorClassification{}
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resilience.ErrorClassification{RecordFailure: statusErr.StatusCode >= 500}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}
