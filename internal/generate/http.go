package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of an error response is kept in the error message.
const maxErrorBody = 2048

// Send performs req with a hard deadline and classifies the outcome.
// On success it returns the response body. The caller's cancellation is returned as-is
// so it is not mistaken for a transport failure.
func Send(ctx context.Context, client *http.Client, req *http.Request, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Do(req.WithContext(callCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: fmt.Errorf("making request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: errors.New(truncate(body))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RefusalError{StatusCode: resp.StatusCode, Reason: truncate(body)}
	}

	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
