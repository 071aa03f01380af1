// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type retryTransport struct {
	base               http.RoundTripper
	retries            uint64
	initial            time.Duration
	max                time.Duration
	retryNonIdempotent bool
}

func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	return &retryTransport{
		base:               base,
		retries:            uint64(cfg.RetryAttempts),
		initial:            cfg.RetryBackoff,
		max:                cfg.MaxBackoff,
		retryNonIdempotent: cfg.AllowNonIdempotentRetry,
	}
}

// retryableStatus is returned from an attempt whose response should be
// retried. The response is kept so the last one can be handed back.
type retryableStatus struct {
	resp *http.Response
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.resp.StatusCode)
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isIdempotent(req.Method) && !t.retryNonIdempotent {
		return t.base.RoundTrip(req)
	}
	// A body that cannot be replayed can only be sent once.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.initial
	bo.MaxInterval = t.max
	bo.MaxElapsedTime = 0
	hinted := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(bo, t.retries)}
	policy := backoff.WithContext(hinted, req.Context())

	var last *http.Response
	attempt := 0
	op := func() error {
		if last != nil {
			last.Body.Close()
			last = nil
		}

		attemptReq := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			attemptReq = req.Clone(req.Context())
			attemptReq.Body = body
		}
		attempt++

		resp, err := t.base.RoundTrip(attemptReq)
		if err != nil {
			if !isRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if shouldRetryStatus(resp.StatusCode) {
			last = resp
			hinted.hint = parseRetryAfter(resp)
			return &retryableStatus{resp: resp}
		}
		last = resp
		return nil
	}

	err := backoff.Retry(op, policy)
	if ctxErr := req.Context().Err(); ctxErr != nil {
		if last != nil {
			last.Body.Close()
		}
		return nil, ctxErr
	}
	if last != nil {
		// Success, or retries exhausted on a retryable status: hand back
		// the final response unchanged.
		return last, nil
	}
	return nil, err
}

// retryAfterBackOff replaces the next interval with a server-provided
// Retry-After delay when it is shorter.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	hint := b.hint
	b.hint = 0
	if next == backoff.Stop {
		return next
	}
	if hint > 0 && hint < next {
		return hint
	}
	return next
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func shouldRetryStatus(code int) bool {
	switch {
	case code >= 500 && code < 600:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
