package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/logger"
)

// Class is the retry verdict for an error.
type Class int

const (
	// ClassPermanent errors fail the same way on every attempt.
	ClassPermanent Class = iota
	// ClassRetryable errors are transient and worth another attempt.
	ClassRetryable
	// ClassUnknown errors carry no recognizable signal. They are retried,
	// since a wasted attempt is cheaper than failing a recoverable run.
	ClassUnknown
)

// StatusError carries an HTTP status code so classification does not have to
// parse message text.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// permanentPatterns mark client-side mistakes that no retry can repair.
var permanentPatterns = []string{
	"bad request",
	"unauthorized", "invalid api key", "invalid_client",
	"forbidden",
	"not found",
}

// retryablePatterns mark transient conditions.
var retryablePatterns = []string{
	"timeout", "timed out", "deadline exceeded",
	"connection refused", "connection reset", "broken pipe", "unexpected eof",
	"too many requests", "rate limit",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporary failure", "no such host",
}

// codePattern pulls an HTTP status code out of message text, in the forms
// upstream wrappers actually produce: "(404)", "status 503", "code: 429".
var codePattern = regexp.MustCompile(`(?:\(|status[: ]+|code[: ]+)(\d{3})\)?`)

// Classify decides whether another attempt can help. Status codes win over
// message text; unrecognized errors come back ClassUnknown.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyCode(se.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	msg := strings.ToLower(err.Error())
	if m := codePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		if class := classifyCode(code); class != ClassUnknown {
			return class
		}
	}
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return ClassPermanent
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return ClassRetryable
		}
	}
	return ClassUnknown
}

func classifyCode(code int) Class {
	switch {
	case code == 400 || code == 401 || code == 403 || code == 404:
		return ClassPermanent
	case code == 408 || code == 429:
		return ClassRetryable
	case code >= 500:
		return ClassRetryable
	case code >= 400:
		return ClassPermanent
	}
	return ClassUnknown
}

// Policy bounds the attempts for one class of upstream call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Attempt budgets per upstream. Image submissions are expensive, so they get
// one retry only.
var (
	LLMPolicy      = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	PlatformPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	ImagePolicy    = Policy{MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 15 * time.Second}
)

// Delay computes the backoff before the given attempt (1-based), with ±25%
// jitter so synchronized workers spread out.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy's
// attempts, or the context ends. The last error is returned unwrapped so
// callers can still classify it.
func Do(ctx context.Context, policy Policy, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if Classify(lastErr) == ClassPermanent {
			logger.Warn("[Retry] 永久性错误，停止重试",
				logger.String("op", op),
				logger.Int("attempt", attempt),
				logger.ErrorField(lastErr))
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn("[Retry] 调用失败，准备重试",
			logger.String("op", op),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.ErrorField(lastErr))

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}
