package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// =============================================================================
// ErrorType Tests
// =============================================================================

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    string
	}{
		{Unknown, "unknown"},
		{Malformed, "malformed_record"},
		{Shape, "shape"},
		{Upstream, "upstream"},
		{Timeout, "timeout"},
		{Network, "network"},
		{Validation, "validation"},
		{RateLimit, "rate_limit"},
		{Storage, "storage"},
		{Cancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.errType.String(); got != tt.want {
				t.Errorf("String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{Network, true},
		{Timeout, true},
		{Upstream, false},
		{Malformed, false},
		{Validation, false},
		{RateLimit, false},
		{Storage, false},
		{Cancelled, false},
		{Unknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			if got := tt.errType.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

// =============================================================================
// ScrapeError Tests
// =============================================================================

func TestScrapeError_Error(t *testing.T) {
	err := NewUpstreamError("https://example.com", "navigate", nil)
	want := "upstream error during navigate on https://example.com: browser operation failed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestScrapeError_Error_WithCause(t *testing.T) {
	err := NewMalformedError("::bad", "map_network", fmt.Errorf("missing scheme"))
	want := "malformed_record error during map_network on ::bad: malformed record (caused by: missing scheme)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestScrapeError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewStorageError("put", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestScrapeError_Is(t *testing.T) {
	err := NewTimeoutError("u", "navigate", nil)
	if !errors.Is(err, &ScrapeError{Type: Timeout}) {
		t.Error("should match same type")
	}
	if errors.Is(err, &ScrapeError{Type: Network}) {
		t.Error("should not match different type")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *ScrapeError
		wantType  ErrorType
		retryable bool
	}{
		{"malformed", NewMalformedError("u", "op", nil), Malformed, false},
		{"upstream", NewUpstreamError("u", "op", nil), Upstream, false},
		{"timeout", NewTimeoutError("u", "op", nil), Timeout, true},
		{"network", NewNetworkError("u", "op", nil), Network, true},
		{"validation", NewValidationError("", "URL is required"), Validation, false},
		{"rate limit", NewRateLimitError("u"), RateLimit, false},
		{"storage", NewStorageError("op", nil), Storage, false},
		{"cancelled", NewCancelledError("u", "op"), Cancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.wantType)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
		})
	}
}

// =============================================================================
// Categorize Tests
// =============================================================================

func TestCategorize(t *testing.T) {
	existing := NewUpstreamError("u", "navigate", nil)

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"scrape error", existing, Upstream},
		{"wrapped scrape error", fmt.Errorf("outer: %w", existing), Upstream},
		{"canceled", context.Canceled, Cancelled},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), Timeout},
		{"chrome net error", errors.New("{-32000 net::ERR_NAME_NOT_RESOLVED }"), Network},
		{"dns", &net.DNSError{Err: "no such host", Name: "x.invalid"}, Network},
		{"other", errors.New("something odd"), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err, "u")
			if got.Type != tt.want {
				t.Errorf("Categorize() type = %v, want %v", got.Type, tt.want)
			}
		})
	}

	if Categorize(nil, "u") != nil {
		t.Error("Categorize(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewTimeoutError("u", "op", nil)) {
		t.Error("timeout should be retryable")
	}
	if IsRetryable(NewValidationError("u", "bad")) {
		t.Error("validation should not be retryable")
	}
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("plain deadline should be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewStorageError("op", nil)); got != Storage {
		t.Errorf("GetErrorType() = %v, want Storage", got)
	}
	if got := GetErrorType(nil); got != Unknown {
		t.Errorf("GetErrorType(nil) = %v, want Unknown", got)
	}
	if !IsType(fmt.Errorf("wrap: %w", NewRateLimitError("u")), RateLimit) {
		t.Error("IsType should see through wrapping")
	}
	if IsType(nil, Unknown) {
		t.Error("IsType(nil) should be false")
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 500*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 500ms", cfg.InitialDelay)
	}
	if len(cfg.RetryableTypes) != 2 {
		t.Errorf("RetryableTypes = %v, want network and timeout", cfg.RetryableTypes)
	}
}

func fastRetrier(maxRetries int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxRetries:     maxRetries,
		InitialDelay:   time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		Multiplier:     2.0,
		RetryableTypes: []ErrorType{Network, Timeout},
	})
}

func TestRetrier_Do_Success(t *testing.T) {
	calls := 0
	result := NewDefaultRetrier().Do(context.Background(), "test", "u", func(ctx context.Context) error {
		calls++
		return nil
	})

	if !result.Success || result.Attempts != 1 || calls != 1 {
		t.Errorf("result = %+v, calls = %d", result, calls)
	}
}

func TestRetrier_Do_RetryOnError(t *testing.T) {
	calls := 0
	result := fastRetrier(2).Do(context.Background(), "test", "u", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTimeoutError("u", "navigate", nil)
		}
		return nil
	})

	if !result.Success {
		t.Error("Should succeed after retries")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestRetrier_Do_MaxRetriesExceeded(t *testing.T) {
	result := fastRetrier(2).Do(context.Background(), "test", "u", func(ctx context.Context) error {
		return NewNetworkError("u", "navigate", nil)
	})

	if result.Success {
		t.Error("Should fail after max retries")
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if GetErrorType(result.LastError) != Network {
		t.Errorf("LastError = %v, want network error", result.LastError)
	}
}

func TestRetrier_Do_NoRetryForUpstream(t *testing.T) {
	calls := 0
	result := fastRetrier(3).Do(context.Background(), "test", "u", func(ctx context.Context) error {
		calls++
		return NewUpstreamError("u", "launch", nil)
	})

	if result.Success {
		t.Error("Should fail")
	}
	if calls != 1 {
		t.Errorf("Function called %d times, want 1", calls)
	}
}

func TestRetrier_Do_ContextCancellation(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := r.Do(ctx, "test", "u", func(ctx context.Context) error {
		return NewNetworkError("u", "navigate", nil)
	})

	if result.Success {
		t.Error("Should fail on cancellation")
	}
	if GetErrorType(result.LastError) != Cancelled {
		t.Errorf("LastError = %v, want cancelled", result.LastError)
	}
}

func TestRetrier_Do_DeadlineIsTimeout(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := r.Do(ctx, "test", "u", func(ctx context.Context) error {
		return NewNetworkError("u", "navigate", nil)
	})

	if GetErrorType(result.LastError) != Timeout {
		t.Errorf("LastError = %v, want timeout", result.LastError)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	value, result := DoWithResult(context.Background(), fastRetrier(1), "test", "u", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTimeoutError("u", "navigate", nil)
		}
		return "ok", nil
	})

	if !result.Success || value != "ok" {
		t.Errorf("value = %q, result = %+v", value, result)
	}
}

// =============================================================================
// Circuit Breaker Tests
// =============================================================================

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		Closed:           "closed",
		Open:             "open",
		HalfOpen:         "half-open",
		CircuitState(99): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Timeout: time.Hour})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != Closed {
		t.Fatalf("State = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != Open {
		t.Fatalf("State = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("Allow() should be false while open")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	cb.RecordFailure()

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("first probe should be allowed after timeout")
	}
	if cb.State() != HalfOpen {
		t.Fatalf("State = %v, want half-open", cb.State())
	}
	if cb.Allow() {
		t.Error("second concurrent probe should be blocked")
	}

	cb.RecordSuccess()
	if cb.State() != Closed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ReopenOnFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != Open {
		t.Errorf("State = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	var transitions []string
	cb.OnStateChange(func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	cb.RecordFailure()
	cb.Reset()

	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
	if cb.State() != Closed {
		t.Errorf("State after Reset = %v, want closed", cb.State())
	}
}

func TestHostCircuitBreakers_Execute(t *testing.T) {
	hcb := NewHostCircuitBreakers(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	var changed string
	hcb.OnStateChange(func(host string, from, to CircuitState) {
		changed = host + ":" + to.String()
	})

	failure := func() error { return NewTimeoutError("u", "navigate", nil) }
	_ = hcb.Execute("slow.test", failure)
	_ = hcb.Execute("slow.test", failure)

	err := hcb.Execute("slow.test", func() error { return nil })
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("err = %v, want CircuitOpenError", err)
	}
	if openErr.Host != "slow.test" {
		t.Errorf("Host = %q", openErr.Host)
	}
	if changed != "slow.test:open" {
		t.Errorf("callback = %q, want slow.test:open", changed)
	}

	if err := hcb.Execute("fast.test", func() error { return nil }); err != nil {
		t.Errorf("other host should be unaffected: %v", err)
	}
}

func TestHostCircuitBreakers_IgnoresCallerErrors(t *testing.T) {
	hcb := NewHostCircuitBreakers(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})

	_ = hcb.Execute("a.test", func() error { return NewValidationError("u", "bad") })
	_ = hcb.Execute("a.test", func() error { return NewCancelledError("u", "scrape") })

	if hcb.Get("a.test").State() != Closed {
		t.Error("validation and cancellation should not trip the breaker")
	}
}

func TestHostCircuitBreakers_AllStats(t *testing.T) {
	hcb := NewHostCircuitBreakers(DefaultCircuitBreakerConfig())
	hcb.Get("a.test").RecordFailure()
	hcb.Get("b.test")

	stats := hcb.AllStats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats["a.test"].Failures != 1 || stats["a.test"].State != "closed" {
		t.Errorf("a.test stats = %+v", stats["a.test"])
	}
}
