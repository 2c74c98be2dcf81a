package policy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobengine/internal/backoff"
	"github.com/cuongbtq/jobengine/internal/metrics"
)

// Retry re-runs an Errored operation up to n more times, waiting delay in between.
func Retry[I, O any](n int, delay time.Duration) Policy[I, O] {
	return RetryWithBackoff[I, O](n, backoff.NewConstant(delay))
}

// RetryWithBackoff re-runs an Errored operation up to n more times, waiting per strategy.
// Rejections by other policies are not retried.
func RetryWithBackoff[I, O any](n int, strategy backoff.Strategy) Policy[I, O] {
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		var out Outcome[O]
		for attempt := 0; ; attempt++ {
			out = op(ctx, in)
			if out.Code != Errored || attempt >= n {
				return out
			}

			timer := time.NewTimer(strategy.Delay(attempt + 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Failure[O](fmt.Errorf("retry interrupted after %d attempts: %w", attempt+1, ctx.Err()))
			case <-timer.C:
			}
		}
	})
}

// Limit rejects once counters' processed count reaches limit, without running the operation.
// With autoProcess the admitted call is counted as processed before it runs.
func Limit[I, O any](limit int64, autoProcess bool, counters *metrics.Counters) Policy[I, O] {
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		for {
			current := counters.Get(metrics.Processed)
			if current >= limit {
				return Reject[O](Limited, fmt.Errorf("%w: %d of %d processed", ErrLimited, current, limit))
			}
			if !autoProcess || counters.CompareAndSwap(metrics.Processed, current, current+1) {
				break
			}
		}
		return op(ctx, in)
	})
}

// Ratio rejects once the cumulative share of outcomes with code exceeds maxShare.
// It records every outcome it sees into counters. The share only recovers
// through counters.Reset.
func Ratio[I, O any](maxShare float64, code Code, counters *metrics.Counters) Policy[I, O] {
	exceeded := func() (float64, bool) {
		processed := counters.Get(metrics.Processed)
		if processed == 0 {
			return 0, false
		}
		share := float64(counters.Get(code.Counter())) / float64(processed)
		return share, share > maxShare
	}

	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		if share, over := exceeded(); over {
			return Reject[O](Limited, fmt.Errorf("%w: %s ratio %.2f above %.2f", ErrLimited, code, share, maxShare))
		}

		out := op(ctx, in)
		counters.Inc(metrics.Processed)
		counters.Inc(out.Code.Counter())

		if share, over := exceeded(); over {
			return Reject[O](Limited, fmt.Errorf("%w: %s ratio %.2f above %.2f", ErrLimited, code, share, maxShare))
		}
		return out
	})
}

// Every always runs the operation and calls onNth on every nth call.
func Every[I, O any](n int64, onNth func(ctx context.Context, in I)) Policy[I, O] {
	var count atomic.Int64
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		out := op(ctx, in)
		if tick(&count, n) {
			onNth(ctx, in)
		}
		return out
	})
}

// Step runs the operation only on every nth call. Other calls are Ignored.
func Step[I, O any](n int64) Policy[I, O] {
	var count atomic.Int64
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		if !tick(&count, n) {
			return Reject[O](Ignored, ErrIgnored)
		}
		return op(ctx, in)
	})
}

// Or runs first and falls back to second with the same operation when first does not succeed.
func Or[I, O any](first, second Policy[I, O]) Policy[I, O] {
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		if out := first.Run(ctx, in, op); out.Ok() {
			return out
		}
		return second.Run(ctx, in, op)
	})
}

// Recover turns a panic inside the operation into an Errored outcome.
func Recover[I, O any](logger *slog.Logger) Policy[I, O] {
	if logger == nil {
		logger = slog.Default()
	}
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) (out Outcome[O]) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Operation panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = Failure[O](fmt.Errorf("panic: %v", r))
			}
		}()
		return op(ctx, in)
	})
}

// Timeout bounds the operation's context. Cancellation is cooperative.
func Timeout[I, O any](d time.Duration) Policy[I, O] {
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		out := op(tctx, in)
		if out.Code == Errored && tctx.Err() != nil && ctx.Err() == nil {
			out.Err = fmt.Errorf("timed out after %s: %w", d, out.Err)
		}
		return out
	})
}

// Measure counts outcomes by code into sink under name.
func Measure[I, O any](sink metrics.Sink, name string, tags map[string]string) Policy[I, O] {
	return Func[I, O](func(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
		out := op(ctx, in)

		t := make(map[string]string, len(tags)+1)
		for k, v := range tags {
			t[k] = v
		}
		t["code"] = out.Code.String()
		sink.Count(ctx, name, 1, t)
		return out
	})
}

// tick advances count and reports whether this call is the nth, resetting on hit.
func tick(count *atomic.Int64, n int64) bool {
	if n <= 1 {
		return true
	}
	for {
		current := count.Load()
		next := current + 1
		hit := next >= n
		if hit {
			next = 0
		}
		if count.CompareAndSwap(current, next) {
			return hit
		}
	}
}
