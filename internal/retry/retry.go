package retry

import (
	"context"
	"time"
)

// Options задают геометрический backoff: delay = min(initial*factor^n, max).
type Options struct {
	Times        int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Retryable решает, стоит ли повторять после конкретной ошибки.
	// nil == повторять всё.
	Retryable func(error) bool
}

func DefaultOptions() Options {
	return Options{
		Times:        3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Factor:       2.0,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Times <= 0 {
		o.Times = def.Times
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = def.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Factor <= 1 {
		o.Factor = def.Factor
	}
	return o
}

// Do выполняет op до opts.Times раз. Между попытками спит с учётом
// отмены контекста. После исчерпания попыток возвращает последнюю ошибку.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	delay := opts.InitialDelay

	for attempt := 0; attempt < opts.Times; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delay); err != nil {
				return zero, err
			}
			delay = time.Duration(float64(delay) * opts.Factor)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
