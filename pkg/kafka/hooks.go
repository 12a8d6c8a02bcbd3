package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"MarketPulse/pkg/logger"
)

// ConsumerHook observes message handling. BeforeHandle runs before every
// attempt; an error from it skips the handler without retrying and sends the
// message down the failure path (OnError, DLQ, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
	OnError(ctx context.Context, km kafka.Message, err error)
}

// HandleError classifies a failure that did not come from the handler itself.
type HandleError struct {
	Code string // ERR_VALIDATION, ERR_PANIC
	Err  error
}

func (e *HandleError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HandleError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops,
// so the zero value is the default hook.
type HookFuncs struct {
	Before func(context.Context, kafka.Message) (context.Context, error)
	After  func(context.Context, kafka.Message, error)
	Err    func(context.Context, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	if h.Before == nil {
		return ctx, nil
	}
	return h.Before(ctx, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, km, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, km kafka.Message, err error) {
	if h.Err != nil {
		h.Err(ctx, km, err)
	}
}

type startKey struct{}

// StartTime is when the current attempt began, if a hook recorded it.
func StartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startKey{}).(time.Time)
	return t, ok
}

// LoggingHook rejects empty payloads and logs each attempt at debug, or at
// warn when the handler failed.
func LoggingHook(l *logger.Logger) ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, km kafka.Message) (context.Context, error) {
			if len(km.Value) == 0 {
				return ctx, &HandleError{Code: "ERR_VALIDATION", Err: fmt.Errorf("empty payload at %s/%d@%d", km.Topic, km.Partition, km.Offset)}
			}
			return context.WithValue(ctx, startKey{}, time.Now()), nil
		},
		After: func(ctx context.Context, km kafka.Message, err error) {
			fields := []logger.Field{
				logger.String("topic", km.Topic),
				logger.Int("partition", km.Partition),
				logger.Int64("offset", km.Offset),
				logger.String("key", string(km.Key)),
			}
			if start, ok := StartTime(ctx); ok {
				fields = append(fields, logger.Duration("took", time.Since(start)))
			}
			if err != nil {
				l.Warn("relay message attempt failed", append(fields, logger.Error(err))...)
				return
			}
			l.Debug("relay message handled", fields...)
		},
	}
}
