package broker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/silverbackgo/silverback/internal/pkg/stacktrace"
)

// CallHandlerWithRecover runs fn, converting a panic into an error instead of
// crashing the consumer loop goroutine. Adapters wrap every invocation of a
// user Handler with this.
func CallHandlerWithRecover(ctx context.Context, adapter string, fn func() error) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			stack := debug.Stack()
			paths := stacktrace.InternalPaths(stack)
			if len(paths) == 0 {
				slog.ErrorContext(ctx, "panic in broker handler", "adapter", adapter, "panic", rvr, "stack", string(stack))
			} else {
				slog.ErrorContext(ctx, "panic in broker handler", "adapter", adapter, "panic", rvr, "stack", paths)
			}
			err = fmt.Errorf("broker: panic in %s handler: %v", adapter, rvr)
		}
	}()

	return fn()
}
