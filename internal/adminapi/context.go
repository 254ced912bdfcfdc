package adminapi

import (
	"context"
	"sync/atomic"
)

// baseCtx is canceled on process shutdown so open worker sockets close
// before the pool is torn down. Background until SetBaseContext is called.
var baseCtx atomic.Pointer[context.Context]

// SetBaseContext installs the shutdown context for worker connections.
// A nil ctx restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseCtx.Store(&ctx)
}

func shutdownContext() context.Context {
	if p := baseCtx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// connContext derives the lifetime of one worker connection from parent. It
// ends with parent or on shutdown, whichever comes first.
func connContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(shutdownContext(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
