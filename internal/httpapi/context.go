package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown so in-flight inference stops too.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// requestContext derives the inference context: canceled when the client
// goes away, when the server shuts down, or after inferTimeout.
// The returned cancel func must be called when the handler ends.
func requestContext(reqCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(reqCtx)
	stop := context.AfterFunc(serverBaseCtx, cancel)
	if inferTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, inferTimeout)
		return ctx, func() { cancelTimeout(); stop(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}

// clientGone reports whether the client disconnected; nothing can be written then.
func clientGone(reqCtx context.Context) bool {
	return reqCtx.Err() != nil
}

// shuttingDown reports whether the server base context has been canceled.
func shuttingDown() bool {
	return serverBaseCtx.Err() != nil
}
