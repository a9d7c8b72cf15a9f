package component

import (
	"context"

	"github.com/flowkit/connector/internal/message"
)

// passThroughResult is the fixed non-nil value PassThroughHandler
// returns, so handleMessage treats the hop as having produced output
// (rather than "no output, ack and stop") and calls forward.
var passThroughResult = struct{}{}

// PassThroughHandler implements Handler by doing nothing and reporting
// a fixed non-nil result. Stages whose real behavior lives in Source
// (an input stage) or in a Sender embedding this type (which overrides
// forwarding via SendMessage) still need a Handler, since the worker
// loop dispatches every KindMessage event through Handler.Invoke
// regardless of where the event came from.
type PassThroughHandler struct{}

// Invoke implements Handler.
func (PassThroughHandler) Invoke(_ context.Context, _ *message.Message, _ any) (any, error) {
	return passThroughResult, nil
}
