package builtin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
)

// StdoutOutput writes its input to an io.Writer (os.Stdout by default),
// one line per Message, and is meant as the terminal stage of a flow: a
// Handler with no Sender override, so the component runtime disposes
// the Message once Invoke returns (the same shape as broker.Output).
type StdoutOutput struct {
	w io.Writer
}

func newStdoutOutput(map[string]any, component.RuntimeServices) (component.Handler, error) {
	return &StdoutOutput{w: os.Stdout}, nil
}

func (o *StdoutOutput) Invoke(_ context.Context, _ *message.Message, data any) (any, error) {
	fmt.Fprintln(o.w, data)
	return nil, nil
}
