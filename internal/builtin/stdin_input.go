package builtin

import (
	"bufio"
	"context"
	"os"

	"github.com/flowkit/connector/internal/component"
	"github.com/flowkit/connector/internal/message"
)

// StdinInput implements component.EventSource, turning each line read
// from os.Stdin into a Message. It embeds PassThroughHandler since its
// real behavior is sourcing events, not transforming them.
type StdinInput struct {
	component.PassThroughHandler
	topic string
	lines chan string
}

func newStdinInput(cfg map[string]any, _ component.RuntimeServices) (component.Handler, error) {
	topic, _ := cfg["topic"].(string)
	if topic == "" {
		topic = "stdin"
	}
	in := &StdinInput{topic: topic, lines: make(chan string, 16)}
	go in.readLoop()
	return in, nil
}

func (in *StdinInput) readLoop() {
	defer close(in.lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		in.lines <- scanner.Text()
	}
}

// GetNextEvent implements component.EventSource.
func (in *StdinInput) GetNextEvent(ctx context.Context) (component.Event, bool, error) {
	select {
	case line, ok := <-in.lines:
		if !ok {
			return component.Event{}, false, nil
		}
		msg := message.New(line, in.topic, nil)
		return component.Event{Kind: component.KindMessage, Message: msg}, true, nil
	case <-ctx.Done():
		return component.Event{}, false, nil
	}
}
