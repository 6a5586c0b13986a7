package publisher

import (
	"context"
	"errors"
	"fmt"
)

// Publisher defines the interface for publishing call lifecycle messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Multi fans every publish out to several publishers.
type Multi []Publisher

// Publish sends to every publisher and joins their errors. One failing
// publisher does not stop the others.
func (m Multi) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for i, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything. It is used when no bus is enabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }
