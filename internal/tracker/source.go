package tracker

import "github.com/invitewarden/invitewarden-server/internal/domain"

// EventSource supplies the typed gateway events the tracker consumes.
// The transport adapter that talks to the real gateway lives outside the
// core; it only needs to push events into a source.
type EventSource interface {
	Events() <-chan domain.Event
}

// ChannelSource is an in-memory EventSource backed by a buffered channel.
// It doubles as the injection point for synthetic events (admin actions,
// tests).
type ChannelSource struct {
	ch chan domain.Event
}

// NewChannelSource creates a channel source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan domain.Event, buffer)}
}

// Events implements EventSource.
func (s *ChannelSource) Events() <-chan domain.Event {
	return s.ch
}

// Publish submits an event. Blocks when the buffer is full so producers
// get backpressure instead of silent drops.
func (s *ChannelSource) Publish(event domain.Event) {
	s.ch <- event
}

// Close closes the event channel. Publish must not be called afterwards.
func (s *ChannelSource) Close() {
	close(s.ch)
}
