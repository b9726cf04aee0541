// Package notify delivers user-visible capture results.
package notify

import (
	"sync"

	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// Sink receives user-facing messages. Calls are fire-and-forget.
type Sink interface {
	NotifySuccess(message string)
	NotifyError(message string)
}

// Log writes notifications to the structured log.
type Log struct{}

func (Log) NotifySuccess(message string) {
	logger.WithComponent("notify").Info().Msg(message)
}

func (Log) NotifyError(message string) {
	logger.WithComponent("notify").Error().Msg(message)
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) NotifySuccess(message string) {
	for _, s := range m {
		s.NotifySuccess(message)
	}
}

func (m Multi) NotifyError(message string) {
	for _, s := range m {
		s.NotifyError(message)
	}
}

// Level distinguishes recorded notifications.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Message is one recorded notification.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Recorder keeps every notification in memory and forwards it to
// subscribers. The control API streams these to websocket clients.
type Recorder struct {
	mu        sync.Mutex
	messages  []Message
	nextSub   int
	listeners map[int]func(Message)
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{listeners: make(map[int]func(Message))}
}

func (r *Recorder) NotifySuccess(message string) {
	r.record(Message{Level: LevelSuccess, Text: message})
}

func (r *Recorder) NotifyError(message string) {
	r.record(Message{Level: LevelError, Text: message})
}

func (r *Recorder) record(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	fns := make([]func(Message), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Subscribe registers fn for future notifications and returns a function
// removing it.
func (r *Recorder) Subscribe(fn func(Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}
