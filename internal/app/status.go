package app

import (
	"sync"

	"github.com/danmuck/nodectl/internal/startup"
)

const statusLogSize = 200

// StatusLog records startup events for the admin surface and forwards them
// to the application log.
type StatusLog struct {
	next startup.Reporter

	mu         sync.Mutex
	events     []startup.StatusEvent
	diagnostic *startup.Diagnostic
}

func NewStatusLog(next startup.Reporter) *StatusLog {
	if next == nil {
		next = startup.LogReporter{}
	}
	return &StatusLog{next: next}
}

func (l *StatusLog) Status(ev startup.StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	if len(l.events) > statusLogSize {
		l.events = append([]startup.StatusEvent(nil), l.events[len(l.events)-statusLogSize:]...)
	}
	l.mu.Unlock()
	l.next.Status(ev)
}

func (l *StatusLog) Fatal(d startup.Diagnostic) {
	l.mu.Lock()
	l.diagnostic = &d
	l.mu.Unlock()
	l.next.Fatal(d)
}

func (l *StatusLog) Events() []startup.StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]startup.StatusEvent(nil), l.events...)
}

// Diagnostic returns the last failure bundle, if any.
func (l *StatusLog) Diagnostic() *startup.Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.diagnostic == nil {
		return nil
	}
	d := *l.diagnostic
	return &d
}
