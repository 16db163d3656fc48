package startup

import (
	"regexp"
	"strings"
	"sync"

	"github.com/danmuck/nodectl/internal/broadcast"
	"github.com/danmuck/nodectl/internal/node"
)

var (
	dashOnly    = regexp.MustCompile(`^-*$`)
	levelPrefix = regexp.MustCompile(`^.*[0-9]\]`)
)

// splashText returns the text shown for a node output line, or false when
// the line should not be shown (empty or a dash separator).
func splashText(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || dashOnly.MatchString(line) {
		return "", false
	}
	return levelPrefix.ReplaceAllString(line, ""), true
}

// splashLogger forwards node output to the reporter until detached and
// signals when the node reports a crash.
type splashLogger struct {
	source    OutputSource
	sub       *broadcast.Subscription[node.Line]
	reporter  Reporter
	done      chan struct{}
	crashed   chan struct{}
	crashOnce sync.Once
}

func attachSplash(source OutputSource, reporter Reporter, buffer int) (*splashLogger, error) {
	sub, err := source.Subscribe(buffer)
	if err != nil {
		return nil, err
	}
	s := &splashLogger{
		source:   source,
		sub:      sub,
		reporter: reporter,
		done:     make(chan struct{}),
		crashed:  make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *splashLogger) run() {
	defer close(s.done)
	for line := range s.sub.C() {
		if line.Crash {
			s.crashOnce.Do(func() { close(s.crashed) })
			continue
		}
		if text, ok := splashText(line.Text); ok {
			s.reporter.Status(StatusEvent{Key: StatusLogText, Detail: text})
		}
	}
}

// Crashed is closed once a crash line arrives. Nil-safe: a nil logger never
// reports a crash.
func (s *splashLogger) Crashed() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.crashed
}

// detach unsubscribes and waits for queued lines to drain. Safe on nil.
func (s *splashLogger) detach() {
	if s == nil {
		return
	}
	s.source.Unsubscribe(s.sub)
	<-s.done
}
