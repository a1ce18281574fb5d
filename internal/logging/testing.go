package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries in memory so tests can assert on them.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger records everything from TraceLevel up.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains snippet.
func (t *TestLogger) FilterMessage(snippet string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(snippet)
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() {
	_ = t.observed.TakeAll()
}

func (t *TestLogger) matching(level zapcore.Level, snippet string) *observer.ObservedLogs {
	return t.observed.FilterLevelExact(level).FilterMessageSnippet(snippet)
}

// AssertLogged fails tb unless an entry at level contains snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if t.matching(level, snippet).Len() == 0 {
		tb.Errorf("no %v entry containing %q; recorded: %v", level, snippet, messages(t.observed.All()))
	}
}

// AssertNotLogged fails tb if an entry at level contains snippet.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if n := t.matching(level, snippet).Len(); n > 0 {
		tb.Errorf("found %d unexpected %v entries containing %q", n, level, snippet)
	}
}

// AssertField fails tb unless an entry containing snippet has key=expected.
// Integer fields compare as int64.
func (t *TestLogger) AssertField(tb testing.TB, snippet, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.FilterMessage(snippet).All() {
		if v, ok := entry.ContextMap()[key]; ok && v == expected {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v", snippet, key, expected)
}

func messages(entries []observer.LoggedEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Level.String() + ": " + e.Message
	}
	return out
}
