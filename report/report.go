// Package report collects the diagnostics produced while assembling a
// package set. Rendering and delivery are the caller's concern: the
// collector only accumulates, and optionally forwards each diagnostic
// to a listener as it arrives.
package report

import (
	"fmt"
	"sync"
)

// Severity ranks a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Diagnostic is one finding about a package or a maintainer.
type Diagnostic struct {
	Severity Severity
	Scope    string // package or maintainer name
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Scope, d.Message)
}

// Listener receives each diagnostic as it is added.
type Listener func(Diagnostic)

// Collector accumulates diagnostics. It is safe for concurrent use, so
// scan workers can report directly.
type Collector struct {
	mu       sync.Mutex
	diags    []Diagnostic
	errors   int
	listener Listener
}

// NewCollector returns a collector forwarding to listener, which may be
// nil.
func NewCollector(listener Listener) *Collector {
	return &Collector{listener: listener}
}

// Add records a diagnostic.
func (c *Collector) Add(sev Severity, scope, format string, args ...any) {
	d := Diagnostic{Severity: sev, Scope: scope, Message: fmt.Sprintf(format, args...)}
	c.mu.Lock()
	c.diags = append(c.diags, d)
	if sev == Error {
		c.errors++
	}
	listener := c.listener
	c.mu.Unlock()
	if listener != nil {
		listener(d)
	}
}

// Errorf records an Error diagnostic.
func (c *Collector) Errorf(scope, format string, args ...any) {
	c.Add(Error, scope, format, args...)
}

// Warnf records a Warning diagnostic.
func (c *Collector) Warnf(scope, format string, args ...any) {
	c.Add(Warning, scope, format, args...)
}

// Infof records an Info diagnostic.
func (c *Collector) Infof(scope, format string, args ...any) {
	c.Add(Info, scope, format, args...)
}

// HasErrors reports whether any Error diagnostic was recorded. A
// candidate package set with errors is invalid and must not be
// committed.
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors > 0
}

// Diagnostics returns a copy of everything recorded so far.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}
