// Package mock provides a test double for viewsync.Panel.
package mock

import (
	"sync"

	"github.com/MrWong99/sinfonia/internal/viewsync"
)

// ScrollCall records a single invocation of Panel.ScrollIntoView.
type ScrollCall struct {
	Index int
	Opts  viewsync.ScrollOptions
}

// Panel is a mock implementation of viewsync.Panel.
type Panel struct {
	mu sync.Mutex

	// PanelName is returned by Name.
	PanelName string

	// Elements is returned by Len.
	Elements int

	// Missing lists indices for which ScrollIntoView returns
	// viewsync.ErrNoElement.
	Missing map[int]bool

	// ScrollErr, if non-nil, is returned by ScrollIntoView for indices not
	// listed in Missing.
	ScrollErr error

	// ScrollCalls records every call to ScrollIntoView, including failed
	// ones.
	ScrollCalls []ScrollCall
}

// Name returns PanelName.
func (p *Panel) Name() string { return p.PanelName }

// Len returns Elements.
func (p *Panel) Len() int { return p.Elements }

// ScrollIntoView records the call.
func (p *Panel) ScrollIntoView(index int, opts viewsync.ScrollOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ScrollCalls = append(p.ScrollCalls, ScrollCall{Index: index, Opts: opts})
	if p.Missing[index] {
		return viewsync.ErrNoElement
	}
	return p.ScrollErr
}

// Calls returns a copy of ScrollCalls. Thread-safe.
func (p *Panel) Calls() []ScrollCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ScrollCall(nil), p.ScrollCalls...)
}

var _ viewsync.Panel = (*Panel)(nil)
