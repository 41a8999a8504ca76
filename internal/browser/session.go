// Package browser acquires and releases browser sessions. Two strategies
// share one contract: Attach reuses a browser somebody else started, and
// LaunchPersistent starts (and later stops) its own browser on a durable
// profile.
package browser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/page"
)

// Strategy acquires a Session.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context) (*Session, error)
}

// Session owns one CDP client and tracks the active tab. It must not be
// shared between concurrent runs.
type Session struct {
	strategy string
	client   *cdpcontrol.Client
	teardown func() error

	mu     sync.Mutex
	active *cdpcontrol.Tab

	releaseOnce sync.Once
	releaseErr  error
}

func newSession(strategy string, client *cdpcontrol.Client, active *cdpcontrol.Tab, teardown func() error) *Session {
	return &Session{
		strategy: strategy,
		client:   client,
		active:   active,
		teardown: teardown,
	}
}

// Strategy returns the name of the strategy that created the session.
func (s *Session) Strategy() string { return s.strategy }

// Active returns the active tab.
func (s *Session) Active() page.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active
}

// ActiveInfo returns metadata for the active tab.
func (s *Session) ActiveInfo() cdpcontrol.TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return cdpcontrol.TabInfo{}
	}
	return s.active.Info()
}

func (s *Session) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return s.client.ListTabs(ctx)
}

// SelectTab makes the first tab matching c active and brings it to front.
// Other tabs are left untouched.
func (s *Session) SelectTab(ctx context.Context, c TabCriteria) (page.Page, error) {
	tabs, err := s.client.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	info, err := MatchTab(tabs, c)
	if err != nil {
		return nil, err
	}
	tab, err := s.client.Tab(ctx, info)
	if err != nil {
		return nil, err
	}
	if err := s.client.Activate(ctx, info.TargetID); err != nil {
		slog.Warn("browser tab activate failed", "target_id", info.TargetID, "error", err)
	}

	s.mu.Lock()
	s.active = tab
	s.mu.Unlock()
	slog.Info("browser tab selected", "strategy", s.strategy, "index", info.Index, "title", info.Title, "url", info.URL)
	return tab, nil
}

// Release tears down what the strategy created. It is safe to call more
// than once; later calls return the first result.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		if s.teardown != nil {
			s.releaseErr = s.teardown()
		}
		slog.Info("browser session released", "strategy", s.strategy, "error", s.releaseErr)
	})
	return s.releaseErr
}
