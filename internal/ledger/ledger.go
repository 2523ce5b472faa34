package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpy-dev-ml/scopegate/internal/log"
	"github.com/mpy-dev-ml/scopegate/internal/token"
)

// TokenStore is the subset of the token store the ledger needs. Satisfied by
// *token.Store.
type TokenStore interface {
	Lookup(ctx context.Context, path string) (token.Token, error)
	Save(ctx context.Context, t token.Token) error
	MarkStale(ctx context.Context, path string) error
}

// entry tracks one path's grant. The platform grant is active iff count > 0.
type entry struct {
	count int
	tok   token.Token
}

// Ledger reference-counts active accesses to filesystem resources so the
// platform grant for a path is activated at most once and deactivated only
// when no outstanding user remains. It is the single source of truth for
// whether a grant is active; nothing else may call Activate/Deactivate.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*entry
	store    TokenStore
	provider token.Provider
	logger   *slog.Logger
}

func New(store TokenStore, provider token.Provider) *Ledger {
	return &Ledger{
		entries:  make(map[string]*entry),
		store:    store,
		provider: provider,
		logger:   log.WithComponent("ledger"),
	}
}

// StartAccess ensures the platform grant for path is active and records one
// outstanding reference. The first reference resolves the token (refreshing
// it once if stale) and activates the grant; subsequent references only bump
// the count. On failure no entry is created and an AccessDeniedError is
// returned.
func (l *Ledger) StartAccess(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[path]; ok {
		e.count++
		l.logger.Debug("access reference added", "path", path, "count", e.count)
		return nil
	}

	tok, err := l.resolveLocked(ctx, path)
	if err != nil {
		return err
	}

	if !l.provider.Activate(tok) {
		l.logger.Warn("grant activation refused", "path", path, "token", token.Fingerprint(tok))
		return &AccessDeniedError{Path: path}
	}

	l.entries[path] = &entry{count: 1, tok: tok}
	l.logger.Info("access started", "path", path, "token", token.Fingerprint(tok))
	return nil
}

// resolveLocked produces a usable (non-stale) token for path: persisted token
// if still valid, otherwise a single re-issue. A failed re-issue escalates to
// AccessDeniedError so callers see one recoverable error type.
func (l *Ledger) resolveLocked(ctx context.Context, path string) (token.Token, error) {
	tok, err := l.store.Lookup(ctx, path)
	switch {
	case errors.Is(err, token.ErrNotFound):
		issued, err := l.provider.Issue(path)
		if err != nil {
			l.logger.Warn("token issue failed", "path", path, "error", err)
			return token.Token{}, &AccessDeniedError{Path: path}
		}
		if err := l.store.Save(ctx, issued); err != nil {
			return token.Token{}, fmt.Errorf("persist issued token: %w", err)
		}
		return issued, nil
	case err != nil:
		return token.Token{}, fmt.Errorf("lookup token: %w", err)
	}

	resolved, err := l.provider.Resolve(tok)
	if err != nil {
		l.logger.Warn("token resolution failed", "path", path, "error", err)
		return token.Token{}, &AccessDeniedError{Path: path}
	}
	if !resolved.Stale {
		return resolved, nil
	}

	// Stale token: mark it, re-issue once, escalate if that fails too.
	l.logger.Info("refreshing stale token", "path", path, "token", token.Fingerprint(resolved))
	if err := l.store.MarkStale(ctx, path); err != nil {
		return token.Token{}, fmt.Errorf("mark token stale: %w", err)
	}
	fresh, err := l.provider.Issue(path)
	if err != nil {
		l.logger.Warn("stale token refresh failed", "path", path, "error", err)
		return token.Token{}, &AccessDeniedError{Path: path}
	}
	if err := l.store.Save(ctx, fresh); err != nil {
		return token.Token{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	return fresh, nil
}

// StopAccess drops one reference to path. When the count reaches zero the
// grant is deactivated and the entry removed. Stopping an untracked path is
// a no-op.
func (l *Ledger) StopAccess(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[path]
	if !ok {
		return
	}

	e.count--
	if e.count > 0 {
		l.logger.Debug("access reference dropped", "path", path, "count", e.count)
		return
	}

	l.provider.Deactivate(e.tok)
	delete(l.entries, path)
	l.logger.Info("access stopped", "path", path, "token", token.Fingerprint(e.tok))
}

// StopAll deactivates every tracked grant unconditionally and clears the
// ledger. Used only at shutdown; ignores reference counts so no grant can
// leak past process exit.
func (l *Ledger) StopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for path, e := range l.entries {
		l.provider.Deactivate(e.tok)
		l.logger.Warn("access force-stopped", "path", path, "outstanding", e.count)
	}
	l.entries = make(map[string]*entry)
}

// WithAccess runs fn while holding access to path, releasing it on every exit
// path. If access cannot be started fn is never invoked.
func (l *Ledger) WithAccess(ctx context.Context, path string, fn func() error) error {
	if err := l.StartAccess(ctx, path); err != nil {
		return err
	}
	defer l.StopAccess(path)
	return fn()
}

// Grant is a snapshot of one tracked entry.
type Grant struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Grants returns a point-in-time snapshot of active grants, for observability
// only.
func (l *Ledger) Grants() []Grant {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Grant, 0, len(l.entries))
	for path, e := range l.entries {
		out = append(out, Grant{Path: path, Count: e.count})
	}
	return out
}

// Fingerprint returns the token fingerprint for a tracked path, for journal
// and log fields.
func (l *Ledger) Fingerprint(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[path]
	if !ok {
		return "", false
	}
	return token.Fingerprint(e.tok), true
}

// Count returns the current reference count for path (0 if untracked).
func (l *Ledger) Count(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[path]; ok {
		return e.count
	}
	return 0
}
