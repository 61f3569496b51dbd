package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/backend/internal/auth"
	"github.com/ledgerly/backend/internal/models"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Fixtures creates users and sessions in a MemoryStore.
type Fixtures struct {
	t     *testing.T
	Store *MemoryStore
	Clock *Clock
}

// NewFixtures creates an empty store driven by a fake clock.
func NewFixtures(t *testing.T) *Fixtures {
	t.Helper()
	clock := NewClock()
	return &Fixtures{t: t, Store: NewMemoryStore(clock.Now), Clock: clock}
}

// User creates a user whose name is the local part of email.
func (f *Fixtures) User(email string) *models.User {
	f.t.Helper()
	u := &models.User{Email: email, Name: strings.SplitN(email, "@", 2)[0]}
	require.NoError(f.t, f.Store.CreateUser(context.Background(), u))
	return u
}

// Caller creates a user plus a live session with no active workspace.
func (f *Fixtures) Caller(email string) *auth.Caller {
	f.t.Helper()
	u := f.User(email)
	return f.SessionFor(u)
}

// SessionFor opens a live session for an existing user.
func (f *Fixtures) SessionFor(u *models.User) *auth.Caller {
	f.t.Helper()
	s := &models.Session{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		ExpiresAt: f.Clock.Now().Add(24 * time.Hour),
	}
	require.NoError(f.t, f.Store.CreateSession(context.Background(), s))
	return &auth.Caller{Session: s, User: u}
}

// Refresh reloads the caller's session row, as the session middleware would on the next request.
func (f *Fixtures) Refresh(c *auth.Caller) *auth.Caller {
	f.t.Helper()
	s, err := f.Store.FindSession(context.Background(), c.Session.Token)
	require.NoError(f.t, err)
	return &auth.Caller{Session: s, User: c.User}
}
