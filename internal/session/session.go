package session

import (
	"context"
	"sync"

	"github.com/bowerhall/multiai/internal/alerts"
	"github.com/bowerhall/multiai/internal/auth"
	"github.com/bowerhall/multiai/internal/chat"
	"github.com/bowerhall/multiai/internal/logger"
)

// OpenFunc builds the conversation store for a signed-in user.
type OpenFunc func(ctx context.Context, user *auth.User, notify *alerts.Alerter) (*chat.Store, error)

// Session ties a front-end conversation (e.g. "telegram:123") to the user
// signed in there.
type Session struct {
	ID   string
	User *auth.User
	Chat *chat.Store
}

// account is the one conversation store of a user, shared by every session
// signed in as that user.
type account struct {
	store   *chat.Store
	notices map[string]*alerts.Alerter // by session id
}

type Registry struct {
	// bindMu serializes sign-in and sign-out so a user never gets two stores
	bindMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
	accounts map[string]*account
	auth     auth.Provider
	open     OpenFunc
}

func NewRegistry(provider auth.Provider, open OpenFunc) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		accounts: make(map[string]*account),
		auth:     provider,
		open:     open,
	}
}

// Get returns the signed-in session for sessionID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	return sess, ok
}

func (r *Registry) Login(ctx context.Context, sessionID, email, password string, notify *alerts.Alerter) (*Session, error) {
	user, err := r.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return r.bind(ctx, sessionID, user, notify)
}

// Signup registers the account and signs it in.
func (r *Registry) Signup(ctx context.Context, sessionID, name, email, password string, notify *alerts.Alerter) (*Session, error) {
	user, err := r.auth.Signup(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return r.bind(ctx, sessionID, user, notify)
}

// bind signs sessionID in as user. A user signed in on several sessions
// shares one store, so every session sees and persists the same set.
func (r *Registry) bind(ctx context.Context, sessionID string, user *auth.User, notify *alerts.Alerter) (*Session, error) {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	r.mu.RLock()
	acct := r.accounts[user.ID]
	r.mu.RUnlock()

	if acct == nil {
		userID := user.ID
		fanout := alerts.New(func(n alerts.Notice) { r.broadcast(userID, n) }, 0)

		store, err := r.open(ctx, user, fanout)
		if err != nil {
			return nil, err
		}
		acct = &account{store: store, notices: make(map[string]*alerts.Alerter)}
	}

	sess := &Session{ID: sessionID, User: user, Chat: acct.store}

	r.mu.Lock()
	prev := r.sessions[sessionID]
	r.sessions[sessionID] = sess
	r.accounts[user.ID] = acct
	acct.notices[sessionID] = notify
	var released *chat.Store
	if prev != nil && prev.User.ID != user.ID {
		released = r.detachLocked(sessionID, prev.User.ID)
	}
	r.mu.Unlock()

	if released != nil {
		released.Logout()
	}

	logger.Info("user signed in", "session", sessionID, "user", user.ID, "sessions", len(acct.notices))
	return sess, nil
}

// detachLocked drops sessionID from the user's account and returns the
// store once no session uses it any more.
func (r *Registry) detachLocked(sessionID, userID string) *chat.Store {
	acct := r.accounts[userID]
	if acct == nil {
		return nil
	}

	delete(acct.notices, sessionID)
	if len(acct.notices) > 0 {
		return nil
	}

	delete(r.accounts, userID)
	return acct.store
}

// broadcast delivers a store notice to every session of the user, each
// through its own cooldown.
func (r *Registry) broadcast(userID string, n alerts.Notice) {
	r.mu.RLock()
	var targets []*alerts.Alerter
	if acct := r.accounts[userID]; acct != nil {
		for _, a := range acct.notices {
			targets = append(targets, a)
		}
	}
	r.mu.RUnlock()

	for _, a := range targets {
		a.Send(n)
	}
}

// Logout signs the session out. The user's store is closed with the last
// session; conversations stay in the snapshot store for the next sign-in.
func (r *Registry) Logout(sessionID string) bool {
	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	var released *chat.Store
	if ok {
		delete(r.sessions, sessionID)
		released = r.detachLocked(sessionID, sess.User.ID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	if released != nil {
		released.Logout()
	}
	logger.Info("user signed out", "session", sessionID, "user", sess.User.ID)
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
