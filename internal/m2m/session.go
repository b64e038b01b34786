package m2m

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akarpov87/m2mfetch/internal/logging"
)

// State is the session lifecycle state.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged-out"
	case LoggingIn:
		return "logging-in"
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// sessionIdleTimeout is the service-declared idle timeout of an API key.
// Every successful authenticated call restarts it.
const sessionIdleTimeout = 2 * time.Hour

// Credentials identifies the account. Token is an ERS application token used
// with login-token; when empty, Password is used with the login endpoint.
// The core never reads the process environment; the caller fills this in.
type Credentials struct {
	Username string
	Token    string
	Password string
}

func (c Credentials) loginOp() (op string, payload any) {
	if c.Token != "" {
		return "login-token", map[string]string{"username": c.Username, "token": c.Token}
	}
	return "login", map[string]string{"username": c.Username, "password": c.Password}
}

// loginCall lets concurrent callers awaiting the same login share its outcome
// instead of issuing duplicate logins.
type loginCall struct {
	done chan struct{}
	err  error
}

// SessionManager owns the API key lifecycle: at most one active session per
// instance, transparent re-login on expiry, best-effort remote invalidation
// on logout. All session state is serialized behind its mutex; other
// components go through Call and never touch the token directly.
type SessionManager struct {
	tr    *Transport
	creds Credentials
	log   logging.Logger

	// now is a test seam for expiry checks.
	now func() time.Time

	mu       sync.Mutex
	state    State
	token    string
	lastUsed time.Time
	pending  *loginCall
}

func NewSessionManager(tr *Transport, creds Credentials, log logging.Logger) *SessionManager {
	return &SessionManager{
		tr:    tr,
		creds: creds,
		log:   log,
		now:   time.Now,
	}
}

// State reports the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *SessionManager) stateLocked() State {
	if m.state == Active && m.now().Sub(m.lastUsed) >= sessionIdleTimeout {
		return Expired
	}
	return m.state
}

// Login authenticates and stores the returned API key. Concurrent callers
// share a single in-flight login.
func (m *SessionManager) Login(ctx context.Context) error {
	_, err := m.ensureToken(ctx, true)
	return err
}

// EnsureActive returns a valid token, re-authenticating transparently when
// the stored one is absent or past the idle timeout. A failed re-login
// surfaces ErrAuth and forces the state to LoggedOut.
func (m *SessionManager) EnsureActive(ctx context.Context) (string, error) {
	return m.ensureToken(ctx, false)
}

func (m *SessionManager) ensureToken(ctx context.Context, force bool) (string, error) {
	for {
		m.mu.Lock()
		if !force && m.stateLocked() == Active {
			token := m.token
			m.mu.Unlock()
			return token, nil
		}
		if call := m.pending; call != nil {
			m.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			if call.err != nil {
				return "", call.err
			}
			// A fresh login may itself have expired by now; re-check.
			force = false
			continue
		}

		call := &loginCall{done: make(chan struct{})}
		m.pending = call
		m.state = LoggingIn
		m.mu.Unlock()

		token, err := m.doLogin(ctx)

		m.mu.Lock()
		m.pending = nil
		if err != nil {
			m.state = LoggedOut
			m.token = ""
			call.err = fmt.Errorf("login: %w", err)
		} else {
			m.state = Active
			m.token = token
			m.lastUsed = m.now()
		}
		m.mu.Unlock()
		close(call.done)

		if call.err != nil {
			return "", call.err
		}
		return token, nil
	}
}

func (m *SessionManager) doLogin(ctx context.Context) (string, error) {
	op, payload := m.creds.loginOp()
	data, err := m.tr.Call(ctx, op, payload, "")
	if err != nil {
		return "", err
	}

	var token string
	if err := DecodeData(op, data, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("%s: empty api key: %w", op, ErrProtocol)
	}
	m.log.Info(ctx, "logged in", "username", m.creds.Username, "method", op)
	return token, nil
}

// Call runs an authenticated endpoint call, refreshing the session first when
// needed. If the service rejects the token mid-flight, one transparent
// re-login and replay is attempted before the auth failure propagates.
func (m *SessionManager) Call(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	token, err := m.EnsureActive(ctx)
	if err != nil {
		return nil, err
	}

	data, err := m.tr.Call(ctx, op, payload, token)
	if err == nil {
		m.touch()
		return data, nil
	}
	if !errors.Is(err, ErrAuth) {
		return nil, err
	}

	m.invalidate(token)
	token, rerr := m.EnsureActive(ctx)
	if rerr != nil {
		return nil, rerr
	}
	data, err = m.tr.Call(ctx, op, payload, token)
	if err != nil {
		return nil, err
	}
	m.touch()
	return data, nil
}

// touch restarts the idle timeout after a successful authenticated call.
func (m *SessionManager) touch() {
	m.mu.Lock()
	if m.state == Active {
		m.lastUsed = m.now()
	}
	m.mu.Unlock()
}

// invalidate drops the stored token, but only if it is still the one that
// just failed; a concurrent re-login must not be clobbered.
func (m *SessionManager) invalidate(token string) {
	m.mu.Lock()
	if m.state == Active && m.token == token {
		m.state = LoggedOut
		m.token = ""
	}
	m.mu.Unlock()
}

// Logout attempts remote invalidation and always transitions to LoggedOut.
// A failed remote call is logged, not propagated: local state never claims
// to be active past this point.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.token
	m.state = LoggedOut
	m.token = ""
	m.mu.Unlock()

	if token == "" {
		return
	}
	if _, err := m.tr.Call(ctx, "logout", struct{}{}, token); err != nil {
		m.log.Warn(ctx, "remote logout failed", "error", err)
		return
	}
	m.log.Info(ctx, "logged out")
}
