package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	engineredis "github.com/yawlcore/engine/common/redis"
)

// Scope is one of the RBAC roles spec.md §6 names: designer, operator,
// agent, monitor, admin. admin is a superset of designer+operator+monitor;
// agent is additionally restricted to work items for its own assigned task
// names, a narrower check than RequireScope's coarse scope gate — see
// AllowedForTask, which routes_b.go's work-item handlers call against the
// task names this session declared at connect time.
type Scope string

const (
	ScopeDesigner Scope = "designer"
	ScopeOperator Scope = "operator"
	ScopeAgent    Scope = "agent"
	ScopeMonitor  Scope = "monitor"
	ScopeAdmin    Scope = "admin"
)

// session is the record stored under a connect session's opaque token.
// AssignedTasks is only meaningful for ScopeAgent: spec.md §6 restricts an
// agent session to its own assigned task names, so an agent must declare
// that list at connect time; every other scope leaves it empty and
// unchecked.
type session struct {
	Principal     string   `json:"principal"`
	Scope         Scope    `json:"scope"`
	AssignedTasks []string `json:"assigned_tasks,omitempty"`
}

// SessionStore backs POST /b/connect's session handles: an opaque token
// (github.com/google/uuid-style randomness, minted here with crypto/rand
// directly rather than pulling in uuid for a non-identifier opaque
// secret) mapped to a (principal, scope) pair in Redis with a TTL,
// refreshed on every successful lookup. Grounded on the teacher's
// common/redis.Client (SetWithExpiry/Get/Delete), the same wrapper
// common/bootstrap already wires up for every service — this is simply
// another tenant of that one Redis connection, not a second store.
type SessionStore struct {
	redis *engineredis.Client
	ttl   time.Duration
}

func NewSessionStore(redis *engineredis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{redis: redis, ttl: ttl}
}

// Connect mints a new session token for principal at the given scope.
// assignedTasks is only consulted for ScopeAgent and ignored otherwise.
func (s *SessionStore) Connect(ctx context.Context, principal string, scope Scope, assignedTasks []string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("api: could not mint session token: %w", err)
	}
	raw, err := json.Marshal(session{Principal: principal, Scope: scope, AssignedTasks: assignedTasks})
	if err != nil {
		return "", err
	}
	if err := s.redis.SetWithExpiry(ctx, sessionKey(token), string(raw), s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Lookup resolves a bearer token to its (principal, scope, assigned task
// names), extending the session's TTL on every successful use (spec.md §6:
// "TTL = 30 minutes; extended on use").
func (s *SessionStore) Lookup(ctx context.Context, token string) (principal string, scope Scope, assignedTasks []string, ok bool) {
	raw, err := s.redis.Get(ctx, sessionKey(token))
	if err != nil || raw == "" {
		return "", "", nil, false
	}
	var sess session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return "", "", nil, false
	}
	_ = s.redis.SetWithExpiry(ctx, sessionKey(token), raw, s.ttl)
	return sess.Principal, sess.Scope, sess.AssignedTasks, true
}

// Revoke ends a session immediately, for a future /b/disconnect if one is
// ever added; not currently reachable from any route.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	return s.redis.Delete(ctx, sessionKey(token))
}

func sessionKey(token string) string {
	return "session:" + token
}

func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
