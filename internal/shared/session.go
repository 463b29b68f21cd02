package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionManager resolves bearer tokens to actors via Redis. The
// authentication flow that mints tokens lives outside this engine; the
// manager only answers "who is calling".
type SessionManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type sessionPayload struct {
	ActorID int64  `json:"actor_id"`
	Role    string `json:"role"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, prefix string, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, prefix: prefix, ttl: ttl}
}

func (sm *SessionManager) redisKey(token string) string {
	return sm.prefix + ":" + token
}

// Resolve maps a request to the actor owning its session token, nil when
// the request carries no token or the token is unknown.
func (sm *SessionManager) Resolve(ctx context.Context, r *http.Request) (*Actor, error) {
	token := tokenFromRequest(r, sm.prefix)
	if token == "" {
		return nil, nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if stored.ActorID == 0 {
		return nil, nil
	}
	return &Actor{ID: stored.ActorID, Role: Role(stored.Role)}, nil
}

// Issue creates a session for the actor and returns the bearer token.
// Used by the external auth collaborator and by tests.
func (sm *SessionManager) Issue(ctx context.Context, actor Actor) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(sessionPayload{ActorID: actor.ID, Role: string(actor.Role)})
	if err != nil {
		return "", err
	}
	if err := sm.client.Set(ctx, sm.redisKey(token), payload, sm.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Revoke removes a session token.
func (sm *SessionManager) Revoke(ctx context.Context, token string) error {
	return sm.client.Del(ctx, sm.redisKey(token)).Err()
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
