package memory

import (
	"time"

	"image-labeler-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

type SessionRepository struct {
	cache *cache.Cache
}

// NewSessionRepository keeps sessions for ttl after their last use and
// purges expired ones every ttl/6.
func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := cache.New(ttl, ttl/6)
	return &SessionRepository{
		cache: c,
	}
}

func (r *SessionRepository) Save(session *store.Session) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(sessionID string) (*store.Session, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*store.Session), true
	}
	return nil, false
}

// GetOrCreate returns the session for id, creating it when unknown or
// expired. Every call slides the expiry.
func (r *SessionRepository) GetOrCreate(sessionID string) (*store.Session, bool) {
	if s, ok := r.Get(sessionID); ok {
		r.Save(s)
		return s, false
	}
	s := store.NewSession(sessionID)
	if err := r.cache.Add(sessionID, s, cache.DefaultExpiration); err != nil {
		// Lost a race with a concurrent create.
		if existing, ok := r.Get(sessionID); ok {
			return existing, false
		}
		r.Save(s)
	}
	return s, true
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
