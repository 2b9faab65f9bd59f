package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kolevas/tutoring-app/internal/domain"
	"github.com/kolevas/tutoring-app/internal/store"
)

// Store keeps rules and sessions in process. Per-tutor critical sections
// are serialized by a mutex per tutor; the maps themselves are guarded by mu.
type Store struct {
	mu       sync.RWMutex
	rules    map[uuid.UUID]domain.AvailabilityRule
	sessions map[uuid.UUID]domain.Session

	locks *xsync.MapOf[string, *sync.Mutex]
	now   func() time.Time
}

func New() *Store {
	return &Store{
		rules:    make(map[uuid.UUID]domain.AvailabilityRule),
		sessions: make(map[uuid.UUID]domain.Session),
		locks:    xsync.NewMapOf[string, *sync.Mutex](),
		now:      time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) tutorLock(tutorID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(tutorID, func() *sync.Mutex { return &sync.Mutex{} })
	return mu
}

func (s *Store) InTutorTransaction(ctx context.Context, tutorID string, fn func(ctx context.Context, tx store.TutorTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := s.tutorLock(tutorID)
	mu.Lock()
	defer mu.Unlock()

	tx := &tutorTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) SweepExpired(ctx context.Context, asOf time.Time, loc *time.Location) (int, error) {
	s.mu.RLock()
	byTutor := make(map[string][]uuid.UUID)
	for id, sess := range s.sessions {
		if sess.Lapsed(asOf, loc) {
			byTutor[sess.TutorID] = append(byTutor[sess.TutorID], id)
		}
	}
	s.mu.RUnlock()

	swept := 0
	for tutorID, ids := range byTutor {
		err := s.InTutorTransaction(ctx, tutorID, func(ctx context.Context, tx store.TutorTx) error {
			for _, id := range ids {
				sess, err := tx.GetSession(ctx, id)
				if err != nil {
					return err
				}
				// Re-checked under the lock: a concurrent writer may have moved it.
				if !sess.Lapsed(asOf, loc) {
					continue
				}
				next, err := sess.Transition(domain.Requester{}, domain.SessionStatusExpired)
				if err != nil {
					return err
				}
				if _, err := tx.SaveSession(ctx, next); err != nil {
					return err
				}
				swept++
			}
			return nil
		})
		if err != nil {
			return swept, err
		}
	}
	return swept, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, f store.SessionFilter) ([]domain.Session, error) {
	s.mu.RLock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if f.Match(sess) {
			out = append(out, sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].TutorID < out[j].TutorID
	})
	return out, nil
}

func (s *Store) GetRule(ctx context.Context, ruleID uuid.UUID) (domain.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return domain.AvailabilityRule{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error) {
	s.mu.RLock()
	out := make([]domain.AvailabilityRule, 0, 8)
	for _, r := range s.rules {
		if r.TutorID == tutorID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	domain.SortRules(out)
	return out, nil
}

// tutorTx writes through to the store and records an undo step per write so
// that a failed fn leaves no trace.
type tutorTx struct {
	s    *Store
	undo []func()
}

var _ store.TutorTx = (*tutorTx)(nil)

func (t *tutorTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tutorTx) putSession(sess domain.Session) {
	prev, existed := t.s.sessions[sess.ID]
	t.s.sessions[sess.ID] = sess
	t.undo = append(t.undo, func() {
		if existed {
			t.s.sessions[sess.ID] = prev
			return
		}
		delete(t.s.sessions, sess.ID)
	})
}

func (t *tutorTx) putRule(r domain.AvailabilityRule) {
	prev, existed := t.s.rules[r.ID]
	t.s.rules[r.ID] = r
	t.undo = append(t.undo, func() {
		if existed {
			t.s.rules[r.ID] = prev
			return
		}
		delete(t.s.rules, r.ID)
	})
}

func (t *tutorTx) IsAvailable(ctx context.Context, tutorID string, w domain.TimeWindow) (bool, error) {
	rules, err := t.s.ListRules(ctx, tutorID)
	if err != nil {
		return false, err
	}
	return domain.AnyCovers(rules, w), nil
}

func (t *tutorTx) ListRules(ctx context.Context, tutorID string) ([]domain.AvailabilityRule, error) {
	return t.s.ListRules(ctx, tutorID)
}

func (t *tutorTx) GetRule(ctx context.Context, ruleID uuid.UUID) (domain.AvailabilityRule, error) {
	return t.s.GetRule(ctx, ruleID)
}

func (t *tutorTx) CreateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if rule.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.AvailabilityRule{}, err
		}
		rule.ID = id
	}
	if _, ok := t.s.rules[rule.ID]; ok {
		return domain.AvailabilityRule{}, store.ErrConflict
	}
	now := t.s.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	t.putRule(rule)
	return rule, nil
}

func (t *tutorTx) UpdateRule(ctx context.Context, rule domain.AvailabilityRule) (domain.AvailabilityRule, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev, ok := t.s.rules[rule.ID]
	if !ok {
		return domain.AvailabilityRule{}, store.ErrNotFound
	}
	rule.CreatedAt = prev.CreatedAt
	rule.UpdatedAt = t.s.now().UTC()
	t.putRule(rule)
	return rule, nil
}

func (t *tutorTx) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev, ok := t.s.rules[ruleID]
	if !ok {
		return store.ErrNotFound
	}
	delete(t.s.rules, ruleID)
	t.undo = append(t.undo, func() { t.s.rules[ruleID] = prev })
	return nil
}

func (t *tutorTx) FindConflicting(ctx context.Context, tutorID string, w domain.TimeWindow, exclude uuid.UUID) (domain.Session, bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	sess, ok := t.s.conflictLocked(tutorID, w, exclude)
	return sess, ok, nil
}

func (s *Store) conflictLocked(tutorID string, w domain.TimeWindow, exclude uuid.UUID) (domain.Session, bool) {
	for id, sess := range s.sessions {
		if id == exclude || sess.TutorID != tutorID || !sess.Status.Active() {
			continue
		}
		if domain.Overlaps(sess.Window(), w) {
			return sess, true
		}
	}
	return domain.Session{}, false
}

func (t *tutorTx) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if sess.ID != uuid.Nil {
		if existing, ok := t.s.sessions[sess.ID]; ok {
			if !existing.SameProposal(sess) {
				return domain.Session{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		}
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Session{}, err
		}
		sess.ID = id
	}

	if sess.Status.Active() {
		if _, clash := t.s.conflictLocked(sess.TutorID, sess.Window(), sess.ID); clash {
			return domain.Session{}, store.ErrConflict
		}
	}

	now := t.s.now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	t.putSession(sess)
	return sess, nil
}

func (t *tutorTx) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.Session, error) {
	return t.s.GetSession(ctx, sessionID)
}

func (t *tutorTx) SaveSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	prev, ok := t.s.sessions[sess.ID]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	if sess.Status.Active() {
		if _, clash := t.s.conflictLocked(sess.TutorID, sess.Window(), sess.ID); clash {
			return domain.Session{}, store.ErrConflict
		}
	}
	sess.CreatedAt = prev.CreatedAt
	sess.UpdatedAt = t.s.now().UTC()
	t.putSession(sess)
	return sess, nil
}

func (t *tutorTx) ListSessions(ctx context.Context, f store.SessionFilter) ([]domain.Session, error) {
	return t.s.ListSessions(ctx, f)
}
