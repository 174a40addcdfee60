// Package memory is an in-process Store used by tests and local
// development. Records are versioned; transactions commit with optimistic
// concurrency and are re-run on conflict, matching the behavior the
// postgres store gets from serializable transactions.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/repository"
)

const maxTxnAttempts = 10

type versioned[T any] struct {
	value   T
	version int64
}

// Store implements repository.Store entirely in memory.
type Store struct {
	mu       sync.Mutex
	users    map[string]*versioned[*models.User]
	pairs    map[string]*versioned[*models.Pair]
	drawings []*models.DrawingRecord

	userWatches   map[string]map[*userWatch]struct{}
	receivedFeeds map[string]map[*drawingFeed]struct{}
	createdFeeds  map[*createdFeed]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*versioned[*models.User]),
		pairs:         make(map[string]*versioned[*models.Pair]),
		userWatches:   make(map[string]map[*userWatch]struct{}),
		receivedFeeds: make(map[string]map[*drawingFeed]struct{}),
		createdFeeds:  make(map[*createdFeed]struct{}),
	}
}

var _ repository.Store = (*Store)(nil)

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func clonePair(p *models.Pair) *models.Pair {
	c := *p
	return &c
}

func cloneDrawing(d *models.DrawingRecord) *models.DrawingRecord {
	c := *d
	return &c
}

// CreateUser inserts a user record.
func (s *Store) CreateUser(_ context.Context, user *models.User) error {
	if err := repository.ValidatePairingFields(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = &versioned[*models.User]{value: cloneUser(user), version: 1}
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(rec.value), nil
}

// UpdateDeviceToken sets or clears the push token.
func (s *Store) UpdateDeviceToken(_ context.Context, userID string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u := cloneUser(rec.value)
	u.DeviceToken = token
	rec.value = u
	rec.version++
	s.notifyUserLocked(u)
	return nil
}

// GetPair loads a pair by code.
func (s *Store) GetPair(_ context.Context, code string) (*models.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pairs[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePair(rec.value), nil
}

// CreatePair inserts an open pair record.
func (s *Store) CreatePair(_ context.Context, pair *models.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.Code] = &versioned[*models.Pair]{value: clonePair(pair), version: 1}
	return nil
}

type txn struct {
	store      *Store
	userReads  map[string]int64
	pairReads  map[string]int64
	userWrites map[string]*models.User
	pairWrites map[string]*models.Pair
}

func (t *txn) GetUser(id string) (*models.User, error) {
	if w, ok := t.userWrites[id]; ok {
		return cloneUser(w), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.users[id]
	if !ok {
		t.userReads[id] = 0
		return nil, repository.ErrNotFound
	}
	t.userReads[id] = rec.version
	return cloneUser(rec.value), nil
}

func (t *txn) GetPair(code string) (*models.Pair, error) {
	if w, ok := t.pairWrites[code]; ok {
		return clonePair(w), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rec, ok := t.store.pairs[code]
	if !ok {
		t.pairReads[code] = 0
		return nil, repository.ErrNotFound
	}
	t.pairReads[code] = rec.version
	return clonePair(rec.value), nil
}

func (t *txn) PutUser(user *models.User) {
	t.userWrites[user.ID] = cloneUser(user)
}

func (t *txn) PutPair(pair *models.Pair) {
	t.pairWrites[pair.Code] = clonePair(pair)
}

// commit verifies every read version still holds, then applies all buffered
// writes. Returns false when a concurrent commit invalidated the snapshot.
func (t *txn) commit() bool {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ver := range t.userReads {
		cur := int64(0)
		if rec, ok := s.users[id]; ok {
			cur = rec.version
		}
		if cur != ver {
			return false
		}
	}
	for code, ver := range t.pairReads {
		cur := int64(0)
		if rec, ok := s.pairs[code]; ok {
			cur = rec.version
		}
		if cur != ver {
			return false
		}
	}

	for id, u := range t.userWrites {
		if rec, ok := s.users[id]; ok {
			rec.value = u
			rec.version++
		} else {
			s.users[id] = &versioned[*models.User]{value: u, version: 1}
		}
		s.notifyUserLocked(u)
	}
	for code, p := range t.pairWrites {
		if rec, ok := s.pairs[code]; ok {
			rec.value = p
			rec.version++
		} else {
			s.pairs[code] = &versioned[*models.Pair]{value: p, version: 1}
		}
	}
	return true
}

// RunTransaction re-runs fn until its snapshot commits cleanly. Errors from
// fn abort immediately without retry.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx repository.Txn) error) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &txn{
			store:      s,
			userReads:  make(map[string]int64),
			pairReads:  make(map[string]int64),
			userWrites: make(map[string]*models.User),
			pairWrites: make(map[string]*models.Pair),
		}
		if err := fn(t); err != nil {
			return err
		}
		for _, u := range t.userWrites {
			if err := repository.ValidatePairingFields(u); err != nil {
				return err
			}
		}
		if t.commit() {
			return nil
		}
	}
	return repository.ErrConflict
}

// CreateDrawing appends an immutable record and fans it out to feeds.
func (s *Store) CreateDrawing(_ context.Context, rec *models.DrawingRecord) error {
	if len(rec.VectorBytes) == 0 && rec.ImageURL == nil {
		return errors.New("drawing record needs vector bytes or an image url")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawings = append(s.drawings, cloneDrawing(rec))

	for feed := range s.receivedFeeds[rec.ToUserID] {
		feed.send(s.receivedLocked(rec.ToUserID))
	}
	for feed := range s.createdFeeds {
		feed.send(cloneDrawing(rec))
	}
	return nil
}

// GetDrawing loads one record by id.
func (s *Store) GetDrawing(_ context.Context, id string) (*models.DrawingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.drawings {
		if d.ID == id {
			return cloneDrawing(d), nil
		}
	}
	return nil, repository.ErrNotFound
}

func sortNewestFirst(recs []*models.DrawingRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func (s *Store) receivedLocked(userID string) []*models.DrawingRecord {
	var out []*models.DrawingRecord
	for _, d := range s.drawings {
		if d.ToUserID == userID {
			out = append(out, cloneDrawing(d))
		}
	}
	sortNewestFirst(out)
	return out
}

// ListReceived returns records addressed to userID, newest first.
func (s *Store) ListReceived(_ context.Context, userID string) ([]*models.DrawingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivedLocked(userID), nil
}

// ListSent returns records authored by userID, newest first.
func (s *Store) ListSent(_ context.Context, userID string) ([]*models.DrawingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DrawingRecord
	for _, d := range s.drawings {
		if d.FromUserID == userID {
			out = append(out, cloneDrawing(d))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

type userWatch struct {
	store *Store
	id    string
	ch    chan *models.User
	done  bool
}

func (w *userWatch) Updates() <-chan *models.User { return w.ch }

func (w *userWatch) Cancel() {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	if set, ok := w.store.userWatches[w.id]; ok {
		delete(set, w)
	}
	close(w.ch)
}

// WatchUser opens a change feed on one user record.
func (s *Store) WatchUser(_ context.Context, id string) (repository.UserWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &userWatch{store: s, id: id, ch: make(chan *models.User, 16)}
	if s.userWatches[id] == nil {
		s.userWatches[id] = make(map[*userWatch]struct{})
	}
	s.userWatches[id][w] = struct{}{}
	return w, nil
}

func (s *Store) notifyUserLocked(u *models.User) {
	for w := range s.userWatches[u.ID] {
		// Drop the oldest update if the consumer lags; the latest state
		// is the only one that matters.
		select {
		case w.ch <- cloneUser(u):
		default:
			select {
			case <-w.ch:
			default:
			}
			w.ch <- cloneUser(u)
		}
	}
}

type drawingFeed struct {
	store  *Store
	userID string
	ch     chan []*models.DrawingRecord
	done   bool
}

func (f *drawingFeed) Snapshots() <-chan []*models.DrawingRecord { return f.ch }

func (f *drawingFeed) Cancel() {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	if set, ok := f.store.receivedFeeds[f.userID]; ok {
		delete(set, f)
	}
	close(f.ch)
}

func (f *drawingFeed) send(snapshot []*models.DrawingRecord) {
	select {
	case f.ch <- snapshot:
	default:
		select {
		case <-f.ch:
		default:
		}
		f.ch <- snapshot
	}
}

// SubscribeReceived opens a snapshot feed for records addressed to userID.
// The current result set is delivered immediately.
func (s *Store) SubscribeReceived(_ context.Context, userID string) (repository.DrawingFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &drawingFeed{store: s, userID: userID, ch: make(chan []*models.DrawingRecord, 16)}
	if s.receivedFeeds[userID] == nil {
		s.receivedFeeds[userID] = make(map[*drawingFeed]struct{})
	}
	s.receivedFeeds[userID][f] = struct{}{}
	f.send(s.receivedLocked(userID))
	return f, nil
}

type createdFeed struct {
	store *Store
	ch    chan *models.DrawingRecord
	done  bool
}

func (f *createdFeed) Records() <-chan *models.DrawingRecord { return f.ch }

func (f *createdFeed) Cancel() {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	delete(f.store.createdFeeds, f)
	close(f.ch)
}

func (f *createdFeed) send(rec *models.DrawingRecord) {
	select {
	case f.ch <- rec:
	default:
		select {
		case <-f.ch:
		default:
		}
		f.ch <- rec
	}
}

// SubscribeCreated opens a feed of all newly created drawing records.
func (s *Store) SubscribeCreated(_ context.Context) (repository.CreatedFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &createdFeed{store: s, ch: make(chan *models.DrawingRecord, 64)}
	s.createdFeeds[f] = struct{}{}
	return f, nil
}
