package postgres

import (
	"context"
	"sync"
	"time"

	"doodle-sync-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// listener holds one dedicated connection on LISTEN and fans notifications
// out to registered watches and feeds. Writers emit pg_notify inside their
// transactions, so a payload is only ever seen after its commit.
type listener struct {
	db    *pgxpool.Pool
	store *Store

	mu            sync.Mutex
	userWatches   map[string]map[*pgUserWatch]struct{}
	receivedFeeds map[string]map[*pgDrawingFeed]struct{}
	createdFeeds  map[*pgCreatedFeed]struct{}
}

func newListener(db *pgxpool.Pool, store *Store) *listener {
	return &listener{
		db:            db,
		store:         store,
		userWatches:   make(map[string]map[*pgUserWatch]struct{}),
		receivedFeeds: make(map[string]map[*pgDrawingFeed]struct{}),
		createdFeeds:  make(map[*pgCreatedFeed]struct{}),
	}
}

func (l *listener) run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Notification listener disconnected, retrying")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (l *listener) listen(ctx context.Context) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, channel := range []string{"user_changed", "drawing_created"} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return err
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		switch n.Channel {
		case "user_changed":
			l.dispatchUserChanged(ctx, n.Payload)
		case "drawing_created":
			l.dispatchDrawingCreated(ctx, n.Payload)
		}
	}
}

func (l *listener) dispatchUserChanged(ctx context.Context, userID string) {
	l.mu.Lock()
	interested := len(l.userWatches[userID]) > 0
	l.mu.Unlock()
	if !interested {
		return
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to reload changed user")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for w := range l.userWatches[userID] {
		w.send(user)
	}
}

func (l *listener) dispatchDrawingCreated(ctx context.Context, drawingID string) {
	rec, err := l.store.GetDrawing(ctx, drawingID)
	if err != nil {
		log.Error().Err(err).Str("drawing_id", drawingID).Msg("Failed to load created drawing")
		return
	}

	l.mu.Lock()
	for f := range l.createdFeeds {
		f.send(rec)
	}
	interested := len(l.receivedFeeds[rec.ToUserID]) > 0
	l.mu.Unlock()
	if !interested {
		return
	}

	snapshot, err := l.store.ListReceived(ctx, rec.ToUserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", rec.ToUserID).Msg("Failed to reload received drawings")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for f := range l.receivedFeeds[rec.ToUserID] {
		f.send(snapshot)
	}
}

type pgUserWatch struct {
	l  *listener
	id string
	ch chan *models.User

	mu   sync.Mutex
	done bool
}

func (w *pgUserWatch) Updates() <-chan *models.User { return w.ch }

func (w *pgUserWatch) send(u *models.User) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	select {
	case w.ch <- u:
	default:
		select {
		case <-w.ch:
		default:
		}
		w.ch <- u
	}
}

func (w *pgUserWatch) Cancel() {
	w.l.mu.Lock()
	if set, ok := w.l.userWatches[w.id]; ok {
		delete(set, w)
	}
	w.l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.done = true
		close(w.ch)
	}
}

func (l *listener) watchUser(id string) *pgUserWatch {
	w := &pgUserWatch{l: l, id: id, ch: make(chan *models.User, 16)}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.userWatches[id] == nil {
		l.userWatches[id] = make(map[*pgUserWatch]struct{})
	}
	l.userWatches[id][w] = struct{}{}
	return w
}

type pgDrawingFeed struct {
	l      *listener
	userID string
	ch     chan []*models.DrawingRecord

	mu   sync.Mutex
	done bool
}

func (f *pgDrawingFeed) Snapshots() <-chan []*models.DrawingRecord { return f.ch }

func (f *pgDrawingFeed) send(snapshot []*models.DrawingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
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

func (f *pgDrawingFeed) Cancel() {
	f.l.mu.Lock()
	if set, ok := f.l.receivedFeeds[f.userID]; ok {
		delete(set, f)
	}
	f.l.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		f.done = true
		close(f.ch)
	}
}

func (l *listener) subscribeReceived(userID string) *pgDrawingFeed {
	f := &pgDrawingFeed{l: l, userID: userID, ch: make(chan []*models.DrawingRecord, 16)}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.receivedFeeds[userID] == nil {
		l.receivedFeeds[userID] = make(map[*pgDrawingFeed]struct{})
	}
	l.receivedFeeds[userID][f] = struct{}{}
	return f
}

type pgCreatedFeed struct {
	l  *listener
	ch chan *models.DrawingRecord

	mu   sync.Mutex
	done bool
}

func (f *pgCreatedFeed) Records() <-chan *models.DrawingRecord { return f.ch }

func (f *pgCreatedFeed) send(rec *models.DrawingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
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

func (f *pgCreatedFeed) Cancel() {
	f.l.mu.Lock()
	delete(f.l.createdFeeds, f)
	f.l.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		f.done = true
		close(f.ch)
	}
}

func (l *listener) subscribeCreated() *pgCreatedFeed {
	f := &pgCreatedFeed{l: l, ch: make(chan *models.DrawingRecord, 64)}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.createdFeeds[f] = struct{}{}
	return f
}
