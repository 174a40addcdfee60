package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"doodle-sync-backend/internal/blob"
	"doodle-sync-backend/internal/glance"
	"doodle-sync-backend/internal/models"
	"doodle-sync-backend/internal/render"
	"doodle-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrInvalidImage is returned when a raster upload is requested but the
// raster cannot be encoded.
var ErrInvalidImage = errors.New("could not process drawing image")

const glanceRenderSide = 480

// DrawingExchange creates and receives drawing records for one user
// session. Every newly observed inbound record writes through to the
// glance cache.
type DrawingExchange struct {
	store      repository.Store
	blobs      blob.Store
	cache      *glance.Cache
	resolver   *render.Resolver
	onSnapshot func([]*models.DrawingRecord)

	mu       sync.Mutex
	received []*models.DrawingRecord
	sent     []*models.DrawingRecord
	latest   *models.DrawingRecord
	feed     repository.DrawingFeed
}

// NewDrawingExchange creates an exchange. cache may be nil (glance writes
// are then skipped); onSnapshot may be nil. client is used for raster
// downloads when a record carries no vector payload.
func NewDrawingExchange(
	store repository.Store,
	blobs blob.Store,
	cache *glance.Cache,
	client *http.Client,
	onSnapshot func([]*models.DrawingRecord),
) *DrawingExchange {
	return &DrawingExchange{
		store: store,
		blobs: blobs,
		cache: cache,
		// No cache in this resolver: it renders authoritative sources
		// for the cache, it must not read the cache back.
		resolver:   render.NewResolver(nil, nil, client),
		onSnapshot: onSnapshot,
	}
}

// Send persists one fully formed drawing record. The vector payload is
// always stored; when uploadRaster is set, the raster is encoded and
// uploaded first and its URL attached before the single record write. A
// failed upload fails the whole send with nothing persisted.
func (e *DrawingExchange) Send(
	ctx context.Context,
	vectorBytes []byte,
	raster image.Image,
	fromUserID, toUserID, pairID string,
	uploadRaster bool,
) (*models.DrawingRecord, error) {
	if fromUserID == toUserID {
		return nil, errors.New("sender and recipient must differ")
	}
	if len(vectorBytes) == 0 {
		return nil, errors.New("vector payload is required")
	}

	drawingID := uuid.New().String()

	var imageURL *string
	if uploadRaster {
		if raster == nil {
			return nil, ErrInvalidImage
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, raster); err != nil {
			return nil, ErrInvalidImage
		}
		url, err := e.blobs.Upload(ctx, fmt.Sprintf("drawings/%s.png", drawingID), buf.Bytes(), "image/png")
		if err != nil {
			return nil, fmt.Errorf("failed to upload raster: %w", err)
		}
		imageURL = &url
	}

	rec := &models.DrawingRecord{
		ID:          drawingID,
		PairID:      pairID,
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		CreatedAt:   time.Now(),
		VectorBytes: vectorBytes,
		ImageURL:    imageURL,
	}
	if err := e.store.CreateDrawing(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create drawing: %w", err)
	}

	log.Info().
		Str("drawing_id", drawingID).
		Str("from_user_id", fromUserID).
		Str("to_user_id", toUserID).
		Bool("raster", uploadRaster).
		Msg("Drawing sent")

	return rec, nil
}

// Subscribe opens the standing subscription for records addressed to
// userID, newest first, replacing any prior one. Each delivered snapshot
// becomes the authoritative received set; a changed head rewrites the
// glance cache.
func (e *DrawingExchange) Subscribe(ctx context.Context, userID, partnerName string) error {
	feed, err := e.store.SubscribeReceived(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to drawings: %w", err)
	}

	e.mu.Lock()
	if e.feed != nil {
		e.feed.Cancel()
	}
	e.feed = feed
	e.mu.Unlock()

	go e.feedLoop(ctx, feed, partnerName)
	return nil
}

func (e *DrawingExchange) feedLoop(ctx context.Context, feed repository.DrawingFeed, partnerName string) {
	for snapshot := range feed.Snapshots() {
		e.mu.Lock()
		if e.feed != feed {
			e.mu.Unlock()
			return
		}
		e.received = snapshot
		var newLatest *models.DrawingRecord
		if len(snapshot) > 0 {
			newLatest = snapshot[0]
		}
		changed := newLatest != nil && (e.latest == nil || e.latest.ID != newLatest.ID)
		e.latest = newLatest
		e.mu.Unlock()

		if changed {
			e.updateGlance(ctx, newLatest, partnerName)
		}
		if e.onSnapshot != nil {
			e.onSnapshot(snapshot)
		}
	}
}

// updateGlance rewrites the single-slot cache from the record's best
// authoritative source.
func (e *DrawingExchange) updateGlance(ctx context.Context, rec *models.DrawingRecord, partnerName string) {
	if e.cache == nil {
		return
	}
	img, ok := e.resolver.Resolve(ctx, render.Request{Record: rec, Side: glanceRenderSide})
	if !ok {
		log.Warn().Str("drawing_id", rec.ID).Msg("No renderable source for glance cache")
		return
	}
	meta := models.GlanceMetadata{
		PartnerName: partnerName,
		Timestamp:   rec.CreatedAt,
		DrawingID:   rec.ID,
	}
	if err := e.cache.SaveLatest(img, meta); err != nil {
		log.Error().Err(err).Str("drawing_id", rec.ID).Msg("Failed to write glance cache")
	}
}

// Unsubscribe cancels the standing subscription and clears received state.
// Must be called whenever pairing is lost.
func (e *DrawingExchange) Unsubscribe() {
	e.mu.Lock()
	feed := e.feed
	e.feed = nil
	e.received = nil
	e.latest = nil
	e.mu.Unlock()
	if feed != nil {
		feed.Cancel()
	}
}

// LoadSent replaces the in-memory sent list with a fresh query result.
func (e *DrawingExchange) LoadSent(ctx context.Context, userID string) error {
	recs, err := e.store.ListSent(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load sent drawings: %w", err)
	}
	e.mu.Lock()
	e.sent = recs
	e.mu.Unlock()
	return nil
}

// FetchByID is a best-effort point lookup; nil means not found or
// unreachable, indistinguishable at this layer.
func (e *DrawingExchange) FetchByID(ctx context.Context, drawingID string) *models.DrawingRecord {
	rec, err := e.store.GetDrawing(ctx, drawingID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Debug().Err(err).Str("drawing_id", drawingID).Msg("Drawing fetch failed")
		}
		return nil
	}
	return rec
}

// Received returns the current received set, newest first.
func (e *DrawingExchange) Received() []*models.DrawingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.received
}

// Sent returns the most recently loaded sent list.
func (e *DrawingExchange) Sent() []*models.DrawingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// Latest returns the newest received record, nil if none.
func (e *DrawingExchange) Latest() *models.DrawingRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Close cancels the subscription.
func (e *DrawingExchange) Close() {
	e.Unsubscribe()
}
