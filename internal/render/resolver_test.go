package render

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"doodle-sync-backend/internal/glance"
	"doodle-sync-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vectorPayload(t *testing.T) []byte {
	t.Helper()
	d := &models.Doodle{
		Width:  400,
		Height: 400,
		Strokes: []models.Stroke{
			{Color: "#000000", Width: 4, Points: [][2]float64{{10, 10}, {300, 300}}},
		},
	}
	data, err := d.Encode()
	require.NoError(t, err)
	return data
}

func pngServer(t *testing.T, w, h int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		rw.Header().Set("Content-Type", "image/png")
		rw.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolvePrefersVector(t *testing.T) {
	var hits atomic.Int64
	srv := pngServer(t, 64, 64, &hits)
	url := srv.URL + "/drawing.png"

	r := NewResolver(nil, nil, srv.Client())
	rec := &models.DrawingRecord{ID: "d1", VectorBytes: vectorPayload(t), ImageURL: &url}

	img, ok := r.Resolve(context.Background(), Request{Record: rec, Side: 96})
	require.True(t, ok)
	assert.Equal(t, 96, img.Bounds().Dx())
	assert.Equal(t, int64(0), hits.Load(), "vector payload must win without touching the raster URL")
}

func TestResolveFallsBackToRaster(t *testing.T) {
	srv := pngServer(t, 200, 100, nil)
	url := srv.URL + "/drawing.png"

	r := NewResolver(nil, nil, srv.Client())
	rec := &models.DrawingRecord{ID: "d1", ImageURL: &url}

	img, ok := r.Resolve(context.Background(), Request{Record: rec, Side: 50})
	require.True(t, ok)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestResolveRasterOnCorruptVector(t *testing.T) {
	srv := pngServer(t, 64, 64, nil)
	url := srv.URL + "/drawing.png"

	r := NewResolver(nil, nil, srv.Client())
	rec := &models.DrawingRecord{ID: "d1", VectorBytes: []byte("corrupt"), ImageURL: &url}

	_, ok := r.Resolve(context.Background(), Request{Record: rec, Side: 64})
	assert.True(t, ok)
}

func TestResolveUsesFetcherForBareID(t *testing.T) {
	rec := &models.DrawingRecord{ID: "d1", VectorBytes: vectorPayload(t)}
	fetch := func(_ context.Context, id string) *models.DrawingRecord {
		if id == "d1" {
			return rec
		}
		return nil
	}

	r := NewResolver(fetch, nil, nil)
	img, ok := r.Resolve(context.Background(), Request{DrawingID: "d1", Side: 48})
	require.True(t, ok)
	assert.Equal(t, 48, img.Bounds().Dx())

	_, ok = r.Resolve(context.Background(), Request{DrawingID: "missing"})
	assert.False(t, ok)
}

func TestResolveCacheIdentity(t *testing.T) {
	cache, err := glance.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cache.SaveLatest(image.NewRGBA(image.Rect(0, 0, 16, 16)), models.GlanceMetadata{
		PartnerName: "Alice",
		Timestamp:   time.Now(),
		DrawingID:   "cached",
	}))

	r := NewResolver(nil, cache, nil)

	img, ok := r.Resolve(context.Background(), Request{DrawingID: "cached"})
	require.True(t, ok)
	assert.Equal(t, 16, img.Bounds().Dx())

	// A stale entry for a different drawing never stands in.
	_, ok = r.Resolve(context.Background(), Request{DrawingID: "other"})
	assert.False(t, ok)
}

func TestResolveUnresolved(t *testing.T) {
	r := NewResolver(nil, nil, nil)

	_, ok := r.Resolve(context.Background(), Request{Record: &models.DrawingRecord{ID: "d1"}})
	assert.False(t, ok)

	_, ok = r.Resolve(context.Background(), Request{})
	assert.False(t, ok)
}
