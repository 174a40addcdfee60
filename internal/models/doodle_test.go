package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDoodle(t *testing.T) {
	d := &Doodle{
		Width:  400,
		Height: 300,
		Strokes: []Stroke{
			{Color: "#112233", Width: 2, Points: [][2]float64{{1, 2}, {3, 4}}},
		},
	}
	data, err := d.Encode()
	require.NoError(t, err)

	got, err := DecodeDoodle(data)
	require.NoError(t, err)
	assert.Equal(t, d.Width, got.Width)
	require.Len(t, got.Strokes, 1)
	assert.Equal(t, "#112233", got.Strokes[0].Color)
}

func TestDecodeDoodleRejectsUnrenderable(t *testing.T) {
	_, err := DecodeDoodle([]byte("garbage"))
	assert.Error(t, err)

	_, err = DecodeDoodle([]byte(`{"w":1,"h":1,"strokes":[]}`))
	assert.Error(t, err)

	_, err = DecodeDoodle([]byte(`{"w":1,"h":1,"strokes":[{"points":[]}]}`))
	assert.Error(t, err)
}

func TestDoodleBounds(t *testing.T) {
	d := &Doodle{Strokes: []Stroke{
		{Points: [][2]float64{{10, 20}, {-5, 40}}},
		{Points: [][2]float64{{30, 5}}},
	}}
	minX, minY, maxX, maxY, ok := d.Bounds()
	require.True(t, ok)
	assert.Equal(t, -5.0, minX)
	assert.Equal(t, 5.0, minY)
	assert.Equal(t, 30.0, maxX)
	assert.Equal(t, 40.0, maxY)

	_, _, _, _, ok = (&Doodle{}).Bounds()
	assert.False(t, ok)
}
