package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSession struct {
	closed bool
}

func (s *fakeSession) Close() { s.closed = true }

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	assert.False(t, r.IsOnline("alice"))

	first := &fakeSession{}
	r.Register("alice", first)
	assert.True(t, r.IsOnline("alice"))
	assert.False(t, first.closed)

	// A second registration evicts the first.
	second := &fakeSession{}
	r.Register("alice", second)
	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.True(t, r.IsOnline("alice"))

	// The replaced session's teardown must not evict its successor.
	r.Unregister("alice", first)
	assert.True(t, r.IsOnline("alice"))

	r.Unregister("alice", second)
	assert.False(t, r.IsOnline("alice"))
}
