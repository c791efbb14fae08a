// Package storage keeps verification screenshots in object storage. The
// duel store only records the returned object key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/slug"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("object not found")

// Store puts and fetches screenshot objects.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// ScreenshotKey builds the object key for a player's screenshot, e.g.
// "screenshots/chess-blitz/<duel>/<user>-20250601T120000Z.png".
func ScreenshotKey(gameType, gameMode, duelID, userID, contentType string, at time.Time) string {
	return fmt.Sprintf("screenshots/%s/%s/%s-%s%s",
		slug.Make(gameType+" "+gameMode), duelID, slug.Make(userID),
		at.UTC().Format("20060102T150405Z"), extFor(contentType))
}

func extFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	return ""
}

type object struct {
	contentType string
	body        []byte
}

// Memory is an in-process Store used in development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{contentType: contentType, body: append([]byte(nil), body...)}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), o.body...), o.contentType, nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
