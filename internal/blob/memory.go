package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and ephemeral sessions.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	info Info
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Driver identifies the backend.
func (m *Memory) Driver() Driver { return DriverMemory }

// Put stores a new blob. Existing keys fail with ErrExists.
func (m *Memory) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if strings.TrimSpace(key) == "" {
		return Info{}, fmt.Errorf("empty key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	sum := sha256.Sum256(data)
	info := Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
		URL:          memoryURL(key),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists {
		return Info{}, fmt.Errorf("blob %s: %w", key, ErrExists)
	}
	m.objects[key] = memoryObject{data: data, info: info}
	return info, nil
}

// Get returns the blob contents and its description.
func (m *Memory) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return Info{}, nil, fmt.Errorf("blob %s not found", key)
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head returns the blob description without its contents.
func (m *Memory) Head(_ context.Context, key string) (Info, error) {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("blob %s not found", key)
	}
	return obj.info, nil
}

// Delete removes the blob, reporting whether it existed.
func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}

// List returns descriptions of blobs under prefix, sorted by key.
func (m *Memory) List(_ context.Context, prefix string) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []Info
	for key, obj := range m.objects {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			infos = append(infos, obj.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a stable pseudo URL; the in-memory store has no real
// endpoint to sign against.
func (m *Memory) PresignURL(_ context.Context, key string, opts SignedURLOptions) (string, error) {
	if opts.Method != "" && strings.ToUpper(opts.Method) != "GET" {
		return "", ErrUnsupported
	}
	return memoryURL(key), nil
}

func memoryURL(key string) string {
	return (&url.URL{Scheme: "http", Host: "memory.blob", Path: "/" + key}).String()
}
