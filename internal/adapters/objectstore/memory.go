package objectstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryStorage держит файлы в памяти. Используется в dev-режиме и тестах.
type MemoryStorage struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

// NewMemoryStorage создаёт хранилище, выдающее ссылки вида baseURL/name.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://documents"
	}
	return &MemoryStorage{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Upload(_ context.Context, data []byte, name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("object name is required")
	}
	m.mu.Lock()
	m.objects[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return m.baseURL + "/" + escapeKey(name), nil
}

// Object возвращает сохранённый файл.
func (m *MemoryStorage) Object(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[name]
	return data, ok
}
