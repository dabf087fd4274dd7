package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"recall/backend/features/document"
	"recall/backend/features/source"
	"recall/backend/internal/embed"
)

// memDocs keeps live documents by id and mirrors the soft-delete-then-insert
// contract of the Postgres store.
type memDocs struct {
	mu         sync.Mutex
	live       map[string]document.Document
	deleted    map[string]document.Document
	replaceErr error
	replaces   int
}

func newMemDocs() *memDocs {
	return &memDocs{live: map[string]document.Document{}, deleted: map[string]document.Document{}}
}

func (m *memDocs) LiveHashes(_ context.Context, userID string, hashes []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, h := range hashes {
		want[h] = true
	}
	out := map[string]bool{}
	for _, d := range m.live {
		if d.UserID == userID && want[d.ContentHash] {
			out[d.ContentHash] = true
		}
	}
	return out, nil
}

func (m *memDocs) ReplaceSources(_ context.Context, userID string, units []document.SourceUnit) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	var retired []string
	for _, u := range units {
		family := map[document.SourceType]bool{}
		for _, t := range u.Family {
			family[t] = true
		}
		for id, d := range m.live {
			if d.UserID == userID && d.SourceID == u.SourceID && family[d.SourceType] {
				d.IsDeleted = true
				m.deleted[id] = d
				delete(m.live, id)
				retired = append(retired, id)
			}
		}
		for _, d := range u.Documents {
			d.UserID = userID
			m.live[d.ID] = d
		}
	}
	return retired, nil
}

func (m *memDocs) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

type memVectors struct {
	mu        sync.Mutex
	vectors   map[string]document.Embedding
	upsertErr error
	deletes   [][]string
}

func newMemVectors() *memVectors {
	return &memVectors{vectors: map[string]document.Embedding{}}
}

func (m *memVectors) UpsertVectors(_ context.Context, embeddings []document.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range embeddings {
		m.vectors[e.DocumentID] = e
	}
	return nil
}

func (m *memVectors) DeleteVectors(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, ids)
	for _, id := range ids {
		delete(m.vectors, id)
	}
	return nil
}

func (m *memVectors) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors)
}

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, inputs []embed.Input) ([]embed.Output, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]embed.Output, len(inputs))
	for i, in := range inputs {
		out[i] = embed.Output{Input: in, Vector: []float32{float32(len(in.Text)), 1}}
	}
	return out, nil
}

type memSources struct {
	notes    []source.Note
	accounts map[string]source.Account
	threads  map[string]source.Thread
	events   map[string]source.Event
	fetched  [][]string
}

func (m *memSources) ListNotes(context.Context, string) ([]source.Note, error) {
	return m.notes, nil
}

func (m *memSources) GetAccount(_ context.Context, userID, accountID string) (*source.Account, error) {
	a, ok := m.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, source.ErrAccountNotFound
	}
	return &a, nil
}

func (m *memSources) ListThreadIDs(_ context.Context, _, accountID string) ([]string, error) {
	var ids []string
	for id, t := range m.threads {
		if t.AccountID == accountID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memSources) FetchThreads(_ context.Context, _ string, ids []string) ([]source.Thread, error) {
	m.fetched = append(m.fetched, ids)
	out := make([]source.Thread, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.threads[id])
	}
	return out, nil
}

func (m *memSources) ListEventIDs(_ context.Context, _, accountID string) ([]string, error) {
	var ids []string
	for id, e := range m.events {
		if e.AccountID == accountID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memSources) FetchEvents(_ context.Context, _ string, ids []string) ([]source.Event, error) {
	if len(ids) == 0 {
		return nil, errors.New("fetch with no ids")
	}
	out := make([]source.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.events[id])
	}
	return out, nil
}

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }
