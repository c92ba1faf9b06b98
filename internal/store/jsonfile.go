package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"calgrid/internal/model"
)

// JSONFile persists the whole event list as a single JSON document. Every
// write rewrites the file atomically.
type JSONFile struct {
	path string

	mu     sync.Mutex
	events map[string]model.Event
}

type jsonDoc struct {
	Events []model.Event `json:"events"`
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path, events: map[string]model.Event{}}
}

// Load reads the file. A missing file is an empty calendar.
func (f *JSONFile) Load(ctx context.Context) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.events = map[string]model.Event{}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	f.events = make(map[string]model.Event, len(doc.Events))
	for _, ev := range doc.Events {
		f.events[ev.ID] = ev
	}
	return doc.Events, nil
}

// Commit rewrites the document once with puts applied and deletes removed.
func (f *JSONFile) Commit(ctx context.Context, puts []model.Event, deletes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]model.Event, len(f.events)+len(puts))
	for id, ev := range f.events {
		next[id] = ev
	}
	for _, id := range deletes {
		delete(next, id)
	}
	for _, ev := range puts {
		next[ev.ID] = ev
	}
	return f.swap(next)
}

func (f *JSONFile) ReplaceSource(ctx context.Context, source string, events []model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]model.Event, len(f.events)+len(events))
	for id, ev := range f.events {
		if ev.Source != source {
			next[id] = ev
		}
	}
	for _, ev := range events {
		ev.Source = source
		next[ev.ID] = ev
	}

	return f.swap(next)
}

// swap installs next if it reaches disk. Caller holds f.mu.
func (f *JSONFile) swap(next map[string]model.Event) error {
	prev := f.events
	f.events = next
	if err := f.flush(); err != nil {
		f.events = prev
		return err
	}
	return nil
}

func (f *JSONFile) Close() error { return nil }

// flush writes f.events via temp file + rename. Caller holds f.mu.
func (f *JSONFile) flush() error {
	doc := jsonDoc{Events: make([]model.Event, 0, len(f.events))}
	for _, ev := range f.events {
		doc.Events = append(doc.Events, ev)
	}
	sort.Slice(doc.Events, func(i, j int) bool { return doc.Events[i].ID < doc.Events[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".calgrid-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}
