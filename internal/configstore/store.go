// Package configstore holds the dashboard document in memory and keeps its
// backing copy in sync. Every mutation is written through before it returns.
package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"

	"github.com/thatsimonsguy/plc-dashboard/internal/events"
	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

var (
	ErrDuplicateID     = errors.New("identifier already in use")
	ErrInvalidDataType = errors.New("invalid data type")
	ErrInvalidSettings = errors.New("invalid controller settings")
	ErrInvalidTile     = errors.New("invalid tile")
)

type Store struct {
	backend Backend

	// mu guards doc and serialises writes to the backend.
	mu  sync.RWMutex
	doc *model.Document

	changed *events.Feed[struct{}]
}

// New returns a store holding an empty document. Call Load before use.
func New(backend Backend) *Store {
	doc := &model.Document{PlcConfiguration: model.DefaultControllerSettings()}
	upgrade(doc)
	return &Store{
		backend: backend,
		doc:     doc,
		changed: events.NewFeed[struct{}]("configuration"),
	}
}

// Subscribe registers fn to run after every successful save. Listeners run
// synchronously on the saving goroutine, after the store lock is released,
// so they may read the store.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	return s.changed.Subscribe(func(struct{}) { fn() })
}

// Load reads the backing document. A missing document is replaced by the
// default one and written immediately; an unreadable one is logged and
// replaced in memory by an empty document. Only a failed write is returned.
func (s *Store) Load() error {
	data, err := s.backend.Read()
	if errors.Is(err, ErrNotFound) {
		s.mu.Lock()
		s.doc = model.DefaultDocument()
		err = s.saveLocked()
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("write default configuration: %w", err)
		}
		log.Info().Str("location", s.backend.Location()).Msg("Created default configuration")
		s.changed.Publish(struct{}{})
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("location", s.backend.Location()).Msg("Failed to read configuration")
		s.resetToEmpty()
		return nil
	}

	doc, err := decode(data)
	if err != nil {
		log.Error().Err(err).Str("location", s.backend.Location()).Msg("Failed to parse configuration")
		s.resetToEmpty()
		return nil
	}

	migrated := upgrade(doc)

	s.mu.Lock()
	s.doc = doc
	if migrated {
		err = s.saveLocked()
	}
	s.mu.Unlock()

	if migrated {
		if err != nil {
			return fmt.Errorf("write migrated configuration: %w", err)
		}
		log.Info().Msg("Upgraded configuration written back")
		s.changed.Publish(struct{}{})
	}

	log.Info().
		Str("location", s.backend.Location()).
		Int("data_points", len(doc.DataPoints)).
		Int("dashboards", len(doc.Dashboards)).
		Msg("Configuration loaded")
	return nil
}

func (s *Store) resetToEmpty() {
	doc := &model.Document{PlcConfiguration: model.DefaultControllerSettings()}
	upgrade(doc)
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// Save writes the current document and notifies subscribers.
func (s *Store) Save() error {
	s.mu.Lock()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.changed.Publish(struct{}{})
	return nil
}

func (s *Store) saveLocked() error {
	s.doc.ClearLegacy()
	data, err := encode(s.doc)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if err := s.backend.Write(data); err != nil {
		log.Error().Err(err).Str("location", s.backend.Location()).Msg("Failed to save configuration")
		return fmt.Errorf("save configuration: %w", err)
	}
	log.Debug().Str("location", s.backend.Location()).Msg("Configuration saved")
	return nil
}

// mutate applies fn under the lock and saves when fn reports a change. The
// in-memory document keeps the change even if the write fails.
func (s *Store) mutate(fn func(doc *model.Document) (bool, error)) (bool, error) {
	s.mu.Lock()
	changed, err := fn(s.doc)
	if err != nil || !changed {
		s.mu.Unlock()
		return false, err
	}
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return true, err
	}
	s.changed.Publish(struct{}{})
	return true, nil
}

func decode(data []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func encode(doc *model.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Document returns a deep copy of the current document.
func (s *Store) Document() *model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

func (s *Store) Settings() model.ControllerSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.PlcConfiguration
}

func (s *Store) DataPoints() []model.DataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DataPoint{}, s.doc.DataPoints...)
}

// Snapshot returns settings and data points taken under one lock.
func (s *Store) Snapshot() (model.ControllerSettings, []model.DataPoint) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.PlcConfiguration, append([]model.DataPoint{}, s.doc.DataPoints...)
}

func (s *Store) DataPoint(id string) (model.DataPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dp := range s.doc.DataPoints {
		if dp.ID == id {
			return dp, true
		}
	}
	return model.DataPoint{}, false
}

func (s *Store) Dashboards() []model.Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Dashboard, len(s.doc.Dashboards))
	for i, d := range s.doc.Dashboards {
		out[i] = d.Clone()
	}
	return out
}

func (s *Store) GetDashboard(id string) (model.Dashboard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.doc.Dashboards {
		if d.ID == id {
			return d.Clone(), true
		}
	}
	return model.Dashboard{}, false
}

func (s *Store) SettingsPIN() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.SettingsPIN
}
