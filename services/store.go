package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

// Errors surfaced by the memory store.
var (
	ErrCorruptStore   = errors.New("memory store file is corrupt")
	ErrCallerNotFound = errors.New("caller not found")
)

const storeSchemaVersion = 1

type storeFile struct {
	SchemaVersion int                             `json:"schemaVersion"`
	Callers       map[string]*models.CallerRecord `json:"callers"`
}

// MemoryStore is a file-backed store of caller records, keyed by phone
// number. Every mutation is a full read-modify-write of the single JSON
// document; the mutex serializes those cycles so concurrent webhook
// handlers cannot clobber each other's writes (the file itself remains
// the sole source of truth between operations).
type MemoryStore struct {
	mu   sync.Mutex
	path string
}

func NewMemoryStore(path string) *MemoryStore {
	return &MemoryStore{path: path}
}

// Path returns the location of the persisted store file.
func (s *MemoryStore) Path() string { return s.path }

// Load reads and parses the whole store. On first use (no file yet) it
// initializes an empty store and persists it.
func (s *MemoryStore) Load() (map[string]*models.CallerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *MemoryStore) loadLocked() (map[string]*models.CallerRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		callers := map[string]*models.CallerRecord{}
		if err := s.saveLocked(callers); err != nil {
			return nil, err
		}
		return callers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
	}
	if file.Callers == nil {
		file.Callers = map[string]*models.CallerRecord{}
	}
	return file.Callers, nil
}

// saveLocked writes the whole mapping atomically: serialize to a temp
// file in the same directory, then rename over the store file.
func (s *MemoryStore) saveLocked(callers map[string]*models.CallerRecord) error {
	data, err := json.MarshalIndent(storeFile{
		SchemaVersion: storeSchemaVersion,
		Callers:       callers,
	}, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".memory-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Save overwrites the whole store with the given mapping.
func (s *MemoryStore) Save(callers map[string]*models.CallerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(callers)
}

// GetOrCreate returns the record for phone, creating and persisting a
// zero-state record on first contact.
func (s *MemoryStore) GetOrCreate(phone string) (*models.CallerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callers, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if caller, ok := callers[phone]; ok {
		return caller, nil
	}
	caller := models.NewCallerRecord(phone, time.Now().UTC())
	callers[phone] = caller
	if err := s.saveLocked(callers); err != nil {
		return nil, err
	}
	return caller, nil
}

// Get returns the record for phone, or ErrCallerNotFound.
func (s *MemoryStore) Get(phone string) (*models.CallerRecord, error) {
	callers, err := s.Load()
	if err != nil {
		return nil, err
	}
	caller, ok := callers[phone]
	if !ok {
		return nil, ErrCallerNotFound
	}
	return caller, nil
}

// Reset deletes the record for phone. Returns ErrCallerNotFound when no
// record exists; callers treat that as a report, not a failure.
func (s *MemoryStore) Reset(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callers, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := callers[phone]; !ok {
		return ErrCallerNotFound
	}
	delete(callers, phone)
	return s.saveLocked(callers)
}

// RecordCall folds one completed call into the caller's record and
// persists the result. The record is created on the spot if this is the
// first contact from the number. The whole load-modify-save cycle runs
// under the store mutex.
func (s *MemoryStore) RecordCall(phone string, signals models.CallSignals, questions []models.Question, policy AnswerPolicy) (*models.CallerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callers, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	caller, ok := callers[phone]
	if !ok {
		caller = models.NewCallerRecord(phone, signals.Date)
		callers[phone] = caller
	}

	ApplyCallSignals(caller, signals, questions, policy)
	opts := DefaultContextOptions()
	caller.CachedSummary = BuildCallSummary(caller, opts.RecentCalls, opts.MaxExcerptChars)

	if err := s.saveLocked(callers); err != nil {
		return nil, err
	}
	return caller, nil
}

// MarkAnswered manually appends a question to the caller's answered set.
// Marking an already answered question is a no-op.
func (s *MemoryStore) MarkAnswered(phone, questionID, notes string) (*models.CallerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callers, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	caller, ok := callers[phone]
	if !ok {
		return nil, ErrCallerNotFound
	}
	if caller.Answered(questionID) {
		return caller, nil
	}
	caller.QuestionsAnswered = append(caller.QuestionsAnswered, questionID)
	if caller.ConversationNotes == nil {
		caller.ConversationNotes = map[string]string{}
	}
	if notes == "" {
		notes = "Manually marked as answered"
	}
	caller.ConversationNotes[questionID] = notes
	if err := s.saveLocked(callers); err != nil {
		return nil, err
	}
	return caller, nil
}

// RebuildSummaries regenerates every caller's cached summary from their
// stored transcripts. Used after a summary-format change.
func (s *MemoryStore) RebuildSummaries() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callers, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	opts := DefaultContextOptions()
	for _, caller := range callers {
		caller.CachedSummary = BuildCallSummary(caller, opts.RecentCalls, opts.MaxExcerptChars)
	}
	if err := s.saveLocked(callers); err != nil {
		return 0, err
	}
	return len(callers), nil
}
