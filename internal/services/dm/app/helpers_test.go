package app

import (
	"context"
	"sync"
	"time"

	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage"
)

type memPlayerStore struct {
	mu      sync.Mutex
	nextID  int64
	players map[int64]storage.PlayerRecord
}

func newMemPlayerStore() *memPlayerStore {
	return &memPlayerStore{players: make(map[int64]storage.PlayerRecord)}
}

func (m *memPlayerStore) GetPlayer(_ context.Context, playerID int64) (storage.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.players[playerID]
	if !ok {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memPlayerStore) GetPlayerByName(_ context.Context, name string) (storage.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.players {
		if record.Name == name {
			return record, nil
		}
	}
	return storage.PlayerRecord{}, storage.ErrNotFound
}

func (m *memPlayerStore) PutPlayer(_ context.Context, record storage.PlayerRecord) (storage.PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == 0 {
		m.nextID++
		record.ID = m.nextID
	}
	record.UpdatedAt = time.Now().UTC()
	m.players[record.ID] = record
	return record, nil
}

type memMonsterStore struct {
	mu       sync.Mutex
	nextID   int64
	monsters map[int64]storage.MonsterRecord
}

func newMemMonsterStore() *memMonsterStore {
	return &memMonsterStore{monsters: make(map[int64]storage.MonsterRecord)}
}

func (m *memMonsterStore) GetMonster(_ context.Context, monsterID int64) (storage.MonsterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.monsters[monsterID]
	if !ok {
		return storage.MonsterRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memMonsterStore) PutMonster(_ context.Context, record storage.MonsterRecord) (storage.MonsterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == 0 {
		m.nextID++
		record.ID = m.nextID
	}
	record.UpdatedAt = time.Now().UTC()
	m.monsters[record.ID] = record
	return record, nil
}

func (m *memMonsterStore) DeleteMonster(_ context.Context, monsterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monsters[monsterID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.monsters, monsterID)
	return nil
}

type memCombatLogStore struct {
	mu      sync.Mutex
	nextID  int64
	records []storage.CombatLogRecord
}

func (m *memCombatLogStore) AppendCombatLog(_ context.Context, record storage.CombatLogRecord) (storage.CombatLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	record.CreatedAt = time.Now().UTC()
	m.records = append(m.records, record)
	return record, nil
}

func (m *memCombatLogStore) ListCombatLogsByAttacker(_ context.Context, attackerID int64, limit int) ([]storage.CombatLogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.CombatLogRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].AttackerID == attackerID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

type memIntentStore struct {
	mu      sync.Mutex
	intents map[string]storage.CombatIntentRecord
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{intents: make(map[string]storage.CombatIntentRecord)}
}

func (m *memIntentStore) PutIntent(_ context.Context, record storage.CombatIntentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[record.ID]; ok {
		return storage.ErrConflict
	}
	if record.Status == "" {
		record.Status = storage.IntentStatusPending
	}
	record.CreatedAt = time.Now().UTC()
	m.intents[record.ID] = record
	return nil
}

func (m *memIntentStore) GetIntent(_ context.Context, intentID string) (storage.CombatIntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.intents[intentID]
	if !ok {
		return storage.CombatIntentRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (m *memIntentStore) MarkIntentApplied(_ context.Context, intentID string, appliedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.intents[intentID]
	if !ok {
		return storage.ErrNotFound
	}
	record.Status = storage.IntentStatusApplied
	record.AppliedAt = &appliedAt
	m.intents[intentID] = record
	return nil
}

func (m *memIntentStore) MarkIntentFailed(_ context.Context, intentID string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.intents[intentID]
	if !ok {
		return storage.ErrNotFound
	}
	record.Status = storage.IntentStatusFailed
	record.AttemptCount++
	record.LastError = lastError
	m.intents[intentID] = record
	return nil
}

func (m *memIntentStore) ListPendingIntents(_ context.Context, limit int) ([]storage.CombatIntentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.CombatIntentRecord
	for _, record := range m.intents {
		if record.Status == storage.IntentStatusApplied {
			continue
		}
		out = append(out, record)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Emit(_ context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) byType(typ event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, evt := range s.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}
