// Package sqlite provides the SQLite-backed dm store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/emberhollow/gloomvale/internal/platform/storage/sqlitemigrate"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage/sqlite/migrations"
)

// Store provides SQLite-backed persistence for dm state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Open opens a dm SQLite store at the provided path and applies embedded
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetPlayer loads one player by id.
func (s *Store) GetPlayer(ctx context.Context, playerID int64) (storage.PlayerRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PlayerRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, account_id, name, level, xp, gold, hp, max_hp, strength, agility,
       constitution, skill_points, is_alive, x, y, spawn_x, spawn_y,
       damage_roll, attack_bonus, damage_bonus, armor_bonus, created_at, updated_at
FROM players
WHERE id = ?
`, playerID)
	record, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PlayerRecord{}, storage.ErrNotFound
		}
		return storage.PlayerRecord{}, fmt.Errorf("get player: %w", err)
	}
	return record, nil
}

// GetPlayerByName loads one player by unique name.
func (s *Store) GetPlayerByName(ctx context.Context, name string) (storage.PlayerRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PlayerRecord{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, account_id, name, level, xp, gold, hp, max_hp, strength, agility,
       constitution, skill_points, is_alive, x, y, spawn_x, spawn_y,
       damage_roll, attack_bonus, damage_bonus, armor_bonus, created_at, updated_at
FROM players
WHERE name = ?
`, name)
	record, err := scanPlayer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PlayerRecord{}, storage.ErrNotFound
		}
		return storage.PlayerRecord{}, fmt.Errorf("get player by name: %w", err)
	}
	return record, nil
}

// PutPlayer inserts or updates one player. A zero ID inserts; the persisted
// record is returned with timestamps and the assigned id filled in.
func (s *Store) PutPlayer(ctx context.Context, record storage.PlayerRecord) (storage.PlayerRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PlayerRecord{}, err
	}
	if strings.TrimSpace(record.Name) == "" {
		return storage.PlayerRecord{}, fmt.Errorf("player name is required")
	}

	now := time.Now().UTC()
	record.UpdatedAt = now

	if record.ID == 0 {
		record.CreatedAt = now
		result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO players (
    account_id, name, level, xp, gold, hp, max_hp, strength, agility,
    constitution, skill_points, is_alive, x, y, spawn_x, spawn_y,
    damage_roll, attack_bonus, damage_bonus, armor_bonus, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, record.AccountID, record.Name, record.Level, record.XP, record.Gold,
			record.HP, record.MaxHP, record.Strength, record.Agility,
			record.Constitution, record.SkillPoints, boolToInt(record.IsAlive),
			record.X, record.Y, record.SpawnX, record.SpawnY,
			record.DamageRoll, record.AttackBonus, record.DamageBonus, record.ArmorBonus,
			toMillis(record.CreatedAt), toMillis(record.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return storage.PlayerRecord{}, storage.ErrConflict
			}
			return storage.PlayerRecord{}, fmt.Errorf("insert player: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return storage.PlayerRecord{}, fmt.Errorf("insert player id: %w", err)
		}
		record.ID = id
		return record, nil
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE players SET
    account_id = ?, name = ?, level = ?, xp = ?, gold = ?, hp = ?, max_hp = ?,
    strength = ?, agility = ?, constitution = ?, skill_points = ?, is_alive = ?,
    x = ?, y = ?, spawn_x = ?, spawn_y = ?, damage_roll = ?,
    attack_bonus = ?, damage_bonus = ?, armor_bonus = ?, updated_at = ?
WHERE id = ?
`, record.AccountID, record.Name, record.Level, record.XP, record.Gold,
		record.HP, record.MaxHP, record.Strength, record.Agility,
		record.Constitution, record.SkillPoints, boolToInt(record.IsAlive),
		record.X, record.Y, record.SpawnX, record.SpawnY, record.DamageRoll,
		record.AttackBonus, record.DamageBonus, record.ArmorBonus,
		toMillis(record.UpdatedAt), record.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.PlayerRecord{}, storage.ErrConflict
		}
		return storage.PlayerRecord{}, fmt.Errorf("update player: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.PlayerRecord{}, fmt.Errorf("update player rows: %w", err)
	}
	if affected == 0 {
		return storage.PlayerRecord{}, storage.ErrNotFound
	}
	return record, nil
}

// GetMonster loads one monster by id.
func (s *Store) GetMonster(ctx context.Context, monsterID int64) (storage.MonsterRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.MonsterRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, level, hp, max_hp, strength, agility, is_alive, x, y,
       damage_roll, created_at, updated_at
FROM monsters
WHERE id = ?
`, monsterID)
	record, err := scanMonster(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MonsterRecord{}, storage.ErrNotFound
		}
		return storage.MonsterRecord{}, fmt.Errorf("get monster: %w", err)
	}
	return record, nil
}

// PutMonster inserts or updates one monster.
func (s *Store) PutMonster(ctx context.Context, record storage.MonsterRecord) (storage.MonsterRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.MonsterRecord{}, err
	}
	if strings.TrimSpace(record.Name) == "" {
		return storage.MonsterRecord{}, fmt.Errorf("monster name is required")
	}

	now := time.Now().UTC()
	record.UpdatedAt = now

	if record.ID == 0 {
		record.CreatedAt = now
		result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO monsters (name, level, hp, max_hp, strength, agility, is_alive, x, y, damage_roll, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, record.Name, record.Level, record.HP, record.MaxHP, record.Strength,
			record.Agility, boolToInt(record.IsAlive), record.X, record.Y,
			record.DamageRoll, toMillis(record.CreatedAt), toMillis(record.UpdatedAt))
		if err != nil {
			return storage.MonsterRecord{}, fmt.Errorf("insert monster: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return storage.MonsterRecord{}, fmt.Errorf("insert monster id: %w", err)
		}
		record.ID = id
		return record, nil
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE monsters SET
    name = ?, level = ?, hp = ?, max_hp = ?, strength = ?, agility = ?,
    is_alive = ?, x = ?, y = ?, damage_roll = ?, updated_at = ?
WHERE id = ?
`, record.Name, record.Level, record.HP, record.MaxHP, record.Strength,
		record.Agility, boolToInt(record.IsAlive), record.X, record.Y,
		record.DamageRoll, toMillis(record.UpdatedAt), record.ID)
	if err != nil {
		return storage.MonsterRecord{}, fmt.Errorf("update monster: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.MonsterRecord{}, fmt.Errorf("update monster rows: %w", err)
	}
	if affected == 0 {
		return storage.MonsterRecord{}, storage.ErrNotFound
	}
	return record, nil
}

// DeleteMonster removes one monster by id.
func (s *Store) DeleteMonster(ctx context.Context, monsterID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM monsters WHERE id = ?`, monsterID)
	if err != nil {
		return fmt.Errorf("delete monster: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete monster rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendCombatLog records one immutable combat-history entry.
func (s *Store) AppendCombatLog(ctx context.Context, record storage.CombatLogRecord) (storage.CombatLogRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.CombatLogRecord{}, err
	}
	record.CreatedAt = time.Now().UTC()
	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_logs (attacker_id, attacker_kind, defender_id, defender_kind, damage, x, y, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, record.AttackerID, record.AttackerKind, record.DefenderID, record.DefenderKind,
		record.Damage, record.X, record.Y, toMillis(record.CreatedAt))
	if err != nil {
		return storage.CombatLogRecord{}, fmt.Errorf("append combat log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.CombatLogRecord{}, fmt.Errorf("append combat log id: %w", err)
	}
	record.ID = id
	return record, nil
}

// ListCombatLogsByAttacker lists an attacker's combat history newest-first.
func (s *Store) ListCombatLogsByAttacker(ctx context.Context, attackerID int64, limit int) ([]storage.CombatLogRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, attacker_id, attacker_kind, defender_id, defender_kind, damage, x, y, created_at
FROM combat_logs
WHERE attacker_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, attackerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list combat logs: %w", err)
	}
	defer rows.Close()

	var records []storage.CombatLogRecord
	for rows.Next() {
		var record storage.CombatLogRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.AttackerID, &record.AttackerKind,
			&record.DefenderID, &record.DefenderKind, &record.Damage,
			&record.X, &record.Y, &createdAt); err != nil {
			return nil, fmt.Errorf("scan combat log: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate combat logs: %w", err)
	}
	return records, nil
}

// PutIntent inserts one pending combat intent.
func (s *Store) PutIntent(ctx context.Context, record storage.CombatIntentRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("intent id is required")
	}
	if record.Status == "" {
		record.Status = storage.IntentStatusPending
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO combat_intents (id, payload_json, status, attempt_count, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, record.ID, record.PayloadJSON, string(record.Status), record.AttemptCount,
		record.LastError, toMillis(record.CreatedAt), toMillis(record.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert combat intent: %w", err)
	}
	return nil
}

// GetIntent loads one combat intent by id.
func (s *Store) GetIntent(ctx context.Context, intentID string) (storage.CombatIntentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.CombatIntentRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, payload_json, status, attempt_count, last_error, created_at, updated_at, applied_at
FROM combat_intents
WHERE id = ?
`, intentID)
	record, err := scanIntent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CombatIntentRecord{}, storage.ErrNotFound
		}
		return storage.CombatIntentRecord{}, fmt.Errorf("get combat intent: %w", err)
	}
	return record, nil
}

// MarkIntentApplied transitions one intent to applied.
func (s *Store) MarkIntentApplied(ctx context.Context, intentID string, appliedAt time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE combat_intents
SET status = ?, applied_at = ?, updated_at = ?
WHERE id = ?
`, string(storage.IntentStatusApplied), toMillis(appliedAt), toMillis(time.Now().UTC()), intentID)
	if err != nil {
		return fmt.Errorf("mark intent applied: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark intent applied rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkIntentFailed records one failed application attempt so it can be
// retried later.
func (s *Store) MarkIntentFailed(ctx context.Context, intentID string, lastError string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE combat_intents
SET status = ?, attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
WHERE id = ?
`, string(storage.IntentStatusFailed), lastError, toMillis(time.Now().UTC()), intentID)
	if err != nil {
		return fmt.Errorf("mark intent failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark intent failed rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPendingIntents lists unapplied intents oldest-first. Failed intents are
// included because they are retry candidates.
func (s *Store) ListPendingIntents(ctx context.Context, limit int) ([]storage.CombatIntentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, payload_json, status, attempt_count, last_error, created_at, updated_at, applied_at
FROM combat_intents
WHERE status IN (?, ?)
ORDER BY created_at ASC, id ASC
LIMIT ?
`, string(storage.IntentStatusPending), string(storage.IntentStatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	defer rows.Close()

	var records []storage.CombatIntentRecord
	for rows.Next() {
		record, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan combat intent: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate combat intents: %w", err)
	}
	return records, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func scanPlayer(scan func(dest ...any) error) (storage.PlayerRecord, error) {
	var record storage.PlayerRecord
	var isAlive int
	var createdAt, updatedAt int64
	err := scan(&record.ID, &record.AccountID, &record.Name, &record.Level,
		&record.XP, &record.Gold, &record.HP, &record.MaxHP,
		&record.Strength, &record.Agility, &record.Constitution,
		&record.SkillPoints, &isAlive, &record.X, &record.Y,
		&record.SpawnX, &record.SpawnY, &record.DamageRoll,
		&record.AttackBonus, &record.DamageBonus, &record.ArmorBonus,
		&createdAt, &updatedAt)
	if err != nil {
		return storage.PlayerRecord{}, err
	}
	record.IsAlive = isAlive != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func scanMonster(scan func(dest ...any) error) (storage.MonsterRecord, error) {
	var record storage.MonsterRecord
	var isAlive int
	var createdAt, updatedAt int64
	err := scan(&record.ID, &record.Name, &record.Level, &record.HP,
		&record.MaxHP, &record.Strength, &record.Agility, &isAlive,
		&record.X, &record.Y, &record.DamageRoll, &createdAt, &updatedAt)
	if err != nil {
		return storage.MonsterRecord{}, err
	}
	record.IsAlive = isAlive != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func scanIntent(scan func(dest ...any) error) (storage.CombatIntentRecord, error) {
	var record storage.CombatIntentRecord
	var status string
	var createdAt, updatedAt int64
	var appliedAt sql.NullInt64
	err := scan(&record.ID, &record.PayloadJSON, &status, &record.AttemptCount,
		&record.LastError, &createdAt, &updatedAt, &appliedAt)
	if err != nil {
		return storage.CombatIntentRecord{}, err
	}
	record.Status = storage.IntentStatus(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if appliedAt.Valid {
		applied := fromMillis(appliedAt.Int64)
		record.AppliedAt = &applied
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
