package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLBackend stores states in the dialog_states and dialog_history tables.
// It works with any sqlx driver whose bind style sqlx knows.
type SQLBackend struct {
	db *sqlx.DB
}

// NewSQLBackend wraps an open database whose schema is migrated.
func NewSQLBackend(db *sqlx.DB) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("state: db must not be nil")
	}
	return &SQLBackend{db: db}, nil
}

type stateRow struct {
	ID                string `db:"id"`
	BotID             string `db:"bot_id"`
	Platform          string `db:"platform"`
	ChatID            string `db:"chat_id"`
	CurrentStep       string `db:"current_step"`
	CollectedData     []byte `db:"collected_data"`
	LastInteractionAt int64  `db:"last_interaction_at"`
	CreatedAt         int64  `db:"created_at"`
}

type historyRow struct {
	ID          int64  `db:"id"`
	DialogID    string `db:"dialog_id"`
	StepID      string `db:"step_id"`
	MessageType string `db:"message_type"`
	Content     string `db:"content"`
	CreatedAt   int64  `db:"created_at"`
}

const stateColumns = `id, bot_id, platform, chat_id, current_step, collected_data, last_interaction_at, created_at`

func (b *SQLBackend) Get(ctx context.Context, key Key) (*DialogState, error) {
	q := b.db.Rebind(`SELECT ` + stateColumns + ` FROM dialog_states WHERE bot_id = ? AND platform = ? AND chat_id = ?`)
	return b.getOne(ctx, q, key.BotID, key.Platform, key.ChatID)
}

func (b *SQLBackend) GetByID(ctx context.Context, id string) (*DialogState, error) {
	q := b.db.Rebind(`SELECT ` + stateColumns + ` FROM dialog_states WHERE id = ?`)
	return b.getOne(ctx, q, id)
}

func (b *SQLBackend) getOne(ctx context.Context, q string, args ...any) (*DialogState, error) {
	var row stateRow
	if err := b.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: select: %w", err)
	}
	return row.decode()
}

func (b *SQLBackend) Create(ctx context.Context, s *DialogState) error {
	row, err := encodeRow(s)
	if err != nil {
		return err
	}
	q := b.db.Rebind(`INSERT INTO dialog_states (` + stateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = b.db.ExecContext(ctx, q,
		row.ID, row.BotID, row.Platform, row.ChatID, row.CurrentStep,
		string(row.CollectedData), row.LastInteractionAt, row.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, s.Key())
		}
		return fmt.Errorf("state: insert: %w", err)
	}
	return nil
}

func (b *SQLBackend) Update(ctx context.Context, s *DialogState) error {
	row, err := encodeRow(s)
	if err != nil {
		return err
	}
	q := b.db.Rebind(`UPDATE dialog_states SET current_step = ?, collected_data = ?, last_interaction_at = ? WHERE id = ?`)
	res, err := b.db.ExecContext(ctx, q, row.CurrentStep, string(row.CollectedData), row.LastInteractionAt, row.ID)
	if err != nil {
		return fmt.Errorf("state: update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, id string) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: delete begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dialog_history WHERE dialog_id = ?`), id); err != nil {
		return fmt.Errorf("state: delete history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM dialog_states WHERE id = ?`), id); err != nil {
		return fmt.Errorf("state: delete state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: delete commit: %w", err)
	}
	return nil
}

func (b *SQLBackend) AddHistory(ctx context.Context, e HistoryEntry) error {
	q := b.db.Rebind(`INSERT INTO dialog_history (dialog_id, step_id, message_type, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := b.db.ExecContext(ctx, q, e.DialogID, e.StepID, e.MessageType, e.Content, e.CreatedAt.UnixMicro()); err != nil {
		return fmt.Errorf("state: insert history: %w", err)
	}
	return nil
}

func (b *SQLBackend) GetHistory(ctx context.Context, dialogID string, limit, offset int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}
	q := b.db.Rebind(`SELECT id, dialog_id, step_id, message_type, content, created_at
		FROM dialog_history WHERE dialog_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	var rows []historyRow
	if err := b.db.SelectContext(ctx, &rows, q, dialogID, limit, offset); err != nil {
		return nil, fmt.Errorf("state: select history: %w", err)
	}
	out := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, HistoryEntry{
			ID:          r.ID,
			DialogID:    r.DialogID,
			StepID:      r.StepID,
			MessageType: r.MessageType,
			Content:     r.Content,
			CreatedAt:   time.UnixMicro(r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func encodeRow(s *DialogState) (stateRow, error) {
	data := s.CollectedData
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return stateRow{}, fmt.Errorf("state: encode collected_data: %w", err)
	}
	return stateRow{
		ID:                s.ID,
		BotID:             s.BotID,
		Platform:          s.Platform,
		ChatID:            s.ChatID,
		CurrentStep:       s.CurrentStep,
		CollectedData:     raw,
		LastInteractionAt: s.LastInteractionAt.UnixMicro(),
		CreatedAt:         s.CreatedAt.UnixMicro(),
	}, nil
}

func (r stateRow) decode() (*DialogState, error) {
	data := map[string]any{}
	if len(r.CollectedData) > 0 {
		if err := json.Unmarshal(r.CollectedData, &data); err != nil {
			return nil, fmt.Errorf("state: decode collected_data for %s: %w", r.ID, err)
		}
	}
	return &DialogState{
		ID:                r.ID,
		BotID:             r.BotID,
		Platform:          r.Platform,
		ChatID:            r.ChatID,
		CurrentStep:       r.CurrentStep,
		CollectedData:     data,
		LastInteractionAt: time.UnixMicro(r.LastInteractionAt).UTC(),
		CreatedAt:         time.UnixMicro(r.CreatedAt).UTC(),
	}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
