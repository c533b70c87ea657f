package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"vibin_realtime/models"
)

// PostgresStore implements Store on Postgres. Conditional writes are single
// statements (ON CONFLICT DO NOTHING, UPDATE ... WHERE status = $n), never a
// read followed by a write.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS interests (
			from_user_id VARCHAR(255) NOT NULL,
			to_user_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			match_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (from_user_id, to_user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_interests_to ON interests(to_user_id)`,

		// append-only audit trail
		`CREATE TABLE IF NOT EXISTS interest_transitions (
			id BIGSERIAL PRIMARY KEY,
			from_user_id VARCHAR(255) NOT NULL,
			to_user_id VARCHAR(255) NOT NULL,
			from_status VARCHAR(32) NOT NULL DEFAULT '',
			to_status VARCHAR(32) NOT NULL,
			actor VARCHAR(16) NOT NULL,
			at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_interest_transitions_pair
		ON interest_transitions(from_user_id, to_user_id, id)`,

		`CREATE TABLE IF NOT EXISTS matches (
			match_id VARCHAR(64) PRIMARY KEY,
			user_a_id VARCHAR(255) NOT NULL,
			user_b_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			conversation_id VARCHAR(64) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL,
			CHECK (user_a_id < user_b_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_matches_user_a ON matches(user_a_id)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_user_b ON matches(user_b_id)`,

		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			conversation_id VARCHAR(64) NOT NULL,
			message_id VARCHAR(64) NOT NULL,
			from_user_id VARCHAR(255) NOT NULL,
			to_user_id VARCHAR(255) NOT NULL,
			text TEXT NOT NULL,
			type VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			read_at TIMESTAMPTZ,
			is_delivered BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (conversation_id, message_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_order
		ON messages(conversation_id, created_at, seq)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

const interestColumns = `from_user_id, to_user_id, status, match_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInterest(row rowScanner) (*models.Interest, error) {
	var (
		in      models.Interest
		matchID sql.NullString
	)
	if err := row.Scan(&in.FromUserID, &in.ToUserID, &in.Status, &matchID, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return nil, err
	}
	if matchID.Valid {
		in.MatchID = &matchID.String
	}
	return &in, nil
}

func (s *PostgresStore) GetInterest(ctx context.Context, from, to string) (*models.Interest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interestColumns+` FROM interests WHERE from_user_id = $1 AND to_user_id = $2`, from, to)
	in, err := scanInterest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interest: %w", err)
	}
	return in, nil
}

func (s *PostgresStore) PutInterest(ctx context.Context, interest models.Interest, expectedStatus string) error {
	var (
		result sql.Result
		err    error
	)
	if expectedStatus == "" {
		result, err = s.db.ExecContext(ctx, `
			INSERT INTO interests (`+interestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (from_user_id, to_user_id) DO NOTHING`,
			interest.FromUserID, interest.ToUserID, interest.Status, interest.MatchID, interest.CreatedAt, interest.UpdatedAt)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE interests
			SET status = $3, match_id = $4, created_at = $5, updated_at = $6
			WHERE from_user_id = $1 AND to_user_id = $2 AND status = $7`,
			interest.FromUserID, interest.ToUserID, interest.Status, interest.MatchID, interest.CreatedAt, interest.UpdatedAt, expectedStatus)
	}
	if err != nil {
		return fmt.Errorf("failed to write interest: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *PostgresStore) ListOutgoing(ctx context.Context, from string) ([]models.Interest, error) {
	return s.queryInterests(ctx, `SELECT `+interestColumns+` FROM interests WHERE from_user_id = $1 ORDER BY created_at`, from)
}

func (s *PostgresStore) ListIncoming(ctx context.Context, to string) ([]models.Interest, error) {
	return s.queryInterests(ctx, `SELECT `+interestColumns+` FROM interests WHERE to_user_id = $1 ORDER BY created_at`, to)
}

func (s *PostgresStore) queryInterests(ctx context.Context, query string, arg string) ([]models.Interest, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list interests: %w", err)
	}
	defer rows.Close()

	interests := []models.Interest{}
	for rows.Next() {
		in, err := scanInterest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interest: %w", err)
		}
		interests = append(interests, *in)
	}
	return interests, rows.Err()
}

func (s *PostgresStore) AppendTransition(ctx context.Context, t models.InterestTransition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interest_transitions (from_user_id, to_user_id, from_status, to_status, actor, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.FromUserID, t.ToUserID, t.FromStatus, t.ToStatus, t.Actor, t.At)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransitions(ctx context.Context, from, to string) ([]models.InterestTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_user_id, to_user_id, from_status, to_status, actor, at
		FROM interest_transitions
		WHERE from_user_id = $1 AND to_user_id = $2
		ORDER BY id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []models.InterestTransition{}
	for rows.Next() {
		var t models.InterestTransition
		if err := rows.Scan(&t.FromUserID, &t.ToUserID, &t.FromStatus, &t.ToStatus, &t.Actor, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

const matchColumns = `match_id, user_a_id, user_b_id, status, conversation_id, created_at`

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	if err := row.Scan(&m.MatchID, &m.UserAID, &m.UserBID, &m.Status, &m.ConversationID, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateMatchIfAbsent(ctx context.Context, match models.Match) (*models.Match, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id) DO NOTHING`,
		match.MatchID, match.UserAID, match.UserBID, match.Status, match.ConversationID, match.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create match: %w", err)
	}
	if err := requireOneRow(result); err == nil {
		return &match, true, nil
	} else if !errors.Is(err, ErrConditionFailed) {
		return nil, false, err
	}
	existing, err := s.GetMatch(ctx, match.MatchID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	return s.getMatchWhere(ctx, `match_id = $1`, matchID)
}

func (s *PostgresStore) GetMatchByConversation(ctx context.Context, conversationID string) (*models.Match, error) {
	return s.getMatchWhere(ctx, `conversation_id = $1`, conversationID)
}

func (s *PostgresStore) getMatchWhere(ctx context.Context, where string, arg string) (*models.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, userID string) ([]models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE user_a_id = $1 OR user_b_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := []models.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

const messageColumns = `conversation_id, message_id, from_user_id, to_user_id, text, type, created_at, read_at, is_delivered`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m      models.Message
		readAt sql.NullTime
	)
	if err := row.Scan(&m.ConversationID, &m.MessageID, &m.FromUserID, &m.ToUserID, &m.Text, &m.Type, &m.CreatedAt, &readAt, &m.IsDelivered); err != nil {
		return nil, err
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return &m, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, m models.Message) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (conversation_id, message_id) DO NOTHING`,
		m.ConversationID, m.MessageID, m.FromUserID, m.ToUserID, m.Text, m.Type, m.CreatedAt, m.ReadAt, m.IsDelivered)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return requireOneRow(result)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`, seq FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) latest ORDER BY created_at, seq`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_delivered = TRUE
		WHERE conversation_id = $1 AND message_id = $2 AND NOT is_delivered`,
		conversationID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark delivered: %w", err)
	}
	return s.GetMessage(ctx, conversationID, messageID)
}

func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, messageID string, at time.Time) (*models.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND message_id = $2 AND read_at IS NULL`,
		conversationID, messageID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to mark read: %w", err)
	}
	return s.GetMessage(ctx, conversationID, messageID)
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND to_user_id = $2 AND read_at IS NULL
		RETURNING `+messageColumns,
		conversationID, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	defer rows.Close()

	changed := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		changed = append(changed, *m)
	}
	return changed, rows.Err()
}
