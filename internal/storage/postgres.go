package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Royal-Captain/ai-telegram-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) UserExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking user existence: %v", err)
	}
	return exists, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, username, first_name, last_name, joined_at,
		       is_premium, premium_expiry, referral_count,
		       is_banned, ban_reason, message_count, last_activity, settings
		FROM users
		WHERE id = $1`

	user := &models.User{}
	var (
		username, firstName, lastName, banReason sql.NullString
		premiumExpiry                            sql.NullTime
		settings                                 []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&username,
		&firstName,
		&lastName,
		&user.JoinedAt,
		&user.Premium,
		&premiumExpiry,
		&user.ReferralCount,
		&user.Banned,
		&banReason,
		&user.MessageCount,
		&user.LastActivity,
		&settings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %v", err)
	}

	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.BanReason = banReason.String
	if premiumExpiry.Valid {
		t := premiumExpiry.Time
		user.PremiumExpiry = &t
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &user.Settings); err != nil {
			return nil, fmt.Errorf("error decoding user settings: %v", err)
		}
	}
	return user, nil
}

func (s *PostgresStorage) AddUser(ctx context.Context, user *models.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return fmt.Errorf("error encoding user settings: %v", err)
	}

	joined := user.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}

	query := `
		INSERT INTO users (id, username, first_name, last_name, joined_at,
		                   is_premium, premium_expiry, referral_count,
		                   is_banned, ban_reason, message_count, last_activity, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), $12)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Username, user.FirstName, user.LastName, joined,
		user.Premium, user.PremiumExpiry, user.ReferralCount,
		user.Banned, user.BanReason, user.MessageCount, settings)
	if err != nil {
		return fmt.Errorf("error creating user: %v", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateUser(ctx context.Context, user *models.User) error {
	settings, err := json.Marshal(user.Settings)
	if err != nil {
		return fmt.Errorf("error encoding user settings: %v", err)
	}

	query := `
		UPDATE users
		SET username = $2, first_name = $3, last_name = $4,
		    is_premium = $5, premium_expiry = $6, referral_count = $7,
		    is_banned = $8, ban_reason = $9, message_count = $10,
		    last_activity = now(), settings = $11
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query,
		user.ID, user.Username, user.FirstName, user.LastName,
		user.Premium, user.PremiumExpiry, user.ReferralCount,
		user.Banned, user.BanReason, user.MessageCount, settings)
	if err != nil {
		return fmt.Errorf("error updating user: %v", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) DeleteUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting user: %v", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) UpdatePremiumStatus(ctx context.Context, id int64, premium bool, expiry time.Time) error {
	query := `
		UPDATE users
		SET is_premium = $2,
		    premium_expiry = CASE WHEN $2 THEN $3 ELSE NULL END
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id, premium, expiry)
	if err != nil {
		return fmt.Errorf("error updating premium status: %v", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) UpdateBanStatus(ctx context.Context, id int64, banned bool, reason string) error {
	query := `
		UPDATE users
		SET is_banned = $2, ban_reason = $3
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id, banned, reason)
	if err != nil {
		return fmt.Errorf("error updating ban status: %v", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) RecordActivity(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET message_count = message_count + 1, last_activity = now()
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("error recording activity: %v", err)
	}
	return checkAffected(result)
}

func (s *PostgresStorage) SaveConversation(ctx context.Context, id int64, title string, conv *models.Conversation) error {
	content, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("error encoding conversation: %v", err)
	}

	convID := conv.ID
	if convID == "" {
		convID = uuid.New().String()
	}

	query := `
		INSERT INTO conversations (id, user_id, title, content, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.db.ExecContext(ctx, query, convID, id, title, content, conv.StartedAt)
	if err != nil {
		return fmt.Errorf("error saving conversation: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetConversations(ctx context.Context, id int64, limit int) ([]*models.Conversation, error) {
	query := `
		SELECT id, user_id, title, content, started_at, saved_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY saved_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %v", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var content []byte
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &content, &conv.StartedAt, &conv.SavedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation: %v", err)
		}
		if err := json.Unmarshal(content, &conv.Turns); err != nil {
			return nil, fmt.Errorf("error decoding conversation: %v", err)
		}
		conv.MessageCount = len(conv.Turns)
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (s *PostgresStorage) PruneConversations(ctx context.Context, id int64, keep int) error {
	if keep <= 0 {
		return nil
	}
	query := `
		DELETE FROM conversations
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM conversations
			WHERE user_id = $1
			ORDER BY saved_at DESC
			LIMIT $2
		)`

	_, err := s.db.ExecContext(ctx, query, id, keep)
	if err != nil {
		return fmt.Errorf("error pruning conversations: %v", err)
	}
	return nil
}

func (s *PostgresStorage) GetReferralCount(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting referrals: %v", err)
	}
	return count, nil
}

func (s *PostgresStorage) AddReferral(ctx context.Context, referrerID, referredID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %v", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO referrals (referred_id, referrer_id) VALUES ($1, $2)`,
		referredID, referrerID)
	if err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation: the referred user is already linked
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReferral
		}
		return fmt.Errorf("error adding referral: %v", err)
	}

	// the link and the denormalized count commit together or not at all
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET referral_count = referral_count + 1 WHERE id = $1`, referrerID)
	if err != nil {
		return fmt.Errorf("error updating referral count: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing referral: %v", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
