package channels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"frameworks/pkg/crypto"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
)

// CredentialPurpose is the sealing purpose bound to the credentials column.
const CredentialPurpose = "channels.credentials"

// PostgresRegistry stores channels in bosun.channels. The UNIQUE routing_key
// column is the single source of truth for reverse lookups.
type PostgresRegistry struct {
	db     *sql.DB
	sealer *crypto.Sealer
	logger logging.Logger
}

// NewPostgresRegistry creates a registry backed by PostgreSQL. A nil sealer
// stores credentials as given.
func NewPostgresRegistry(db *sql.DB, sealer *crypto.Sealer, logger logging.Logger) *PostgresRegistry {
	return &PostgresRegistry{db: db, sealer: sealer, logger: logger}
}

const channelColumns = `id, tenant_id, platform, routing_key, display_number, credentials, status, connected_at, last_sync_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRegistry) scan(row rowScanner) (*Channel, error) {
	var ch Channel
	var status string
	var connectedAt, lastSyncAt sql.NullTime
	err := row.Scan(&ch.ID, &ch.TenantID, &ch.Platform, &ch.RoutingKey, &ch.DisplayNumber, &ch.Credentials,
		&status, &connectedAt, &lastSyncAt, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ch.Status = Status(status)
	if connectedAt.Valid {
		ch.ConnectedAt = &connectedAt.Time
	}
	if lastSyncAt.Valid {
		ch.LastSyncAt = &lastSyncAt.Time
	}
	if r.sealer != nil {
		plain, err := r.sealer.Open(ch.Credentials)
		if err != nil {
			return nil, fmt.Errorf("open credentials for channel %s: %w", ch.ID, err)
		}
		ch.Credentials = plain
	}
	return &ch, nil
}

func (r *PostgresRegistry) scanOne(row rowScanner) (*Channel, error) {
	ch, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ch, err
}

func (r *PostgresRegistry) seal(credentials string) (string, error) {
	if r.sealer == nil {
		return credentials, nil
	}
	return r.sealer.Seal(credentials)
}

// validID keeps malformed ids from reaching the UUID column.
func validID(channelID string) bool {
	_, err := uuid.Parse(channelID)
	return err == nil
}

func (r *PostgresRegistry) Register(ctx context.Context, ch Channel) (*Channel, error) {
	if err := validate(&ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	} else if !validID(ch.ID) {
		return nil, ErrInvalidChannel
	}
	sealed, err := r.seal(ch.Credentials)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}

	statusGiven := ch.Status != ""
	status := ch.Status
	if !statusGiven {
		status = StatusPending
	}

	// The conflict branch only fires for the owning tenant; another tenant's
	// key yields no row.
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO bosun.channels (id, tenant_id, platform, routing_key, display_number, credentials, status, connected_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $8 THEN NOW() END, NOW(), NOW())
		ON CONFLICT (routing_key) DO UPDATE SET
			platform = EXCLUDED.platform,
			display_number = EXCLUDED.display_number,
			credentials = EXCLUDED.credentials,
			status = CASE WHEN $9 THEN EXCLUDED.status ELSE bosun.channels.status END,
			connected_at = CASE WHEN $8 THEN NOW() ELSE bosun.channels.connected_at END,
			updated_at = NOW()
		WHERE bosun.channels.tenant_id = EXCLUDED.tenant_id
		RETURNING `+channelColumns,
		ch.ID, ch.TenantID, ch.Platform, ch.RoutingKey, ch.DisplayNumber, sealed, string(status),
		status == StatusConnected, statusGiven)

	stored, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) || database.IsUniqueViolation(err) {
		r.logger.WithFields(logging.Fields{
			"tenant_id":   ch.TenantID,
			"routing_key": ch.RoutingKey,
		}).Warn("Routing key already bound to another tenant")
		return nil, ErrDuplicateRoutingKey
	}
	if err != nil {
		return nil, fmt.Errorf("register channel: %w", err)
	}
	return stored, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, channelID string) (*Channel, error) {
	if !validID(channelID) {
		return nil, ErrNotFound
	}
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM bosun.channels WHERE id = $1`, channelID))
}

func (r *PostgresRegistry) ActiveChannel(ctx context.Context, tenantID string) (*Channel, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+`
		FROM bosun.channels
		WHERE tenant_id = $1 AND status = 'connected'
		ORDER BY connected_at DESC NULLS LAST, id DESC
		LIMIT 1
	`, tenantID))
}

func (r *PostgresRegistry) ByRoutingKey(ctx context.Context, routingKey string) (*Channel, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM bosun.channels WHERE routing_key = $1`, routingKey))
}

func (r *PostgresRegistry) ListByTenant(ctx context.Context, tenantID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+channelColumns+`
		FROM bosun.channels
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	out := []Channel{}
	for rows.Next() {
		ch, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) SetStatus(ctx context.Context, channelID string, status Status) (*Channel, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if !validID(channelID) {
		return nil, ErrNotFound
	}
	ch, err := r.scanOne(r.db.QueryRowContext(ctx, `
		UPDATE bosun.channels
		SET status = $1,
			connected_at = CASE WHEN $2 THEN NOW() ELSE connected_at END,
			updated_at = NOW()
		WHERE id = $3
		RETURNING `+channelColumns, string(status), status == StatusConnected, channelID))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *PostgresRegistry) DisconnectSiblings(ctx context.Context, channelID string) (int, error) {
	keep, err := r.Get(ctx, channelID)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE bosun.channels
		SET status = 'disconnected', updated_at = NOW()
		WHERE tenant_id = $1 AND id <> $2 AND status = 'connected'
	`, keep.TenantID, keep.ID)
	if err != nil {
		return 0, fmt.Errorf("disconnect siblings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.WithFields(logging.Fields{
			"tenant_id":  keep.TenantID,
			"channel_id": keep.ID,
			"count":      n,
		}).Info("Disconnected sibling channels")
	}
	return int(n), nil
}

func (r *PostgresRegistry) Touch(ctx context.Context, channelID string) error {
	return r.execByID(ctx, `UPDATE bosun.channels SET last_sync_at = NOW() WHERE id = $1`, channelID)
}

func (r *PostgresRegistry) Delete(ctx context.Context, channelID string) error {
	return r.execByID(ctx, `DELETE FROM bosun.channels WHERE id = $1`, channelID)
}

func (r *PostgresRegistry) execByID(ctx context.Context, query, channelID string) error {
	if !validID(channelID) {
		return ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, query, channelID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
