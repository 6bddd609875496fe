package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

// uniqueViolation is the Postgres error code for unique constraint breaches.
const uniqueViolation = "23505"

// Postgres is the pgx-backed Gateway.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres gateway.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Gateway = (*Postgres)(nil)

func (s *Postgres) InsertTenant(ctx context.Context, t *tenant.Tenant) error {
	configs, err := json.Marshal(t.ProviderConfigs)
	if err != nil {
		return fmt.Errorf("encoding provider configs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tenants (id, slug, name, plan, provider_configs, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Slug, t.Name, t.Plan, configs, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func (s *Postgres) GetTenant(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.scanTenant(ctx,
		`SELECT id, slug, name, plan, provider_configs, created_at FROM tenants WHERE id = $1`, id)
}

func (s *Postgres) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.scanTenant(ctx,
		`SELECT id, slug, name, plan, provider_configs, created_at FROM tenants WHERE slug = $1`, slug)
}

func (s *Postgres) scanTenant(ctx context.Context, query string, arg any) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var configs []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Slug, &t.Name, &t.Plan, &configs, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	if len(configs) > 0 {
		if err := json.Unmarshal(configs, &t.ProviderConfigs); err != nil {
			return nil, fmt.Errorf("decoding provider configs: %w", err)
		}
	}
	return &t, nil
}

func (s *Postgres) InsertContact(ctx context.Context, c *tenant.Contact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (id, tenant_id, first_name, last_name, phone, email, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.TenantID, c.FirstName, c.LastName, c.Phone, c.Email, nullableJSON(c.Metadata), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}
	return nil
}

func (s *Postgres) GetContact(ctx context.Context, tenantID, id uuid.UUID) (*tenant.Contact, error) {
	var c tenant.Contact
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, first_name, last_name, phone, email, COALESCE(metadata, 'null'::jsonb), created_at
		 FROM contacts WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &c.Metadata, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "contact not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}
	return &c, nil
}

func (s *Postgres) ContactExists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM contacts WHERE id = $1 AND tenant_id = $2)`,
		id, tenantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking contact: %w", err)
	}
	return exists, nil
}

func (s *Postgres) InsertMessage(ctx context.Context, m *message.ScheduledMessage) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scheduled_messages
		   (id, tenant_id, contact_id, template_id, channel, send_at, payload, status, attempts, provider_message_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.TenantID, m.ContactID, m.TemplateID, m.Channel, m.SendAt, payload,
		m.Status, m.Attempts, m.ProviderMessageID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting scheduled message: %w", err)
	}
	return nil
}

const messageColumns = `id, tenant_id, contact_id, template_id, channel, send_at, payload, status, attempts, provider_message_id, created_at, updated_at`

func (s *Postgres) GetMessage(ctx context.Context, id uuid.UUID) (*message.ScheduledMessage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (s *Postgres) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*message.ScheduledMessage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE provider_message_id = $1`, providerMessageID)
	return scanMessage(row)
}

func (s *Postgres) ListMessages(ctx context.Context, tenantID uuid.UUID, status message.Status, limit, offset int) ([]message.ScheduledMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM scheduled_messages WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY send_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Postgres) CountMessages(ctx context.Context, tenantID uuid.UUID, status message.Status) (int, error) {
	query := `SELECT count(*) FROM scheduled_messages WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

func (s *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]message.ScheduledMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages
		 WHERE status = $1 AND send_at <= $2
		 ORDER BY send_at ASC LIMIT $3`,
		message.StatusScheduled, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing due messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// PatchMessage is the conditional-write primitive: the update applies only
// when the stored status still equals expect.
func (s *Postgres) PatchMessage(ctx context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_messages
		 SET status = $2,
		     attempts = COALESCE($3, attempts),
		     provider_message_id = COALESCE($4, provider_message_id),
		     updated_at = now()
		 WHERE id = $1 AND status = $5`,
		id, patch.Status, patch.Attempts, patch.ProviderMessageID, expect,
	)
	if err != nil {
		return false, fmt.Errorf("patching scheduled message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) InsertEvent(ctx context.Context, e *message.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_events
		   (id, tenant_id, scheduled_message_id, provider, provider_message_id, status, reason, raw, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.ScheduledMessageID, e.Provider, e.ProviderMessageID,
		e.Status, e.Reason, nullableJSON(e.Raw), e.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperror.Wrap(apperror.KindConflict, "duplicate message event", err)
	}
	if err != nil {
		return fmt.Errorf("inserting message event: %w", err)
	}
	return nil
}

func (s *Postgres) HasEvent(ctx context.Context, provider, providerMessageID string, status message.EventStatus) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM message_events
		   WHERE provider = $1 AND provider_message_id = $2 AND status = $3
		 )`,
		provider, providerMessageID, status,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking message event: %w", err)
	}
	return exists, nil
}

func (s *Postgres) ListEvents(ctx context.Context, tenantID, scheduledMessageID uuid.UUID) ([]message.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, scheduled_message_id, provider, provider_message_id, status, reason, COALESCE(raw, 'null'::jsonb), created_at
		 FROM message_events
		 WHERE tenant_id = $1 AND scheduled_message_id = $2
		 ORDER BY created_at ASC`,
		tenantID, scheduledMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing message events: %w", err)
	}
	defer rows.Close()

	var events []message.Event
	for rows.Next() {
		var e message.Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ScheduledMessageID, &e.Provider,
			&e.ProviderMessageID, &e.Status, &e.Reason, &e.Raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanMessage(row pgx.Row) (*message.ScheduledMessage, error) {
	var m message.ScheduledMessage
	var payload []byte
	err := row.Scan(&m.ID, &m.TenantID, &m.ContactID, &m.TemplateID, &m.Channel, &m.SendAt,
		&payload, &m.Status, &m.Attempts, &m.ProviderMessageID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.KindNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning scheduled message: %w", err)
	}
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]message.ScheduledMessage, error) {
	var out []message.ScheduledMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// nullableJSON maps empty raw JSON to NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
