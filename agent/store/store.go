// Package store persists reports, personas and compare sessions in
// Postgres via bun. Reports are append-only rows, one per version, with
// a unique index providing the optimistic concurrency check.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/planforge/planforge/agent/contract"
	reportx "github.com/planforge/planforge/agent/report"
)

const pgUniqueViolation = "23505"

type Config struct {
	DSN     string        `envconfig:"DSN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// NewDB opens a bun Postgres handle from the DSN.
func NewDB(cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

type reportRow struct {
	bun.BaseModel `bun:"table:reports"`

	ID          uuid.UUID       `bun:"id,pk,type:uuid"`
	UserID      string          `bun:"user_id,notnull"`
	PersonaID   uuid.UUID       `bun:"persona_id,notnull,type:uuid"`
	CompanyKey  string          `bun:"company_key,notnull"`
	CompanyName string          `bun:"company_name,notnull"`
	Version     int64           `bun:"version,notnull"`
	Sections    json.RawMessage `bun:"sections,notnull,type:jsonb"`
	UpdatedAt   time.Time       `bun:"updated_at,notnull"`
}

type personaRow struct {
	bun.BaseModel `bun:"table:personas"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull"`
	Name      string    `bun:"name,notnull"`
	Role      string    `bun:"role"`
	Company   string    `bun:"company"`
	Region    string    `bun:"region"`
	Goal      string    `bun:"goal"`
	Notes     string    `bun:"notes"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type compareSessionRow struct {
	bun.BaseModel `bun:"table:compare_sessions"`

	ID             uuid.UUID       `bun:"id,pk,type:uuid"`
	UserID         string          `bun:"user_id,notnull"`
	PersonaID      uuid.UUID       `bun:"persona_id,notnull,type:uuid"`
	CompanyAKey    string          `bun:"company_a_key,notnull"`
	CompanyBKey    string          `bun:"company_b_key,notnull"`
	VersionA       int64           `bun:"version_a,notnull"`
	VersionB       int64           `bun:"version_b,notnull"`
	Comparison     json.RawMessage `bun:"comparison,notnull,type:jsonb"`
	Recommendation string          `bun:"recommendation,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
}

// Store implements report.Repository, report.PersonaStore and
// report.CompareStore on one bun handle.
type Store struct {
	db  bun.IDB
	now func() time.Time
}

func New(db bun.IDB) (*Store, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// CreateSchema creates the tables and the optimistic-lock index. Meant
// for bootstrap and tests, not production migrations.
func (s *Store) CreateSchema(ctx context.Context) error {
	models := []any{(*reportRow)(nil), (*personaRow)(nil), (*compareSessionRow)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, err := s.db.NewCreateIndex().
		Model((*reportRow)(nil)).
		Index("reports_identity_version_uq").
		Unique().
		IfNotExists().
		Column("user_id", "persona_id", "company_key", "version").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create report version index: %w", err)
	}
	return nil
}

func (s *Store) GetLatest(ctx context.Context, userID string, personaID uuid.UUID, companyKey string) (*reportx.Report, error) {
	var row reportRow
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("persona_id = ?", personaID).
		Where("company_key = ?", companyKey).
		OrderExpr("version DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reportx.ErrReportNotFound
		}
		return nil, fmt.Errorf("select latest report: %w", err)
	}
	return rowToReport(row)
}

// Save appends the report as a new version row. expectedVersion is the
// version the caller merged against; a concurrent writer that got there
// first trips the unique index and surfaces as ErrVersionConflict.
func (s *Store) Save(ctx context.Context, r *reportx.Report, expectedVersion int64) error {
	if r == nil {
		return reportx.ErrNilReport
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Version != expectedVersion+1 {
		return fmt.Errorf("%w: saving version %d over expected %d", reportx.ErrVersionConflict, r.Version, expectedVersion)
	}

	sections, err := json.Marshal(r.Sections)
	if err != nil {
		return fmt.Errorf("marshal report sections: %w", err)
	}

	row := reportRow{
		ID:          uuid.New(),
		UserID:      r.UserID,
		PersonaID:   r.PersonaID,
		CompanyKey:  r.CompanyKey,
		CompanyName: r.CompanyName,
		Version:     r.Version,
		Sections:    sections,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = s.now().UTC()
	}

	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: version %d already exists", reportx.ErrVersionConflict, r.Version)
		}
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *Store) CreatePersona(ctx context.Context, p contractx.Persona) (contractx.Persona, error) {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Name) == "" {
		return contractx.Persona{}, fmt.Errorf("%w: persona needs user id and name", contractx.ErrInvalidRequest)
	}
	now := s.now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	row := personaToRow(p)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return contractx.Persona{}, fmt.Errorf("insert persona: %w", err)
	}
	return p, nil
}

func (s *Store) GetPersona(ctx context.Context, userID string, personaID uuid.UUID) (contractx.Persona, error) {
	var row personaRow
	err := s.db.NewSelect().
		Model(&row).
		Where("id = ?", personaID).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractx.Persona{}, reportx.ErrPersonaNotFound
		}
		return contractx.Persona{}, fmt.Errorf("select persona: %w", err)
	}
	return rowToPersona(row), nil
}

func (s *Store) UpdatePersona(ctx context.Context, p contractx.Persona) (contractx.Persona, error) {
	if p.ID == uuid.Nil {
		return contractx.Persona{}, fmt.Errorf("%w: persona id is empty", contractx.ErrInvalidRequest)
	}
	p.UpdatedAt = s.now().UTC()

	row := personaToRow(p)
	res, err := s.db.NewUpdate().
		Model(&row).
		Column("name", "role", "company", "region", "goal", "notes", "updated_at").
		Where("id = ?", p.ID).
		Where("user_id = ?", p.UserID).
		Exec(ctx)
	if err != nil {
		return contractx.Persona{}, fmt.Errorf("update persona: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return contractx.Persona{}, reportx.ErrPersonaNotFound
	}
	return p, nil
}

func (s *Store) DeletePersona(ctx context.Context, userID string, personaID uuid.UUID) error {
	res, err := s.db.NewDelete().
		Model((*personaRow)(nil)).
		Where("id = ?", personaID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return reportx.ErrPersonaNotFound
	}
	return nil
}

func (s *Store) CreateCompareSession(ctx context.Context, session reportx.CompareSession) (reportx.CompareSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now().UTC()
	}

	row := compareSessionRow{
		ID:             session.ID,
		UserID:         session.UserID,
		PersonaID:      session.PersonaID,
		CompanyAKey:    session.CompanyAKey,
		CompanyBKey:    session.CompanyBKey,
		VersionA:       session.VersionA,
		VersionB:       session.VersionB,
		Comparison:     session.Comparison,
		Recommendation: session.Recommendation,
		CreatedAt:      session.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return reportx.CompareSession{}, fmt.Errorf("insert compare session: %w", err)
	}
	return session, nil
}

func (s *Store) ListCompareSessions(ctx context.Context, userID string, personaID uuid.UUID, limit int) ([]reportx.CompareSession, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []compareSessionRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("persona_id = ?", personaID).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select compare sessions: %w", err)
	}

	sessions := make([]reportx.CompareSession, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, reportx.CompareSession{
			ID:             row.ID,
			UserID:         row.UserID,
			PersonaID:      row.PersonaID,
			CompanyAKey:    row.CompanyAKey,
			CompanyBKey:    row.CompanyBKey,
			VersionA:       row.VersionA,
			VersionB:       row.VersionB,
			Comparison:     row.Comparison,
			Recommendation: row.Recommendation,
			CreatedAt:      row.CreatedAt,
		})
	}
	return sessions, nil
}

func rowToReport(row reportRow) (*reportx.Report, error) {
	var sections map[contractx.SectionKind]*reportx.Section
	if len(row.Sections) > 0 {
		if err := json.Unmarshal(row.Sections, &sections); err != nil {
			return nil, fmt.Errorf("unmarshal report sections: %w", err)
		}
	}
	if sections == nil {
		sections = make(map[contractx.SectionKind]*reportx.Section)
	}

	r := &reportx.Report{
		UserID:      row.UserID,
		PersonaID:   row.PersonaID,
		CompanyKey:  row.CompanyKey,
		CompanyName: row.CompanyName,
		Version:     row.Version,
		Sections:    sections,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report loaded from store: %w", err)
	}
	return r, nil
}

func personaToRow(p contractx.Persona) personaRow {
	return personaRow{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		Role:      p.Role,
		Company:   p.Company,
		Region:    p.Region,
		Goal:      p.Goal,
		Notes:     p.Notes,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func rowToPersona(row personaRow) contractx.Persona {
	return contractx.Persona{
		ID:        row.ID,
		UserID:    row.UserID,
		Name:      row.Name,
		Role:      row.Role,
		Company:   row.Company,
		Region:    row.Region,
		Goal:      row.Goal,
		Notes:     row.Notes,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}
	return false
}
