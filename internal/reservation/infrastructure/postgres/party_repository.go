package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"rentlane/internal/reservation/domain"
)

// PartyRepository implements domain.PartyRepository using PostgreSQL.
type PartyRepository struct {
	db Executor
}

// NewPartyRepository creates a new PartyRepository.
func NewPartyRepository(db Executor) *PartyRepository {
	return &PartyRepository{db: db}
}

// FindByID retrieves a profile by ID.
func (r *PartyRepository) FindByID(ctx context.Context, id domain.PartyID) (*domain.Party, error) {
	return r.findOne(ctx, `
		SELECT id, subject, display_name, email, kyc_verified, suspended, birth_date
		FROM reservation.parties
		WHERE id = $1`,
		string(id),
	)
}

// FindBySubject retrieves a profile by its authentication subject, ignoring case.
func (r *PartyRepository) FindBySubject(ctx context.Context, subject string) (*domain.Party, error) {
	return r.findOne(ctx, `
		SELECT id, subject, display_name, email, kyc_verified, suspended, birth_date
		FROM reservation.parties
		WHERE lower(subject) = lower($1)`,
		subject,
	)
}

func (r *PartyRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Party, error) {
	var (
		p         domain.Party
		birthDate pgtype.Date
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID, &p.Subject, &p.DisplayName, &p.Email, &p.KYCVerified, &p.Suspended, &birthDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPartyNotFound.WithMessage("party %v", args[0])
	}
	if err != nil {
		return nil, translateError(err)
	}
	p.BirthDate = dateToTimePtr(birthDate)
	return &p, nil
}

var _ domain.PartyRepository = (*PartyRepository)(nil)
