package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator resolves a promotion code against a set of order items and
// returns the promotion together with the discount it grants now.
type Validator interface {
	Validate(ctx context.Context, code string, items []Item) (*Promotion, *Discount, error)
}

// RepoValidator implements Validator by looking up promotions from a
// Repository and applying them via the Apply function.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the promotion for code, checks it is active, within its
// validity window and below its usage limit, and applies it to items.
// Usage is counted when the order completes, not here.
func (v *RepoValidator) Validate(ctx context.Context, code string, items []Item) (*Promotion, *Discount, error) {
	p, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, nil, ErrInvalidCode
		}
		return nil, nil, errors.Wrap(err, "lookup promotion")
	}
	if !p.Active {
		return nil, nil, ErrInvalidCode
	}
	if err := CheckWindow(p, v.now()); err != nil {
		return nil, nil, err
	}

	d, err := Apply(p, items)
	if err != nil {
		return nil, nil, err
	}
	return p, &d, nil
}

// CheckWindow reports whether p may be used at now, considering its validity
// window and usage limit.
func CheckWindow(p *Promotion, now time.Time) error {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrExpired
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return ErrExpired
	}
	if p.MaxUses > 0 && p.Uses >= p.MaxUses {
		return ErrUsageLimitReached
	}
	return nil
}
