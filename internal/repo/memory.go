package repo

import (
	"context"
	"sync"
	"time"

	"github.com/otpgate/server/internal/model"
)

var (
	_ AccountRepo   = (*MemoryAccountRepo)(nil)
	_ ChallengeRepo = (*MemoryChallengeRepo)(nil)
)

// MemoryAccountRepo is an in-memory AccountRepo used by tests and local
// development. Timestamps come from the injected clock so day-bucketed
// counters can be tested deterministically.
type MemoryAccountRepo struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int64
	byID    map[int64]*model.Account
	byPhone map[string]*model.Account
}

// NewMemoryAccountRepo creates an empty in-memory account store.
func NewMemoryAccountRepo(now func() time.Time) *MemoryAccountRepo {
	return &MemoryAccountRepo{
		now:     now,
		byID:    make(map[int64]*model.Account),
		byPhone: make(map[string]*model.Account),
	}
}

func (r *MemoryAccountRepo) FindByID(ctx context.Context, id int64) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return *a, nil
}

func (r *MemoryAccountRepo) FindByPhone(ctx context.Context, phone string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byPhone[phone]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return *a, nil
}

func (r *MemoryAccountRepo) Create(ctx context.Context, phone, passwordHash string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPhone[phone]; ok {
		return model.Account{}, ErrDuplicate
	}
	r.seq++
	now := r.now()
	a := &model.Account{
		ID:           r.seq,
		Phone:        phone,
		PasswordHash: passwordHash,
		Status:       model.StatusActive,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[a.ID] = a
	r.byPhone[phone] = a
	return *a, nil
}

func (r *MemoryAccountRepo) UpdateRefreshToken(ctx context.Context, id int64, token string) error {
	return r.update(id, func(a *model.Account) {
		a.RefreshToken = token
	})
}

func (r *MemoryAccountRepo) RecordLoginSuccess(ctx context.Context, id int64, refreshToken string) error {
	return r.update(id, func(a *model.Account) {
		a.RefreshToken = refreshToken
		a.LoginErrorCount = 0
	})
}

func (r *MemoryAccountRepo) RecordLoginFailure(ctx context.Context, id int64, errorCount int) error {
	return r.update(id, func(a *model.Account) {
		a.LoginErrorCount = errorCount
	})
}

func (r *MemoryAccountRepo) Freeze(ctx context.Context, id int64, errorCount int) error {
	return r.update(id, func(a *model.Account) {
		a.Status = model.StatusFrozen
		a.LoginErrorCount = errorCount
	})
}

func (r *MemoryAccountRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.update(id, func(a *model.Account) {
		a.PasswordHash = passwordHash
	})
}

func (r *MemoryAccountRepo) List(ctx context.Context, limit int) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Account
	for id := int64(1); id <= r.seq && len(out) < limit; id++ {
		if a, ok := r.byID[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

// SetRole is a test hook for exercising role-gated routes.
func (r *MemoryAccountRepo) SetRole(id int64, role model.Role) error {
	return r.update(id, func(a *model.Account) {
		a.Role = role
	})
}

func (r *MemoryAccountRepo) update(id int64, apply func(*model.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	apply(a)
	a.UpdatedAt = r.now()
	return nil
}

// MemoryChallengeRepo is an in-memory ChallengeRepo counterpart.
type MemoryChallengeRepo struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int64
	byPhone map[string]*model.OtpChallenge
}

// NewMemoryChallengeRepo creates an empty in-memory challenge store.
func NewMemoryChallengeRepo(now func() time.Time) *MemoryChallengeRepo {
	return &MemoryChallengeRepo{
		now:     now,
		byPhone: make(map[string]*model.OtpChallenge),
	}
}

func (r *MemoryChallengeRepo) FindByPhone(ctx context.Context, phone string) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byPhone[phone]
	if !ok {
		return model.OtpChallenge{}, ErrNotFound
	}
	return copyChallenge(c), nil
}

func (r *MemoryChallengeRepo) Upsert(ctx context.Context, phone, otpHash, rememberToken string, requestCount, errorCount int) (model.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	c, ok := r.byPhone[phone]
	if !ok {
		r.seq++
		c = &model.OtpChallenge{ID: r.seq, Phone: phone, CreatedAt: now}
		r.byPhone[phone] = c
	}
	c.OtpHash = otpHash
	c.RememberToken = rememberToken
	c.VerifyToken = nil
	c.RequestCount = requestCount
	c.ErrorCount = errorCount
	c.UpdatedAt = now
	return copyChallenge(c), nil
}

func (r *MemoryChallengeRepo) MarkVerified(ctx context.Context, id int64, verifyToken string) error {
	return r.update(id, func(c *model.OtpChallenge) {
		token := verifyToken
		c.VerifyToken = &token
		c.ErrorCount = 0
		c.RequestCount = 1
	})
}

func (r *MemoryChallengeRepo) MarkConsumed(ctx context.Context, id int64) error {
	return r.update(id, func(c *model.OtpChallenge) {
		c.VerifyToken = nil
	})
}

func (r *MemoryChallengeRepo) RecordFailure(ctx context.Context, id int64, errorCount int) error {
	return r.update(id, func(c *model.OtpChallenge) {
		c.ErrorCount = errorCount
	})
}

func (r *MemoryChallengeRepo) Lockout(ctx context.Context, id int64) error {
	return r.update(id, func(c *model.OtpChallenge) {
		c.ErrorCount = 5
	})
}

func (r *MemoryChallengeRepo) update(id int64, apply func(*model.OtpChallenge)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byPhone {
		if c.ID == id {
			apply(c)
			c.UpdatedAt = r.now()
			return nil
		}
	}
	return ErrNotFound
}

func copyChallenge(c *model.OtpChallenge) model.OtpChallenge {
	out := *c
	if c.VerifyToken != nil {
		token := *c.VerifyToken
		out.VerifyToken = &token
	}
	return out
}
