// Package lifecycle implements the credex lifecycle manager: creation of
// offers and requests, acceptance, cancellation and decline, plus the
// securable-capacity authorization used by both issuance and the daily
// offering confirmation.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/denom"
	"github.com/credexnet/credex/internal/ledger"
	"github.com/credexnet/credex/internal/store"
)

// Policy fixes the issuance rules that are policy, not arithmetic.
type Policy struct {
	// MinDueDays / MaxDueDays bound the permitted due-date window for
	// unsecured credexes, counted from the active day.
	MinDueDays int
	MaxDueDays int
}

// DefaultPolicy is the standard due-date window: 7 to 35 days ahead.
func DefaultPolicy() Policy {
	return Policy{MinDueDays: 7, MaxDueDays: 35}
}

// Manager creates and transitions credexes against the ledger store.
type Manager struct {
	store  *store.Store
	reg    *denom.Registry
	clock  ledger.Clock
	policy Policy
}

// New builds a Manager.
func New(st *store.Store, reg *denom.Registry, clock ledger.Clock, policy Policy) *Manager {
	return &Manager{store: st, reg: reg, clock: clock, policy: policy}
}

// OfferParams describes a credex to be offered or requested.
type OfferParams struct {
	IssuerID   string
	AcceptorID string
	Denom      string
	Amount     decimal.Decimal // in Denom terms
	Type       ledger.CredexType
	Secured    bool
	SecurerID  string     // required iff Secured
	DueDate    *time.Time // required iff unsecured
}

// Offer validates and creates a credex in OFFERED state, returning its id.
//
// The caller's denominated amount is converted to internal units at the
// active day's rate; that multiplier is frozen on the instance and not
// recomputed except by the daily rebase. Secured issuance is authorized
// against the issuer's available capacity; unsecured issuance requires a
// due date inside the policy window.
func (m *Manager) Offer(ctx context.Context, p OfferParams) (string, error) {
	return m.create(ctx, p, ledger.StatusOffered)
}

// Request is Offer with the instrument created in REQUESTED state (the
// acceptor-side initiation).
func (m *Manager) Request(ctx context.Context, p OfferParams) (string, error) {
	return m.create(ctx, p, ledger.StatusRequested)
}

func (m *Manager) create(ctx context.Context, p OfferParams, status ledger.CredexStatus) (string, error) {
	if err := m.validate(p); err != nil {
		return "", err
	}

	day, err := m.store.ActiveDay(ctx)
	if err != nil {
		return "", err
	}

	rate, err := day.Rate(p.Denom)
	if err != nil {
		return "", err
	}
	if !rate.IsPositive() {
		return "", ledger.E(ledger.CodeValidation, "denomination %s has non-positive rate %s", p.Denom, rate)
	}

	if p.Secured {
		if err := m.authorizeSecured(ctx, p); err != nil {
			return "", err
		}
	} else {
		if err := m.checkDueWindow(p.DueDate, day.Date); err != nil {
			return "", err
		}
	}

	now := m.clock.Now()
	amountCXX := p.Amount.Mul(rate)
	c := &ledger.Credex{
		ID:          uuid.NewString(),
		IssuerID:    p.IssuerID,
		AcceptorID:  p.AcceptorID,
		Denom:       p.Denom,
		Multiplier:  rate,
		Initial:     amountCXX,
		Outstanding: amountCXX,
		Redeemed:    decimal.Zero,
		Defaulted:   decimal.Zero,
		WrittenOff:  decimal.Zero,
		Type:        p.Type,
		Status:      status,
		QueueStatus: ledger.QueuePending,
		Secured:     p.Secured,
		SecurerID:   p.SecurerID,
		DueDate:     p.DueDate,
		CreatedAt:   now,
	}
	if err := m.store.CreateCredex(ctx, c); err != nil {
		return "", err
	}
	slog.Debug("credex created",
		"credex", c.ID, "issuer", p.IssuerID, "acceptor", p.AcceptorID,
		"denom", p.Denom, "amount", p.Amount, "secured", p.Secured, "status", status)
	return c.ID, nil
}

func (m *Manager) validate(p OfferParams) error {
	if p.IssuerID == "" || p.AcceptorID == "" {
		return ledger.E(ledger.CodeValidation, "issuer and acceptor are required")
	}
	if p.IssuerID == p.AcceptorID {
		return ledger.E(ledger.CodeValidation, "a credex cannot run from an account to itself")
	}
	if _, ok := m.reg.Get(p.Denom); !ok {
		return ledger.E(ledger.CodeValidation, "unknown denomination %q", p.Denom)
	}
	if !p.Amount.IsPositive() {
		return ledger.E(ledger.CodeValidation, "amount must be positive, got %s", p.Amount)
	}
	switch p.Type {
	case ledger.CredexPurchase, ledger.CredexGift, ledger.CredexOfferingGive, ledger.CredexOfferingReceive:
	default:
		return ledger.E(ledger.CodeValidation, "unknown credex type %q", p.Type)
	}
	if p.Secured {
		if p.SecurerID == "" {
			return ledger.E(ledger.CodeValidation, "secured credex requires a securer")
		}
		if p.DueDate != nil {
			return ledger.E(ledger.CodeValidation, "secured credex cannot carry a due date")
		}
	} else {
		if p.DueDate == nil {
			return ledger.E(ledger.CodeValidation, "unsecured credex requires a due date")
		}
		if p.SecurerID != "" {
			return ledger.E(ledger.CodeValidation, "unsecured credex cannot reference a securer")
		}
	}
	return nil
}

func (m *Manager) checkDueWindow(due *time.Time, activeDate time.Time) error {
	earliest := activeDate.AddDate(0, 0, m.policy.MinDueDays)
	latest := activeDate.AddDate(0, 0, m.policy.MaxDueDays)
	d := ledger.Midnight(*due)
	if d.Before(earliest) || d.After(latest) {
		return ledger.E(ledger.CodeValidation,
			"due date %s outside permitted window [%s, %s]",
			d.Format(ledger.DateLayout), earliest.Format(ledger.DateLayout), latest.Format(ledger.DateLayout))
	}
	return nil
}

func (m *Manager) authorizeSecured(ctx context.Context, p OfferParams) error {
	avail, unlimited, err := m.AvailableCapacity(ctx, p.IssuerID, p.Denom)
	if err != nil {
		return err
	}
	if unlimited {
		return nil
	}
	if p.Amount.GreaterThan(avail) {
		return ledger.E(ledger.CodeInsufficientCapacity,
			"secured amount %s %s exceeds available capacity %s", p.Amount, p.Denom, avail)
	}
	return nil
}

// AvailableCapacity is the securable-capacity authorization: the maximum
// amount the account can currently issue secured in the given denomination,
// computed as the best per-securer net of amounts it is owed minus amounts
// it owes. Returns unlimited=true for designated fully-audited foundation
// accounts.
func (m *Manager) AvailableCapacity(ctx context.Context, accountID, denomCode string) (decimal.Decimal, bool, error) {
	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if acct.Audited && acct.Type == ledger.AccountFoundation {
		return decimal.Zero, true, nil
	}

	day, err := m.store.ActiveDay(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	rate, err := day.Rate(denomCode)
	if err != nil {
		return decimal.Zero, false, err
	}

	positions, err := m.store.SecuredPositions(ctx, accountID, denomCode)
	if err != nil {
		return decimal.Zero, false, err
	}

	best := decimal.Zero
	for _, pos := range positions {
		if pos.Net.GreaterThan(best) {
			best = pos.Net
		}
	}
	// Positions are in internal units; capacity is quoted in the requested
	// denomination.
	return best.Div(rate), false, nil
}

// Accept transitions OFFERED/REQUESTED → OWES, stamps acceptance time and
// marks the instance pending for queue admission.
func (m *Manager) Accept(ctx context.Context, credexID, signerID string) (string, error) {
	if signerID == "" {
		return "", ledger.E(ledger.CodeValidation, "acceptance requires a signer")
	}
	if err := m.store.AcceptCredex(ctx, credexID, m.clock.Now()); err != nil {
		return "", err
	}
	slog.Info("credex accepted", "credex", credexID, "signer", signerID)
	return credexID, nil
}

// Cancel terminates a still-pending credex from the issuer side.
func (m *Manager) Cancel(ctx context.Context, credexID string) (string, error) {
	if err := m.store.TerminateCredex(ctx, credexID, ledger.StatusCancelled); err != nil {
		return "", err
	}
	slog.Info("credex cancelled", "credex", credexID)
	return credexID, nil
}

// Decline terminates a still-pending credex from the acceptor side.
func (m *Manager) Decline(ctx context.Context, credexID string) (string, error) {
	if err := m.store.TerminateCredex(ctx, credexID, ledger.StatusDeclined); err != nil {
		return "", err
	}
	slog.Info("credex declined", "credex", credexID)
	return credexID, nil
}
