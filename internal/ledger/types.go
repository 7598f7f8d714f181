package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage layout for calendar dates (day granularity).
const DateLayout = "2006-01-02"

// AccountType classifies a participant node.
type AccountType string

const (
	AccountPersonal   AccountType = "PERSONAL"
	AccountBusiness   AccountType = "BUSINESS"
	AccountFoundation AccountType = "FOUNDATION"
)

// QueueStatus tracks admission of an entity into the cycle index.
type QueueStatus string

const (
	QueuePending   QueueStatus = "PENDING"
	QueueProcessed QueueStatus = "PROCESSED"
)

// Account is a participant node in the ledger graph.
//
// Audited marks a fully-audited foundation account whose securable capacity
// is unlimited. OfferingAmount/OfferingDenom hold the account's daily
// offering declaration; a zero amount means no declaration.
type Account struct {
	ID             string
	Type           AccountType
	Handle         string
	DisplayName    string
	DefaultDenom   string
	OfferingAmount decimal.Decimal
	OfferingDenom  string
	Audited        bool
	QueueStatus    QueueStatus
	CreatedAt      time.Time
}

// CredexType tags the business reason for a credex.
type CredexType string

const (
	CredexPurchase        CredexType = "PURCHASE"
	CredexGift            CredexType = "GIFT"
	CredexOfferingGive    CredexType = "OFFERING_GIVE"
	CredexOfferingReceive CredexType = "OFFERING_RECEIVE"
)

// CredexStatus is the lifecycle state of a credex.
//
// Transitions are one-way:
//
//	OFFERED/REQUESTED → OWES → CLEARED
//	OFFERED/REQUESTED → CANCELLED | DECLINED | EXPIRED
//
// Only acceptance moves an instance into active debt, and only netting
// reduces its outstanding amount. Defaulting is a flag on an OWES credex
// (Defaulted > 0), not a status.
type CredexStatus string

const (
	StatusOffered   CredexStatus = "OFFERED"
	StatusRequested CredexStatus = "REQUESTED"
	StatusOwes      CredexStatus = "OWES"
	StatusCleared   CredexStatus = "CLEARED"
	StatusCancelled CredexStatus = "CANCELLED"
	StatusDeclined  CredexStatus = "DECLINED"
	StatusExpired   CredexStatus = "EXPIRED"
)

// Pending reports whether the status is a pre-acceptance state.
func (s CredexStatus) Pending() bool {
	return s == StatusOffered || s == StatusRequested
}

// Terminal reports whether the status admits no further transition.
func (s CredexStatus) Terminal() bool {
	switch s {
	case StatusCleared, StatusCancelled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to CredexStatus) bool {
	switch from {
	case StatusOffered, StatusRequested:
		return to == StatusOwes || to == StatusCancelled || to == StatusDeclined || to == StatusExpired
	case StatusOwes:
		return to == StatusCleared
	}
	return false
}

// Credex is one directed IOU from issuer to acceptor.
//
// All five amount fields are in internal units (CXX). Multiplier is the
// conversion from the credex's native denomination to CXX, frozen at
// creation and rewritten only by the daily rebase.
type Credex struct {
	ID         string
	IssuerID   string
	AcceptorID string
	Denom      string
	Multiplier decimal.Decimal

	Initial     decimal.Decimal
	Outstanding decimal.Decimal
	Redeemed    decimal.Decimal
	Defaulted   decimal.Decimal
	WrittenOff  decimal.Decimal

	Type        CredexType
	Status      CredexStatus
	QueueStatus QueueStatus

	Secured   bool
	SecurerID string     // set iff Secured
	DueDate   *time.Time // set iff unsecured

	CreatedAt  time.Time
	AcceptedAt *time.Time
}

// NativeOutstanding returns the outstanding amount expressed in the credex's
// own denomination.
func (c *Credex) NativeOutstanding() decimal.Decimal {
	if c.Multiplier.IsZero() {
		return decimal.Zero
	}
	return c.Outstanding.Div(c.Multiplier)
}

// CheckInvariant verifies initial = outstanding + redeemed + defaulted + writtenOff.
//
// Defaulted amounts remain part of outstanding until netted or written off,
// so the conservation identity excludes the defaulted flag from the sum and
// instead requires defaulted ≤ outstanding.
func (c *Credex) CheckInvariant() error {
	sum := c.Outstanding.Add(c.Redeemed).Add(c.WrittenOff)
	if !c.Initial.Equal(sum) {
		return &Error{
			Code:    CodeGraphInconsistency,
			Message: fmt.Sprintf("credex %s violates amount conservation: initial=%s outstanding=%s redeemed=%s writtenOff=%s", c.ID, c.Initial, c.Outstanding, c.Redeemed, c.WrittenOff),
		}
	}
	if c.Defaulted.GreaterThan(c.Outstanding) {
		return &Error{
			Code:    CodeGraphInconsistency,
			Message: fmt.Sprintf("credex %s defaulted amount %s exceeds outstanding %s", c.ID, c.Defaulted, c.Outstanding),
		}
	}
	return nil
}

// Category returns the owing-category this credex nets within.
func (c *Credex) Category() Category {
	if c.Secured {
		return Category{Secured: true, Denom: c.Denom}
	}
	return Category{}
}

// EffectiveDueDate is the maturity used for netting priority. Secured
// credexes have no real maturity; they take the supplied active-day date as
// a synthetic due date so they net in insertion order.
func (c *Credex) EffectiveDueDate(activeDay time.Time) time.Time {
	if c.Secured || c.DueDate == nil {
		return activeDay
	}
	return *c.DueDate
}

// Category identifies which edges may net against each other: unsecured
// ("floating") debt nets only with unsecured debt, and secured debt nets
// only with secured debt of the same denomination.
type Category struct {
	Secured bool
	Denom   string // set iff Secured
}

// Floating is the owing-category of all unsecured credexes.
var Floating = Category{}

// String renders the category in its storage form.
func (cat Category) String() string {
	if cat.Secured {
		return "secured:" + cat.Denom
	}
	return "floating"
}

// ParseCategory parses the storage form produced by String.
func ParseCategory(s string) (Category, error) {
	if s == "floating" {
		return Floating, nil
	}
	const prefix = "secured:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return Category{Secured: true, Denom: s[len(prefix):]}, nil
	}
	return Category{}, &Error{Code: CodeValidation, Message: fmt.Sprintf("malformed owing-category %q", s)}
}

// Day is one link in the append-only chain of daily records. Exactly one
// day is active at a time; its rate table prices every registered
// denomination in CXX.
type Day struct {
	ID            string
	Date          time.Time
	Rates         map[string]decimal.Decimal // denom code → CXX per unit
	RebasingRatio decimal.Decimal            // old CXX per new CXX, set by the rebase that created this day
	PrevID        string                     // chain link, empty for genesis
	Active        bool
}

// Rate returns the active rate for a denomination code.
func (d *Day) Rate(code string) (decimal.Decimal, error) {
	r, ok := d.Rates[code]
	if !ok {
		return decimal.Zero, &Error{
			Code:    CodeRateFailure,
			Message: fmt.Sprintf("day %s has no rate for denomination %s", d.Date.Format(DateLayout), code),
		}
	}
	return r, nil
}

// LoopAnchor is the immutable audit record of one completed netting event.
type LoopAnchor struct {
	ID        string
	DayID     string
	Amount    decimal.Decimal // CXX cleared from every member
	CreatedAt time.Time
	Members   []LoopMember
}

// LoopMember records one credex's participation in a netting event.
// Position preserves loop order; consecutive positions are chained for
// lineage tracing (the last member links back to the first).
type LoopMember struct {
	CredexID         string
	Position         int
	Redeemed         decimal.Decimal // amount this credex contributed (= anchor amount)
	OutstandingAfter decimal.Decimal
}

// SearchAnchor is one edge of the reduced cycle index, keyed by
// (issuer, acceptor, category). It aggregates the live credexes between the
// pair and caches their earliest effective due date for prioritization.
type SearchAnchor struct {
	ID          string
	IssuerID    string
	AcceptorID  string
	Category    Category
	EarliestDue time.Time
}
