// Package rates supplies market exchange rates per denomination code.
//
// The daily rebase treats this as a pluggable external collaborator: rates
// are each denomination's market value in XAU (the metal basket). A failed
// or incomplete fetch is fatal for that rebase run and retried on the next.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credexnet/credex/internal/ledger"
)

// Source fetches current market rates for the given symbols on a date.
type Source interface {
	Fetch(ctx context.Context, date time.Time, symbols []string) (map[string]decimal.Decimal, error)
}

// Validate checks that every required code is present with a positive,
// finite rate. Any gap is a RATE_FAILURE (no partial rebase).
func Validate(got map[string]decimal.Decimal, required []string) error {
	for _, code := range required {
		r, ok := got[code]
		if !ok {
			return ledger.E(ledger.CodeRateFailure, "rate source returned no rate for %s", code)
		}
		if !r.IsPositive() {
			return ledger.E(ledger.CodeRateFailure, "rate source returned non-positive rate %s for %s", r, code)
		}
	}
	return nil
}

// Static is a fixed in-memory Source for tests and bootstrap.
type Static map[string]decimal.Decimal

func (s Static) Fetch(_ context.Context, _ time.Time, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if r, ok := s[sym]; ok {
			out[sym] = r
		}
	}
	return out, nil
}

// HTTPSource fetches rates from a JSON endpoint:
//
//	GET {endpoint}?date=2006-01-02&symbols=USD,CAD
//	→ {"rates": {"USD": "0.00051", "CAD": "0.00037"}}
type HTTPSource struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPSource builds an HTTPSource with a bounded request timeout.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

type ratesResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Fetch implements Source.
func (h *HTTPSource) Fetch(ctx context.Context, date time.Time, symbols []string) (map[string]decimal.Decimal, error) {
	u, err := url.Parse(h.Endpoint)
	if err != nil {
		return nil, ledger.Wrap(ledger.CodeRateFailure, err, "malformed rate source endpoint")
	}
	q := u.Query()
	q.Set("date", date.Format(ledger.DateLayout))
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ledger.Wrap(ledger.CodeRateFailure, err, "building rate request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, ledger.Wrap(ledger.CodeRateFailure, err, "fetching rates from %s", h.Endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ledger.E(ledger.CodeRateFailure, "rate source returned %s", resp.Status)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ledger.Wrap(ledger.CodeRateFailure, err, "decoding rate response")
	}
	if body.Rates == nil {
		return nil, ledger.E(ledger.CodeRateFailure, "rate response carried no rates object")
	}
	return body.Rates, nil
}

var _ Source = (*HTTPSource)(nil)
var _ Source = Static(nil)

// String implements fmt.Stringer for logging.
func (h *HTTPSource) String() string { return fmt.Sprintf("http(%s)", h.Endpoint) }
