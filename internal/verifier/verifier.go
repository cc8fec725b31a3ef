package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keypay/keypay/internal/explorer"
	"github.com/keypay/keypay/internal/matcher"
	"github.com/keypay/keypay/pkg/logger"
	"github.com/keypay/keypay/pkg/validation"
)

// ErrInvalidRequest is returned before any network call when the request is malformed.
var ErrInvalidRequest = errors.New("invalid verification request")

type Outcome string

const (
	// OutcomeConfirmed means a qualifying transfer was found.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeNotFound means a provider answered and no transfer qualified.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeNoData means every provider failed; the payment state is unknown.
	OutcomeNoData Outcome = "no_data"
)

type Request struct {
	Address   string
	Amount    string
	NotBefore time.Time
	Policy    matcher.Policy
}

// Attempt records one provider call.
type Attempt struct {
	Provider string `json:"provider"`
	Error    string `json:"error,omitempty"`
}

type Result struct {
	Outcome  Outcome   `json:"outcome"`
	TxID     string    `json:"txid,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Attempts []Attempt `json:"attempts"`
}

// Verifier looks for a qualifying transfer across explorer providers in priority order.
type Verifier struct {
	logger    *logger.Logger
	providers []explorer.Provider
}

func NewVerifier(logger *logger.Logger, providers []explorer.Provider) *Verifier {
	return &Verifier{logger: logger, providers: providers}
}

// Providers returns the provider names in the order they are tried.
func (v *Verifier) Providers() []string {
	names := make([]string, 0, len(v.providers))
	for _, p := range v.providers {
		names = append(names, p.Name())
	}
	return names
}

// Verify queries providers until one returns a parseable response and matches against it.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Address) == "" {
		return nil, fmt.Errorf("%w: address cannot be empty", ErrInvalidRequest)
	}
	amount, err := validation.ParseAmount(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	policy := req.Policy
	if policy == "" {
		policy = matcher.Tolerance
	}

	criteria := matcher.Criteria{Address: req.Address, Amount: amount}
	if !req.NotBefore.IsZero() {
		criteria.NotBeforeMs = req.NotBefore.UnixMilli()
	}

	result := &Result{Outcome: OutcomeNoData, Attempts: make([]Attempt, 0, len(v.providers))}
	for _, p := range v.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		transfers, err := p.Transfers(ctx, req.Address)
		if err != nil {
			v.logger.Warnw("Explorer provider failed", "provider", p.Name(), "address", req.Address, "error", err)
			result.Attempts = append(result.Attempts, Attempt{Provider: p.Name(), Error: err.Error()})
			continue
		}
		result.Attempts = append(result.Attempts, Attempt{Provider: p.Name()})
		result.Provider = p.Name()

		v.logger.Debugw("Explorer provider answered", "provider", p.Name(), "transfers", len(transfers))
		match, ok := matcher.Match(transfers, criteria, policy)
		if !ok {
			result.Outcome = OutcomeNotFound
			v.logger.Infow("No qualifying transfer", "provider", p.Name(), "address", req.Address, "amount", req.Amount)
			return result, nil
		}
		result.Outcome = OutcomeConfirmed
		result.TxID = match.TxID
		v.logger.Infow("Qualifying transfer found", "provider", p.Name(), "address", req.Address, "amount", req.Amount, "txid", match.TxID)
		return result, nil
	}

	v.logger.Warnw("All explorer providers failed", "address", req.Address, "attempts", len(result.Attempts))
	return result, nil
}
