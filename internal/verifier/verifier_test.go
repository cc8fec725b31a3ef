package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypay/keypay/internal/explorer"
	"github.com/keypay/keypay/internal/matcher"
	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

type fakeProvider struct {
	name      string
	transfers []models.Transfer
	err       error
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Transfers(ctx context.Context, address string) ([]models.Transfer, error) {
	f.calls++
	return f.transfers, f.err
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, err: &explorer.ProviderError{Provider: name, Kind: explorer.KindStatus, StatusCode: 503}}
}

func TestVerifyFallsBackToNextProvider(t *testing.T) {
	created := time.Now().Add(-3 * time.Minute)
	first := failing("trongrid")
	second := &fakeProvider{name: "tronscan", transfers: []models.Transfer{{
		To:          "txxx...1234",
		Amount:      decimal.RequireFromString("2.0371"),
		TxID:        "tx-e2e",
		TimestampMs: time.Now().Add(-2*time.Minute).Unix() * 1000,
	}}}
	third := &fakeProvider{name: "tronscan-new"}

	v := NewVerifier(logger.NewNop(), []explorer.Provider{first, second, third})
	res, err := v.Verify(context.Background(), Request{Address: "Txxx...1234", Amount: "2.0371", NotBefore: created, Policy: matcher.Tolerance})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "tx-e2e", res.TxID)
	assert.Equal(t, "tronscan", res.Provider)
	assert.Len(t, res.Attempts, 2)
	assert.NotEmpty(t, res.Attempts[0].Error)
	assert.Equal(t, 0, third.calls)
}

func TestVerifyStopsAtFirstParseableResponse(t *testing.T) {
	first := &fakeProvider{name: "trongrid", transfers: []models.Transfer{}}
	second := &fakeProvider{name: "tronscan", transfers: []models.Transfer{{To: "TAddr", Amount: decimal.NewFromInt(5), TxID: "x"}}}

	v := NewVerifier(logger.NewNop(), []explorer.Provider{first, second})
	res, err := v.Verify(context.Background(), Request{Address: "TAddr", Amount: "5"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, "trongrid", res.Provider)
	assert.Equal(t, 0, second.calls)
}

func TestVerifyNoData(t *testing.T) {
	v := NewVerifier(logger.NewNop(), []explorer.Provider{failing("a"), failing("b")})
	res, err := v.Verify(context.Background(), Request{Address: "TAddr", Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.Empty(t, res.TxID)
	assert.Len(t, res.Attempts, 2)
}

func TestVerifyValidatesBeforeNetwork(t *testing.T) {
	p := &fakeProvider{name: "a"}
	v := NewVerifier(logger.NewNop(), []explorer.Provider{p})

	for _, req := range []Request{
		{Address: "", Amount: "1"},
		{Address: "TAddr", Amount: "0"},
		{Address: "TAddr", Amount: "-2"},
		{Address: "TAddr", Amount: "two"},
	} {
		_, err := v.Verify(context.Background(), req)
		assert.True(t, errors.Is(err, ErrInvalidRequest), "%+v", req)
	}
	assert.Equal(t, 0, p.calls)
}

func TestVerifyAtLeastPolicy(t *testing.T) {
	p := &fakeProvider{name: "a", transfers: []models.Transfer{{To: "TAddr", Amount: decimal.NewFromInt(3), TxID: "over"}}}
	v := NewVerifier(logger.NewNop(), []explorer.Provider{p})

	res, err := v.Verify(context.Background(), Request{Address: "TAddr", Amount: "2.0371", Policy: matcher.AtLeast})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)

	res, err = v.Verify(context.Background(), Request{Address: "TAddr", Amount: "2.0371", Policy: matcher.Tolerance})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestProvidersOrder(t *testing.T) {
	v := NewVerifier(logger.NewNop(), []explorer.Provider{failing("a"), failing("b")})
	assert.Equal(t, []string{"a", "b"}, v.Providers())
}
