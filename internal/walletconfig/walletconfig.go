package walletconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/pkg/logger"
)

// WalletFile is the remote wallet configuration document:
//
//	{"USDT": {"TRC20": ["T..."], "amount": 2}}
type WalletFile struct {
	USDT struct {
		TRC20  []string        `json:"TRC20"`
		Amount decimal.Decimal `json:"amount"`
	} `json:"USDT"`
}

type Options struct {
	// URL of the wallet file. Empty disables fetching and the fallbacks are always used.
	URL             string
	FallbackAddress string
	FallbackPrice   decimal.Decimal
	RefreshInterval time.Duration
	HTTPClient      *http.Client
}

// Service caches the remote wallet configuration and answers with the
// configured fallbacks until the first successful fetch.
type Service struct {
	logger *logger.Logger
	opts   Options
	client *http.Client
	now    func() time.Time

	current    *WalletFile
	cacheMutex sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(logger *logger.Logger, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 10 * time.Minute
	}
	return &Service{
		logger: logger,
		opts:   opts,
		client: client,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Fetch downloads the wallet file and replaces the cached copy.
func (s *Service) Fetch(ctx context.Context) error {
	if s.opts.URL == "" {
		return nil
	}

	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return fmt.Errorf("invalid wallet config url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(s.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch wallet config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var file WalletFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return fmt.Errorf("failed to decode wallet config: %w", err)
	}

	s.cacheMutex.Lock()
	s.current = &file
	s.cacheMutex.Unlock()

	s.logger.Infow("Wallet config updated", "addresses", len(file.USDT.TRC20), "amount", file.USDT.Amount.String())
	return nil
}

// PayAddress returns the first remote TRC20 address, else the fallback.
func (s *Service) PayAddress() string {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()
	if s.current != nil {
		for _, addr := range s.current.USDT.TRC20 {
			if addr != "" {
				return addr
			}
		}
	}
	return s.opts.FallbackAddress
}

// BasePrice returns the remote amount when positive, else the fallback.
func (s *Service) BasePrice() decimal.Decimal {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()
	if s.current != nil && s.current.USDT.Amount.IsPositive() {
		return s.current.USDT.Amount
	}
	return s.opts.FallbackPrice
}

// StartPeriodicUpdate starts a goroutine that refreshes the wallet file periodically
func (s *Service) StartPeriodicUpdate() {
	if s.opts.URL == "" {
		s.logger.Info("Wallet config URL not set, using configured pay address and price")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// Initial fetch with retry logic
		backoff := 5 * time.Second
		maxBackoff := 5 * time.Minute

		for {
			if err := s.Fetch(s.ctx); err != nil {
				s.logger.Warnw("Failed to fetch wallet config on startup, retrying", "error", err, "retry_in", backoff)

				select {
				case <-time.After(backoff):
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					continue
				case <-s.ctx.Done():
					s.logger.Info("Wallet config service stopped during initial fetch")
					return
				}
			}
			break
		}

		ticker := time.NewTicker(s.opts.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Fetch(s.ctx); err != nil {
					s.logger.Warnw("Failed to refresh wallet config, keeping previous", "error", err)
				}
			case <-s.ctx.Done():
				s.logger.Info("Wallet config periodic update stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the periodic update
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}
