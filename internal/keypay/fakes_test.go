package keypay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/internal/verifier"
)

// memRepo is an in-memory models.Repository.
type memRepo struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      int
	orders   map[string]*models.Order
	licenses map[string]*models.LicenseKey
	users    map[string]*models.User

	failCreateLicense error
	failUpdateLicense map[string]error
}

func newMemRepo(now func() time.Time) *memRepo {
	return &memRepo{
		now:               now,
		orders:            make(map[string]*models.Order),
		licenses:          make(map[string]*models.LicenseKey),
		users:             make(map[string]*models.User),
		failUpdateLicense: make(map[string]error),
	}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s%d", prefix, r.seq)
}

func (r *memRepo) addOrder(o models.Order) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = r.nextID("o")
	}
	r.orders[o.ID] = &o
	return &o
}

func (r *memRepo) addLicense(l models.LicenseKey) *models.LicenseKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == "" {
		l.ID = r.nextID("l")
	}
	r.licenses[l.ID] = &l
	return &l
}

func (r *memRepo) order(id string) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[id]
}

func (r *memRepo) licenseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.licenses)
}

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.ID = r.nextID("o")
	order.Created = r.now()
	order.Updated = order.Created
	cp := *order
	r.orders[order.ID] = &cp
	return nil
}

func (r *memRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) UpdateOrder(ctx context.Context, id string, u models.OrderUpdate) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.TxID != nil {
		o.TxID = *u.TxID
	}
	if u.LicenseKey != nil {
		o.LicenseKey = *u.LicenseKey
	}
	if u.Chain != nil {
		o.Chain = *u.Chain
	}
	if u.Token != nil {
		o.Token = *u.Token
	}
	o.Updated = r.now()
	cp := *o
	return &cp, nil
}

func (r *memRepo) FindOrders(ctx context.Context, q models.OrderQuery) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Order
	for _, o := range r.orders {
		switch {
		case q.User != "" && o.User != q.User,
			q.Status != "" && o.Status != q.Status,
			q.Address != "" && o.Address != q.Address,
			q.Chain != "" && o.Chain != q.Chain,
			q.TxID != "" && o.TxID != q.TxID,
			!q.CreatedAfter.IsZero() && o.Created.Before(q.CreatedAfter),
			!q.ExpiresAfter.IsZero() && o.ExpiresAt.Before(q.ExpiresAfter),
			!q.ExpiresBefore.IsZero() && !o.ExpiresAt.Before(q.ExpiresBefore):
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memRepo) ListAllOrders(ctx context.Context) ([]*models.Order, map[string]*models.User, error) {
	orders, _ := r.FindOrders(ctx, models.OrderQuery{})
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make(map[string]*models.User)
	for _, o := range orders {
		if u, ok := r.users[o.User]; ok {
			users[u.ID] = u
		}
	}
	return orders, users, nil
}

func (r *memRepo) CreateLicense(ctx context.Context, l *models.LicenseKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateLicense != nil {
		return r.failCreateLicense
	}
	for _, existing := range r.licenses {
		if existing.Code == l.Code {
			return fmt.Errorf("code %s already exists", l.Code)
		}
	}
	l.ID = r.nextID("l")
	cp := *l
	r.licenses[l.ID] = &cp
	return nil
}

func (r *memRepo) GetLicense(ctx context.Context, id string) (*models.LicenseKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.licenses[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memRepo) UpdateLicenseStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdateLicense[id]; err != nil {
		return err
	}
	l, ok := r.licenses[id]
	if !ok {
		return models.ErrNotFound
	}
	l.Status = status
	return nil
}

func (r *memRepo) matchLicenses(f models.LicenseFilter) []models.LicenseKey {
	now := f.Now
	if now.IsZero() {
		now = r.now()
	}
	var out []models.LicenseKey
	for _, l := range r.licenses {
		if f.User != "" && l.User != f.User {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Note != "" && l.Note != f.Note {
			continue
		}
		if f.Keyword != "" && !strings.Contains(l.Code, f.Keyword) && !strings.Contains(l.ServerUID, f.Keyword) && !strings.Contains(l.ServerIP, f.Keyword) {
			continue
		}
		switch f.Expiry {
		case models.ExpirySoon:
			if l.ExpiresAt == nil || l.ExpiresAt.Before(now) || l.ExpiresAt.After(now.Add(models.SoonWindow)) {
				continue
			}
		case models.ExpiryExpired:
			if l.ExpiresAt == nil || !l.ExpiresAt.Before(now) {
				continue
			}
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) ListLicenses(ctx context.Context, f models.LicenseFilter, p models.Page) (*models.LicensePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p = p.Normalize(20)
	all := r.matchLicenses(f)
	start := (p.Page - 1) * p.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return &models.LicensePage{
		Items:      all[start:end],
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalItems: len(all),
		TotalPages: models.TotalPages(len(all), p.PerPage),
	}, nil
}

func (r *memRepo) CountLicenses(ctx context.Context, f models.LicenseFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matchLicenses(f)), nil
}

func (r *memRepo) ListUsers(ctx context.Context, search string, p models.Page) ([]*models.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, u := range r.users {
		if search == "" || strings.Contains(u.Email, search) || u.ID == search {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type stubVerifier struct {
	mu       sync.Mutex
	result   *verifier.Result
	err      error
	requests []verifier.Request
}

func (v *stubVerifier) Verify(ctx context.Context, req verifier.Request) (*verifier.Result, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	if v.err != nil {
		return nil, v.err
	}
	return v.result, nil
}

func (v *stubVerifier) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.requests)
}

type staticWallets struct {
	address string
	price   decimal.Decimal
}

func (w staticWallets) PayAddress() string         { return w.address }
func (w staticWallets) BasePrice() decimal.Decimal { return w.price }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (n *recordingNotifier) SendNotification(notification *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationKind
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}
