package pocketbase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

const (
	OrdersCollection   = "orders"
	LicensesCollection = "license_keys"
	UsersCollection    = "users"
)

type orderRecord struct {
	ID         string   `json:"id,omitempty"`
	User       string   `json:"user"`
	Address    string   `json:"address"`
	Amount     string   `json:"amount"`
	Status     string   `json:"status"`
	ExpiresAt  DateTime `json:"expires_at"`
	TxID       string   `json:"txid"`
	LicenseKey string   `json:"license_key"`
	Chain      string   `json:"chain"`
	Token      string   `json:"token"`
	Created    DateTime `json:"created,omitempty"`
	Updated    DateTime `json:"updated,omitempty"`
	Expand     struct {
		User *userRecord `json:"user,omitempty"`
	} `json:"expand,omitempty"`
}

func (r *orderRecord) model() *models.Order {
	return &models.Order{
		ID:         r.ID,
		User:       r.User,
		Address:    r.Address,
		Amount:     r.Amount,
		Status:     models.OrderStatus(r.Status),
		ExpiresAt:  r.ExpiresAt.Time,
		TxID:       r.TxID,
		LicenseKey: r.LicenseKey,
		Chain:      r.Chain,
		Token:      r.Token,
		Created:    r.Created.Time,
		Updated:    r.Updated.Time,
	}
}

// orderCreate omits server-managed fields.
type orderCreate struct {
	User      string   `json:"user"`
	Address   string   `json:"address"`
	Amount    string   `json:"amount"`
	Status    string   `json:"status"`
	ExpiresAt DateTime `json:"expires_at"`
	TxID      string   `json:"txid"`
	Chain     string   `json:"chain,omitempty"`
	Token     string   `json:"token,omitempty"`
}

type licenseRecord struct {
	ID          string   `json:"id,omitempty"`
	Code        string   `json:"code"`
	User        string   `json:"user"`
	Status      string   `json:"status"`
	ServerUID   string   `json:"server_uid"`
	ServerIP    string   `json:"server_ip"`
	ExpiresAt   DateTime `json:"expires_at"`
	PurchasedAt DateTime `json:"purchased_at"`
	FirstUsedAt DateTime `json:"first_used_at"`
	Note        string   `json:"note"`
}

func (r *licenseRecord) model() models.LicenseKey {
	return models.LicenseKey{
		ID:          r.ID,
		Code:        r.Code,
		User:        r.User,
		Status:      models.LicenseStatus(r.Status),
		ServerUID:   r.ServerUID,
		ServerIP:    r.ServerIP,
		ExpiresAt:   r.ExpiresAt.Ptr(),
		PurchasedAt: r.PurchasedAt.Ptr(),
		FirstUsedAt: r.FirstUsedAt.Ptr(),
		Note:        r.Note,
	}
}

type userRecord struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Created  DateTime `json:"created"`
}

func (r *userRecord) model() *models.User {
	return &models.User{ID: r.ID, Email: r.Email, Username: r.Username, Created: r.Created.Time}
}

// Store keeps orders, license keys and users in PocketBase collections.
// The client must carry a session allowed to read and write them, normally a superuser.
type Store struct {
	logger *logger.Logger
	client *Client
	now    func() time.Time
}

func NewStore(client *Client, logger *logger.Logger) *Store {
	return &Store{logger: logger, client: client, now: time.Now}
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	body := orderCreate{
		User:      order.User,
		Address:   order.Address,
		Amount:    order.Amount,
		Status:    string(order.Status),
		ExpiresAt: NewDateTime(order.ExpiresAt),
		TxID:      order.TxID,
		Chain:     order.Chain,
		Token:     order.Token,
	}
	var rec orderRecord
	if err := s.client.Create(ctx, OrdersCollection, body, &rec); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	*order = *rec.model()
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var rec orderRecord
	if err := s.client.GetOne(ctx, OrdersCollection, id, "", &rec); err != nil {
		return nil, mapErr(err)
	}
	return rec.model(), nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, update models.OrderUpdate) (*models.Order, error) {
	var rec orderRecord
	if err := s.client.Update(ctx, OrdersCollection, id, update, &rec); err != nil {
		return nil, mapErr(err)
	}
	return rec.model(), nil
}

func (s *Store) FindOrders(ctx context.Context, q models.OrderQuery) ([]*models.Order, error) {
	filter := orderFilter(q)
	s.logger.Debugw("Finding orders", "filter", filter, "limit", q.Limit)
	perPage := q.Limit
	if perPage <= 0 {
		raw, err := s.client.FullList(ctx, OrdersCollection, ListOptions{Filter: filter, Sort: "-created"})
		if err != nil {
			return nil, fmt.Errorf("failed to list orders: %w", err)
		}
		return decodeOrders(raw, nil)
	}
	res, err := s.client.List(ctx, OrdersCollection, 1, perPage, ListOptions{Filter: filter, Sort: "-created"})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return decodeOrders(res.Items, nil)
}

func orderFilter(q models.OrderQuery) string {
	var exprs []string
	if q.User != "" {
		exprs = append(exprs, Eq("user", q.User))
	}
	if q.Status != "" {
		exprs = append(exprs, Eq("status", string(q.Status)))
	}
	if q.Address != "" {
		exprs = append(exprs, Eq("address", q.Address))
	}
	if q.Chain != "" {
		exprs = append(exprs, Eq("chain", q.Chain))
	}
	if q.TxID != "" {
		exprs = append(exprs, Eq("txid", q.TxID))
	}
	if !q.CreatedAfter.IsZero() {
		exprs = append(exprs, Gte("created", q.CreatedAfter))
	}
	if !q.ExpiresAfter.IsZero() {
		exprs = append(exprs, Gte("expires_at", q.ExpiresAfter))
	}
	if !q.ExpiresBefore.IsZero() {
		exprs = append(exprs, Lt("expires_at", q.ExpiresBefore))
	}
	return And(exprs...)
}

func (s *Store) ListAllOrders(ctx context.Context) ([]*models.Order, map[string]*models.User, error) {
	raw, err := s.client.FullList(ctx, OrdersCollection, ListOptions{Sort: "-created", Expand: "user"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list orders: %w", err)
	}
	users := make(map[string]*models.User)
	orders, err := decodeOrders(raw, users)
	if err != nil {
		return nil, nil, err
	}
	return orders, users, nil
}

func decodeOrders(raw []json.RawMessage, users map[string]*models.User) ([]*models.Order, error) {
	orders := make([]*models.Order, 0, len(raw))
	for _, item := range raw {
		var rec orderRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		if users != nil && rec.Expand.User != nil {
			users[rec.Expand.User.ID] = rec.Expand.User.model()
		}
		orders = append(orders, rec.model())
	}
	return orders, nil
}

func (s *Store) CreateLicense(ctx context.Context, license *models.LicenseKey) error {
	body := licenseRecord{
		Code:        license.Code,
		User:        license.User,
		Status:      string(license.Status),
		ServerUID:   license.ServerUID,
		ServerIP:    license.ServerIP,
		ExpiresAt:   fromPtr(license.ExpiresAt),
		PurchasedAt: fromPtr(license.PurchasedAt),
		FirstUsedAt: fromPtr(license.FirstUsedAt),
		Note:        license.Note,
	}
	var rec licenseRecord
	if err := s.client.Create(ctx, LicensesCollection, body, &rec); err != nil {
		return fmt.Errorf("failed to create license key: %w", err)
	}
	*license = rec.model()
	return nil
}

func (s *Store) GetLicense(ctx context.Context, id string) (*models.LicenseKey, error) {
	var rec licenseRecord
	if err := s.client.GetOne(ctx, LicensesCollection, id, "", &rec); err != nil {
		return nil, mapErr(err)
	}
	lic := rec.model()
	return &lic, nil
}

func (s *Store) UpdateLicenseStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	body := map[string]string{"status": string(status)}
	if err := s.client.Update(ctx, LicensesCollection, id, body, nil); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) ListLicenses(ctx context.Context, filter models.LicenseFilter, page models.Page) (*models.LicensePage, error) {
	page = page.Normalize(20)
	res, err := s.client.List(ctx, LicensesCollection, page.Page, page.PerPage, ListOptions{
		Filter: s.licenseFilter(filter),
		Sort:   "-purchased_at",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}

	out := &models.LicensePage{
		Items:      make([]models.LicenseKey, 0, len(res.Items)),
		Page:       res.Page,
		PerPage:    res.PerPage,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	}
	if out.TotalPages < 1 {
		out.TotalPages = 1
	}
	for _, item := range res.Items {
		var rec licenseRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode license key: %w", err)
		}
		out.Items = append(out.Items, rec.model())
	}
	return out, nil
}

// CountLicenses asks for a one-item page and reads totalItems.
func (s *Store) CountLicenses(ctx context.Context, filter models.LicenseFilter) (int, error) {
	res, err := s.client.List(ctx, LicensesCollection, 1, 1, ListOptions{Filter: s.licenseFilter(filter)})
	if err != nil {
		return 0, fmt.Errorf("failed to count license keys: %w", err)
	}
	return res.TotalItems, nil
}

func (s *Store) licenseFilter(f models.LicenseFilter) string {
	now := f.Now
	if now.IsZero() {
		now = s.now()
	}
	var exprs []string
	if f.User != "" {
		exprs = append(exprs, Eq("user", f.User))
	}
	if f.Status != "" {
		exprs = append(exprs, Eq("status", string(f.Status)))
	}
	if f.Keyword != "" {
		exprs = append(exprs, Or(Like("code", f.Keyword), Like("server_uid", f.Keyword), Like("server_ip", f.Keyword)))
	}
	if f.Note != "" {
		exprs = append(exprs, Eq("note", f.Note))
	}
	switch f.Expiry {
	case models.ExpirySoon:
		exprs = append(exprs, Gte("expires_at", now), Lte("expires_at", now.Add(models.SoonWindow)))
	case models.ExpiryExpired:
		exprs = append(exprs, Lt("expires_at", now))
	}
	return And(exprs...)
}

func (s *Store) ListUsers(ctx context.Context, search string, page models.Page) ([]*models.User, int, error) {
	page = page.Normalize(50)
	var filter string
	if search != "" {
		filter = Or(Like("email", search), Like("username", search), Eq("id", search))
	}
	res, err := s.client.List(ctx, UsersCollection, page.Page, page.PerPage, ListOptions{Filter: filter, Sort: "-created"})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*models.User, 0, len(res.Items))
	for _, item := range res.Items {
		var rec userRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, 0, fmt.Errorf("failed to decode user: %w", err)
		}
		users = append(users, rec.model())
	}
	return users, res.TotalItems, nil
}

func mapErr(err error) error {
	if IsNotFound(err) {
		return models.ErrNotFound
	}
	return err
}
