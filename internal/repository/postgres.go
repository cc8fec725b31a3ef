package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

type PostgresDB struct {
	logger *logger.Logger
	now    func() time.Time

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return Open(dsn, logger)
}

// Open connects with a raw DSN and migrates the schema.
func Open(dsn string, logger *logger.Logger) (*PostgresDB, error) {
	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Order{}, &models.LicenseKey{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, logger: logger, now: time.Now}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

// newID returns a 32 character hex record id.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

// CreateUser inserts a user. Users live in PocketBase in the default deployment,
// so this is only used to seed the self-hosted store.
func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = newID()
	}
	if err := db.Conn.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *PostgresDB) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = newID()
	}
	if err := db.Conn.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// orderUpdateColumns maps the set fields of an update onto column names.
func orderUpdateColumns(update models.OrderUpdate) map[string]interface{} {
	cols := make(map[string]interface{})
	if update.Status != nil {
		cols["status"] = string(*update.Status)
	}
	if update.TxID != nil {
		cols["txid"] = *update.TxID
	}
	if update.LicenseKey != nil {
		cols["license_key"] = *update.LicenseKey
	}
	if update.Chain != nil {
		cols["chain"] = *update.Chain
	}
	if update.Token != nil {
		cols["token"] = *update.Token
	}
	return cols
}

func (db *PostgresDB) UpdateOrder(ctx context.Context, id string, update models.OrderUpdate) (*models.Order, error) {
	cols := orderUpdateColumns(update)
	if len(cols) > 0 {
		res := db.Conn.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, models.ErrNotFound
		}
	}
	return db.GetOrder(ctx, id)
}

func (db *PostgresDB) FindOrders(ctx context.Context, q models.OrderQuery) ([]*models.Order, error) {
	tx := db.Conn.WithContext(ctx).Model(&models.Order{})
	if q.User != "" {
		tx = tx.Where("user_id = ?", q.User)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", string(q.Status))
	}
	if q.Address != "" {
		tx = tx.Where("address = ?", q.Address)
	}
	if q.Chain != "" {
		tx = tx.Where("chain = ?", q.Chain)
	}
	if q.TxID != "" {
		tx = tx.Where("txid = ?", q.TxID)
	}
	if !q.CreatedAfter.IsZero() {
		tx = tx.Where("created >= ?", q.CreatedAfter)
	}
	if !q.ExpiresAfter.IsZero() {
		tx = tx.Where("expires_at >= ?", q.ExpiresAfter)
	}
	if !q.ExpiresBefore.IsZero() {
		tx = tx.Where("expires_at < ?", q.ExpiresBefore)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var orders []*models.Order
	if err := tx.Order("created DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

func (db *PostgresDB) ListAllOrders(ctx context.Context) ([]*models.Order, map[string]*models.User, error) {
	var orders []*models.Order
	if err := db.Conn.WithContext(ctx).Order("created DESC").Find(&orders).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]string, 0, len(orders))
	seen := make(map[string]bool)
	for _, o := range orders {
		if !seen[o.User] {
			seen[o.User] = true
			ids = append(ids, o.User)
		}
	}

	users := make(map[string]*models.User, len(ids))
	if len(ids) > 0 {
		var found []*models.User
		if err := db.Conn.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to load order users: %w", err)
		}
		for _, u := range found {
			users[u.ID] = u
		}
	}
	return orders, users, nil
}

func (db *PostgresDB) CreateLicense(ctx context.Context, license *models.LicenseKey) error {
	if license.ID == "" {
		license.ID = newID()
	}
	if err := db.Conn.WithContext(ctx).Create(license).Error; err != nil {
		return fmt.Errorf("failed to create license key: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetLicense(ctx context.Context, id string) (*models.LicenseKey, error) {
	var license models.LicenseKey
	if err := db.Conn.WithContext(ctx).Where("id = ?", id).First(&license).Error; err != nil {
		return nil, notFound(err)
	}
	return &license, nil
}

func (db *PostgresDB) UpdateLicenseStatus(ctx context.Context, id string, status models.LicenseStatus) error {
	res := db.Conn.WithContext(ctx).Model(&models.LicenseKey{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("failed to update license status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) licenseScope(f models.LicenseFilter) func(*gorm.DB) *gorm.DB {
	now := f.Now
	if now.IsZero() {
		now = db.now()
	}
	return func(tx *gorm.DB) *gorm.DB {
		if f.User != "" {
			tx = tx.Where("user_id = ?", f.User)
		}
		if f.Status != "" {
			tx = tx.Where("status = ?", string(f.Status))
		}
		if f.Keyword != "" {
			like := "%" + f.Keyword + "%"
			tx = tx.Where("(code ILIKE ? OR server_uid ILIKE ? OR server_ip ILIKE ?)", like, like, like)
		}
		if f.Note != "" {
			tx = tx.Where("note = ?", f.Note)
		}
		switch f.Expiry {
		case models.ExpirySoon:
			tx = tx.Where("expires_at >= ? AND expires_at <= ?", now, now.Add(models.SoonWindow))
		case models.ExpiryExpired:
			tx = tx.Where("expires_at < ?", now)
		}
		return tx
	}
}

func (db *PostgresDB) ListLicenses(ctx context.Context, filter models.LicenseFilter, page models.Page) (*models.LicensePage, error) {
	page = page.Normalize(20)
	scope := db.licenseScope(filter)

	var total int64
	if err := db.Conn.WithContext(ctx).Model(&models.LicenseKey{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count license keys: %w", err)
	}

	var items []models.LicenseKey
	err := db.Conn.WithContext(ctx).Scopes(scope).
		Order("purchased_at DESC NULLS LAST").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list license keys: %w", err)
	}

	return &models.LicensePage{
		Items:      items,
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalItems: int(total),
		TotalPages: models.TotalPages(int(total), page.PerPage),
	}, nil
}

func (db *PostgresDB) CountLicenses(ctx context.Context, filter models.LicenseFilter) (int, error) {
	var total int64
	if err := db.Conn.WithContext(ctx).Model(&models.LicenseKey{}).Scopes(db.licenseScope(filter)).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("failed to count license keys: %w", err)
	}
	return int(total), nil
}

func (db *PostgresDB) ListUsers(ctx context.Context, search string, page models.Page) ([]*models.User, int, error) {
	page = page.Normalize(50)
	scope := func(tx *gorm.DB) *gorm.DB {
		if search == "" {
			return tx
		}
		like := "%" + search + "%"
		return tx.Where("(email ILIKE ? OR username ILIKE ? OR id = ?)", like, like, search)
	}

	var total int64
	if err := db.Conn.WithContext(ctx).Model(&models.User{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	var users []*models.User
	err := db.Conn.WithContext(ctx).Scopes(scope).
		Order("created DESC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&users).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, int(total), nil
}
