package notificator

import (
	"runtime/debug"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

type telegramSender interface {
	SendNotification(chatID int64, message string)
}

type emailSender interface {
	SendNotification(to, subject, message string)
}

// Notificator fans admin notifications out to Telegram and email.
// Either channel may be disabled by leaving its sender or target unset.
type Notificator struct {
	logger *logger.Logger

	TelegramNotificator telegramSender
	TelegramChatID      int64
	EmailNotificator    emailSender
	AdminEmail          string
}

func NewNotificator(logger *logger.Logger, telNotif *TelegramNotificator, chatID int64, emailNotif *EmailNotificator, adminEmail string) *Notificator {
	n := &Notificator{logger: logger, TelegramChatID: chatID, AdminEmail: adminEmail}
	// Typed nil pointers would defeat the nil checks in SendNotification.
	if telNotif != nil {
		n.TelegramNotificator = telNotif
	}
	if emailNotif != nil {
		n.EmailNotificator = emailNotif
	}
	return n
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (n *Notificator) SendNotification(notification *models.Notification) {
	message := notification.String()
	sent := false

	if n.TelegramNotificator != nil && n.TelegramChatID != 0 {
		chatID := n.TelegramChatID
		n.safeCall(func() { n.TelegramNotificator.SendNotification(chatID, message) }, "telegramNotification")
		sent = true
	}
	if n.EmailNotificator != nil && n.AdminEmail != "" {
		to := n.AdminEmail
		subject := subjectFor(notification.Kind)
		n.safeCall(func() { n.EmailNotificator.SendNotification(to, subject, message) }, "emailNotification")
		sent = true
	}

	if !sent {
		n.logger.Debugw("No admin notification channel configured", "kind", notification.Kind, "order", notification.OrderID)
	}
}

func subjectFor(kind models.NotificationKind) string {
	switch kind {
	case models.NotificationLicenseIssueFailed:
		return "Action required: license not issued"
	default:
		return "Order confirmed"
	}
}
