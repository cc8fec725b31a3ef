package notificator

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

type fakeTelegram struct {
	chatIDs  []int64
	messages []string
	panics   bool
}

func (f *fakeTelegram) SendNotification(chatID int64, message string) {
	if f.panics {
		panic("telegram down")
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, message)
}

type fakeEmail struct {
	to       []string
	subjects []string
}

func (f *fakeEmail) SendNotification(to, subject, message string) {
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
}

func TestSendNotificationFansOut(t *testing.T) {
	tg := &fakeTelegram{}
	mail := &fakeEmail{}
	n := &Notificator{
		logger:              logger.NewNop(),
		TelegramNotificator: tg,
		TelegramChatID:      -100,
		EmailNotificator:    mail,
		AdminEmail:          "admin@example.com",
	}

	n.SendNotification(&models.Notification{
		Kind:    models.NotificationLicenseIssueFailed,
		OrderID: "o1",
		Amount:  "2.0371",
		TxID:    "tx1",
		Error:   "permission denied",
	})

	require.Len(t, tg.messages, 1)
	assert.Equal(t, int64(-100), tg.chatIDs[0])
	assert.Contains(t, tg.messages[0], "o1")
	assert.Contains(t, tg.messages[0], "permission denied")
	assert.Equal(t, []string{"admin@example.com"}, mail.to)
	assert.Equal(t, []string{"Action required: license not issued"}, mail.subjects)
}

func TestSendNotificationRecoversFromPanic(t *testing.T) {
	mail := &fakeEmail{}
	n := &Notificator{
		logger:              logger.NewNop(),
		TelegramNotificator: &fakeTelegram{panics: true},
		TelegramChatID:      1,
		EmailNotificator:    mail,
		AdminEmail:          "admin@example.com",
	}

	assert.NotPanics(t, func() {
		n.SendNotification(&models.Notification{Kind: models.NotificationOrderConfirmed, OrderID: "o1"})
	})
	assert.Len(t, mail.to, 1)
}

func TestSendNotificationSkipsUnconfiguredChannels(t *testing.T) {
	tg := &fakeTelegram{}
	n := NewNotificator(logger.NewNop(), nil, 0, nil, "")
	n.SendNotification(&models.Notification{Kind: models.NotificationOrderConfirmed})

	n.TelegramNotificator = tg
	n.SendNotification(&models.Notification{Kind: models.NotificationOrderConfirmed})
	assert.Empty(t, tg.messages, "no chat id configured")
}

func TestEmailNotificatorSend(t *testing.T) {
	e := NewEmailNotificator(logger.NewNop(), "smtp.example.com", 587, "user", "pass", "keypay@example.com")

	var gotAddr string
	var gotMsg []byte
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "keypay@example.com", from)
		assert.Equal(t, []string{"admin@example.com"}, to)
		return nil
	}
	e.SendNotification("admin@example.com", "Order confirmed", "Order o1 confirmed")

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	msg := string(gotMsg)
	assert.True(t, strings.HasPrefix(msg, "From: keypay@example.com\r\nTo: admin@example.com\r\nSubject: Order confirmed\r\n"))
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nOrder o1 confirmed"))

	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("connection refused") }
	assert.NotPanics(t, func() { e.SendNotification("admin@example.com", "s", "m") })
}

func TestStartReply(t *testing.T) {
	assert.Contains(t, startReply(-1001234), "-1001234")
}
