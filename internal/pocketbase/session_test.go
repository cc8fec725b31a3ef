package pocketbase

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/keypay/keypay/pkg/logger"
)

func TestRenewSession(t *testing.T) {
	superuser := &AuthRecord{ID: "a1", CollectionID: "pbc", CollectionName: SuperusersCollection}

	tests := []struct {
		name          string
		token         func(t *testing.T) string
		refreshStatus int
		wantRefreshes int32
		wantLogins    int32
		wantErr       bool
	}{
		{
			name:          "valid token is refreshed",
			token:         func(t *testing.T) string { return signToken(t, time.Now().Add(time.Hour)) },
			refreshStatus: http.StatusOK,
			wantRefreshes: 1,
		},
		{
			name:       "expired token logs in without refreshing",
			token:      func(t *testing.T) string { return signToken(t, time.Now().Add(-time.Minute)) },
			wantLogins: 1,
		},
		{
			name:          "rejected refresh logs in",
			token:         func(t *testing.T) string { return signToken(t, time.Now().Add(time.Hour)) },
			refreshStatus: http.StatusUnauthorized,
			wantRefreshes: 1,
			wantLogins:    1,
		},
		{
			name:          "transient failure keeps session",
			token:         func(t *testing.T) string { return signToken(t, time.Now().Add(time.Hour)) },
			refreshStatus: http.StatusBadGateway,
			wantRefreshes: 1,
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refreshes int32
			fresh := signToken(t, time.Now().Add(2*time.Hour))
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&refreshes, 1)
				if tt.refreshStatus != http.StatusOK {
					writeJSON(w, tt.refreshStatus, map[string]interface{}{"message": "nope"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]interface{}{"token": fresh, "record": superuser})
			})
			token := tt.token(t)
			client.AuthStore.Save(token, superuser)

			var logins int32
			err := client.renewSession(context.Background(), func(context.Context) error {
				atomic.AddInt32(&logins, 1)
				return nil
			})

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, token, client.AuthStore.Token())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRefreshes, atomic.LoadInt32(&refreshes))
			assert.Equal(t, tt.wantLogins, atomic.LoadInt32(&logins))
			if tt.name == "valid token is refreshed" {
				assert.Equal(t, fresh, client.AuthStore.Token())
			}
		})
	}
}

func TestKeepAliveStopsOnCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "nope"})
	})

	var logins int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.KeepAlive(ctx, 5*time.Millisecond, func(context.Context) error {
			atomic.AddInt32(&logins, 1)
			return nil
		})
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&logins) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("KeepAlive did not stop")
	}
}

func TestLogSessionChanges(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	client := NewClient("http://127.0.0.1:1", &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	stop := client.LogSessionChanges()
	client.AuthStore.Save(signToken(t, time.Now().Add(time.Hour)), &AuthRecord{ID: "a1"})
	client.AuthStore.Clear()
	stop()
	client.AuthStore.Save("ignored", &AuthRecord{ID: "a2"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "PocketBase session updated", entries[0].Message)
	assert.Equal(t, "a1", entries[0].ContextMap()["record"])
	assert.Equal(t, true, entries[0].ContextMap()["valid"])
	assert.Equal(t, "PocketBase session cleared", entries[1].Message)
}
