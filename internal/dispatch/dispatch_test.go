package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/models"
)

func TestWSRegistry_PublishesToParticipants(t *testing.T) {
	reg := NewWSRegistry(nil)
	driver := models.AddressFromSeed("driver")
	stranger := models.AddressFromSeed("stranger")

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		addr := driver
		if r.URL.Query().Get("who") == "stranger" {
			addr = stranger
		}
		reg.Add(addr, conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	driverConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer driverConn.Close()
	strangerConn, _, err := websocket.DefaultDialer.Dial(wsURL+"?who=stranger", nil)
	require.NoError(t, err)
	defer strangerConn.Close()

	require.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, 10*time.Millisecond)

	ev := models.Event{ID: "e1", Type: models.EventRideJoined, RideID: 4, Driver: driver}
	require.NoError(t, reg.Publish(context.Background(), ev))

	_ = driverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := driverConn.ReadMessage()
	require.NoError(t, err)
	var got models.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, driver, got.Driver)

	_ = strangerConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = strangerConn.ReadMessage()
	assert.Error(t, err, "non participants receive nothing")
}

func TestWSRegistry_SendWithoutSession(t *testing.T) {
	reg := NewWSRegistry(nil)
	err := reg.Send(models.AddressFromSeed("nobody"), models.Event{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestWebhookPublisher(t *testing.T) {
	var gotType string
	var got models.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Event-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.RideID == 13 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL)
	require.NoError(t, p.Publish(context.Background(), models.Event{Type: models.EventRideCancelled, RideID: 2}))
	assert.Equal(t, "ride_cancelled", gotType)
	assert.Equal(t, uint64(2), got.RideID)

	assert.Error(t, p.Publish(context.Background(), models.Event{RideID: 13}))
}
