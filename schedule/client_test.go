package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpio/chatcore/types"
)

func TestCheckAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/availability", r.URL.Path)
		assert.Equal(t, "2026-03-02", r.URL.Query().Get("date"))
		assert.Equal(t, "demo", r.URL.Query().Get("service"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"slots":[
			{"start":"2026-03-02T10:00:00Z","end":"2026-03-02T10:30:00Z","label":"morning"},
			{"start":"2026-03-02T15:00:00Z","end":"2026-03-02T15:30:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key"}, nil)
	avail, err := c.CheckAvailability(context.Background(), AvailabilityRequest{Date: "2026-03-02", Service: "demo"})
	require.NoError(t, err)
	require.Len(t, avail.Slots, 2)
	assert.Equal(t, "morning", avail.Slots[0].Label)
}

func TestCheckAvailabilityServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.CheckAvailability(context.Background(), AvailabilityRequest{})
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamUnavailable, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
}

func TestCheckAvailabilityBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.CheckAvailability(context.Background(), AvailabilityRequest{Date: "not-a-date"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
	assert.False(t, types.IsRetryable(err))
}
