package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStates(t *testing.T) {
	ctx := context.Background()

	t.Run("returns entity states with auth header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/states", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]EntityState{
				{EntityID: "switch.node_fan", State: "off"},
				{EntityID: "sensor.node_humidity", State: "45"},
			})
		}))
		defer server.Close()

		c := New(server.URL, "test-token")
		states, err := c.GetStates(ctx)
		require.NoError(t, err)
		require.Len(t, states, 2)
		assert.Equal(t, "switch.node_fan", states[0].EntityID)
		assert.Equal(t, "45", states[1].State)
	})

	t.Run("rejected token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := New(server.URL, "bad-token")
		_, err := c.GetStates(ctx)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unreachable platform", func(t *testing.T) {
		c := New("http://127.0.0.1:1", "token")
		_, err := c.GetStates(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestCallService(t *testing.T) {
	ctx := context.Background()

	t.Run("posts entity payload to service endpoint", func(t *testing.T) {
		var gotPath string
		var gotBody map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := New(server.URL, "token")
		err := c.CallService(ctx, "switch", "turn_on", "switch.node_fan")
		require.NoError(t, err)
		assert.Equal(t, "/api/services/switch/turn_on", gotPath)
		assert.Equal(t, map[string]string{"entity_id": "switch.node_fan"}, gotBody)
	})

	t.Run("platform error surfaces", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("unknown service"))
		}))
		defer server.Close()

		c := New(server.URL, "token")
		err := c.CallService(ctx, "switch", "explode", "switch.node_fan")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	})
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 7, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 9, 0, 0, 0, 0, time.UTC)

	t.Run("flattens nested series", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/api/history/period/")
			assert.Equal(t, "sensor.node_humidity", r.URL.Query().Get("filter_entity_id"))
			assert.NotEmpty(t, r.URL.Query().Get("end_time"))

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([][]HistoryPoint{{
				{State: "44", LastChanged: start.Add(6 * time.Hour)},
				{State: "47", LastChanged: start.Add(12 * time.Hour)},
			}})
		}))
		defer server.Close()

		c := New(server.URL, "token")
		points, err := c.GetHistory(ctx, "sensor.node_humidity", start, end)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, "44", points[0].State)
	})

	t.Run("caps oversized responses", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			series := make([]HistoryPoint, 0, 500)
			for i := 0; i < 500; i++ {
				series = append(series, HistoryPoint{
					State:       fmt.Sprintf("%d", i),
					LastChanged: start.Add(time.Duration(i) * time.Minute),
				})
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([][]HistoryPoint{series})
		}))
		defer server.Close()

		c := New(server.URL, "token")
		points, err := c.GetHistory(ctx, "sensor.node_humidity", start, end)
		require.NoError(t, err)
		assert.Len(t, points, MaxHistoryEntries)
	})

	t.Run("empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
		}))
		defer server.Close()

		c := New(server.URL, "token")
		points, err := c.GetHistory(ctx, "sensor.node_humidity", start, end)
		require.NoError(t, err)
		assert.Empty(t, points)
	})
}
