package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mky2266/mats/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEquity struct {
	bot   string
	limit int
	err   error
}

func (f *fakeEquity) GetLatest(bot string, limit int) ([]*store.EquitySnapshot, error) {
	f.bot, f.limit = bot, limit
	if f.err != nil {
		return nil, f.err
	}
	return []*store.EquitySnapshot{{Bot: bot, Symbol: "DUSKUSDT", Equity: 1012.5, Timestamp: time.Unix(0, 0).UTC()}}, nil
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", nil, nil, nil)
	w := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStatus(t *testing.T) {
	engines := map[string]StatusFunc{
		"grid":  func() any { return map[string]any{"symbol": "DUSKUSDT", "phase": "active"} },
		"trend": func() any { return map[string]any{"symbol": "BBBUSDT"} },
	}
	s := NewServer(":0", engines, nil, nil)

	w := get(t, s, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DUSKUSDT", body["grid"]["symbol"])
	assert.Equal(t, "BBBUSDT", body["trend"]["symbol"])

	w = get(t, s, "/api/status/grid")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phase":"active"`)

	w = get(t, s, "/api/status/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEquityHistory(t *testing.T) {
	eq := &fakeEquity{}
	s := NewServer(":0", nil, eq, nil)

	w := get(t, s, "/api/equity-history?bot=trend&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "trend", eq.bot)
	assert.Equal(t, 5, eq.limit)
	assert.Contains(t, w.Body.String(), `"equity":1012.5`)

	w = get(t, s, "/api/equity-history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "grid", eq.bot)
	assert.Equal(t, 100, eq.limit)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/equity-history?limit=abc").Code)

	eq.err = errors.New("db closed")
	assert.Equal(t, http.StatusInternalServerError, get(t, s, "/api/equity-history").Code)
}

func TestOptionalStoresUnavailable(t *testing.T) {
	s := NewServer(":0", nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/api/equity-history").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/api/backtest/leaderboard").Code)
}

func TestLeaderboardFromStore(t *testing.T) {
	st, err := store.New(t.TempDir() + "/mats.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := NewServer(":0", nil, st.Equity(), st.Backtest())
	w := get(t, s, "/api/backtest/leaderboard")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get(t, s, "/api/equity-history")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
