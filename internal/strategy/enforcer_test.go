package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

func testRule() *apv.CoagulationRule {
	now := time.Now()
	return &apv.CoagulationRule{
		ID:           "rule-1",
		APVID:        "apv-1",
		CVEID:        "CVE-2024-12345",
		Vector:       apv.VectorInjection,
		MatchPattern: "<script",
		Action:       "block",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		Active:       true,
	}
}

func TestHTTPEnforcer_InstallRule(t *testing.T) {
	var got apv.CoagulationRule
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "sekrit", nil)
	require.NoError(t, e.InstallRule(context.Background(), testRule()))

	assert.Equal(t, "Bearer sekrit", auth)
	assert.Equal(t, "rule-1", got.ID)
	assert.Equal(t, apv.VectorInjection, got.Vector)
	assert.Equal(t, "block", got.Action)
}

func TestHTTPEnforcer_RejectedRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pattern not supported", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	e := NewHTTPEnforcer(srv.URL, "", nil)
	err := e.InstallRule(context.Background(), testRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "pattern not supported")
}

func TestHTTPEnforcer_Unreachable(t *testing.T) {
	e := NewHTTPEnforcer("http://127.0.0.1:1", "", nil)
	err := e.InstallRule(context.Background(), testRule())
	require.Error(t, err)
}
