package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/eureka/internal/config"
)

// newTestPRCreator points a client at a stub GitHub API.
func newTestPRCreator(t *testing.T, handler http.Handler) *PRCreator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	creator := NewPRCreatorWithClient(client, config.GitHubConfig{
		Owner:      "acme",
		Repo:       "web",
		BaseBranch: "main",
	}, nil)
	// Fast retries so failure tests finish quickly.
	creator.retry = &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
	return creator
}

func TestPRCreator_Create(t *testing.T) {
	var prBodyJSON map[string]any
	var labels []string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&prBodyJSON))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 7, "html_url": "https://github.com/acme/web/pull/7"}`)
	})
	mux.HandleFunc("POST /repos/acme/web/issues/7/labels", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&labels))
		fmt.Fprint(w, `[]`)
	})

	creator := newTestPRCreator(t, mux)
	url, err := creator.Create(context.Background(), testAPV(), manifestPatch(), "remediation/CVE-2024-12345")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/web/pull/7", url)

	assert.Equal(t, "remediation/CVE-2024-12345", prBodyJSON["head"])
	assert.Equal(t, "main", prBodyJSON["base"])
	assert.Contains(t, prBodyJSON["title"], "CVE-2024-12345")
	assert.Contains(t, prBodyJSON["title"], "critical")

	body := prBodyJSON["body"].(string)
	assert.Contains(t, body, "CVSS 9.8")
	assert.Contains(t, body, "https://nvd.nist.gov/vuln/detail/CVE-2024-12345")
	assert.Contains(t, body, "dependency_upgrade")
	assert.Contains(t, body, "libfoo")
	assert.Contains(t, body, "requirements.txt")

	assert.Equal(t, []string{"security", "severity:critical", "strategy:dependency_upgrade"}, labels)
}

func TestPRCreator_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 8, "html_url": "https://github.com/acme/web/pull/8"}`)
	})
	mux.HandleFunc("POST /repos/acme/web/issues/8/labels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	creator := newTestPRCreator(t, mux)
	url, err := creator.Create(context.Background(), testAPV(), manifestPatch(), "remediation/CVE-2024-12345")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/web/pull/8", url)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestPRCreator_DoesNotRetryValidationErrors(t *testing.T) {
	var attempts atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message": "Validation Failed"}`)
	})

	creator := newTestPRCreator(t, mux)
	_, err := creator.Create(context.Background(), testAPV(), manifestPatch(), "remediation/CVE-2024-12345")
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "422 must not be retried")
}

func TestPRCreator_LabelFailureDoesNotFailCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/web/pulls", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 9, "html_url": "https://github.com/acme/web/pull/9"}`)
	})
	mux.HandleFunc("POST /repos/acme/web/issues/9/labels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	creator := newTestPRCreator(t, mux)
	url, err := creator.Create(context.Background(), testAPV(), manifestPatch(), "remediation/CVE-2024-12345")
	require.NoError(t, err, "a missing label must not lose the PR")
	assert.Equal(t, "https://github.com/acme/web/pull/9", url)
}

func TestNewPRCreator_RequiresToken(t *testing.T) {
	_, err := NewPRCreator(context.Background(), config.GitHubConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token not set")
}

func TestRetryConfig_RateLimitBackoff(t *testing.T) {
	resp := &github.Response{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Rate: github.Rate{
			Limit:     5000,
			Remaining: 0,
			Reset:     github.Timestamp{Time: time.Now().Add(3 * time.Second)},
		},
	}

	assert.True(t, isRateLimitError(resp))
	assert.True(t, isGitHubRetryableError(fmt.Errorf("rate limited"), resp))

	backoff := getRateLimitBackoff(resp, 30*time.Second)
	assert.Greater(t, backoff, 2*time.Second)
	assert.LessOrEqual(t, backoff, 5*time.Second)

	// A reset in the past still waits a beat.
	resp.Rate.Reset = github.Timestamp{Time: time.Now().Add(-time.Minute)}
	assert.Equal(t, time.Second, getRateLimitBackoff(resp, 30*time.Second))
}
