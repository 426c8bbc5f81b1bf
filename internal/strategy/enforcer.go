package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eureka/internal/apv"
)

// HTTPEnforcer installs coagulation rules at an external enforcement point
// over its JSON rule API.
type HTTPEnforcer struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPEnforcer creates an enforcer posting rules to endpoint. token is
// sent as a bearer credential when set.
func NewHTTPEnforcer(endpoint, token string, logger *zap.Logger) *HTTPEnforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEnforcer{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// InstallRule implements Enforcer.
func (e *HTTPEnforcer) InstallRule(ctx context.Context, rule *apv.CoagulationRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encoding rule: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting rule to enforcement point: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("enforcement point returned %d: %s", resp.StatusCode, snippet)
	}

	e.logger.Debug("rule accepted by enforcement point",
		zap.String("rule_id", rule.ID),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
