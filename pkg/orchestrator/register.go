package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/types"
)

const (
	requestTimeout = 10 * time.Second

	// reRegisterInterval is the cadence of best-effort re-announcements
	// while the agent runs.
	reRegisterInterval = 5 * time.Minute
)

// Client announces this agent to the external orchestrator. Registration is
// best-effort: the agent is fully functional without it, so every failure
// is logged and swallowed.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a registration client for the orchestrator URL. An
// empty URL yields a nil client; all methods tolerate a nil receiver.
func NewClient(url string) *Client {
	if url == "" {
		return nil
	}
	return &Client{
		url: url,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				// Orchestrators in this fleet run self-signed, same as
				// the agents they register.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Register POSTs the agent's registration info once.
func (c *Client) Register(ctx context.Context, info types.RegistrationInfo) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("orchestrator answered %s", resp.Status)
	}
	return nil
}

// Run registers immediately and then re-announces on a slow cadence until
// the context is cancelled.
func (c *Client) Run(ctx context.Context, info types.RegistrationInfo) {
	if c == nil {
		return
	}

	logger := log.WithComponent("orchestrator")

	register := func() {
		if err := c.Register(ctx, info); err != nil {
			logger.Warn().Err(err).Msg("Orchestrator registration failed")
		} else {
			logger.Info().Str("url", c.url).Msg("Registered with orchestrator")
		}
	}

	register()

	ticker := time.NewTicker(reRegisterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			register()
		case <-ctx.Done():
			return
		}
	}
}
