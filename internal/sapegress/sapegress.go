// Package sapegress implements the optional SAP HTTP connector egress
// adapter (spec.md §1 supplemented surface): an HTTP client authenticated
// with golang.org/x/oauth2's client-credentials flow, classifying
// transport failures and status codes into the Egress contract's
// Ok/Retryable/Permanent outcomes.
package sapegress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/model"
)

// Config configures the SAP HTTP connector.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Adapter delivers messages destined for SAP by PUTing the message value
// to a per-node resource under BaseURL.
type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Adapter {
	oauthCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	if cfg.Scope != "" {
		oauthCfg.Scopes = []string{cfg.Scope}
	}
	return &Adapter{
		baseURL: cfg.BaseURL,
		client:  oauthCfg.Client(context.Background()),
	}
}

func (a *Adapter) Deliver(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
	url := fmt.Sprintf("%s/%s", a.baseURL, msg.TopicOrNode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader([]byte(msg.Value)))
	if err != nil {
		return adapter.Permanent, fmt.Errorf("build sap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return adapter.Retryable, fmt.Errorf("sap request to %s timed out: %w", url, err)
		}
		return adapter.Retryable, fmt.Errorf("sap request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return adapter.Ok, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return adapter.Retryable, fmt.Errorf("sap returned %d: %s", resp.StatusCode, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return adapter.Permanent, fmt.Errorf("sap returned %d: %s", resp.StatusCode, body)
	}
}
