package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CardClient creates provider-hosted checkout sessions. The member finishes
// the card payment on the provider's page; the outcome arrives later on the
// card webhook.
type CardClient interface {
	CreateCheckoutSession(ctx context.Context, reference, email string, amount float64) (string, error)
}

// CardGateway is a hosted-checkout card provider (Flutterwave-style API).
type CardGateway struct {
	BaseURL     string
	SecretKey   string
	RedirectURL string
	HTTP        *http.Client
}

func NewCardGateway(baseURL, secretKey, redirectURL string, timeout time.Duration) *CardGateway {
	return &CardGateway{
		BaseURL:     baseURL,
		SecretKey:   secretKey,
		RedirectURL: redirectURL,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

func (g *CardGateway) CreateCheckoutSession(ctx context.Context, reference, email string, amount float64) (string, error) {
	payload := map[string]any{
		"tx_ref":       reference,
		"amount":       amount,
		"currency":     "KES",
		"redirect_url": g.RedirectURL,
		"customer":     map[string]string{"email": email},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/payments", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.SecretKey)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("card gateway: %s", resp.Status)
	}

	var out struct {
		Status string `json:"status"`
		Data   struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Data.Link == "" {
		return "", fmt.Errorf("card gateway: no checkout link in response")
	}
	return out.Data.Link, nil
}
