package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Settlement outcomes carried by normalized provider events. Values match
// the ledger store's settlement outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Daraja's "transaction is still being processed" error code on STK query.
const darajaProcessingCode = "500.001.1001"

// PushClient initiates and queries mobile-money push payments.
type PushClient interface {
	// STKPush asks the provider to prompt phone for amount. Returns the
	// provider-assigned checkout request id, which becomes the ledger
	// record's payment reference.
	STKPush(ctx context.Context, phone string, amount float64, account string) (string, error)

	// STKQuery asks the provider for the current state of a push. A nil
	// event with nil error means the provider has no final outcome yet.
	STKQuery(ctx context.Context, checkoutRequestID string) (*SettlementEvent, error)
}

// MpesaClient talks to the Safaricom Daraja API.
type MpesaClient struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTP           *http.Client
}

func NewMpesaClient(baseURL, key, secret, shortCode, passkey, callbackURL string, timeout time.Duration) *MpesaClient {
	return &MpesaClient{
		BaseURL:        baseURL,
		ConsumerKey:    key,
		ConsumerSecret: secret,
		ShortCode:      shortCode,
		Passkey:        passkey,
		CallbackURL:    callbackURL,
		HTTP:           &http.Client{Timeout: timeout},
	}
}

// accessToken fetches an OAuth bearer token.
func (m *MpesaClient) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		m.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(m.ConsumerKey, m.ConsumerSecret)

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja auth: %s", resp.Status)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// password is base64(shortcode + passkey + timestamp), per Daraja.
func (m *MpesaClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.ShortCode + m.Passkey + timestamp))
}

func (m *MpesaClient) STKPush(ctx context.Context, phone string, amount float64, account string) (string, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return "", err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": m.ShortCode,
		"Password":          m.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(amount),
		"PartyA":            phone,
		"PartyB":            m.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       m.CallbackURL,
		"AccountReference":  account,
		"TransactionDesc":   "SACCO contribution",
	}

	var out struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
	}
	if err := m.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return "", err
	}
	if out.ResponseCode != "0" {
		return "", fmt.Errorf("daraja stkpush rejected: %s %s", out.ResponseCode, out.ResponseDesc)
	}
	return out.CheckoutRequestID, nil
}

func (m *MpesaClient) STKQuery(ctx context.Context, checkoutRequestID string) (*SettlementEvent, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": m.ShortCode,
		"Password":          m.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
		ErrorCode  string `json:"errorCode"`
	}
	if err := m.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return nil, err
	}

	// Still in flight: not an error, just no outcome yet.
	if out.ErrorCode == darajaProcessingCode {
		return nil, nil
	}

	code, err := strconv.Atoi(out.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("daraja stkquery: unexpected result code %q", out.ResultCode)
	}
	ev := &SettlementEvent{Reference: checkoutRequestID}
	if code == 0 {
		ev.Outcome = OutcomeSuccess
	} else {
		ev.Outcome = OutcomeFailed
		ev.Reason = out.ResultDesc
	}
	return ev, nil
}

func (m *MpesaClient) post(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		log.Printf("component=mpesa path=%s status=%s body=%s", path, resp.Status, raw)
		return fmt.Errorf("daraja %s: %s", path, resp.Status)
	}
	return json.Unmarshal(raw, out)
}
