package payments

import (
	"encoding/json"
	"fmt"
)

// Provider payload kinds.
const (
	KindMpesa = "mpesa"
	KindCard  = "card"
)

// SettlementEvent is the normalized form every provider payload is reduced
// to before it touches the ledger. Provider-specific parsing stops here.
type SettlementEvent struct {
	Reference string
	Outcome   string // OutcomeSuccess or OutcomeFailed
	Receipt   string // provider receipt, success only
	Reason    string // failure description, failed only
}

// Normalize decodes a raw provider payload of the given kind into a
// SettlementEvent.
func Normalize(kind string, raw []byte) (*SettlementEvent, error) {
	switch kind {
	case KindMpesa:
		return normalizeMpesa(raw)
	case KindCard:
		return normalizeCard(raw)
	default:
		return nil, fmt.Errorf("unknown provider payload kind %q", kind)
	}
}

// mpesaCallback mirrors the Daraja STK callback envelope.
type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func normalizeMpesa(raw []byte) (*SettlementEvent, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("mpesa callback: %w", err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("mpesa callback: missing CheckoutRequestID")
	}

	ev := &SettlementEvent{Reference: stk.CheckoutRequestID}
	if stk.ResultCode == 0 {
		ev.Outcome = OutcomeSuccess
		for _, item := range stk.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" {
				if receipt, ok := item.Value.(string); ok {
					ev.Receipt = receipt
				}
			}
		}
	} else {
		ev.Outcome = OutcomeFailed
		ev.Reason = stk.ResultDesc
	}
	return ev, nil
}

// cardWebhook mirrors the hosted-checkout provider's charge webhook.
type cardWebhook struct {
	Event string `json:"event"`
	Data  struct {
		TxRef         string `json:"tx_ref"`
		Status        string `json:"status"`
		FlwRef        string `json:"flw_ref"`
		FailureReason string `json:"processor_response"`
	} `json:"data"`
}

func normalizeCard(raw []byte) (*SettlementEvent, error) {
	var wh cardWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return nil, fmt.Errorf("card webhook: %w", err)
	}
	if wh.Data.TxRef == "" {
		return nil, fmt.Errorf("card webhook: missing tx_ref")
	}

	ev := &SettlementEvent{Reference: wh.Data.TxRef}
	if wh.Data.Status == "successful" {
		ev.Outcome = OutcomeSuccess
		ev.Receipt = wh.Data.FlwRef
	} else {
		ev.Outcome = OutcomeFailed
		ev.Reason = wh.Data.FailureReason
		if ev.Reason == "" {
			ev.Reason = wh.Data.Status
		}
	}
	return ev, nil
}
