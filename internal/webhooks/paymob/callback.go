package paymobwebhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

// Callback is the transaction-processed body Paymob posts back.
type Callback struct {
	Type string      `json:"type"`
	Obj  Transaction `json:"obj"`
}

type Transaction struct {
	ID          json.Number `json:"id"`
	Success     bool        `json:"success"`
	Pending     bool        `json:"pending"`
	AmountCents int64       `json:"amount_cents"`
	Currency    string      `json:"currency"`
	Order       Order       `json:"order"`
}

type Order struct {
	ID              json.Number `json:"id"`
	MerchantOrderID string      `json:"merchant_order_id"`
}

// ParseCallback decodes a raw callback body.
func ParseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid callback payload")
	}
	if cb.Obj.ID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback transaction id is required")
	}
	return &cb, nil
}

// EventID identifies the provider transaction for deduplication.
func (c *Callback) EventID() string {
	return c.Obj.ID.String()
}

// UserID extracts the paying user from the merchant order id, which is issued
// as "<user-id>" or "<user-id>_<nonce>".
func (c *Callback) UserID() (uuid.UUID, error) {
	raw := strings.TrimSpace(c.Obj.Order.MerchantOrderID)
	if idx := strings.IndexByte(raw, '_'); idx >= 0 {
		raw = raw[:idx]
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "merchant order id does not carry a user id").
			WithDetails(map[string]any{"merchant_order_id": c.Obj.Order.MerchantOrderID})
	}
	return id, nil
}

// Sign returns the hex HMAC-SHA512 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the provided hex digest in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(provided, expected)
}
