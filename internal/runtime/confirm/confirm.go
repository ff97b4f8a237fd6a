// Package confirm turns decoded payment requests into payment confirmations
// and publishes them.
package confirm

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/ids"
	"github.com/lmgveerhoek/aeroreserve-payment-service/internal/runtime/jsoncodec"
)

// Metadata keys attached to every confirmation message.
const (
	MetadataPaymentRequestID      = "payment_request_id"
	MetadataPaymentConfirmationID = "payment_confirmation_id"
)

var errEmptyRequestID = errors.New("payment request id is empty")

// InboundMessage is one message of the trigger batch. Data is base64 encoded.
type InboundMessage struct {
	Index int
	Data  string
}

// PaymentRequest is the JSON form a request body may take.
type PaymentRequest struct {
	PaymentRequestID string `json:"paymentRequestId"`
}

// Confirmation is published to the response queue.
type Confirmation struct {
	PaymentRequestID      string `json:"paymentRequestId"`
	PaymentConfirmationID string `json:"paymentConfirmationId"`
}

// DecodeRequest recovers the payment request id from a message's data field.
// The decoded body is either the bare id, a JSON string, or a JSON object with
// a paymentRequestId field.
func DecodeRequest(data string) (string, error) {
	raw, err := decodeBase64(data)
	if err != nil {
		return "", err
	}

	body := bytes.TrimSpace(raw)
	var id string
	switch {
	case len(body) == 0:
		return "", errEmptyRequestID
	case body[0] == '{':
		var req PaymentRequest
		if err := jsoncodec.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("parse payment request: %w", err)
		}
		id = req.PaymentRequestID
	case body[0] == '"':
		if err := jsoncodec.Unmarshal(body, &id); err != nil {
			return "", fmt.Errorf("parse payment request: %w", err)
		}
	default:
		id = string(body)
	}

	if id == "" {
		return "", errEmptyRequestID
	}
	if !utf8.ValidString(id) {
		return "", errors.New("payment request id is not valid UTF-8")
	}
	return id, nil
}

func decodeBase64(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.New("message data is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(data); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("decode base64: %w", err)
}

// NewConfirmation pairs a request id with a freshly minted confirmation id.
func NewConfirmation(paymentRequestID string, newID func() string) Confirmation {
	if newID == nil {
		newID = ids.NewConfirmationID
	}
	return Confirmation{
		PaymentRequestID:      paymentRequestID,
		PaymentConfirmationID: newID(),
	}
}

// NewConfirmationMessage wraps c in a broker message. The request id doubles
// as the correlation id.
func NewConfirmationMessage(c Confirmation) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal confirmation: %w", err)
	}

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(MetadataPaymentRequestID, c.PaymentRequestID)
	msg.Metadata.Set(MetadataPaymentConfirmationID, c.PaymentConfirmationID)
	middleware.SetCorrelationID(c.PaymentRequestID, msg)
	return msg, nil
}
