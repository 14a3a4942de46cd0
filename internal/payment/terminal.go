package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Terminal drives a physical card terminal over its HTTP bridge. A charge
// can legitimately take most of ChargeTimeout while the customer interacts
// with the device. On a transport failure after the request may have been
// delivered, the outcome is resolved by polling Lookup with the same
// idempotency key instead of re-charging.
type Terminal struct {
	BaseURL       string
	Client        *http.Client
	ChargeTimeout time.Duration
	PollInterval  time.Duration
	PollAttempts  int
	Log           *logrus.Entry
}

func NewTerminal(baseURL string, chargeTimeout, pollInterval time.Duration, pollAttempts int) *Terminal {
	return &Terminal{
		BaseURL:       baseURL,
		Client:        &http.Client{},
		ChargeTimeout: chargeTimeout,
		PollInterval:  pollInterval,
		PollAttempts:  pollAttempts,
		Log:           logrus.WithField("component", "terminal"),
	}
}

type chargeBody struct {
	Amount         decimal.Decimal   `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type chargeReply struct {
	Approved      bool   `json:"approved"`
	ReferenceID   string `json:"reference_id"`
	AuthCode      string `json:"auth_code"`
	DeclineReason string `json:"decline_reason"`
}

func (t *Terminal) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, t.ChargeTimeout)
	defer cancel()

	reply, err := t.post(cctx, "/v1/charge", chargeBody{
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err == nil {
		return ChargeResult{
			Approved:      reply.Approved,
			ReferenceID:   reply.ReferenceID,
			AuthCode:      reply.AuthCode,
			DeclineReason: reply.DeclineReason,
		}, nil
	}

	if !requestMayHaveReached(err) {
		return ChargeResult{}, errors.Wrap(ErrUnavailable, err.Error())
	}

	// Outcome ambiguous: poll for the charge by its key.
	t.Log.WithError(err).Warn("charge outcome ambiguous, polling")
	for i := 0; i < t.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return ChargeResult{}, ErrOutcomeUnknown
		case <-time.After(t.PollInterval):
		}
		res, found, lerr := t.Lookup(ctx, req.IdempotencyKey)
		if lerr != nil {
			continue
		}
		if found {
			return res, nil
		}
		// The gateway has no record of the charge: it never landed.
		return ChargeResult{}, ErrUnavailable
	}
	return ChargeResult{}, ErrOutcomeUnknown
}

func (t *Terminal) Void(ctx context.Context, referenceID string) error {
	_, err := t.post(ctx, "/v1/void", map[string]string{"reference_id": referenceID})
	return err
}

func (t *Terminal) Lookup(ctx context.Context, idempotencyKey string) (ChargeResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.BaseURL+"/v1/charges/"+idempotencyKey, nil)
	if err != nil {
		return ChargeResult{}, false, err
	}
	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ChargeResult{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ChargeResult{}, false, fmt.Errorf("lookup: unexpected status %d", resp.StatusCode)
	}
	var reply chargeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return ChargeResult{}, false, err
	}
	return ChargeResult{
		Approved:      reply.Approved,
		ReferenceID:   reply.ReferenceID,
		AuthCode:      reply.AuthCode,
		DeclineReason: reply.DeclineReason,
	}, true, nil
}

func (t *Terminal) post(ctx context.Context, path string, body any) (chargeReply, error) {
	var reply chargeReply
	b, err := json.Marshal(body)
	if err != nil {
		return reply, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return reply, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return reply, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return reply, errors.Wrap(ErrUnavailable, fmt.Sprintf("gateway status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return reply, fmt.Errorf("gateway: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// requestMayHaveReached distinguishes "request never left" (connection
// refused, DNS failure) from "no response received" (timeout): only the
// latter forces the lookup path.
func requestMayHaveReached(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
