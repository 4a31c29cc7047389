package kapital

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ivazin/kapitalbank-uz-export/internal/deviceid"
)

// DefaultBaseURL is the upstream API root.
const DefaultBaseURL = "https://online.kapitalbank.uz/api"

const (
	appName    = "TransactionsExporter"
	appVersion = "w0.0.2"
)

// CodePrompt obtains the SMS one-time code from the user. Code blocks
// until the code is available; cancellation comes from the context.
type CodePrompt interface {
	Code(ctx context.Context, phone string) (string, error)
}

// CodePromptFunc adapts a function to the CodePrompt interface.
type CodePromptFunc func(ctx context.Context, phone string) (string, error)

// Code implements CodePrompt.
func (f CodePromptFunc) Code(ctx context.Context, phone string) (string, error) {
	return f(ctx, phone)
}

// Negotiator drives the device/session handshake:
// register device -> verify card -> request SMS challenge -> collect
// code -> exchange code for token. The sequence is linear; any step
// failing aborts it, and retrying the whole sequence is the caller's
// decision.
type Negotiator struct {
	baseURL string
	http    *http.Client
	card    Card
	prompt  CodePrompt
	log     zerolog.Logger
}

// NewNegotiator creates a Negotiator for the given card.
func NewNegotiator(baseURL string, httpClient *http.Client, card Card, prompt CodePrompt, log zerolog.Logger) *Negotiator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Negotiator{
		baseURL: baseURL,
		http:    httpClient,
		card:    card,
		prompt:  prompt,
		log:     log,
	}
}

// apiEnvelope is the upstream response shape. Errors surface through
// errorMessage (empty string = success), not HTTP status codes.
type apiEnvelope struct {
	ErrorMessage string          `json:"errorMessage"`
	Data         json.RawMessage `json:"data"`
}

// Authenticate runs the full negotiation. If deviceID is empty, a fresh
// device identity is registered first; otherwise the existing one is
// reused so the bank does not see a new device on every token refresh.
func (n *Negotiator) Authenticate(ctx context.Context, deviceID string) (Credentials, error) {
	if deviceID == "" {
		registered, err := n.RegisterDevice(ctx)
		if err != nil {
			return Credentials{}, err
		}
		deviceID = registered
	}

	phone, err := n.VerifyCard(ctx, deviceID)
	if err != nil {
		return Credentials{}, err
	}

	if err := n.RequestChallenge(ctx, deviceID); err != nil {
		return Credentials{}, err
	}

	code, err := n.prompt.Code(ctx, phone)
	if err != nil {
		return Credentials{}, fmt.Errorf("collecting sms code: %w", err)
	}

	token, err := n.ExchangeCode(ctx, deviceID, code, phone)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{DeviceID: deviceID, Token: token, Phone: phone}, nil
}

// RegisterDevice generates a random device identifier and registers it
// upstream. The endpoint must acknowledge with data.message "Success".
func (n *Negotiator) RegisterDevice(ctx context.Context) (string, error) {
	id, err := deviceid.New()
	if err != nil {
		return "", err
	}

	env, err := n.post(ctx, "device", "", map[string]string{
		"deviceId": id,
		"name":     appName,
	})
	if err != nil {
		return "", fmt.Errorf("registering device: %w", err)
	}

	var data struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Message != "Success" {
		return "", fmt.Errorf("%w: no success acknowledgment", ErrRegistration)
	}

	n.log.Debug().Str("device_id", id).Msg("device registered")
	return id, nil
}

// VerifyCard submits the card and retrieves the phone number bound to
// it. The upstream reports malformed cards, unknown cards and its own
// failures identically (no phone in the response), so they all collapse
// into ErrCardVerification.
func (n *Negotiator) VerifyCard(ctx context.Context, deviceID string) (string, error) {
	env, err := n.post(ctx, "check-client-card", deviceID, map[string]string{
		"pan":    n.card.Pan,
		"expiry": n.card.Expiry,
	})
	if err != nil {
		return "", fmt.Errorf("verifying card: %w", err)
	}

	var data struct {
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Phone == "" {
		return "", fmt.Errorf("%w: no phone returned", ErrCardVerification)
	}

	return data.Phone, nil
}

// RequestChallenge triggers the SMS one-time-code challenge.
func (n *Negotiator) RequestChallenge(ctx context.Context, deviceID string) error {
	env, err := n.post(ctx, "v2/login", deviceID, map[string]string{
		"pan":        n.card.Pan,
		"expiry":     n.card.Expiry,
		"password":   n.card.AppPassword,
		"reserveSms": "false",
	})
	if err != nil {
		return fmt.Errorf("requesting sms challenge: %w", err)
	}
	if env.ErrorMessage != "" {
		return fmt.Errorf("%w: %s", ErrChallenge, env.ErrorMessage)
	}
	return nil
}

// ExchangeCode redeems the one-time code for a session token.
func (n *Negotiator) ExchangeCode(ctx context.Context, deviceID, code, phone string) (string, error) {
	path := fmt.Sprintf("registration/verify/%s/%s", code, phone)
	env, err := n.post(ctx, path, deviceID, struct{}{})
	if err != nil {
		return "", fmt.Errorf("exchanging sms code: %w", err)
	}
	if env.ErrorMessage != "" {
		return "", fmt.Errorf("%w: %s", ErrTokenExchange, env.ErrorMessage)
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrTokenExchange)
	}
	return data.Token, nil
}

func (n *Negotiator) post(ctx context.Context, path, deviceID string, body any) (*apiEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := n.baseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	setCommonHeaders(req, deviceID, "")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: path, Err: err}
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &TransportError{Endpoint: path, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &env, nil
}

func setCommonHeaders(req *http.Request, deviceID, token string) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("app-version", appVersion)
	if deviceID != "" {
		req.Header.Set("device-id", deviceID)
	}
	if token != "" {
		req.Header.Set("token", token)
	}
}
