package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

const resendDefaultBaseURL = "https://api.resend.com"

// ResendClient sends email through the Resend API.
type ResendClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewResendClient builds an email client from a tenant provider config.
func NewResendClient(cfg tenant.ProviderConfig, httpClient *http.Client) (*ResendClient, error) {
	if cfg.APIKey == "" || cfg.FromAddress == "" {
		return nil, apperror.New(apperror.KindPermanent, "resend config missing api key or from address")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendDefaultBaseURL
	}
	return &ResendClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		from:       cfg.FromAddress,
		httpClient: httpClient,
	}, nil
}

// Name implements Client.
func (c *ResendClient) Name() string { return ProviderResend }

type resendSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendSendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts an email to Resend and returns the email ID.
func (c *ResendClient) Send(ctx context.Context, destination string, payload message.Payload) (string, error) {
	if payload.Email == nil {
		return "", apperror.New(apperror.KindPermanent, "payload has no email content")
	}

	reqBody, err := json.Marshal(resendSendRequest{
		From:    c.from,
		To:      []string{destination},
		Subject: payload.Email.Subject,
		HTML:    payload.Email.HTML,
	})
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "encoding resend request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(reqBody))
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "building resend request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "calling resend", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "reading resend response", err)
	}

	var result resendSendResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("resend returned HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &result) == nil && result.Message != "" {
			msg = fmt.Sprintf("resend returned HTTP %d: %s", resp.StatusCode, result.Message)
		}
		return "", apperror.New(classifyStatus(resp.StatusCode), msg)
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "decoding resend response", err)
	}
	if result.ID == "" {
		return "", apperror.New(apperror.KindTransient, "resend response missing email id")
	}
	return result.ID, nil
}
