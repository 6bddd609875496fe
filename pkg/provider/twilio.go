package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

// TwilioClient sends SMS through the Twilio Messages API.
type TwilioClient struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpClient *http.Client
}

// NewTwilioClient builds an SMS client from a tenant provider config.
func NewTwilioClient(cfg tenant.ProviderConfig, httpClient *http.Client) (*TwilioClient, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromAddress == "" {
		return nil, apperror.New(apperror.KindPermanent, "twilio config missing account sid, auth token or from number")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioDefaultBaseURL
	}
	return &TwilioClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.FromAddress,
		httpClient: httpClient,
	}, nil
}

// Name implements Client.
func (c *TwilioClient) Name() string { return ProviderTwilio }

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts a message to Twilio and returns the message SID.
func (c *TwilioClient) Send(ctx context.Context, destination string, payload message.Payload) (string, error) {
	if payload.SMS == nil {
		return "", apperror.New(apperror.KindPermanent, "payload has no sms content")
	}

	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", c.from)
	form.Set("Body", payload.SMS.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "building twilio request", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "calling twilio", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "reading twilio response", err)
	}

	var result twilioMessageResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("twilio returned HTTP %d", resp.StatusCode)
		if json.Unmarshal(body, &result) == nil && result.Message != "" {
			msg = fmt.Sprintf("twilio returned HTTP %d: %s", resp.StatusCode, result.Message)
		}
		return "", apperror.New(classifyStatus(resp.StatusCode), msg)
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperror.Wrap(apperror.KindTransient, "decoding twilio response", err)
	}
	if result.SID == "" {
		return "", apperror.New(apperror.KindTransient, "twilio response missing message sid")
	}
	return result.SID, nil
}
