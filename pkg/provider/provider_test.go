package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/tenant"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want apperror.Kind
	}{
		{http.StatusBadRequest, apperror.KindPermanent},
		{http.StatusUnauthorized, apperror.KindPermanent},
		{http.StatusNotFound, apperror.KindPermanent},
		{http.StatusTooManyRequests, apperror.KindTransient},
		{http.StatusInternalServerError, apperror.KindTransient},
		{http.StatusBadGateway, apperror.KindTransient},
		{http.StatusServiceUnavailable, apperror.KindTransient},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.code); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestTwilioClient_Send(t *testing.T) {
	var gotPath, gotBody, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"sid": "SM123", "status": "queued"})
	}))
	defer srv.Close()

	client, err := NewTwilioClient(tenant.ProviderConfig{
		Provider:    ProviderTwilio,
		AccountSID:  "AC42",
		AuthToken:   "secret",
		FromAddress: "+15550000001",
		BaseURL:     srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewTwilioClient: %v", err)
	}

	id, err := client.Send(context.Background(), "+15550000002", message.NewSMSPayload("your code is 1234"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "SM123" {
		t.Errorf("provider message ID = %q, want SM123", id)
	}
	if gotPath != "/2010-04-01/Accounts/AC42/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC42" {
		t.Errorf("basic auth user = %q, want AC42", gotUser)
	}
	if gotBody != "your code is 1234" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestTwilioClient_SendErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind apperror.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, apperror.KindTransient},
		{"server error", http.StatusInternalServerError, apperror.KindTransient},
		{"bad request", http.StatusBadRequest, apperror.KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 20001, "message": "nope"})
			}))
			defer srv.Close()

			client, err := NewTwilioClient(tenant.ProviderConfig{
				AccountSID: "AC42", AuthToken: "secret", FromAddress: "+15550000001", BaseURL: srv.URL,
			}, srv.Client())
			if err != nil {
				t.Fatalf("NewTwilioClient: %v", err)
			}

			_, err = client.Send(context.Background(), "+15550000002", message.NewSMSPayload("hi"))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperror.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestTwilioClient_WrongChannelPayload(t *testing.T) {
	client, err := NewTwilioClient(tenant.ProviderConfig{
		AccountSID: "AC42", AuthToken: "secret", FromAddress: "+15550000001",
	}, http.DefaultClient)
	if err != nil {
		t.Fatalf("NewTwilioClient: %v", err)
	}
	_, err = client.Send(context.Background(), "+15550000002", message.NewEmailPayload("s", "<p>hi</p>"))
	if !apperror.IsPermanent(err) {
		t.Errorf("expected permanent error for email payload, got %v", err)
	}
}

func TestResendClient_Send(t *testing.T) {
	var gotAuth string
	var gotReq resendSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "re_abc"})
	}))
	defer srv.Close()

	client, err := NewResendClient(tenant.ProviderConfig{
		Provider:    ProviderResend,
		APIKey:      "re_key",
		FromAddress: "noreply@example.com",
		BaseURL:     srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewResendClient: %v", err)
	}

	id, err := client.Send(context.Background(), "user@example.com", message.NewEmailPayload("Welcome", "<p>hello</p>"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "re_abc" {
		t.Errorf("provider message ID = %q, want re_abc", id)
	}
	if gotAuth != "Bearer re_key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if len(gotReq.To) != 1 || gotReq.To[0] != "user@example.com" {
		t.Errorf("to = %v", gotReq.To)
	}
	if gotReq.Subject != "Welcome" || gotReq.HTML != "<p>hello</p>" {
		t.Errorf("subject/html = %q / %q", gotReq.Subject, gotReq.HTML)
	}
}

func TestResendClient_PermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid to address"})
	}))
	defer srv.Close()

	client, err := NewResendClient(tenant.ProviderConfig{
		APIKey: "re_key", FromAddress: "noreply@example.com", BaseURL: srv.URL,
	}, srv.Client())
	if err != nil {
		t.Fatalf("NewResendClient: %v", err)
	}

	_, err = client.Send(context.Background(), "not-an-email", message.NewEmailPayload("s", "<p>x</p>"))
	if !apperror.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestRegistry_ClientFor(t *testing.T) {
	reg := NewRegistry(nil)

	sms, err := reg.ClientFor(tenant.ProviderConfig{
		Provider: ProviderTwilio, AccountSID: "AC42", AuthToken: "tok", FromAddress: "+15550000001",
	})
	if err != nil {
		t.Fatalf("ClientFor(twilio): %v", err)
	}
	if sms.Name() != ProviderTwilio {
		t.Errorf("name = %q", sms.Name())
	}

	email, err := reg.ClientFor(tenant.ProviderConfig{
		Provider: ProviderResend, APIKey: "re_key", FromAddress: "noreply@example.com",
	})
	if err != nil {
		t.Fatalf("ClientFor(resend): %v", err)
	}
	if email.Name() != ProviderResend {
		t.Errorf("name = %q", email.Name())
	}

	if _, err := reg.ClientFor(tenant.ProviderConfig{Provider: "carrier-pigeon"}); !apperror.IsPermanent(err) {
		t.Errorf("expected permanent error for unknown provider, got %v", err)
	}

	if _, err := reg.ClientFor(tenant.ProviderConfig{Provider: ProviderTwilio}); !apperror.IsPermanent(err) {
		t.Errorf("expected permanent error for incomplete config, got %v", err)
	}
}
