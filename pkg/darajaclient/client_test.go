package darajaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "0712345678", want: "254712345678"},
		{input: "0112345678", want: "254112345678"},
		{input: "712345678", want: "254712345678"},
		{input: "254712345678", want: "254712345678"},
		{input: "+254 712 345 678", want: "254712345678"},
		{input: "0712-345-678", want: "254712345678"},
		{input: "(0712) 345678", want: "254712345678"},
		{input: "12345", wantErr: true},
		{input: "07123456789", wantErr: true},
		{input: "0812345678", wantErr: true}, // not a 2547/2541 prefix
		{input: "07a2345678", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizePhoneNumber(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPhoneNumber) {
				t.Errorf("NormalizePhoneNumber(%q): expected ErrInvalidPhoneNumber, got %v", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhoneNumber(%q): unexpected error %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "key", "secret", "174379", "passkey", "https://example.com/payments/callbacks/mpesa")
}

func TestInitiateSTKPush_Success(t *testing.T) {
	var pushPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "key" || pass != "secret" {
				t.Errorf("unexpected basic auth: %q %q", user, pass)
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
				t.Errorf("unexpected authorization header %q", got)
			}
			if err := json.NewDecoder(r.Body).Decode(&pushPayload); err != nil {
				t.Errorf("failed to decode push payload: %v", err)
			}
			json.NewEncoder(w).Encode(STKPushResponse{
				MerchantRequestID: "29115-34620561-1",
				CheckoutRequestID: "ws_CO_191220191020363925",
				ResponseCode:      "0",
			})
		default:
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.InitiateSTKPush(context.Background(), 400050, "0712345678", "ORDER1", "test purchase")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if resp.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout request id %q", resp.CheckoutRequestID)
	}
	// 400050 cents rounds up to 4001 shillings.
	if amount, ok := pushPayload["Amount"].(float64); !ok || amount != 4001 {
		t.Fatalf("expected amount 4001, got %v", pushPayload["Amount"])
	}
	if phone := pushPayload["PhoneNumber"]; phone != "254712345678" {
		t.Fatalf("expected normalized phone, got %v", phone)
	}
}

func TestInitiateSTKPush_RejectionOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token", "expires_in": "3599"})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"requestId":    "1234-5678",
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - Invalid Timestamp",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.InitiateSTKPush(context.Background(), 100000, "0712345678", "ORDER1", "test purchase")

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rejection.ErrorCode != "400.002.02" {
		t.Fatalf("unexpected error code %q", rejection.ErrorCode)
	}
}

func TestInitiateSTKPush_RejectionWithOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token", "expires_in": "3599"})
			return
		}
		json.NewEncoder(w).Encode(STKPushResponse{
			ResponseCode:        "1",
			ResponseDescription: "Unable to lock subscriber",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.InitiateSTKPush(context.Background(), 100000, "0712345678", "ORDER1", "test purchase")

	var rejection *RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
}

func TestInitiateSTKPush_NotConfigured(t *testing.T) {
	client := NewClient("", "", "", "", "", "")
	_, err := client.InitiateSTKPush(context.Background(), 100000, "0712345678", "ORDER1", "test purchase")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestInitiateSTKPush_ReusesCachedToken(t *testing.T) {
	tokenRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			tokenRequests++
			json.NewEncoder(w).Encode(map[string]string{"access_token": "test-token", "expires_in": "3599"})
			return
		}
		json.NewEncoder(w).Encode(STKPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.InitiateSTKPush(context.Background(), 100000, "0712345678", "ORDER1", "test"); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}
	if tokenRequests != 1 {
		t.Fatalf("expected one token request, got %d", tokenRequests)
	}
}

func TestSTKCallbackBody_ReceiptNumber(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 4000.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`

	var body STKCallbackBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("failed to unmarshal callback: %v", err)
	}
	if body.Body.StkCallback.ResultCode != 0 {
		t.Fatalf("unexpected result code %d", body.Body.StkCallback.ResultCode)
	}
	if got := body.ReceiptNumber(); got != "NLJ7RT61SV" {
		t.Fatalf("expected receipt NLJ7RT61SV, got %q", got)
	}
}
