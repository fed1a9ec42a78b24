/**
 * @description
 * This package provides a client for the Safaricom Daraja API (M-Pesa). It
 * encapsulates OAuth token acquisition and the Lipa Na M-Pesa STK push request,
 * handling request construction, authentication, and response parsing.
 *
 * The client covers only the synchronous half of the gateway conversation:
 * initiation. The asynchronous confirmation arrives on the callback URL and is
 * recorded into the ledger by the API layer's callback handler.
 *
 * @dependencies
 * - bytes, context, encoding/base64, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package darajaclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotConfigured is returned when the integration has no credentials.
	ErrNotConfigured = errors.New("daraja integration is not configured")
	// ErrInvalidPhoneNumber is returned when a phone number cannot be
	// normalized to the gateway's expected international format.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)

// RejectionError represents a synchronous rejection from the Daraja API
// (invalid merchant config, insufficient permissions, malformed request).
type RejectionError struct {
	RequestID    string
	ErrorCode    string
	ErrorMessage string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("daraja rejected request: %s - %s", e.ErrorCode, e.ErrorMessage)
}

// Client is a client for the Daraja API.
type Client struct {
	BaseURL     string
	ConsumerKey string
	ConsumerSec string
	Shortcode   string
	Passkey     string
	CallbackURL string
	HTTPClient  *http.Client

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// NewClient creates a new Daraja API client. A client with blank credentials
// is still returned; calls on it fail with ErrNotConfigured so that the
// manual payment path keeps working when the gateway is not set up.
func NewClient(baseURL, consumerKey, consumerSecret, shortcode, passkey, callbackURL string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		ConsumerKey: consumerKey,
		ConsumerSec: consumerSecret,
		Shortcode:   shortcode,
		Passkey:     passkey,
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether the client has enough credentials to talk to the gateway.
func (c *Client) Configured() bool {
	return c.BaseURL != "" && c.ConsumerKey != "" && c.ConsumerSec != "" && c.Shortcode != "" && c.Passkey != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// stkPushRequest is the Daraja STK push payload. Amount is in whole shillings;
// the gateway does not accept fractional amounts.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous initiation response from Daraja.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// NormalizePhoneNumber converts common Kenyan phone formats (07XX..., +2547XX...,
// 2547XX...) into the 2547XXXXXXXX / 2541XXXXXXXX form Daraja expects.
func NormalizePhoneNumber(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		if r == ' ' || r == '-' || r == '(' || r == ')' || r == '+' {
			return -1
		}
		return 'x' // poison any other character
	}, strings.TrimSpace(phone))

	if strings.ContainsRune(cleaned, 'x') {
		return "", ErrInvalidPhoneNumber
	}

	switch {
	case strings.HasPrefix(cleaned, "254") && len(cleaned) == 12:
		// already international
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case (strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1")) && len(cleaned) == 9:
		cleaned = "254" + cleaned
	default:
		return "", ErrInvalidPhoneNumber
	}

	if !strings.HasPrefix(cleaned, "2547") && !strings.HasPrefix(cleaned, "2541") {
		return "", ErrInvalidPhoneNumber
	}
	return cleaned, nil
}

// InitiateSTKPush sends an STK push charge request to the customer's phone.
// amount is in cents; Daraja is charged in whole shillings, rounded up so the
// customer is never undercharged. Returns the CheckoutRequestID used to
// correlate the asynchronous confirmation.
func (c *Client) InitiateSTKPush(ctx context.Context, amount int64, phoneNumber, accountRef, description string) (*STKPushResponse, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	normalized, err := NormalizePhoneNumber(phoneNumber)
	if err != nil {
		return nil, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.Shortcode + c.Passkey + timestamp))

	shillings := amount / 100
	if amount%100 != 0 {
		shillings++
	}

	reqPayload := stkPushRequest{
		BusinessShortCode: c.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            shillings,
		PartyA:            normalized,
		PartyB:            c.Shortcode,
		PhoneNumber:       normalized,
		CallBackURL:       c.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   description,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stk push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create stk push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute stk push request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read stk push response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=daraja_client op=stk_push status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=daraja_client op=stk_push status=%d error_code=%q error_message=%q", resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
		return nil, &RejectionError{
			RequestID:    errResp.RequestID,
			ErrorCode:    errResp.ErrorCode,
			ErrorMessage: errResp.ErrorMessage,
		}
	}

	var pushResp STKPushResponse
	if err := json.Unmarshal(bodyBytes, &pushResp); err != nil {
		return nil, fmt.Errorf("failed to decode stk push response: %w", err)
	}

	// Daraja signals some rejections with HTTP 200 and a non-zero response code.
	if pushResp.ResponseCode != "" && pushResp.ResponseCode != "0" {
		return nil, &RejectionError{
			ErrorCode:    pushResp.ResponseCode,
			ErrorMessage: pushResp.ResponseDescription,
		}
	}

	return &pushResp, nil
}

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cache is empty or within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.cachedToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSec)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response missing access token")
	}

	ttl := 3600 * time.Second
	if seconds, parseErr := time.ParseDuration(tokenResp.ExpiresIn + "s"); parseErr == nil && seconds > 0 {
		ttl = seconds
	}

	c.cachedToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return c.cachedToken, nil
}

// STKCallbackBody mirrors the JSON Daraja posts to the callback URL once the
// customer completes or abandons the prompt.
type STKCallbackBody struct {
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

// ReceiptNumber extracts the M-Pesa receipt number from callback metadata,
// when present.
func (b *STKCallbackBody) ReceiptNumber() string {
	for _, item := range b.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}
