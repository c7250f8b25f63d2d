package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"satchat/internal/logging"
)

func TestTwiML(t *testing.T) {
	out := string(TwiML("Hello <world> & friends"))
	if !strings.Contains(out, "<Response><Message>Hello &lt;world&gt; &amp; friends</Message></Response>") {
		t.Fatalf("twiml output = %q", out)
	}
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("missing xml header: %q", out)
	}

	out = string(TwiML("one", "two"))
	if !strings.Contains(out, "<Message>one</Message><Message>two</Message>") {
		t.Fatalf("multi-message twiml = %q", out)
	}
}

func TestRequestValidator(t *testing.T) {
	// Vector from the Twilio security documentation.
	v := NewRequestValidator("12345")
	fullURL := "https://mycompany.com/myapp.php?foo=1&bar=2"
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+14158675309"},
		"Digits":  {"1234"},
		"From":    {"+14158675309"},
		"To":      {"+18005551212"},
	}
	signature := "RSOYDt4T1cUTdK1PDd93/VVr8B8="

	if !v.Validate(fullURL, params, signature) {
		t.Fatal("known-good signature rejected")
	}
	if v.Validate(fullURL, params, "bogus") {
		t.Fatal("bad signature accepted")
	}
	if v.Validate(fullURL, params, "") {
		t.Fatal("empty signature accepted")
	}

	params.Set("Digits", "9999")
	if v.Validate(fullURL, params, signature) {
		t.Fatal("tampered params accepted")
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		APIBase:        srv.URL,
		AccountSID:     "AC123",
		AuthToken:      "token",
		WhatsAppNumber: "+14155238886",
		SMSNumber:      "+15005550006",
	}, logging.Discard(), nil)
}

func TestSendWhatsApp(t *testing.T) {
	var gotForm url.Values
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Error("missing or wrong basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))

	result, err := client.SendWhatsApp(context.Background(), "+254712345678", "hello")
	if err != nil {
		t.Fatalf("send whatsapp: %v", err)
	}
	if result.SID != "SM123" {
		t.Fatalf("sid = %q", result.SID)
	}
	if gotForm.Get("From") != "whatsapp:+14155238886" {
		t.Fatalf("From = %q", gotForm.Get("From"))
	}
	if gotForm.Get("To") != "whatsapp:+254712345678" {
		t.Fatalf("To = %q", gotForm.Get("To"))
	}
	if gotForm.Get("Body") != "hello" {
		t.Fatalf("Body = %q", gotForm.Get("Body"))
	}
}

func TestSendOTPFallsBackToSMS(t *testing.T) {
	var calls []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		to := r.PostForm.Get("To")
		calls = append(calls, to)
		if strings.HasPrefix(to, "whatsapp:") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"channel not available"}`))
			return
		}
		w.Write([]byte(`{"sid":"SM456","status":"queued"}`))
	}))

	channel, err := client.SendOTP(context.Background(), "+254712345678", "123456", "transaction")
	if err != nil {
		t.Fatalf("send otp: %v", err)
	}
	if channel != ChannelSMS {
		t.Fatalf("channel = %q, want sms", channel)
	}
	if len(calls) != 2 {
		t.Fatalf("made %d calls, want 2", len(calls))
	}
	if calls[1] != "+254712345678" {
		t.Fatalf("sms To = %q", calls[1])
	}
}

func TestSendOTPBothChannelsFail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"down"}`))
	}))

	if _, err := client.SendOTP(context.Background(), "+254712345678", "123456", "transaction"); err == nil {
		t.Fatal("expected error when both channels fail")
	}
}

func TestMessageStatus(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("missing basic auth")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"SM123","status":"delivered"}`))
	}))

	status, err := client.MessageStatus(context.Background(), "SM123")
	if err != nil {
		t.Fatalf("MessageStatus: %v", err)
	}
	if status != "delivered" {
		t.Fatalf("status = %q, want %q", status, "delivered")
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Messages/SM123.json" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestFormatOTPMessage(t *testing.T) {
	body := FormatOTPMessage("123456", "transaction")
	if !strings.Contains(body, "*123456*") {
		t.Fatalf("code missing from message: %q", body)
	}
	if !strings.Contains(body, "transaction authorization") {
		t.Fatalf("purpose missing from message: %q", body)
	}

	body = FormatOTPMessage("123456", "something-else")
	if !strings.Contains(body, "verification code") {
		t.Fatalf("fallback purpose missing: %q", body)
	}
}
