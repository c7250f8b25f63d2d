package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"satchat/internal/metrics"
)

const defaultAPIBase = "https://api.twilio.com"

// Message channels for delivery metrics and routing.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

// ErrSendFailed indicates Twilio rejected or could not deliver a message.
var ErrSendFailed = errors.New("twilio send failed")

// Client provides typed access to the Twilio Messages API.
type Client struct {
	logger         *slog.Logger
	apiBase        string
	accountSID     string
	authToken      string
	whatsappNumber string
	smsNumber      string
	http           *http.Client
	metrics        *metrics.Metrics
}

// Config holds Twilio client configuration.
type Config struct {
	APIBase        string
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
	SMSNumber      string
	Timeout        time.Duration
}

// New creates a new Twilio client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:         logger.With("component", "twilio"),
		apiBase:        base,
		accountSID:     cfg.AccountSID,
		authToken:      cfg.AuthToken,
		whatsappNumber: cfg.WhatsAppNumber,
		smsNumber:      cfg.SMSNumber,
		http:           &http.Client{Timeout: timeout},
		metrics:        m,
	}
}

// SendResult is Twilio's acknowledgement of a message create call.
type SendResult struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// SendWhatsApp delivers a message over the WhatsApp channel.
func (c *Client) SendWhatsApp(ctx context.Context, toNumber, body string) (*SendResult, error) {
	form := url.Values{}
	form.Set("From", "whatsapp:"+c.whatsappNumber)
	form.Set("To", "whatsapp:"+toNumber)
	form.Set("Body", body)
	return c.createMessage(ctx, ChannelWhatsApp, form)
}

// SendSMS delivers a message over plain SMS.
func (c *Client) SendSMS(ctx context.Context, toNumber, body string) (*SendResult, error) {
	from := c.smsNumber
	if from == "" {
		from = c.whatsappNumber
	}
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", toNumber)
	form.Set("Body", body)
	return c.createMessage(ctx, ChannelSMS, form)
}

// SendOTP delivers a security code over WhatsApp, falling back to SMS when
// the WhatsApp send fails. The returned channel names the one that worked.
func (c *Client) SendOTP(ctx context.Context, toNumber, code, purpose string) (string, error) {
	body := FormatOTPMessage(code, purpose)

	if _, err := c.SendWhatsApp(ctx, toNumber, body); err == nil {
		return ChannelWhatsApp, nil
	} else {
		c.logger.Warn("whatsapp delivery failed, trying sms", "error", err)
	}

	if _, err := c.SendSMS(ctx, toNumber, body); err != nil {
		return "", err
	}
	return ChannelSMS, nil
}

// MessageStatus fetches the delivery status of a previously sent message.
func (c *Client) MessageStatus(ctx context.Context, messageSID string) (string, error) {
	reqURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", c.apiBase, c.accountSID, messageSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return "", fmt.Errorf("%w: status %d", ErrSendFailed, res.StatusCode)
	}

	var result SendResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Status, nil
}

func (c *Client) createMessage(ctx context.Context, channel string, form url.Values) (*SendResult, error) {
	reqURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.TwilioRequests.WithLabelValues(channel, "error").Inc()
		}
		return nil, fmt.Errorf("twilio request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.TwilioRequests.WithLabelValues(channel, statusLabel).Inc()
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		message := strings.TrimSpace(string(bodyBytes))
		if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Message != "" {
			message = apiErr.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrSendFailed, message)
	}

	var result SendResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues(channel).Inc()
	}
	c.logger.Info("message sent", "channel", channel, "sid", result.SID, "status", result.Status)
	return &result, nil
}
