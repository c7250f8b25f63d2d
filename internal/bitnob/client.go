package bitnob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

	"satchat/internal/btc"
	"satchat/internal/metrics"
)

var (
	// ErrUnauthorized indicates Bitnob rejected the API credentials.
	ErrUnauthorized = errors.New("bitnob unauthorized")

	// ErrInsufficientFunds indicates the wallet cannot cover amount plus fee.
	ErrInsufficientFunds = errors.New("bitnob insufficient funds")
)

// Client provides typed access to the Bitnob custodial wallet API.
type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	secret  string
	timeout time.Duration
	http    *http.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

// Config holds Bitnob client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
	Timeout time.Duration
}

// New creates a new Bitnob client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.bitnob.co"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "bitnob"),
		baseURL: base,
		apiKey:  cfg.APIKey,
		secret:  cfg.Secret,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		now:     time.Now,
	}
}

// responseEnvelope mirrors Bitnob's standard response shape.
type responseEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Customer is a Bitnob customer record.
type Customer struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}

// Wallet is a company-level Bitnob wallet. Balance is satoshis.
type Wallet struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Balance  int64  `json:"balance"`
}

// Address is a generated deposit address bound to a customer.
type Address struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// SendResult is the provider's acknowledgement of a send request.
type SendResult struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
}

// Transaction is a provider-side transaction record.
type Transaction struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash"`
	Address   string `json:"address"`
	Satoshis  int64  `json:"satoshis"`
	Reference string `json:"reference"`
}

// CreateCustomer registers an individual customer with the provider.
func (c *Client) CreateCustomer(ctx context.Context, fullName, email, phoneNumber string) (*Customer, error) {
	first := fullName
	last := ""
	if idx := strings.IndexByte(fullName, ' '); idx >= 0 {
		first = fullName[:idx]
		last = strings.TrimSpace(fullName[idx+1:])
	}
	payload := map[string]any{
		"firstName":   first,
		"lastName":    last,
		"email":       email,
		"phoneNumber": phoneNumber,
		"type":        "individual",
	}

	env, err := c.postJSON(ctx, "/api/v1/customers", payload)
	if err != nil {
		return nil, err
	}
	var customer Customer
	if err := json.Unmarshal(env.Data, &customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	c.logger.Info("customer created", "customer_id", customer.ID)
	return &customer, nil
}

// GetBitcoinWallet returns the company BTC wallet. Wallets live at company
// level, not per customer.
func (c *Client) GetBitcoinWallet(ctx context.Context) (*Wallet, error) {
	env, err := c.get(ctx, "/api/v1/wallets", nil)
	if err != nil {
		return nil, err
	}
	var wallets []Wallet
	if err := json.Unmarshal(env.Data, &wallets); err != nil {
		return nil, fmt.Errorf("decode wallets: %w", err)
	}
	for i := range wallets {
		if strings.EqualFold(wallets[i].Currency, "btc") || wallets[i].Type == "bitcoin" {
			return &wallets[i], nil
		}
	}
	return nil, fmt.Errorf("no bitcoin wallet found")
}

// GetWalletBalance returns the satoshi balance of a wallet.
func (c *Client) GetWalletBalance(ctx context.Context, walletID string) (int64, error) {
	env, err := c.get(ctx, "/api/v1/wallets", nil)
	if err != nil {
		return 0, err
	}
	var wallets []Wallet
	if err := json.Unmarshal(env.Data, &wallets); err != nil {
		return 0, fmt.Errorf("decode wallets: %w", err)
	}
	for i := range wallets {
		if wallets[i].ID == walletID {
			return wallets[i].Balance, nil
		}
	}
	return 0, fmt.Errorf("wallet %s not found", walletID)
}

// GenerateAddress creates a deposit address for a customer.
func (c *Client) GenerateAddress(ctx context.Context, customerEmail string) (*Address, error) {
	env, err := c.postJSON(ctx, "/api/v1/addresses/generate", map[string]any{
		"customerEmail": customerEmail,
	})
	if err != nil {
		return nil, err
	}
	var addr Address
	if err := json.Unmarshal(env.Data, &addr); err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	return &addr, nil
}

// SendBitcoin submits an on-chain send from a wallet. Amount is satoshis.
func (c *Client) SendBitcoin(ctx context.Context, walletID, address string, amountSats int64, description string) (*SendResult, error) {
	env, err := c.postJSON(ctx, "/api/v1/transactions/send", map[string]any{
		"walletId":    walletID,
		"address":     address,
		"amount":      btc.FormatAmount(amountSats),
		"currency":    "BTC",
		"description": description,
	})
	if err != nil {
		return nil, err
	}
	var result SendResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, fmt.Errorf("decode send result: %w", err)
	}
	c.logger.Info("send submitted", "provider_tx_id", result.ID, "status", result.Status)
	return &result, nil
}

// GetTransaction fetches a provider transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	env, err := c.get(ctx, "/api/v1/transactions/"+id, nil)
	if err != nil {
		return nil, err
	}
	var tx Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// EstimateFee returns the fee in satoshis for sending amountSats on-chain.
func (c *Client) EstimateFee(ctx context.Context, amountSats int64) (int64, error) {
	env, err := c.postJSON(ctx, "/api/v1/transactions/estimate-fee", map[string]any{
		"amount":   btc.FormatAmount(amountSats),
		"currency": "BTC",
	})
	if err != nil {
		return 0, err
	}
	var fee struct {
		Satoshis int64  `json:"satoshis"`
		Fee      string `json:"fee"`
	}
	if err := json.Unmarshal(env.Data, &fee); err != nil {
		return 0, fmt.Errorf("decode fee estimate: %w", err)
	}
	if fee.Satoshis > 0 {
		return fee.Satoshis, nil
	}
	if fee.Fee != "" {
		sats, err := btc.ParseAmount(fee.Fee)
		if err != nil {
			return 0, fmt.Errorf("parse fee estimate: %w", err)
		}
		return sats, nil
	}
	return 0, nil
}

// GetRate returns the BTC exchange rate against a fiat currency.
func (c *Client) GetRate(ctx context.Context, currency string) (float64, error) {
	if currency == "" {
		currency = "USD"
	}
	env, err := c.get(ctx, "/api/v1/rates", url.Values{"from": {"BTC"}, "to": {currency}})
	if err != nil {
		return 0, err
	}
	var rate struct {
		Rate float64 `json:"rate"`
	}
	if err := json.Unmarshal(env.Data, &rate); err != nil {
		return 0, fmt.Errorf("decode rate: %w", err)
	}
	return rate.Rate, nil
}

// Account bundles the provider resources created during registration.
type Account struct {
	CustomerID     string
	WalletID       string
	BitcoinAddress string
}

// CreateAccount runs the full provisioning flow for a new user: customer
// record, company wallet lookup, deposit address.
func (c *Client) CreateAccount(ctx context.Context, fullName, email, phoneNumber string) (*Account, error) {
	customer, err := c.CreateCustomer(ctx, fullName, email, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	wallet, err := c.GetBitcoinWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	addr, err := c.GenerateAddress(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("generate address: %w", err)
	}
	return &Account{
		CustomerID:     customer.ID,
		WalletID:       wallet.ID,
		BitcoinAddress: addr.Address,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (*responseEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.call(ctx, http.MethodPost, endpoint, body, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (*responseEnvelope, error) {
	return c.call(ctx, http.MethodGet, endpoint, nil, query)
}

// sign computes the request signature: HMAC-SHA256 over
// timestamp + METHOD + path + body, hex encoded.
func (c *Client) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(strings.ToUpper(method)))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) call(ctx context.Context, method, endpoint string, body []byte, query url.Values) (*responseEnvelope, error) {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", c.sign(timestamp, method, endpoint, body))

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.BitnobRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return nil, fmt.Errorf("bitnob request: %w", err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.BitnobRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.BitnobLatency.WithLabelValues(endpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return nil, classifyHTTPError(res.StatusCode, bodyBytes)
	}

	var env responseEnvelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

func classifyHTTPError(status int, body []byte) error {
	var env responseEnvelope
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		message = env.Message
	}
	lower := strings.ToLower(message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case strings.Contains(lower, "insufficient"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, message)
	}
	return fmt.Errorf("bitnob error (status=%d): %s", status, message)
}
