package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

const defaultTimeout = 7 * time.Second

// Broker API routes, relative to the base URL.
const (
	routeLogin  = "/rest/auth/v1/loginByPassword"
	routeQuotes = "/rest/secure/market/v1/quote"
)

// BrokerConfig configures the broker quote client.
type BrokerConfig struct {
	BaseURL    string
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string        // base32 secret; a fresh code is generated per login
	Timeout    time.Duration // default: 7s
}

// BrokerClient fetches live quotes from the broker's market-data API.
// It logs in with password + TOTP, keeps the session token, and retries the
// login once when the token is rejected mid-session.
type BrokerClient struct {
	cfg        BrokerConfig
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewBrokerClient creates a broker quote client. No network I/O happens until
// the first Quotes call; login is lazy so the service can start while the
// broker is down.
func NewBrokerClient(cfg BrokerConfig) *BrokerClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &BrokerClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp"`
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AccessToken string `json:"jwtToken"`
	} `json:"data"`
}

// login establishes a fresh broker session with a newly generated TOTP code.
func (c *BrokerClient) login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("totp generation: %w", err)
	}

	body, err := json.Marshal(loginRequest{
		ClientCode: c.cfg.ClientCode,
		Password:   c.cfg.Password,
		TOTP:       code,
	})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+routeLogin, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker login: unexpected status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if !lr.Status || lr.Data.AccessToken == "" {
		return fmt.Errorf("broker login rejected: %s", lr.Message)
	}

	c.mu.Lock()
	c.accessToken = lr.Data.AccessToken
	c.mu.Unlock()

	log.Printf("[oracle] broker session established for %s", c.cfg.ClientCode)
	return nil
}

func (c *BrokerClient) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

type quoteRequest struct {
	Mode    string   `json:"mode"`
	Symbols []string `json:"symbols"`
}

type quoteResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		Symbol string  `json:"symbol"`
		LTP    float64 `json:"ltp"`
	} `json:"data"`
}

// Quotes fetches last-traded prices for the given symbols. A rejected session
// token triggers exactly one re-login before the call is retried.
func (c *BrokerClient) Quotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	if c.token() == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	quotes, err := c.fetchQuotes(ctx, symbols)
	if err == errSessionExpired {
		log.Printf("[oracle] broker session expired, re-logging in")
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		quotes, err = c.fetchQuotes(ctx, symbols)
	}
	return quotes, err
}

var errSessionExpired = fmt.Errorf("broker session expired")

func (c *BrokerClient) fetchQuotes(ctx context.Context, symbols []string) (map[string]float64, error) {
	body, err := json.Marshal(quoteRequest{Mode: "LTP", Symbols: symbols})
	if err != nil {
		return nil, fmt.Errorf("encode quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+routeQuotes, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		return nil, errSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker quotes: unexpected status %d", resp.StatusCode)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if !qr.Status {
		return nil, fmt.Errorf("broker quotes rejected: %s", qr.Message)
	}

	quotes := make(map[string]float64, len(qr.Data))
	for _, q := range qr.Data {
		if q.LTP > 0 {
			quotes[q.Symbol] = q.LTP
		}
	}
	return quotes, nil
}
