package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the SmartAPI production root.
const DefaultBaseURL = "https://apiconnect.angelone.in"

const (
	routeLogin = "/rest/auth/angelbroking/user/v1/loginByPassword"
	routeLTP   = "/rest/secure/angelbroking/order/v1/getLtpData"
)

// SmartAPIConfig holds the client credentials and transport settings.
type SmartAPIConfig struct {
	APIKey            string
	ClientCode        string
	MPIN              string
	TOTPSecret        string // optional; no TOTP is sent when empty
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	LocalIP           string
	PublicIP          string
	MACAddress        string
}

// SmartAPIClient talks to the Angel One SmartAPI REST endpoints.
type SmartAPIClient struct {
	cfg     SmartAPIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	now     func() time.Time
}

// Ensure SmartAPIClient implements Broker at compile time.
var _ Broker = (*SmartAPIClient)(nil)

// NewSmartAPIClient creates a client. Zero values take defaults: the
// production URL, a 5s timeout and 10 requests per second.
func NewSmartAPIClient(cfg SmartAPIConfig, logger logrus.FieldLogger) *SmartAPIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.LocalIP == "" {
		cfg.LocalIP = "127.0.0.1"
	}
	if cfg.PublicIP == "" {
		cfg.PublicIP = "127.0.0.1"
	}
	if cfg.MACAddress == "" {
		cfg.MACAddress = "00:00:00:00:00:00"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &SmartAPIClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  logger,
		now:     time.Now,
	}
}

// envelope is the common SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type loginRequest struct {
	ClientCode string `json:"clientcode"`
	Password   string `json:"password"`
	TOTP       string `json:"totp,omitempty"`
}

type loginData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

type ltpRequest struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"tradingsymbol"`
	SymbolToken   string `json:"symboltoken"`
}

type ltpData struct {
	Exchange      string   `json:"exchange"`
	TradingSymbol string   `json:"tradingsymbol"`
	SymbolToken   string   `json:"symboltoken"`
	LTP           *float64 `json:"ltp"`
}

// Login authenticates with client code, MPIN and an optional TOTP.
func (c *SmartAPIClient) Login(ctx context.Context) (*Session, error) {
	req := loginRequest{ClientCode: c.cfg.ClientCode, Password: c.cfg.MPIN}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, c.now())
		if err != nil {
			return nil, fmt.Errorf("generating totp: %w", err)
		}
		req.TOTP = code
	}

	var env envelope
	if err := c.post(ctx, routeLogin, "", req, &env); err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: %s (%s)", ErrLoginFailed, env.Message, env.ErrorCode)
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding login data: %w", err)
	}
	if data.JWTToken == "" {
		return nil, fmt.Errorf("%w: response carried no jwt token", ErrLoginFailed)
	}

	c.logger.WithField("client_code", c.cfg.ClientCode).Info("SmartAPI login successful")
	return &Session{
		ClientCode:   c.cfg.ClientCode,
		JWTToken:     strings.TrimPrefix(data.JWTToken, "Bearer "),
		RefreshToken: data.RefreshToken,
		FeedToken:    data.FeedToken,
		CreatedAt:    c.now().UTC(),
	}, nil
}

// GetLastPrice fetches the last traded price of one instrument.
func (c *SmartAPIClient) GetLastPrice(ctx context.Context, sess *Session, exchange, symbol, token string) (float64, error) {
	if !sess.Valid() {
		return 0, ErrNoSession
	}
	var env envelope
	body := ltpRequest{Exchange: exchange, TradingSymbol: symbol, SymbolToken: token}
	if err := c.post(ctx, routeLTP, sess.JWTToken, body, &env); err != nil {
		return 0, fmt.Errorf("ltp %s:%s: %w", exchange, symbol, err)
	}
	if !env.Status {
		return 0, fmt.Errorf("ltp %s:%s: %s (%s): %w", exchange, symbol, env.Message, env.ErrorCode, ErrNoData)
	}
	var data ltpData
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return 0, fmt.Errorf("ltp %s:%s: empty data: %w", exchange, symbol, ErrNoData)
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, fmt.Errorf("decoding ltp data: %w", err)
	}
	if data.LTP == nil {
		return 0, fmt.Errorf("ltp %s:%s: missing ltp: %w", exchange, symbol, ErrNoData)
	}
	return *data.LTP, nil
}

func (c *SmartAPIClient) headers(h http.Header, jwt string) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	h.Set("X-ClientLocalIP", c.cfg.LocalIP)
	h.Set("X-ClientPublicIP", c.cfg.PublicIP)
	h.Set("X-MACAddress", c.cfg.MACAddress)
	h.Set("X-PrivateKey", c.cfg.APIKey)
	if jwt != "" {
		h.Set("Authorization", "Bearer "+jwt)
	}
}

// post sends a JSON request and decodes the JSON response.
func (c *SmartAPIClient) post(ctx context.Context, route, jwt string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	endpoint := c.cfg.BaseURL + route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.headers(req.Header, jwt)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("POST %s -> failed to read error body", route)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("POST %s -> %s", route, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
