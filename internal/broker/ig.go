package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quantops/vixroll/internal/models"
)

// Session token headers and the endpoint version header.
const (
	headerAPIKey        = "X-IG-API-KEY"
	headerCST           = "CST"
	headerSecurityToken = "X-SECURITY-TOKEN"
	headerVersion       = "Version"
)

// defaultTimeout bounds every HTTP request to IG.
const defaultTimeout = 10 * time.Second

// defaultRequestsPerSecond paces calls below IG's per-minute allowance.
const defaultRequestsPerSecond = 2

// APIError represents an IG API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("IG API error %d: %s", e.Status, e.Body)
}

// IGClient is the concrete IG REST adapter.
type IGClient struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	identifier string
	password   string
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewIGClient creates an IG adapter for the given endpoint and credentials.
func NewIGClient(baseURL, apiKey, identifier, password string, logger *log.Logger) *IGClient {
	if logger == nil {
		logger = log.New(os.Stderr, "ig: ", log.LstdFlags)
	}
	return &IGClient{
		client:     &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		identifier: identifier,
		password:   password,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
		logger:     logger,
	}
}

// WithHTTPClient replaces the HTTP client. Used by tests.
func (c *IGClient) WithHTTPClient(client *http.Client) *IGClient {
	c.client = client
	return c
}

// WithRateLimit overrides the request pacing.
func (c *IGClient) WithRateLimit(rps float64) *IGClient {
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return c
}

type loginRequest struct {
	Identifier        string  `json:"identifier"`
	Password          string  `json:"password"`
	EncryptedPassword *string `json:"encryptedPassword"`
}

type accountInfo struct {
	Balance    float64 `json:"balance"`
	Deposit    float64 `json:"deposit"`
	ProfitLoss float64 `json:"profitLoss"`
	Available  float64 `json:"available"`
}

type loginResponse struct {
	CurrentAccountID string      `json:"currentAccountId"`
	AccountInfo      accountInfo `json:"accountInfo"`
	CurrencyISOCode  string      `json:"currencyIsoCode"`
	ErrorCode        string      `json:"errorCode"`
}

// Login opens a session. The CST and X-SECURITY-TOKEN response headers carry
// the tokens for subsequent calls.
func (c *IGClient) Login(ctx context.Context) (*Session, error) {
	body := loginRequest{Identifier: c.identifier, Password: c.password}
	resp, data, err := c.do(ctx, http.MethodPost, "session", "2", nil, body)
	if err != nil {
		return nil, err
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}
	if lr.ErrorCode != "" {
		return nil, fmt.Errorf("login rejected: %s", lr.ErrorCode)
	}

	s := &Session{
		CST:           resp.Header.Get(headerCST),
		SecurityToken: resp.Header.Get(headerSecurityToken),
		AccountID:     lr.CurrentAccountID,
		Balance: Balance{
			Amount: decimal.NewFromFloat(lr.AccountInfo.Balance),
			Ccy:    lr.CurrencyISOCode,
		},
	}
	if s.CST == "" || s.SecurityToken == "" {
		return nil, fmt.Errorf("login response missing session tokens")
	}
	c.logger.Printf("Session opened for account %s, balance %s %s",
		s.AccountID, s.Balance.Amount, s.Balance.Ccy)
	return s, nil
}

// Logout closes the session. Best-effort: callers may ignore the error.
func (c *IGClient) Logout(ctx context.Context, s *Session) error {
	_, _, err := c.do(ctx, http.MethodDelete, "session", "1", s, nil)
	if err != nil {
		return err
	}
	c.logger.Printf("Session closed for account %s", s.AccountID)
	return nil
}

type marketPayload struct {
	Epic           string
	InstrumentName string
	InstrumentType string
	Expiry         string
	Extra          map[string]any
}

// UnmarshalJSON keeps fields the core does not model in Extra.
func (m *marketPayload) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pull := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}
	m.Epic = pull("epic")
	m.InstrumentName = pull("instrumentName")
	m.InstrumentType = pull("instrumentType")
	m.Expiry = pull("expiry")
	m.Extra = raw
	return nil
}

func (m *marketPayload) toMarket() Market {
	return Market{
		Epic:           m.Epic,
		InstrumentName: m.InstrumentName,
		InstrumentType: m.InstrumentType,
		Expiry:         m.Expiry,
		Extra:          m.Extra,
	}
}

type searchResponse struct {
	Markets []marketPayload `json:"markets"`
}

// SearchMarkets returns the instruments matching the search term.
func (c *IGClient) SearchMarkets(ctx context.Context, s *Session, term string) ([]Market, error) {
	path := "markets?searchTerm=" + url.QueryEscape(term)
	_, data, err := c.do(ctx, http.MethodGet, path, "1", s, nil)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decoding market search: %w", err)
	}
	out := make([]Market, 0, len(sr.Markets))
	for i := range sr.Markets {
		out = append(out, sr.Markets[i].toMarket())
	}
	return out, nil
}

type createPositionRequest struct {
	Epic           string `json:"epic"`
	Expiry         string `json:"expiry"`
	Direction      string `json:"direction"`
	Size           int    `json:"size"`
	OrderType      string `json:"orderType"`
	TimeInForce    string `json:"timeInForce"`
	CurrencyCode   string `json:"currencyCode"`
	ForceOpen      bool   `json:"forceOpen"`
	GuaranteedStop bool   `json:"guaranteedStop"`
	StopDistance   string `json:"stopDistance,omitempty"`
}

type createPositionResponse struct {
	DealReference string `json:"dealReference"`
	ErrorCode     string `json:"errorCode"`
}

// CreatePosition submits an OTC deal. A rejected deal comes back as a Deal
// with a non-empty ErrorCode, not as an error.
func (c *IGClient) CreatePosition(ctx context.Context, s *Session, req PositionRequest) (*Deal, error) {
	tif := req.TimeInForce
	if tif == "" {
		tif = TimeInForceFOK
	}
	body := createPositionRequest{
		Epic:         req.Epic,
		Expiry:       req.Expiry,
		Direction:    string(req.Direction),
		Size:         req.Size,
		OrderType:    string(req.OrderType),
		TimeInForce:  tif,
		CurrencyCode: req.Currency,
		ForceOpen:    true,
	}
	if req.StopDistance > 0 {
		body.StopDistance = strconv.Itoa(req.StopDistance)
	}

	_, data, err := c.do(ctx, http.MethodPost, "positions/otc", "2", s, body)
	if err != nil {
		return nil, err
	}
	var cr createPositionResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("decoding deal response: %w", err)
	}
	return &Deal{DealReference: cr.DealReference, ErrorCode: cr.ErrorCode}, nil
}

type positionPayload struct {
	Position struct {
		DealID         string  `json:"dealId"`
		DealReference  string  `json:"dealReference"`
		CreatedDateUTC string  `json:"createdDateUTC"`
		Size           float64 `json:"size"`
		Direction      string  `json:"direction"`
		Level          float64 `json:"level"`
	} `json:"position"`
	Market marketPayload `json:"market"`
}

type positionsResponse struct {
	Positions []positionPayload `json:"positions"`
}

// GetPositions returns all open positions on the account.
func (c *IGClient) GetPositions(ctx context.Context, s *Session) ([]OpenPosition, error) {
	_, data, err := c.do(ctx, http.MethodGet, "positions", "2", s, nil)
	if err != nil {
		return nil, err
	}
	var pr positionsResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}
	out := make([]OpenPosition, 0, len(pr.Positions))
	for i := range pr.Positions {
		p := pr.Positions[i]
		out = append(out, OpenPosition{
			DealReference:  p.Position.DealReference,
			DealID:         p.Position.DealID,
			CreatedDateUTC: p.Position.CreatedDateUTC,
			Level:          decimal.NewFromFloat(p.Position.Level),
			Size:           p.Position.Size,
			Direction:      models.Side(p.Position.Direction),
			Market:         p.Market.toMarket(),
		})
	}
	return out, nil
}

// do performs one paced HTTP request and returns the response plus its body.
// A 401 on an authenticated call maps to ErrAuthExpired.
func (c *IGClient) do(ctx context.Context, method, path, version string, s *Session, body any) (*http.Response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json; charset=UTF-8")
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerVersion, version)
	if s != nil {
		req.Header.Set(headerCST, s.CST)
		req.Header.Set(headerSecurityToken, s.SecurityToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && s != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, ErrAuthExpired)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return resp, data, nil
}
