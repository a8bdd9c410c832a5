// Package broker implements the REST trading API client used for live
// execution: session management, account state, order placement with
// confirmation polling, and historical prices.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config mirrors the broker section of the yaml configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Identifier string
	Password   string
	Timeout    time.Duration
}

// PriceBar is one historical OHLC bar. Close carries the bid/ask
// midpoint used by the statistics pipeline.
type PriceBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// AccountBalance is the current account snapshot.
type AccountBalance struct {
	AccountID  string
	Balance    float64
	Deposit    float64
	ProfitLoss float64
	Available  float64
	Currency   string
}

// Position is one open broker position.
type Position struct {
	DealID    string
	Epic      string
	Direction string
	Size      float64
	OpenLevel float64
	UPL       float64
	CreatedAt time.Time
}

// OrderRequest describes a market order for one leg.
type OrderRequest struct {
	Epic       string
	Direction  string // BUY or SELL
	Size       float64
	StopLoss   float64 // 0 means none
	TakeProfit float64 // 0 means none
}

// Validate rejects malformed orders before they reach the wire.
func (r OrderRequest) Validate() error {
	if r.Epic == "" {
		return &ValidationError{Field: "epic", Reason: "is empty"}
	}
	if r.Direction != "BUY" && r.Direction != "SELL" {
		return &ValidationError{Field: "direction", Reason: "must be BUY or SELL"}
	}
	if r.Size <= 0 {
		return &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if r.StopLoss > 0 && r.TakeProfit > 0 {
		// Stop must sit on the losing side, target on the winning side.
		if r.Direction == "BUY" && r.StopLoss >= r.TakeProfit {
			return &ValidationError{Field: "stop_loss", Reason: "must be below take_profit for BUY"}
		}
		if r.Direction == "SELL" && r.StopLoss <= r.TakeProfit {
			return &ValidationError{Field: "stop_loss", Reason: "must be above take_profit for SELL"}
		}
	}
	return nil
}

// DealConfirmation is the broker's answer to a confirmation poll.
type DealConfirmation struct {
	DealReference string
	DealID        string
	Status        string // ACCEPTED, REJECTED, ...
	Reason        string
}

// Client is the REST broker client. Safe for use by a single trading
// loop; session tokens are refreshed by calling Authenticate again
// after an authentication error.
type Client struct {
	cfg    Config
	http   *http.Client
	policy *CallPolicy
	log    zerolog.Logger

	mu            sync.RWMutex
	cst           string
	securityToken string
	accountID     string
}

// NewClient builds a broker client over the given call policy.
func NewClient(cfg Config, policy *CallPolicy, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: policy,
		log:    log.With().Str("component", "broker").Logger(),
	}
}

// Authenticate opens a session and stores the CST and security tokens
// returned in the response headers.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]any{
		"identifier":        c.cfg.Identifier,
		"password":          c.cfg.Password,
		"encryptedPassword": false,
	}

	return c.policy.Do(ctx, "authenticate", func(ctx context.Context) error {
		resp, raw, err := c.roundTrip(ctx, http.MethodPost, "/api/v1/session", nil, body, false)
		if err != nil {
			return err
		}

		cst := resp.Header.Get("CST")
		sec := resp.Header.Get("X-SECURITY-TOKEN")
		if cst == "" || sec == "" {
			return &FatalError{StatusCode: resp.StatusCode, Code: "MISSING_TOKENS",
				Err: fmt.Errorf("session opened but tokens absent")}
		}

		var session struct {
			CurrentAccountID string `json:"currentAccountId"`
		}
		if err := json.Unmarshal(raw, &session); err != nil {
			return &FatalError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode session: %w", err)}
		}

		c.mu.Lock()
		c.cst = cst
		c.securityToken = sec
		c.accountID = session.CurrentAccountID
		c.mu.Unlock()

		c.log.Info().Str("account_id", session.CurrentAccountID).Msg("authenticated")
		return nil
	})
}

// Authenticated reports whether a session is open.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cst != ""
}

// GetAccountBalance returns the first account's balance snapshot.
func (c *Client) GetAccountBalance(ctx context.Context) (*AccountBalance, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	var out *AccountBalance
	err := c.policy.Do(ctx, "account_balance", func(ctx context.Context) error {
		_, raw, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/accounts", nil, nil, true)
		if err != nil {
			return err
		}

		var payload struct {
			Accounts []struct {
				AccountID string `json:"accountId"`
				Currency  string `json:"currency"`
				Balance   struct {
					Balance    float64 `json:"balance"`
					Deposit    float64 `json:"deposit"`
					ProfitLoss float64 `json:"profitLoss"`
					Available  float64 `json:"available"`
				} `json:"balance"`
			} `json:"accounts"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &FatalError{Err: fmt.Errorf("decode accounts: %w", err)}
		}
		if len(payload.Accounts) == 0 {
			return &FatalError{Code: "NO_ACCOUNTS", Err: fmt.Errorf("no accounts on session")}
		}

		a := payload.Accounts[0]
		out = &AccountBalance{
			AccountID:  a.AccountID,
			Balance:    a.Balance.Balance,
			Deposit:    a.Balance.Deposit,
			ProfitLoss: a.Balance.ProfitLoss,
			Available:  a.Balance.Available,
			Currency:   a.Currency,
		}
		return nil
	})
	return out, err
}

// GetPositions lists all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	var out []Position
	err := c.policy.Do(ctx, "positions", func(ctx context.Context) error {
		_, raw, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/positions", nil, nil, true)
		if err != nil {
			return err
		}

		var payload struct {
			Positions []struct {
				Position struct {
					DealID    string  `json:"dealId"`
					Direction string  `json:"direction"`
					Size      float64 `json:"size"`
					Level     float64 `json:"level"`
					UPL       float64 `json:"upl"`
					CreatedAt string  `json:"createdDate"`
				} `json:"position"`
				Market struct {
					Epic string `json:"epic"`
				} `json:"market"`
			} `json:"positions"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &FatalError{Err: fmt.Errorf("decode positions: %w", err)}
		}

		out = out[:0]
		for _, p := range payload.Positions {
			created, _ := time.Parse("2006-01-02T15:04:05.000", p.Position.CreatedAt)
			out = append(out, Position{
				DealID:    p.Position.DealID,
				Epic:      p.Market.Epic,
				Direction: p.Position.Direction,
				Size:      p.Position.Size,
				OpenLevel: p.Position.Level,
				UPL:       p.Position.UPL,
				CreatedAt: created,
			})
		}
		return nil
	})
	return out, err
}

// CreatePosition submits a market order and returns the deal reference
// to poll with Confirm.
func (c *Client) CreatePosition(ctx context.Context, req OrderRequest) (string, error) {
	if !c.Authenticated() {
		return "", ErrNotAuthenticated
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	body := map[string]any{
		"epic":           req.Epic,
		"direction":      req.Direction,
		"size":           req.Size,
		"guaranteedStop": false,
	}
	if req.StopLoss > 0 {
		body["stopLevel"] = req.StopLoss
	}
	if req.TakeProfit > 0 {
		body["profitLevel"] = req.TakeProfit
	}

	var dealRef string
	err := c.policy.Do(ctx, "create_position", func(ctx context.Context) error {
		_, raw, err := c.roundTrip(ctx, http.MethodPost, "/api/v1/positions", nil, body, true)
		if err != nil {
			return err
		}

		var result struct {
			DealReference string `json:"dealReference"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return &FatalError{Err: fmt.Errorf("decode deal reference: %w", err)}
		}
		dealRef = result.DealReference
		return nil
	})
	if err == nil {
		c.log.Info().
			Str("epic", req.Epic).
			Str("direction", req.Direction).
			Float64("size", req.Size).
			Str("deal_reference", dealRef).
			Msg("position created")
	}
	return dealRef, err
}

// ClosePosition closes an open position by deal id.
func (c *Client) ClosePosition(ctx context.Context, dealID string) error {
	if !c.Authenticated() {
		return ErrNotAuthenticated
	}
	if dealID == "" {
		return &ValidationError{Field: "deal_id", Reason: "is empty"}
	}

	return c.policy.Do(ctx, "close_position", func(ctx context.Context) error {
		_, _, err := c.roundTrip(ctx, http.MethodDelete, "/api/v1/positions/"+dealID, nil, nil, true)
		if err == nil {
			c.log.Info().Str("deal_id", dealID).Msg("position closed")
		}
		return err
	})
}

// Confirm polls the deal confirmation for a submitted order.
func (c *Client) Confirm(ctx context.Context, dealReference string) (*DealConfirmation, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	var out *DealConfirmation
	err := c.policy.Do(ctx, "confirm", func(ctx context.Context) error {
		_, raw, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/confirms/"+dealReference, nil, nil, true)
		if err != nil {
			return err
		}

		var payload struct {
			DealReference string `json:"dealReference"`
			DealID        string `json:"dealId"`
			DealStatus    string `json:"dealStatus"`
			Reason        string `json:"rejectReason"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &FatalError{Err: fmt.Errorf("decode confirmation: %w", err)}
		}
		out = &DealConfirmation{
			DealReference: payload.DealReference,
			DealID:        payload.DealID,
			Status:        payload.DealStatus,
			Reason:        payload.Reason,
		}
		return nil
	})
	return out, err
}

// GetHistoricalPrices fetches up to maxPoints bars of the given
// resolution (MINUTE, HOUR, DAY, ...). The per-request API cap is 1000.
func (c *Client) GetHistoricalPrices(ctx context.Context, epic, resolution string, maxPoints int) ([]PriceBar, error) {
	if !c.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	if maxPoints > 1000 {
		maxPoints = 1000
	}

	params := url.Values{}
	params.Set("resolution", resolution)
	params.Set("max", strconv.Itoa(maxPoints))

	var out []PriceBar
	err := c.policy.Do(ctx, "historical_prices", func(ctx context.Context) error {
		_, raw, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/prices/"+epic, params, nil, true)
		if err != nil {
			return err
		}

		var payload struct {
			Prices []struct {
				SnapshotTime string `json:"snapshotTime"`
				OpenPrice    struct {
					Bid float64 `json:"bid"`
					Ask float64 `json:"ask"`
				} `json:"openPrice"`
				HighPrice struct {
					Bid float64 `json:"bid"`
					Ask float64 `json:"ask"`
				} `json:"highPrice"`
				LowPrice struct {
					Bid float64 `json:"bid"`
					Ask float64 `json:"ask"`
				} `json:"lowPrice"`
				ClosePrice struct {
					Bid float64 `json:"bid"`
					Ask float64 `json:"ask"`
				} `json:"closePrice"`
				LastTradedVolume float64 `json:"lastTradedVolume"`
			} `json:"prices"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &FatalError{Err: fmt.Errorf("decode prices: %w", err)}
		}

		out = out[:0]
		for _, p := range payload.Prices {
			ts, _ := time.Parse("2006-01-02T15:04:05", p.SnapshotTime)
			out = append(out, PriceBar{
				Timestamp: ts,
				Open:      mid(p.OpenPrice.Bid, p.OpenPrice.Ask),
				High:      mid(p.HighPrice.Bid, p.HighPrice.Ask),
				Low:       mid(p.LowPrice.Bid, p.LowPrice.Ask),
				Close:     mid(p.ClosePrice.Bid, p.ClosePrice.Ask),
				Volume:    p.LastTradedVolume,
			})
		}
		return nil
	})
	if err == nil {
		c.log.Debug().Str("epic", epic).Int("bars", len(out)).Msg("fetched historical prices")
	}
	return out, err
}

// Ping checks API reachability without requiring a session.
func (c *Client) Ping(ctx context.Context) error {
	return c.policy.Do(ctx, "ping", func(ctx context.Context) error {
		_, _, err := c.roundTrip(ctx, http.MethodGet, "/api/v1/ping", nil, nil, false)
		return err
	})
}

func mid(bid, ask float64) float64 {
	if ask == 0 {
		return bid
	}
	return (bid + ask) / 2
}

// roundTrip performs one HTTP exchange and classifies failures into the
// transient/fatal taxonomy. The body is fully read so callers can decode
// it after the response is closed.
func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, body any, useAuth bool) (*http.Response, []byte, error) {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, &FatalError{Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, nil, &FatalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)
	if useAuth {
		c.mu.RLock()
		req.Header.Set("CST", c.cst)
		req.Header.Set("X-SECURITY-TOKEN", c.securityToken)
		c.mu.RUnlock()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return nil, nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			ErrorCode string `json:"errorCode"`
		}
		_ = json.Unmarshal(raw, &apiErr)

		if transientStatus(resp.StatusCode) {
			return nil, nil, &TransientError{StatusCode: resp.StatusCode,
				Err: fmt.Errorf("%s %s: %s", method, path, apiErr.ErrorCode)}
		}
		return nil, nil, &FatalError{StatusCode: resp.StatusCode, Code: apiErr.ErrorCode,
			Err: fmt.Errorf("%s %s failed", method, path)}
	}
	return resp, raw, nil
}
