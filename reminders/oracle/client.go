package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/remindfi/remind-network/reminders/metrics"
	"github.com/rs/zerolog"
)

var ErrUnavailable = errors.New("social graph is unavailable")
var ErrNotFound = errors.New("not found in social graph")

// DefaultScore is used when the upstream has no score for an account.
const DefaultScore = 0.5

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logger.With().Str("source", "oracle").Logger(),
	}
}

func (c *Client) LookupAccountByAddress(ctx context.Context, address string) (*Account, error) {
	address = strings.ToLower(address)

	var res map[string][]userRaw
	if err := c.get(ctx, "user_by_address", "/v2/farcaster/user/bulk-by-address", url.Values{
		"addresses": {address},
	}, &res); err != nil {
		return nil, err
	}

	for addr, users := range res {
		if strings.ToLower(addr) == address && len(users) > 0 {
			return users[0].account(), nil
		}
	}
	return nil, ErrNotFound
}

func (c *Client) LookupAccountByID(ctx context.Context, id string) (*Account, error) {
	accounts, err := c.lookupAccounts(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return accounts[0], nil
}

func (c *Client) lookupAccounts(ctx context.Context, ids []string) ([]*Account, error) {
	for _, id := range ids {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			// fids are numeric, anything else cannot exist upstream
			return nil, fmt.Errorf("%w: account id %q is not numeric", ErrNotFound, id)
		}
	}

	var res struct {
		Users []userRaw `json:"users"`
	}
	if err := c.get(ctx, "user_bulk", "/v2/farcaster/user/bulk", url.Values{
		"fids": {strings.Join(ids, ",")},
	}, &res); err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(res.Users))
	for i := range res.Users {
		accounts = append(accounts, res.Users[i].account())
	}
	return accounts, nil
}

func (c *Client) RecentPosts(ctx context.Context, accountID string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 25
	}

	var res struct {
		Casts []json.RawMessage `json:"casts"`
	}
	if err := c.get(ctx, "user_casts", "/v2/farcaster/feed/user/casts", url.Values{
		"fid":   {accountID},
		"limit": {strconv.Itoa(limit)},
	}, &res); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(res.Casts))
	for _, raw := range res.Casts {
		p, err := DecodePost(raw)
		if err != nil {
			c.log.Debug().Err(err).Str("account", accountID).Msg("skipping malformed cast")
			continue
		}
		posts = append(posts, *p)
	}
	return posts, nil
}

// ReputationScore never fails because a score is missing, only because the account or upstream is.
func (c *Client) ReputationScore(ctx context.Context, accountID string) (float64, error) {
	acc, err := c.LookupAccountByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return normalizeScore(acc.Score), nil
}

// ReputationScores looks up scores in bulk, unknown accounts are omitted.
func (c *Client) ReputationScores(ctx context.Context, accountIDs []string) (map[string]float64, error) {
	res := make(map[string]float64, len(accountIDs))

	ids := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return res, nil
	}

	accounts, err := c.lookupAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		res[acc.ID] = normalizeScore(acc.Score)
	}
	return res, nil
}

func normalizeScore(score *float64) float64 {
	if score == nil {
		return DefaultScore
	}
	switch {
	case *score < 0:
		return 0
	case *score > 1:
		return 1
	}
	return *score
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) (err error) {
	defer func() {
		if metrics.Registered {
			result := "ok"
			switch {
			case errors.Is(err, ErrNotFound):
				result = "not_found"
			case errors.Is(err, ErrUnavailable):
				result = "unavailable"
			case err != nil:
				result = "error"
			}
			metrics.OracleRequests.WithLabelValues(op, result).Inc()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, op, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s request rejected with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: bad response: %w", ErrUnavailable, op, err)
	}
	return nil
}
