package oracle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Account struct {
	ID          string
	Handle      string
	DisplayName string
	// Score is nil when the upstream did not report one.
	Score *float64
}

type Post struct {
	ID               string
	AuthorID         string
	AuthorHandle     string
	Text             string
	Timestamp        time.Time
	MentionedHandles []string
}

type userRaw struct {
	FID          uint64   `json:"fid"`
	Username     string   `json:"username"`
	DisplayName  string   `json:"display_name"`
	Score        *float64 `json:"score"`
	Experimental *struct {
		NeynarUserScore *float64 `json:"neynar_user_score"`
	} `json:"experimental"`
}

type castRaw struct {
	Hash      string `json:"hash"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		FID      uint64 `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
	MentionedProfiles []struct {
		FID      uint64 `json:"fid"`
		Username string `json:"username"`
	} `json:"mentioned_profiles"`
}

func (u *userRaw) account() *Account {
	acc := &Account{
		ID:          strconv.FormatUint(u.FID, 10),
		Handle:      strings.ToLower(u.Username),
		DisplayName: u.DisplayName,
		Score:       u.Score,
	}
	if acc.Score == nil && u.Experimental != nil {
		acc.Score = u.Experimental.NeynarUserScore
	}
	return acc
}

func (c *castRaw) post() (*Post, error) {
	if c.Hash == "" {
		return nil, fmt.Errorf("cast hash is empty")
	}

	ts, err := time.Parse(time.RFC3339, c.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("incorrect cast timestamp %q: %w", c.Timestamp, err)
	}

	p := &Post{
		ID:           c.Hash,
		AuthorID:     strconv.FormatUint(c.Author.FID, 10),
		AuthorHandle: strings.ToLower(c.Author.Username),
		Text:         c.Text,
		Timestamp:    ts.UTC(),
	}
	for _, m := range c.MentionedProfiles {
		p.MentionedHandles = append(p.MentionedHandles, strings.ToLower(m.Username))
	}
	return p, nil
}

// DecodePost normalizes a cast object as delivered by feeds and webhooks.
func DecodePost(data json.RawMessage) (*Post, error) {
	var raw castRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode cast: %w", err)
	}
	return raw.post()
}
