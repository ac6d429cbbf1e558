package matcher

import (
	"strings"
	"time"

	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/oracle"
)

const (
	// DefaultWindow is how far back from the moment of checking a post may be.
	DefaultWindow = 10 * time.Minute
	// CreationGrace lets a post made slightly before the verification record count.
	CreationGrace = time.Minute
	// FutureSkew tolerates clock drift between us and the social graph.
	FutureSkew = time.Minute
)

var DefaultKeywords = []string{
	"approaching",
	"don't forget",
	"dont forget",
	"reminder",
	"deadline",
	"remember to",
}

type Matcher struct {
	keywords []string
	window   time.Duration
}

// New builds a matcher, appURL is accepted as an additional keyword when set.
func New(keywords []string, appURL string, window time.Duration) *Matcher {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if window <= 0 {
		window = DefaultWindow
	}

	m := &Matcher{window: window}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	if appURL = strings.ToLower(strings.TrimSpace(appURL)); appURL != "" {
		m.keywords = append(m.keywords, strings.TrimPrefix(strings.TrimPrefix(appURL, "https://"), "http://"))
	}
	return m
}

// Matches reports whether post satisfies the verification at the instant now.
func (m *Matcher) Matches(post oracle.Post, v *db.Verification, now time.Time) bool {
	if post.AuthorID == "" || post.AuthorID != v.ClaimantAccountID {
		return false
	}
	if !m.mentions(post, v.TargetHandle) {
		return false
	}
	if !m.hasKeyword(post.Text) {
		return false
	}
	return m.recent(post.Timestamp, v.CreatedAt, now)
}

func (m *Matcher) mentions(post oracle.Post, handle string) bool {
	handle = strings.ToLower(strings.TrimPrefix(handle, "@"))
	if handle == "" {
		return false
	}

	for _, h := range post.MentionedHandles {
		if strings.ToLower(h) == handle {
			return true
		}
	}

	text := strings.ToLower(post.Text)
	needle := "@" + handle
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], needle)
		if j < 0 {
			return false
		}

		end := i + j + len(needle)
		if end == len(text) || !handleContinues(text[end:]) {
			return true
		}
		i += j + 1
	}
	return false
}

func (m *Matcher) hasKeyword(text string) bool {
	text = strings.ToLower(text)
	for _, k := range m.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func (m *Matcher) recent(ts, createdAt, now time.Time) bool {
	if ts.Before(now.Add(-m.window)) || ts.After(now.Add(FutureSkew)) {
		return false
	}
	// an older post can't be a reply to this request
	return !ts.Before(createdAt.Add(-CreationGrace))
}

// handleContinues tells whether the text right after a mention still belongs to a longer handle.
func handleContinues(rest string) bool {
	if isHandleChar(rest[0]) {
		return true
	}
	return rest[0] == '.' && len(rest) > 1 && isHandleChar(rest[1])
}

func isHandleChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
