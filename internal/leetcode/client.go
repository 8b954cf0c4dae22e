package leetcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://leetcode.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 1 << 20
)

const dailyQuery = `query questionOfToday {
  activeDailyCodingChallengeQuestion {
    date
    link
    question { difficulty title }
  }
}`

const randomQuery = `query randomQuestion($categorySlug: String, $filters: QuestionListFilterInput) {
  randomQuestion(categorySlug: $categorySlug, filters: $filters) {
    titleSlug
    title
  }
}`

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client is stateless apart from its http.Client and is safe for
// concurrent use.
type Client struct {
	base      *url.URL
	userAgent string
	http      *http.Client
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("leetcode base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("leetcode base url %q must be absolute", raw)
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{base: base, userAgent: ua, http: &http.Client{Timeout: timeout}}, nil
}

// BaseURL is the prefix used to build deliverable links.
func (c *Client) BaseURL() string { return c.base.String() }

type gqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type dailyData struct {
	Active *struct {
		Date     string  `json:"date"`
		Link     *string `json:"link"`
		Question *struct {
			Title string `json:"title"`
		} `json:"question"`
	} `json:"activeDailyCodingChallengeQuestion"`
}

type randomData struct {
	Random *struct {
		TitleSlug *string `json:"titleSlug"`
		Title     string  `json:"title"`
	} `json:"randomQuestion"`
}

// Fetch issues one query for d and extracts the question link. It never retries.
func (c *Client) Fetch(ctx context.Context, d Difficulty) (Item, error) {
	if d == "" {
		d = Daily
	}
	item := Item{Difficulty: d}

	req := gqlRequest{Variables: map[string]any{}}
	if d == Daily {
		req.Query = dailyQuery
		req.OperationName = "questionOfToday"
	} else {
		req.Query = randomQuery
		req.OperationName = "randomQuestion"
		req.Variables["categorySlug"] = ""
		req.Variables["filters"] = map[string]any{"difficulty": d.filter()}
	}

	data, err := c.do(ctx, d, req)
	if err != nil {
		return item, err
	}

	switch d {
	case Daily:
		var dd dailyData
		if err := json.Unmarshal(data, &dd); err != nil {
			return item, &FetchError{Difficulty: d, Op: "decode", Err: err}
		}
		if dd.Active == nil || dd.Active.Link == nil || *dd.Active.Link == "" {
			return item, nil
		}
		item.Link = c.absolute(*dd.Active.Link)
		if dd.Active.Question != nil {
			item.Title = dd.Active.Question.Title
		}
	default:
		var rd randomData
		if err := json.Unmarshal(data, &rd); err != nil {
			return item, &FetchError{Difficulty: d, Op: "decode", Err: err}
		}
		if rd.Random == nil || rd.Random.TitleSlug == nil || *rd.Random.TitleSlug == "" {
			return item, nil
		}
		item.Link = c.absolute("/problems/" + *rd.Random.TitleSlug + "/")
		item.Title = rd.Random.Title
	}
	return item, nil
}

func (c *Client) do(ctx context.Context, d Difficulty, q gqlRequest) (json.RawMessage, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, &FetchError{Difficulty: d, Op: "request", Err: err}
	}
	endpoint := c.base.JoinPath("graphql").String() + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Difficulty: d, Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", c.base.Host)
	req.Header.Set("Referer", c.base.String())
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Difficulty: d, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Difficulty: d, Op: "request", StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &FetchError{Difficulty: d, Op: "status", StatusCode: resp.StatusCode, Err: errors.New(snippet(raw))}
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, &FetchError{Difficulty: d, Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		if len(gr.Errors) > 0 {
			return nil, &FetchError{Difficulty: d, Op: "schema", Err: fmt.Errorf("graphql: %s", gr.Errors[0].Message)}
		}
		return nil, &FetchError{Difficulty: d, Op: "schema", Err: errors.New(`response has no "data" object`)}
	}
	if gr.Data[0] != '{' {
		return nil, &FetchError{Difficulty: d, Op: "schema", Err: errors.New(`"data" is not an object`)}
	}
	return gr.Data, nil
}

func (c *Client) absolute(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL() + path
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
