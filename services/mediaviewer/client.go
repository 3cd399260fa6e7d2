package mediaviewer

import (
	"context"
	"crypto/tls"
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

	"github.com/avast/retry-go/v4"

	"mediawaiter/config"
	"mediawaiter/models"
)

// User-facing validation messages. These are rendered on the error page, not
// raised as errors: an expired token is a normal outcome, not a failure.
const (
	MsgTokenInvalid = "This token is invalid! Return to Movie or TV Show tab to generate a new one."
	MsgTokenExpired = "This token has expired! Return to Movie or TV Show tab to generate a new one."
)

// ErrUpstream wraps any mediaviewer response outside the 2xx range.
var ErrUpstream = errors.New("mediaviewer request failed")

// Client talks to the mediaviewer catalog/authorization service. It is the
// only component that performs outbound HTTP; everything it returns is
// request-scoped.
type Client struct {
	baseURL         string
	externalBaseURL string
	username        string
	password        string
	attempts        uint
	interval        time.Duration
	httpc           *http.Client
	logger          *slog.Logger
}

func NewClient(cfg config.MediaViewerSettings, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		externalBaseURL: strings.TrimRight(cfg.ExternalBaseURL, "/"),
		username:        cfg.Username,
		password:        cfg.Password,
		attempts:        uint(attempts),
		interval:        cfg.RetryInterval(),
		httpc: &http.Client{
			Timeout:   cfg.Timeout(),
			Transport: transport,
		},
		logger: logger.With("component", "mediaviewer"),
	}
}

// ExternalBaseURL is the browser-reachable mediaviewer root, used when
// building genre/collection links.
func (c *Client) ExternalBaseURL() string {
	return c.externalBaseURL
}

// Token fetches the authorization token for guid. The upstream is a separate
// network hop subject to transient blips, so the fetch runs under a bounded
// retry with a fixed interval; the last failure is surfaced after the
// attempts are exhausted.
func (c *Client) Token(ctx context.Context, guid string) (*models.Token, error) {
	endpoint := fmt.Sprintf("%s/api/downloadtoken/%s/", c.baseURL, url.PathEscape(guid))

	var token *models.Token
	err := retry.Do(
		func() error {
			tok, err := c.fetchToken(ctx, endpoint)
			if err != nil {
				c.logger.Warn("token fetch attempt failed", "guid", guid, "error", err)
				return err
			}
			token = tok
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch token for guid %s: %w", guid, err)
	}
	if token != nil {
		token.GUID = guid
	}
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context, endpoint string) (*models.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	// An empty object or null body means the guid resolved to nothing. That
	// is a missing token, not an expired one; the zero Token value would
	// read as expired downstream.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf, &fields); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var token models.Token
	if err := json.Unmarshal(buf, &token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &token, nil
}

// CheckToken validates a resolved token for guid. It returns a user-facing
// message when the token must not grant access and "" when it may.
func (c *Client) CheckToken(token *models.Token, guid string) string {
	if token == nil {
		c.logger.Warn("token is invalid", "guid", guid)
		return MsgTokenInvalid
	}
	if !token.IsValid {
		c.logger.Warn("token expired", "guid", guid)
		return MsgTokenExpired
	}
	return ""
}

// MarkViewed forwards the viewed flag for guid to mediaviewer.
func (c *Client) MarkViewed(ctx context.Context, guid string, viewed bool) error {
	form := url.Values{}
	form.Set("guid", guid)
	form.Set("viewed", strconv.FormatBool(viewed))

	endpoint := c.baseURL + "/ajaxsuperviewed/"
	return c.postForm(ctx, endpoint, form)
}

// RecordDownload reports a download click for statistics. Callers treat it
// as fire-and-forget; a failed report must never block the transfer.
func (c *Client) RecordDownload(ctx context.Context, token *models.Token, filename string, size int64) error {
	form := url.Values{}
	form.Set("userid", strconv.FormatInt(token.UserID, 10))
	form.Set("tokenid", strconv.FormatInt(token.TokenID, 10))
	form.Set("filename", filename)
	form.Set("size", strconv.FormatInt(size, 10))
	return c.postForm(ctx, c.baseURL+"/api/downloadclick/", form)
}

// VideoOffset retrieves the stored watch position for one hashed filename.
func (c *Client) VideoOffset(ctx context.Context, guid, hashedFilename string) (models.VideoOffset, error) {
	var offset models.VideoOffset
	err := c.doJSON(ctx, http.MethodGet, c.offsetURL(guid, hashedFilename), nil, &offset)
	return offset, err
}

// SetVideoOffset stores the watch position for one hashed filename.
func (c *Client) SetVideoOffset(ctx context.Context, guid, hashedFilename string, offset int64) error {
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(offset, 10))
	return c.postForm(ctx, c.offsetURL(guid, hashedFilename), form)
}

// DeleteVideoOffset clears the watch position for one hashed filename.
func (c *Client) DeleteVideoOffset(ctx context.Context, guid, hashedFilename string) error {
	return c.doJSON(ctx, http.MethodDelete, c.offsetURL(guid, hashedFilename), nil, nil)
}

func (c *Client) offsetURL(guid, hashedFilename string) string {
	return fmt.Sprintf("%s/ajaxvideoprogress/%s/%s/", c.baseURL, url.PathEscape(guid), url.PathEscape(hashedFilename))
}

// Genres fetches the tv and movie genre pairs for the token behind guid and
// derives browse links against the external mediaviewer URL.
func (c *Client) Genres(ctx context.Context, guid string) (tv, movie []models.LinkPair, err error) {
	var payload struct {
		TVGenres    [][2]json.RawMessage `json:"tv_genres"`
		MovieGenres [][2]json.RawMessage `json:"movie_genres"`
	}
	endpoint := fmt.Sprintf("%s/ajaxgenres/%s/", c.baseURL, url.PathEscape(guid))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, nil, err
	}

	tv, err = c.linkPairs(payload.TVGenres, "/tvshows/genre/")
	if err != nil {
		return nil, nil, err
	}
	movie, err = c.linkPairs(payload.MovieGenres, "/movies/genre/")
	if err != nil {
		return nil, nil, err
	}
	return tv, movie, nil
}

// Collections fetches the collection pairs for the token behind guid.
func (c *Client) Collections(ctx context.Context, guid string) ([]models.LinkPair, error) {
	var payload struct {
		Collections [][2]json.RawMessage `json:"collections"`
	}
	endpoint := fmt.Sprintf("%s/ajaxcollections/%s/", c.baseURL, url.PathEscape(guid))
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}
	return c.linkPairs(payload.Collections, "/collections/")
}

// linkPairs converts mediaviewer's [id, name] arrays into labelled links.
func (c *Client) linkPairs(raw [][2]json.RawMessage, pathPrefix string) ([]models.LinkPair, error) {
	pairs := make([]models.LinkPair, 0, len(raw))
	for _, entry := range raw {
		var id int64
		var name string
		if err := json.Unmarshal(entry[0], &id); err != nil {
			return nil, fmt.Errorf("decode link id: %w", err)
		}
		if err := json.Unmarshal(entry[1], &name); err != nil {
			return nil, fmt.Errorf("decode link name: %w", err)
		}
		pairs = append(pairs, models.LinkPair{
			Name: name,
			URL:  fmt.Sprintf("%s%s%d/", c.externalBaseURL, pathPrefix, id),
		})
	}
	return pairs, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(snippet))
	if msg != "" {
		return fmt.Errorf("%w: %s %s: %s: %s", ErrUpstream, resp.Request.Method, resp.Request.URL.Path, resp.Status, msg)
	}
	return fmt.Errorf("%w: %s %s: %s", ErrUpstream, resp.Request.Method, resp.Request.URL.Path, resp.Status)
}
