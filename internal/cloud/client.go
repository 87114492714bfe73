// Package cloud fetches a Plejd site's roster document from the Parse
// Server-backed cloud API: login, enumerate sites, and load one site's
// full device/scene/crypto-key descriptor. Grounded in
// cloud/__init__.py's PlejdCloudSite and cloud/site_list.py's SiteListItem.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/plejdctl/internal/roster"
)

const (
	apiAppID          = "zHtVqXt8k4yFyk2QGmgp48D9xZr2G94xWYnF4dak"
	apiBaseURL        = "https://cloud.plejd.com"
	apiLoginPath      = "/parse/login"
	apiSiteListPath   = "/parse/functions/getSiteList"
	apiSiteDetailPath = "/parse/functions/getSiteById"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 15 * time.Second

// Site summarises one site a user account has access to, per
// cloud/site_list.py's SiteListItem projected down to what callers need
// to choose a site.
type Site struct {
	SiteID      string `json:"siteId"`
	Title       string `json:"title"`
	DeviceCount int    `json:"deviceCount"`
}

// Client talks to the Plejd cloud API on behalf of one username/password.
type Client struct {
	httpClient *http.Client
	log        *logrus.Entry
	baseURL    string
}

// NewClient constructs a Client. A nil logger falls back to a default
// logrus.Logger, matching the rest of the module's ambient logging.
func NewClient(log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        log.WithField("component", "cloud"),
		baseURL:    apiBaseURL,
	}
}

// SetBaseURLForTest points a Client at a test server instead of the real
// Plejd cloud. Exported solely so client_test.go can exercise the HTTP
// paths against httptest.Server without a live connection.
func SetBaseURLForTest(c *Client, baseURL string) {
	c.baseURL = baseURL
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	Code         int    `json:"code"`
	Error        string `json:"error"`
}

// login authenticates and returns the Parse session token to attach to
// subsequent requests, per _set_session_token.
func (c *Client) login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", &APIError{Kind: ErrConnection, Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiLoginPath, bytes.NewReader(body))
	if err != nil {
		return "", &APIError{Kind: ErrConnection, Msg: err.Error()}
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("login request failed, no internet?")
		return "", ErrConnectionFailed
	}
	defer resp.Body.Close()

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &APIError{Kind: ErrConnection, Msg: "decoding login response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Code == 101 {
			return "", ErrAuthenticationFailed
		}
		c.log.Debug("authentication failed for unknown reason")
		return "", ErrConnectionFailed
	}
	if parsed.SessionToken == "" {
		return "", &APIError{Kind: ErrConnection, Msg: "login response missing sessionToken"}
	}
	return parsed.SessionToken, nil
}

func (c *Client) setHeaders(req *http.Request, sessionToken string) {
	req.Header.Set("X-Parse-Application-Id", apiAppID)
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("X-Parse-Session-Token", sessionToken)
	}
}

// VerifyCredentials logs in and discards the session, returning nil if the
// username/password pair is accepted.
func (c *Client) VerifyCredentials(ctx context.Context, username, password string) error {
	_, err := c.login(ctx, username, password)
	return err
}

type siteListResult struct {
	Result []siteListItem `json:"result"`
}

type siteListItem struct {
	Site        Site     `json:"site"`
	PlejdDevice []string `json:"plejdDevice"`
}

// ListSites enumerates the sites reachable by this account, per
// PlejdCloudSite.get_sites.
func (c *Client) ListSites(ctx context.Context, username, password string) ([]Site, error) {
	token, err := c.login(ctx, username, password)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSiteListPath, nil)
	if err != nil {
		return nil, &APIError{Kind: ErrConnection, Msg: err.Error()}
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ErrConnectionFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Kind: ErrConnection, Msg: fmt.Sprintf("unexpected status %d listing sites", resp.StatusCode)}
	}

	var parsed siteListResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &APIError{Kind: ErrConnection, Msg: "decoding site list: " + err.Error()}
	}

	sites := make([]Site, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		site := item.Site
		site.DeviceCount = len(item.PlejdDevice)
		sites = append(sites, site)
	}
	return sites, nil
}

type siteDetailResult struct {
	Result []json.RawMessage `json:"result"`
}

// LoadSite fetches one site's full roster document. The raw JSON body is
// also returned so a caller can persist it as an offline fallback for a
// future LoadSiteOrFallback call, per load_site_details's backup parameter.
func (c *Client) LoadSite(ctx context.Context, username, password, siteID string) (*roster.RosterDocument, []byte, error) {
	token, err := c.login(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSiteDetailPath, nil)
	if err != nil {
		return nil, nil, &APIError{Kind: ErrConnection, Msg: err.Error()}
	}
	c.setHeaders(req, token)
	q := req.URL.Query()
	q.Set("siteId", siteID)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, ErrConnectionFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{Kind: ErrConnection, Msg: fmt.Sprintf("unexpected status %d loading site %s", resp.StatusCode, siteID)}
	}

	var parsed siteDetailResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, &APIError{Kind: ErrConnection, Msg: "decoding site details: " + err.Error()}
	}
	if len(parsed.Result) == 0 {
		return nil, nil, &APIError{Kind: ErrConnection, Msg: fmt.Sprintf("no site found for id %s", siteID)}
	}

	raw := []byte(parsed.Result[0])
	return decodeRosterDocument(raw)
}

// LoadSiteOrFallback mirrors load_site_details's backup behaviour: if the
// live fetch fails with an authentication or connection error and a
// previously-saved raw document is supplied, it is decoded and returned
// instead of propagating the error.
func (c *Client) LoadSiteOrFallback(ctx context.Context, username, password, siteID string, backup []byte) (*roster.RosterDocument, []byte, error) {
	doc, raw, err := c.LoadSite(ctx, username, password, siteID)
	if err == nil {
		return doc, raw, nil
	}
	if backup == nil {
		return nil, nil, err
	}
	c.log.WithError(err).Debug("loading site data failed, reverting to backup")
	return decodeRosterDocument(backup)
}

func decodeRosterDocument(raw []byte) (*roster.RosterDocument, []byte, error) {
	var doc roster.RosterDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &APIError{Kind: ErrConnection, Msg: "decoding roster document: " + err.Error()}
	}
	return &doc, raw, nil
}
