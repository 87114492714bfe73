package cloud_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/cloud"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *cloud.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := cloud.NewClient(nil)
	cloud.SetBaseURLForTest(c, server.URL)
	return c
}

func TestVerifyCredentials_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse/login", r.URL.Path)
		assert.Equal(t, "zHtVqXt8k4yFyk2QGmgp48D9xZr2G94xWYnF4dak", r.Header.Get("X-Parse-Application-Id"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionToken": "tok-123"})
	})

	err := c.VerifyCredentials(context.Background(), "user", "pass")
	require.NoError(t, err)
}

func TestVerifyCredentials_InvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]int{"code": 101})
	})

	err := c.VerifyCredentials(context.Background(), "user", "wrong")
	assert.ErrorIs(t, err, cloud.ErrAuthenticationFailed)
}

func TestVerifyCredentials_ConnectionFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]int{"code": 1})
	})

	err := c.VerifyCredentials(context.Background(), "user", "pass")
	assert.ErrorIs(t, err, cloud.ErrConnectionFailed)
}

func TestListSites(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/parse/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"sessionToken": "tok-123"})
		case "/parse/functions/getSiteList":
			assert.Equal(t, "tok-123", r.Header.Get("X-Parse-Session-Token"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{
					{
						"site":        map[string]string{"siteId": "site-1", "title": "Home"},
						"plejdDevice": []string{"a", "b", "c"},
					},
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	sites, err := c.ListSites(context.Background(), "user", "pass")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, "site-1", sites[0].SiteID)
	assert.Equal(t, "Home", sites[0].Title)
	assert.Equal(t, 3, sites[0].DeviceCount)
}

func TestLoadSite_DecodesRosterDocument(t *testing.T) {
	siteJSON := `{
		"site": {"title": "Home", "siteId": "site-1"},
		"plejdMesh": {"cryptoKey": "00112233445566778899aabbccddeeff"},
		"rooms": [], "scenes": [], "devices": [], "plejdDevices": [],
		"inputSettings": [], "outputSettings": [], "motionSensors": [],
		"inputAddress": {}, "outputAddress": {}, "rxAddress": {},
		"deviceAddress": {}, "roomAddress": {}, "sceneIndex": {}
	}`

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/parse/login":
			_ = json.NewEncoder(w).Encode(map[string]string{"sessionToken": "tok-123"})
		case "/parse/functions/getSiteById":
			assert.Equal(t, "site-1", r.URL.Query().Get("siteId"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"result": []json.RawMessage{json.RawMessage(siteJSON)},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	doc, raw, err := c.LoadSite(context.Background(), "user", "pass", "site-1")
	require.NoError(t, err)
	assert.Equal(t, "00112233445566778899aabbccddeeff", doc.PlejdMesh.CryptoKey)
	assert.NotEmpty(t, raw)
}

func TestLoadSiteOrFallback_UsesBackupOnFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	backup := []byte(`{
		"site": {"title": "Home", "siteId": "site-1"},
		"plejdMesh": {"cryptoKey": "ff"},
		"rooms": [], "scenes": [], "devices": [], "plejdDevices": [],
		"inputSettings": [], "outputSettings": [], "motionSensors": [],
		"inputAddress": {}, "outputAddress": {}, "rxAddress": {},
		"deviceAddress": {}, "roomAddress": {}, "sceneIndex": {}
	}`)

	doc, _, err := c.LoadSiteOrFallback(context.Background(), "user", "pass", "site-1", backup)
	require.NoError(t, err)
	assert.Equal(t, "ff", doc.PlejdMesh.CryptoKey)
}
