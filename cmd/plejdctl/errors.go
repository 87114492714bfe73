package main

import (
	"errors"

	"github.com/srg/plejdctl/internal/cloud"
	"github.com/srg/plejdctl/internal/meshsession"
)

// Command-level errors.
var (
	// ErrNoSite indicates a command needed a site ID and none was
	// configured or passed via --site.
	ErrNoSite = errors.New("no site configured: pass --site or set plejd.site_id")
)

// FormatUserError strips the noise from well-known typed errors so the CLI
// prints a short, actionable line instead of a wrapped Go error chain.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, cloud.ErrAuthenticationFailed):
		return "authentication failed: check your Plejd username and password"
	case errors.Is(err, cloud.ErrConnectionFailed):
		return "could not reach the Plejd cloud API: " + err.Error()
	case errors.Is(err, meshsession.ErrNotConnected):
		return "not connected to a mesh gateway: run 'plejdctl connect' or 'plejdctl ping' first"
	case errors.Is(err, ErrNoSite):
		return err.Error()
	default:
		return err.Error()
	}
}
