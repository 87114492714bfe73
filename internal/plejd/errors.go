package plejd

import "errors"

// ErrNotInitialized is returned by operations that require Init to have
// run first (the roster, crypto key, and dispatcher are all built there).
var ErrNotInitialized = errors.New("plejd: manager not initialized")

// ErrNoSiteID is returned by Init when no site has been selected and the
// caller supplied no backup roster to fall back to.
var ErrNoSiteID = errors.New("plejd: no site id configured")
