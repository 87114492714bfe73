package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/plejdctl/internal/cloud"
	"github.com/srg/plejdctl/internal/meshsession"
)

func TestFormatUserError_KnownKinds(t *testing.T) {
	assert.Contains(t, FormatUserError(cloud.ErrAuthenticationFailed), "authentication failed")
	assert.Contains(t, FormatUserError(meshsession.ErrNotConnected), "not connected")
}

func TestFormatUserError_FallsBackToMessage(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, "boom", FormatUserError(err))
}
