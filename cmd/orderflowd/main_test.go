package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orderflowd", "help"}, &out, &errOut)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Usage: orderflowd")
	assert.Contains(t, out.String(), "approve")
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Run([]string{"orderflowd", "frobnicate"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestSubcommandUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, runTenantCmd(nil, &out, &errOut))
	assert.Equal(t, 2, runApproveCmd([]string{"-tenant", ""}, &out, &errOut))
	assert.Equal(t, 2, runRetryCmd(nil, &out, &errOut))
	assert.Equal(t, 2, runReindexCmd(nil, &out, &errOut))
}
