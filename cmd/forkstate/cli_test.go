package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/forkstate/errs"
)

func TestVersionString(t *testing.T) {
	assert.Equal(t, "v0.1.0", versionString("", ""))
	assert.Equal(t, "v0.1.0-abc123-20260101", versionString("abc123", "20260101"))
}

func TestTraceRequiresFork(t *testing.T) {
	app := NewCli("", "")
	err := app.Run([]string{"forkstate", "trace",
		"--tx-hash", "0x9e63085271890a141297039b3b711913699f1ee4db1acb667ad7ce304772036b",
		"--block", "100"})
	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
}
