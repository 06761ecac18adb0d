package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	SetVersion("1.2.3")
	cmd := newVersionCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "aolcore version 1.2.3\n", out.String())
}

func TestServeCommandFlags(t *testing.T) {
	assert.NotNil(t, serveCmd.Flags().Lookup("debug"))
	assert.NotNil(t, serveCmd.Flags().Lookup("silent"))
	assert.NotNil(t, serveCmd.Flags().Lookup("config"))
}
