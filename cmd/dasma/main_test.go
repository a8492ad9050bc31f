package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Equal(t, version+"\n", out.String())
}

func TestVAPIDKeysCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"vapid-keys"})

	require.NoError(t, root.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "VAPID_PUBLIC_KEY="))
	require.True(t, strings.HasPrefix(lines[1], "VAPID_PRIVATE_KEY="))
	require.Greater(t, len(lines[0]), len("VAPID_PUBLIC_KEY="))
}
