//go:build linux

package ssdp

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen_ReadBufferHoldsBurst(t *testing.T) {
	conn, err := Listen("")
	if err != nil {
		t.Skipf("multicast group not joinable here: %v", err)
	}
	defer conn.Close()

	raw, err := conn.SyscallConn()
	require.NoError(t, err)

	var size int
	var sockErr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		size, sockErr = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF)
	}))
	require.NoError(t, sockErr)

	assert.GreaterOrEqual(t, size, 16*maxDatagram)
}
