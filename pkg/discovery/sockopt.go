package discovery

import (
	"net"
	"syscall"
)

// setBroadcast enables or disables SO_BROADCAST on the underlying socket so
// that WriteToUDP to a limited-broadcast address (255.255.255.255) is
// permitted by the kernel (§4.3).
func setBroadcast(conn *net.UDPConn, enabled bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		val := 0
		if enabled {
			val = 1
		}
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, val)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
