package helpers

import (
	"context"
	"net"
	"strconv"

	"github.com/compozy/ragpipe/pkg/logger"
)

// IsPortAvailable reports whether host:port can be bound right now.
func IsPortAvailable(ctx context.Context, host string, port int) bool {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		logger.FromContext(ctx).Debug("port unavailable", "host", host, "port", port, "error", err)
		return false
	}
	if err := ln.Close(); err != nil {
		logger.FromContext(ctx).Warn("Failed to release probe listener", "error", err)
	}
	return true
}
