package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/compose-network/bridge-deployer/x/deployerr"
)

// isTransient reports whether err comes from connectivity, node
// availability or a timeout rather than from the chain rejecting the call.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "i/o timeout", "no such host", "too many requests", "timed out"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return true
	}
	var dataErr rpc.DataError
	return errors.As(err, &dataErr) && dataErr.ErrorData() != nil
}

// classify wraps err into the deployment taxonomy.
func classify(network, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isTransient(err):
		return deployerr.NewTransientNetwork("%s: %s", network, op).WithCause(err)
	case isRevert(err):
		return deployerr.NewWriteReverted("%s: %s", network, op).WithCause(err)
	default:
		return fmt.Errorf("%s: %s: %w", network, op, err)
	}
}

// classifyRead is classify for calls: a revert is ErrCallReverted, which
// capability probes treat as "try the next strategy".
func classifyRead(network string, err error) error {
	switch {
	case err == nil:
		return nil
	case isTransient(err):
		return deployerr.NewTransientNetwork("%s: call", network).WithCause(err)
	case isRevert(err):
		return fmt.Errorf("%s: %w: %v", network, ErrCallReverted, err)
	default:
		return fmt.Errorf("%s: call: %w", network, err)
	}
}
