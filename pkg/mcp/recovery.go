package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// RecoveryAction determines how a failed MCP operation is handled.
type RecoveryAction int

const (
	// NoRetry marks errors that are not recoverable (bad request, timeout).
	NoRetry RecoveryAction = iota
	// RetrySameSession marks transient errors worth one retry as-is.
	RetrySameSession
	// RetryNewSession marks transport failures that need a fresh session.
	RetryNewSession
)

const (
	// InitTimeout bounds a server connection attempt (transport + handshake).
	InitTimeout = 30 * time.Second

	// ReinitTimeout bounds session recreation during recovery.
	ReinitTimeout = 10 * time.Second

	// OperationTimeout is the per-call deadline for tool and prompt
	// operations. Local CSV tools finish in milliseconds; remote servers
	// get a generous ceiling.
	OperationTimeout = 60 * time.Second

	// RetryBackoffMin and RetryBackoffMax bound the jittered backoff
	// between the first failure and the single retry.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// ClassifyError decides the recovery action for an MCP operation error.
func ClassifyError(err error) RecoveryAction {
	if err == nil {
		return NoRetry
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NoRetry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			// A slow server stays slow; retrying doubles the wait.
			return NoRetry
		}
		return RetryNewSession
	}

	if isConnectionError(err) {
		return RetryNewSession
	}

	// JSON-RPC protocol errors and anything unknown are not safe to retry.
	return NoRetry
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
