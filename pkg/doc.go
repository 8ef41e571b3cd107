// Package pkg provides shared utilities for the mcusb device stack.
//
// This package contains the ambient pieces every other package uses:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for protocol and layout-planning failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.LogTo(os.Stderr, true)
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDevice, "device configured", "config", 1)
//
// # Errors
//
// Layout errors carry the endpoint that caused them:
//
//	if errors.Is(err, pkg.ErrSlotConflict) {
//	    var epErr *pkg.EndpointError
//	    errors.As(err, &epErr)
//	}
package pkg
