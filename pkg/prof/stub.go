//go:build !profile

package prof

import "errors"

// Enabled reports whether profiling is compiled in.
const Enabled = false

// ErrCPUProfileActive is returned by StartCPU while a profile is running.
var ErrCPUProfileActive = errors.New("cpu profile already active")

// StartCPU does nothing without the profile build tag.
func StartCPU(string) error { return nil }

// StopCPU does nothing without the profile build tag.
func StopCPU() error { return nil }

// WriteHeap does nothing without the profile build tag.
func WriteHeap(string) error { return nil }
