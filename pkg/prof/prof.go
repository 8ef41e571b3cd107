//go:build profile

package prof

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

// ErrCPUProfileActive is returned by StartCPU while a profile is running.
var ErrCPUProfileActive = errors.New("cpu profile already active")

var cpu struct {
	sync.Mutex
	file *os.File
}

// StartCPU starts writing a CPU profile to path.
func StartCPU(path string) error {
	cpu.Lock()
	defer cpu.Unlock()
	if cpu.file != nil {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}
	cpu.file = f
	return nil
}

// StopCPU ends the running CPU profile, if any, and closes its file.
func StopCPU() error {
	cpu.Lock()
	defer cpu.Unlock()
	if cpu.file == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := cpu.file.Close()
	cpu.file = nil
	return err
}

// WriteHeap writes a heap profile to path after a garbage collection.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
