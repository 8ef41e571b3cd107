// Package prof writes CPU and heap profiles for the host-side tools.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/usbplan
//	usbplan --cpuprofile cpu.prof --memprofile heap.prof plan *.json
//
// Without the tag every function is a no-op, so call sites stay in place.
package prof
