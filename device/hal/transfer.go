package hal

// TransferContext is the mutable state of one endpoint half while a
// transfer is in progress. On the transmit side it walks the caller's
// buffer packet by packet; on the receive side it accumulates bytes into a
// backing buffer.
//
// A context is touched only by the call that starts a transfer and by the
// owning endpoint's interrupt path, so it carries no lock.
type TransferContext struct {
	buf    []byte
	off    int
	zlp    bool
	done   func()
	active bool
}

// Start begins a transmit transfer of data in packets of mps bytes. A
// trailing zero-length packet is owed when data is empty, or when zlp is
// set and len(data) is a multiple of mps.
func (t *TransferContext) Start(data []byte, mps int, zlp bool, done func()) {
	t.buf = data
	t.off = 0
	t.done = done
	t.active = true
	t.zlp = len(data) == 0 || (zlp && mps > 0 && len(data)%mps == 0)
}

// Active reports whether a transfer is in progress.
func (t *TransferContext) Active() bool { return t.active }

// Remaining returns the bytes not yet handed to hardware.
func (t *TransferContext) Remaining() int { return len(t.buf) - t.off }

// Pending reports whether another packet, possibly zero-length, must be sent.
func (t *TransferContext) Pending() bool {
	return t.active && (t.off < len(t.buf) || t.zlp)
}

// Next returns the next packet of at most mps bytes and advances past it.
// It returns an empty slice for the zero-length packet.
func (t *TransferContext) Next(mps int) []byte {
	if t.off < len(t.buf) {
		n := len(t.buf) - t.off
		if n > mps {
			n = mps
		}
		p := t.buf[t.off : t.off+n]
		t.off += n
		return p
	}
	t.zlp = false
	return t.buf[t.off:t.off]
}

// Finish ends the transfer and runs its completion callback exactly once.
func (t *TransferContext) Finish() {
	if !t.active {
		return
	}
	done := t.done
	t.Clear()
	if done != nil {
		done()
	}
}

// Clear drops the transfer without running its callback.
func (t *TransferContext) Clear() {
	t.buf = nil
	t.off = 0
	t.zlp = false
	t.done = nil
	t.active = false
}

// Detach returns the transfer in progress and clears the context, so a
// receive handler can start a new transfer without losing the old one.
func (t *TransferContext) Detach() TransferContext {
	snap := *t
	t.Clear()
	return snap
}

// Restore settles a transfer taken with Detach whose last packet was
// acknowledged while a receive was serviced. If the receive started a new
// transfer, snap is superseded: it completes if nothing was left to send
// and is dropped otherwise, and Restore returns false. Otherwise snap is
// put back and Restore returns true; the caller continues it.
func (t *TransferContext) Restore(snap TransferContext) bool {
	if t.active {
		if !snap.Pending() {
			snap.Finish()
		}
		return false
	}
	*t = snap
	return true
}

// Arm prepares the context to accumulate received bytes into buf.
func (t *TransferContext) Arm(buf []byte) {
	t.buf = buf[:cap(buf)]
	t.off = 0
	t.active = true
}

// Space returns room for n more received bytes, clipped to the backing
// buffer, and counts them as received.
func (t *TransferContext) Space(n int) []byte {
	if free := len(t.buf) - t.off; n > free {
		n = free
	}
	p := t.buf[t.off : t.off+n]
	t.off += n
	return p
}

// Received returns the bytes accumulated since Arm or Rewind.
func (t *TransferContext) Received() []byte { return t.buf[:t.off] }

// Rewind discards accumulated bytes and keeps the context armed.
func (t *TransferContext) Rewind() { t.off = 0 }

// Table holds one transfer context per endpoint number and half. It is the
// only home of transfer state; realizations keep pointers into it.
type Table struct {
	ctx [16][2]TransferContext
}

func half(dir Direction) int {
	if dir == DirIn {
		return 1
	}
	return 0
}

// At returns the context for endpoint number n, direction dir. A
// bidirectional endpoint owns both halves.
func (t *Table) At(n uint8, dir Direction) *TransferContext {
	return &t.ctx[n&0x0F][half(dir)]
}

// ClearAll drops every transfer in progress.
func (t *Table) ClearAll() {
	for n := range t.ctx {
		t.ctx[n][0].Clear()
		t.ctx[n][1].Clear()
	}
}

// ActiveCount returns the number of halves with a transfer in progress.
func (t *Table) ActiveCount() int {
	count := 0
	for n := range t.ctx {
		for h := range t.ctx[n] {
			if t.ctx[n][h].active {
				count++
			}
		}
	}
	return count
}
