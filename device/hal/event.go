package hal

import "fmt"

// EventKind classifies a decoded interrupt.
type EventKind uint8

// Event kinds.
const (
	EventNone     EventKind = iota
	EventReset              // Bus reset
	EventTransfer           // Transaction complete on (Number, Dir)
	EventRxData             // Receive FIFO holds Count bytes for (Number, Dir)
	EventSuspend            // Bus idle
	EventResume             // Bus activity after suspend
)

func (k EventKind) String() string {
	switch k {
	case EventReset:
		return "reset"
	case EventTransfer:
		return "transfer"
	case EventRxData:
		return "rx-data"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "none"
	}
}

// Event is one interrupt cause, already decoded by a backend.
type Event struct {
	Kind   EventKind
	Number uint8     // Endpoint number
	Dir    Direction // DirOut for receive side, DirIn for transmit side
	Setup  bool      // Receive side carries a SETUP packet
	Count  int       // Bytes available, for EventRxData
}

func (e Event) String() string {
	switch e.Kind {
	case EventTransfer, EventRxData:
		return fmt.Sprintf("%s ep%d %s setup=%t count=%d", e.Kind, e.Number, e.Dir, e.Setup, e.Count)
	default:
		return e.Kind.String()
	}
}
