package protocol

// SignalKind enumerates worker-to-controller notifications.
type SignalKind int

const (
	// SignalLoaded: the worker context is running and can accept the handle.
	SignalLoaded SignalKind = iota
	// SignalReady: the worker attached to the handle and accepts commands.
	SignalReady
	// SignalFailed: attaching to the handle failed. Err says why.
	SignalFailed
	// SignalTerminated: the worker loop exited.
	SignalTerminated
)

func (k SignalKind) String() string {
	switch k {
	case SignalLoaded:
		return "loaded"
	case SignalReady:
		return "ready"
	case SignalFailed:
		return "failed"
	case SignalTerminated:
		return "terminated"
	}
	return "unknown"
}

// Signal is one worker-to-controller notification.
type Signal struct {
	Kind SignalKind
	Err  error
}
