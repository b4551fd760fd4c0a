package sab

// RegionOwner bitmask identifies which side of the handshake holds a view.
type RegionOwner uint32

const (
	RegionOwnerController RegionOwner = 1 << 0
	RegionOwnerWorker     RegionOwner = 1 << 1
)

func (o RegionOwner) String() string {
	switch o {
	case RegionOwnerController:
		return "controller"
	case RegionOwnerWorker:
		return "worker"
	}
	return "unknown"
}

// AccessMode defines how a region is protected.
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessSingleWriter
	AccessMultiWriter
)

// RegionId identifies guard-protected sections.
type RegionId uint32

const (
	RegionHeader RegionId = iota
	RegionCurve
	RegionPixels
	RegionScratch
)

// RegionPolicy declares who can access a section and how.
type RegionPolicy struct {
	RegionID   RegionId
	Access     AccessMode
	WriterMask RegionOwner
	ReaderMask RegionOwner
	EpochIndex *uint32
}

// PolicyFor returns the canonical policy for a section.
//
// The pixel plane lists both owners as writers, but only one writes at a time:
// the worker between ticks, the controller while it holds the writer lease.
func PolicyFor(region RegionId) RegionPolicy {
	switch region {
	case RegionHeader:
		return RegionPolicy{
			RegionID:   region,
			Access:     AccessMultiWriter,
			WriterMask: RegionOwnerController | RegionOwnerWorker,
			ReaderMask: RegionOwnerController | RegionOwnerWorker,
			EpochIndex: ptrUint32(IDX_GENERATION),
		}
	case RegionCurve:
		return RegionPolicy{
			RegionID:   region,
			Access:     AccessReadOnly,
			WriterMask: 0,
			ReaderMask: RegionOwnerController | RegionOwnerWorker,
		}
	case RegionPixels:
		return RegionPolicy{
			RegionID:   region,
			Access:     AccessSingleWriter,
			WriterMask: RegionOwnerController | RegionOwnerWorker,
			ReaderMask: RegionOwnerController | RegionOwnerWorker,
			EpochIndex: ptrUint32(IDX_GENERATION),
		}
	case RegionScratch:
		return RegionPolicy{
			RegionID:   region,
			Access:     AccessSingleWriter,
			WriterMask: RegionOwnerWorker,
			ReaderMask: RegionOwnerWorker,
		}
	default:
		return RegionPolicy{
			RegionID: region,
			Access:   AccessReadOnly,
		}
	}
}

// CanRead reports whether owner may read the section.
func (p RegionPolicy) CanRead(owner RegionOwner) bool {
	return p.ReaderMask&owner != 0
}

// CanWrite reports whether owner may write the section.
func (p RegionPolicy) CanWrite(owner RegionOwner) bool {
	return p.Access != AccessReadOnly && p.WriterMask&owner != 0
}

func ptrUint32(v uint32) *uint32 {
	return &v
}
