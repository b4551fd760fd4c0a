package sab

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SABValidator checks region accesses against a Layout and keeps a record
// of every rejected access.
type SABValidator struct {
	mu      sync.RWMutex
	regions []MemoryRegion
	size    uint32

	violationsMu sync.Mutex
	violations   []ValidationViolation
}

// ValidationViolation records a validation error
type ValidationViolation struct {
	Type      string
	Message   string
	Offset    uint32
	Size      uint32
	Timestamp int64
}

// NewSABValidator creates a validator pre-loaded with every section of layout.
func NewSABValidator(layout Layout) *SABValidator {
	return &SABValidator{
		regions: layout.Regions(),
		size:    layout.Size,
	}
}

// ValidateWrite checks that [offset, offset+size) lies inside regionName.
func (v *SABValidator) ValidateWrite(offset, size uint32, regionName string) error {
	return v.validate("WRITE", offset, size, regionName)
}

// ValidateRead checks that [offset, offset+size) lies inside regionName.
func (v *SABValidator) ValidateRead(offset, size uint32, regionName string) error {
	return v.validate("READ", offset, size, regionName)
}

func (v *SABValidator) validate(op string, offset, size uint32, regionName string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if uint64(offset)+uint64(size) > uint64(v.size) {
		return v.violation("OUT_OF_BOUNDS_"+op, offset, size,
			fmt.Sprintf("%s at %d size %d exceeds region size %d", op, offset, size, v.size))
	}

	region := v.findRegion(offset)
	if region == nil {
		return v.violation("INVALID_REGION_"+op, offset, size,
			fmt.Sprintf("%s at %d does not belong to any section", op, offset))
	}

	if offset+size > region.Offset+region.Size {
		return v.violation("REGION_OVERFLOW_"+op, offset, size,
			fmt.Sprintf("%s at %d size %d overflows section %s", op, offset, size, region.Name))
	}

	if regionName != "" && region.Name != regionName {
		return v.violation("WRONG_REGION_"+op, offset, size,
			fmt.Sprintf("%s targets %s but offset is in %s", op, regionName, region.Name))
	}

	return nil
}

// ValidateLayout reports the first pair of overlapping sections.
func (v *SABValidator) ValidateLayout() error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for i := 0; i < len(v.regions); i++ {
		for j := i + 1; j < len(v.regions); j++ {
			r1, r2 := v.regions[i], v.regions[j]
			if regionsOverlap(r1.Offset, r1.Size, r2.Offset, r2.Size) {
				return &LayoutError{
					Code:    "REGION_OVERLAP",
					Message: fmt.Sprintf("sections %s and %s overlap", r1.Name, r2.Name),
				}
			}
			if r1.Offset%4 != 0 {
				return &LayoutError{Code: "MISALIGNED", Message: r1.Name + " is not 4-byte aligned"}
			}
		}
	}
	return nil
}

// Violations returns the recorded violations, oldest first.
func (v *SABValidator) Violations() []ValidationViolation {
	v.violationsMu.Lock()
	defer v.violationsMu.Unlock()

	out := make([]ValidationViolation, len(v.violations))
	copy(out, v.violations)
	return out
}

// MemoryMap renders the sections for debug logs.
func (v *SABValidator) MemoryMap() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Region Memory Map (Size: %d bytes / %.2f MB)\n", v.size, float64(v.size)/(1024*1024))
	b.WriteString("================================================================\n")
	for _, r := range v.regions {
		fmt.Fprintf(&b, "%-10s | 0x%08X - 0x%08X | %9d bytes | %s\n",
			r.Name, r.Offset, r.Offset+r.Size, r.Size, r.Purpose)
	}
	b.WriteString("================================================================\n")
	return b.String()
}

// findRegion must be called with mu held.
func (v *SABValidator) findRegion(offset uint32) *MemoryRegion {
	for i := range v.regions {
		r := &v.regions[i]
		if offset >= r.Offset && offset < r.Offset+r.Size {
			return r
		}
	}
	return nil
}

func (v *SABValidator) violation(kind string, offset, size uint32, msg string) error {
	v.violationsMu.Lock()
	v.violations = append(v.violations, ValidationViolation{
		Type:      kind,
		Message:   msg,
		Offset:    offset,
		Size:      size,
		Timestamp: time.Now().UnixNano(),
	})
	v.violationsMu.Unlock()
	return fmt.Errorf("%s: %s", kind, msg)
}

func regionsOverlap(offset1, size1, offset2, size2 uint32) bool {
	return offset1 < offset2+size2 && offset1+size1 > offset2
}
