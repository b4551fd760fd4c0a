package sab

import "fmt"

// View is one side's binding to a Region. Access checks consult PolicyFor.
type View struct {
	region *Region
	owner  RegionOwner
}

// Region returns the underlying region.
func (v *View) Region() *Region {
	return v.region
}

// Owner returns which side holds this view.
func (v *View) Owner() RegionOwner {
	return v.owner
}

// CheckRead returns ErrReleased or ErrAccessDenied when the owner may not read id.
func (v *View) CheckRead(id RegionId) error {
	if v.region.Released() {
		return ErrReleased
	}
	if !PolicyFor(id).CanRead(v.owner) {
		return fmt.Errorf("%w: %s cannot read section %d", ErrAccessDenied, v.owner, id)
	}
	return nil
}

// CheckWrite returns ErrReleased or ErrAccessDenied when the owner may not write id.
func (v *View) CheckWrite(id RegionId) error {
	if v.region.Released() {
		return ErrReleased
	}
	if !PolicyFor(id).CanWrite(v.owner) {
		return fmt.Errorf("%w: %s cannot write section %d", ErrAccessDenied, v.owner, id)
	}
	return nil
}
