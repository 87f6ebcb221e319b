// Package membership gives psset write access to the container bookkeeping kept on each page slab.
// Packages outside memutils cannot import it, so only the set can change where a slab is indexed.
package membership

// Flags records which of a set's containers currently hold a page slab
type Flags struct {
	InSet             bool
	InAllocContainer  bool
	InPurgeContainer  bool
	InHugifyContainer bool
	Updating          bool
}

// Of returns the flags stored on a page slab. It is installed by hpdata when that package is
// initialized, and panics if slab is not a *hpdata.PageSlab.
var Of func(slab any) *Flags
