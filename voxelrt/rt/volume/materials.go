package volume

import "fmt"

// MaterialEntry describes one voxel ID's role in occupancy and physics.
type MaterialEntry struct {
	IsVisible bool
	IsSolid   bool
}

// Materials is a dense voxel-ID-indexed material table. Entry 0 (air) is
// always present and, by default, invisible and non-solid.
type Materials struct {
	entries []MaterialEntry
}

// NewMaterials builds a table with the default air entry at index 0.
func NewMaterials() *Materials {
	return &Materials{entries: []MaterialEntry{{IsVisible: false, IsSolid: false}}}
}

// Set installs or overwrites the entry for voxel id, growing the table as
// needed so every ID ever written has coverage (spec §3: "bounds must
// cover every ID stored anywhere in the grid").
func (m *Materials) Set(id uint32, entry MaterialEntry) {
	for uint32(len(m.entries)) <= id {
		m.entries = append(m.entries, MaterialEntry{})
	}
	m.entries[id] = entry
}

// Get returns the entry for id. A voxel ID with no registered entry is a
// defect (ErrMaterialMissing via MustGet); Get itself never fails and
// falls back to the air entry so read paths (occupancy bit computation)
// stay total.
func (m *Materials) Get(id uint32) MaterialEntry {
	if int(id) < len(m.entries) {
		return m.entries[id]
	}
	return MaterialEntry{}
}

// Has reports whether id has an entry in the table. Set fills any gap
// below the id it installs with default (invisible, non-solid) entries,
// so every id below Len() has one.
func (m *Materials) Has(id uint32) bool {
	return int(id) < len(m.entries)
}

// Len returns the number of registered entries.
func (m *Materials) Len() int {
	return len(m.entries)
}

// ErrMaterialMissing is returned by operations that require an explicit
// material entry (as opposed to Get's air-fallback for internal occupancy
// bookkeeping). Grid.SetVoxel is the one production call site: writing an
// unregistered voxel id is the defect spec §7 names MaterialMissing for.
type ErrMaterialMissing struct {
	VoxelID uint32
}

func (e *ErrMaterialMissing) Error() string {
	return fmt.Sprintf("volume: voxel id %d has no material entry", e.VoxelID)
}

// MustGet returns the entry for id or an *ErrMaterialMissing error.
func (m *Materials) MustGet(id uint32) (MaterialEntry, error) {
	if !m.Has(id) {
		return MaterialEntry{}, &ErrMaterialMissing{VoxelID: id}
	}
	return m.entries[id], nil
}

// All returns a copy of the entries slice, in ID order, for serialization.
func (m *Materials) All() []MaterialEntry {
	out := make([]MaterialEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// FromEntries rebuilds a Materials table from a serialized entry list.
func FromEntries(entries []MaterialEntry) *Materials {
	out := make([]MaterialEntry, len(entries))
	copy(out, entries)
	return &Materials{entries: out}
}
