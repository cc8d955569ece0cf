package flash

import (
	"fmt"
	"sort"
)

// region is one (address, bytes) contribution from the user image,
// before layout construction (spec §4.5.2).
type region struct {
	Address uint64
	Data    []byte
}

func (r region) end() uint64 { return r.Address + uint64(len(r.Data)) }

// Fill is a byte range inside a touched sector that no region covers;
// its bytes must be read back from the target before programming so
// the sector's untouched contents survive the erase (spec §4.5.2 step
// 2, restore_unwritten_bytes).
type Fill struct {
	Address uint64
	Length  uint32
}

// Page is one flash_properties.page_size slice of a sector. Data is
// seeded with erased_byte_value, then overwritten by user regions, then
// by fill data once read (spec §4.5.2 step 3).
type Page struct {
	Address uint64
	Data    []byte
}

// Sector is one algorithm.flash_properties.sector_size slice of flash,
// touched by at least one user region.
type Sector struct {
	Address uint64
	Size    uint32
	Pages   []*Page
	Fills   []Fill
}

// Builder accumulates (address, bytes) regions and turns them into the
// Sector/Page/Fill layout a Pipeline programs.
type Builder struct {
	algorithm *Algorithm
	regions   []region
}

// NewBuilder creates a Builder for the given algorithm's flash
// geometry.
func NewBuilder(algorithm *Algorithm) *Builder {
	return &Builder{algorithm: algorithm}
}

// AddData contributes one (address, data) region, e.g. one record from
// an Intel HEX or S-record loader.
func (b *Builder) AddData(address uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b.regions = append(b.regions, region{Address: address, Data: append([]byte(nil), data...)})
	return nil
}

// merge sorts and merges overlapping/adjacent regions, rejecting
// overlaps whose bytes disagree (spec §4.5.2 step 1).
func (b *Builder) merge() ([]region, error) {
	if len(b.regions) == 0 {
		return nil, nil
	}

	sorted := append([]region(nil), b.regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	merged := []region{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Address > last.end() {
			merged = append(merged, r)
			continue
		}

		// overlapping or adjacent: verify agreement in the overlap, then extend.
		overlapStart := r.Address
		overlapEnd := min64(last.end(), r.end())
		for addr := overlapStart; addr < overlapEnd; addr++ {
			lastByte := last.Data[addr-last.Address]
			newByte := r.Data[addr-r.Address]
			if lastByte != newByte {
				return nil, fmt.Errorf("flash: conflicting overlap at address %#x", addr)
			}
		}

		if r.end() > last.end() {
			extra := r.Data[last.end()-r.Address:]
			last.Data = append(last.Data, extra...)
		}
	}
	return merged, nil
}

// Build constructs the Sector/Page/Fill layout from the accumulated
// regions (spec §4.5.2).
func (b *Builder) Build(restoreUnwrittenBytes bool) ([]*Sector, error) {
	merged, err := b.merge()
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}

	props := b.algorithm.FlashProperties
	if props.SectorSize == 0 || props.PageSize == 0 {
		return nil, fmt.Errorf("flash: algorithm flash properties incomplete")
	}

	minAddr := merged[0].Address
	maxAddr := merged[0].end()
	for _, r := range merged[1:] {
		if r.Address < minAddr {
			minAddr = r.Address
		}
		if r.end() > maxAddr {
			maxAddr = r.end()
		}
	}

	firstSector := (minAddr / uint64(props.SectorSize)) * uint64(props.SectorSize)
	var sectors []*Sector
	for sectorAddr := firstSector; sectorAddr < maxAddr; sectorAddr += uint64(props.SectorSize) {
		sectorEnd := sectorAddr + uint64(props.SectorSize)

		covering := regionsOverlapping(merged, sectorAddr, sectorEnd)
		if len(covering) == 0 {
			continue
		}

		sector := &Sector{Address: sectorAddr, Size: props.SectorSize}
		sector.Pages = buildPages(sectorAddr, props.SectorSize, props.PageSize, props.ErasedByteValue, covering)
		if restoreUnwrittenBytes {
			sector.Fills = complement(sectorAddr, sectorEnd, covering)
		}
		sectors = append(sectors, sector)
	}

	return sectors, nil
}

func buildPages(sectorAddr uint64, sectorSize, pageSize uint32, erasedByte byte, covering []region) []*Page {
	var pages []*Page
	for pageAddr := sectorAddr; pageAddr < sectorAddr+uint64(sectorSize); pageAddr += uint64(pageSize) {
		data := make([]byte, pageSize)
		for i := range data {
			data[i] = erasedByte
		}

		pageEnd := pageAddr + uint64(pageSize)
		for _, r := range covering {
			overlapStart := max64(pageAddr, r.Address)
			overlapEnd := min64(pageEnd, r.end())
			for addr := overlapStart; addr < overlapEnd; addr++ {
				data[addr-pageAddr] = r.Data[addr-r.Address]
			}
		}

		pages = append(pages, &Page{Address: pageAddr, Data: data})
	}
	return pages
}

// complement returns the byte ranges within [start, end) that no
// region in covering intersects.
func complement(start, end uint64, covering []region) []Fill {
	type span struct{ lo, hi uint64 }
	var spans []span
	for _, r := range covering {
		lo := max64(start, r.Address)
		hi := min64(end, r.end())
		if lo < hi {
			spans = append(spans, span{lo, hi})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	var fills []Fill
	cursor := start
	for _, s := range spans {
		if s.lo > cursor {
			fills = append(fills, Fill{Address: cursor, Length: uint32(s.lo - cursor)})
		}
		if s.hi > cursor {
			cursor = s.hi
		}
	}
	if cursor < end {
		fills = append(fills, Fill{Address: cursor, Length: uint32(end - cursor)})
	}
	return fills
}

func regionsOverlapping(regions []region, start, end uint64) []region {
	var out []region
	for _, r := range regions {
		if r.Address < end && r.end() > start {
			out = append(out, r)
		}
	}
	return out
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
