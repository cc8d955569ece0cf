package flash

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/arch"
)

// EventKind enumerates the pipeline's progress events (spec §4.5.3).
type EventKind int

const (
	EventInitialized EventKind = iota
	EventStartedFilling
	EventPageFilled
	EventFinishedFilling
	EventStartedErasing
	EventSectorErased
	EventFinishedErasing
	EventStartedProgramming
	EventPageProgrammed
	EventFinishedProgramming
	EventFailedInit
	EventFailedFilling
	EventFailedErasing
	EventFailedProgramming
	EventFailedUninit
)

func (k EventKind) String() string {
	names := [...]string{
		"Initialized", "StartedFilling", "PageFilled", "FinishedFilling",
		"StartedErasing", "SectorErased", "FinishedErasing",
		"StartedProgramming", "PageProgrammed", "FinishedProgramming",
		"FailedInit", "FailedFilling", "FailedErasing", "FailedProgramming", "FailedUninit",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// Event reports pipeline progress, addressed to the sector or page the
// event concerns where applicable.
type Event struct {
	Kind    EventKind
	Address uint64
	Err     error
}

// Options configures one pipeline run.
type Options struct {
	ChipErase             bool // use pc_erase_all instead of per-sector pc_erase_sector
	RestoreUnwrittenBytes bool
	DoubleBuffered        bool
}

// Pipeline runs the five-stage flash programming sequence against a
// pre-built Sector/Page/Fill layout (spec §4.5.3).
type Pipeline struct {
	iv      *invoker
	sectors []*Sector
	options Options
}

// NewPipeline binds an algorithm, core and memory access, and ABI to a
// layout produced by Builder.Build.
func NewPipeline(algorithm *Algorithm, core CoreControl, mem MemoryAccess, abi arch.ABI, sectors []*Sector, options Options) *Pipeline {
	return &Pipeline{
		iv:      &invoker{algorithm: algorithm, core: core, mem: mem, abi: abi},
		sectors: sectors,
		options: options,
	}
}

// Run executes Init, Fill (if requested), Erase, Program, and Uninit,
// sending progress events to events as each stage advances. Run itself
// blocks until the pipeline finishes or fails; events should be read
// from a buffered channel or drained concurrently.
func (p *Pipeline) Run(events chan<- Event) error {
	if len(p.sectors) == 0 {
		return nil
	}

	if err := p.iv.core.Halt(); err != nil {
		err = fmt.Errorf("flash: halt before reset: %w", err)
		events <- Event{Kind: EventFailedInit, Err: err}
		return err
	}
	if err := p.iv.core.ResetAndHalt(); err != nil {
		err = fmt.Errorf("flash: reset and halt: %w", err)
		events <- Event{Kind: EventFailedInit, Err: err}
		return err
	}

	if err := p.iv.loadAlgorithm(); err != nil {
		events <- Event{Kind: EventFailedInit, Err: err}
		return err
	}

	regionStart := p.sectors[0].Address
	if _, err := p.iv.invoke("pc_init", []uint64{regionStart, 0, uint64(OpProgram)}, true, TimeoutInit); err != nil {
		events <- Event{Kind: EventFailedInit, Err: err}
		return err
	}
	events <- Event{Kind: EventInitialized}

	if p.options.RestoreUnwrittenBytes {
		if err := p.runFill(events); err != nil {
			return err
		}
	}

	if err := p.runErase(events); err != nil {
		return err
	}

	if err := p.runProgram(events); err != nil {
		return err
	}

	if _, err := p.iv.invoke("pc_uninit", []uint64{uint64(OpProgram)}, false, TimeoutUninit); err != nil {
		events <- Event{Kind: EventFailedUninit, Err: err}
		return err
	}

	return nil
}

func (p *Pipeline) runFill(events chan<- Event) error {
	events <- Event{Kind: EventStartedFilling}
	for _, sector := range p.sectors {
		for _, fill := range sector.Fills {
			data, err := readBytes(p.iv.mem, fill.Address, fill.Length)
			if err != nil {
				err = fmt.Errorf("flash: fill read at %#x: %w", fill.Address, err)
				events <- Event{Kind: EventFailedFilling, Address: fill.Address, Err: err}
				return err
			}
			applyFill(sector, fill.Address, data)
			events <- Event{Kind: EventPageFilled, Address: fill.Address}
		}
	}
	events <- Event{Kind: EventFinishedFilling}
	return nil
}

func (p *Pipeline) runErase(events chan<- Event) error {
	events <- Event{Kind: EventStartedErasing}

	if p.options.ChipErase {
		if _, ok := p.iv.algorithm.entry("pc_erase_all"); ok {
			if _, err := p.iv.invoke("pc_erase_all", nil, false, TimeoutChipErase); err != nil {
				events <- Event{Kind: EventFailedErasing, Err: err}
				return err
			}
			for _, sector := range p.sectors {
				events <- Event{Kind: EventSectorErased, Address: sector.Address}
			}
			events <- Event{Kind: EventFinishedErasing}
			return nil
		}
	}

	for _, sector := range p.sectors {
		if _, err := p.iv.invoke("pc_erase_sector", []uint64{sector.Address}, false, TimeoutSectorErase); err != nil {
			events <- Event{Kind: EventFailedErasing, Address: sector.Address, Err: err}
			return err
		}
		events <- Event{Kind: EventSectorErased, Address: sector.Address}
	}
	events <- Event{Kind: EventFinishedErasing}
	return nil
}

func (p *Pipeline) runProgram(events chan<- Event) error {
	events <- Event{Kind: EventStartedProgramming}

	var pages []*Page
	for _, sector := range p.sectors {
		pages = append(pages, sector.Pages...)
	}

	var err error
	if p.options.DoubleBuffered && len(p.iv.algorithm.PageBuffers) >= 2 {
		err = p.programDoubleBuffered(pages, events)
	} else {
		err = p.programSimple(pages, events)
	}
	if err != nil {
		events <- Event{Kind: EventFailedProgramming, Err: err}
		return err
	}

	events <- Event{Kind: EventFinishedProgramming}
	return nil
}

// programSimple implements spec §4.5.3's simple program mode: write,
// call, wait, advance.
func (p *Pipeline) programSimple(pages []*Page, events chan<- Event) error {
	for _, page := range pages {
		if err := p.iv.mem.WriteBlock32(p.iv.algorithm.BeginData, bytesToWords(page.Data)); err != nil {
			return fmt.Errorf("flash: stage page %#x: %w", page.Address, err)
		}
		if _, err := p.iv.invoke("pc_program_page", []uint64{page.Address, uint64(len(page.Data)), p.iv.algorithm.BeginData}, false, TimeoutPageProgram); err != nil {
			return fmt.Errorf("flash: program page %#x: %w", page.Address, err)
		}
		events <- Event{Kind: EventPageProgrammed, Address: page.Address}
	}
	return nil
}

// programDoubleBuffered implements spec §4.5.3's double-buffered mode:
// alternate buffers A/B, overlapping the next page's host→target
// transfer with the previous page's in-flight program call.
func (p *Pipeline) programDoubleBuffered(pages []*Page, events chan<- Event) error {
	if len(pages) == 0 {
		return nil
	}
	buffers := p.iv.algorithm.PageBuffers

	if err := p.iv.mem.WriteBlock32(buffers[0], bytesToWords(pages[0].Data)); err != nil {
		return fmt.Errorf("flash: stage page %#x: %w", pages[0].Address, err)
	}
	if err := p.iv.start("pc_program_page", []uint64{pages[0].Address, uint64(len(pages[0].Data)), buffers[0]}, false); err != nil {
		return err
	}

	for i := 1; i < len(pages); i++ {
		nextBuf := buffers[i%2]
		if err := p.iv.mem.WriteBlock32(nextBuf, bytesToWords(pages[i].Data)); err != nil {
			return fmt.Errorf("flash: stage page %#x: %w", pages[i].Address, err)
		}

		if _, err := p.iv.waitResult("pc_program_page", TimeoutPageProgram); err != nil {
			return fmt.Errorf("flash: program page %#x: %w", pages[i-1].Address, err)
		}
		events <- Event{Kind: EventPageProgrammed, Address: pages[i-1].Address}

		if err := p.iv.start("pc_program_page", []uint64{pages[i].Address, uint64(len(pages[i].Data)), nextBuf}, false); err != nil {
			return err
		}
	}

	last := pages[len(pages)-1]
	if _, err := p.iv.waitResult("pc_program_page", TimeoutPageProgram); err != nil {
		return fmt.Errorf("flash: program page %#x: %w", last.Address, err)
	}
	events <- Event{Kind: EventPageProgrammed, Address: last.Address}
	return nil
}

// applyFill copies data into every page of sector whose range overlaps
// [address, address+len(data)).
func applyFill(sector *Sector, address uint64, data []byte) {
	end := address + uint64(len(data))
	for _, page := range sector.Pages {
		pageEnd := page.Address + uint64(len(page.Data))
		overlapStart := max64(address, page.Address)
		overlapEnd := min64(end, pageEnd)
		for addr := overlapStart; addr < overlapEnd; addr++ {
			page.Data[addr-page.Address] = data[addr-address]
		}
	}
}

// readBytes reads length bytes starting at address through a word-wide
// MemoryAccess, handling unaligned addresses/lengths by reading the
// enclosing aligned words and slicing.
func readBytes(m MemoryAccess, address uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	alignedStart := address &^ 3
	end := address + uint64(length)
	alignedEnd := (end + 3) &^ 3
	words := int((alignedEnd - alignedStart) / 4)

	raw, err := m.ReadBlock32(alignedStart, words)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, words*4)
	for i, w := range raw {
		buf[i*4] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}

	offset := address - alignedStart
	return buf[offset : offset+uint64(length)], nil
}
