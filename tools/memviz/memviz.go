// Command memviz renders a snapshot of the physical memory manager's frame
// bitmap as a PNG image, one cell per frame, so the layout chosen by Init and
// the fragmentation left behind by AllocPages/FreePages can be inspected
// without attaching a debugger to the running kernel.
//
// The kernel has no way to write files from inside its freestanding
// environment, so memviz does not talk to a live kernel: it consumes a raw
// dump of the bitmap words (as produced by a debug monitor or extracted from
// a core file) and an optional companion file carrying each frame's
// Page.CacheIndex, and renders both onto the same grid.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"os"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// cellSize is the edge length, in pixels, of a single frame cell.
const cellSize = 6

var (
	freeColor     = color.RGBA{R: 0x2e, G: 0xa0, B: 0x43, A: 0xff}
	usedColor     = color.RGBA{R: 0xc0, G: 0x39, B: 0x2b, A: 0xff}
	reservedColor = color.RGBA{R: 0x55, G: 0x55, B: 0x55, A: 0xff}
	slabColor     = color.RGBA{R: 0x2e, G: 0x6d, B: 0xa0, A: 0xff}
	marginTop     = 28
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[memviz] error: %s\n", err.Error())
	os.Exit(1)
}

// loadBitmap reads a raw little-endian uint32 bitmap dump, returning one
// bool per frame (true == used).
func loadBitmap(path string, frames int) ([]bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, errors.New("bitmap file length is not a multiple of 4 bytes")
	}

	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}

	used := make([]bool, frames)
	for pfn := 0; pfn < frames; pfn++ {
		word := words[pfn/32]
		used[pfn] = word&(1<<(uint(pfn)%32)) != 0
	}
	return used, nil
}

// loadCacheIndex reads an optional companion file holding one signed byte per
// frame: -1 for frames not owned by any slab cache, >= 0 for the owning
// cache's index. A missing path is not an error; it just disables slab
// shading.
func loadCacheIndex(path string, frames int) ([]int8, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != frames {
		return nil, fmt.Errorf("cache-index file has %d bytes; expected %d", len(raw), frames)
	}

	idx := make([]int8, frames)
	for i, b := range raw {
		idx[i] = int8(b)
	}
	return idx, nil
}

func render(used []bool, cacheIdx []int8, cols int, reservedUpTo int) *gg.Context {
	rows := (len(used) + cols - 1) / cols

	dc := gg.NewContext(cols*cellSize, rows*cellSize+marginTop)
	dc.SetColor(color.White)
	dc.Clear()

	var usedCount, slabCount int
	for pfn, isUsed := range used {
		x := (pfn % cols) * cellSize
		y := (pfn/cols)*cellSize + marginTop

		switch {
		case pfn < reservedUpTo:
			dc.SetColor(reservedColor)
		case cacheIdx != nil && cacheIdx[pfn] >= 0:
			dc.SetColor(slabColor)
			slabCount++
		case isUsed:
			dc.SetColor(usedColor)
		default:
			dc.SetColor(freeColor)
		}
		dc.DrawRectangle(float64(x), float64(y), cellSize-1, cellSize-1)
		dc.Fill()

		if isUsed {
			usedCount++
		}
	}

	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.Black)
	dc.DrawString(fmt.Sprintf("frames: %d  used: %d  slab-owned: %d", len(used), usedCount, slabCount), 4, 18)

	return dc
}

func runTool() error {
	bitmapPath := flag.String("bitmap", "", "path to a raw dump of the frame bitmap words")
	cacheIndexPath := flag.String("cache-index", "", "optional path to a one-byte-per-frame slab cache-index dump")
	frames := flag.Int("frames", 0, "number of frames described by the bitmap (maxPages)")
	cols := flag.Int("cols", 128, "number of frame columns per row in the rendered grid")
	reserved := flag.Int("reserved-frames", 1, "number of leading frames to always render as reserved (frame 0 and below)")
	out := flag.String("out", "memviz.png", "output PNG path")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "memviz: render a pmm frame bitmap dump as a PNG occupancy grid\n\n")
		fmt.Fprint(os.Stderr, "Usage: memviz -bitmap <file> -frames <n> [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *bitmapPath == "" || *frames <= 0 {
		return errors.New("-bitmap and -frames are required")
	}

	used, err := loadBitmap(*bitmapPath, *frames)
	if err != nil {
		return err
	}

	cacheIdx, err := loadCacheIndex(*cacheIndexPath, *frames)
	if err != nil {
		return err
	}

	dc := render(used, cacheIdx, *cols, *reserved)
	return dc.SavePNG(*out)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
