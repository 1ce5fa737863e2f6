package fallback

import (
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/signalkeep/relay/internal/media"
)

// displayWidth returns the number of terminal-style display columns s
// occupies: two columns for East-Asian wide/fullwidth runes, one otherwise.
// s is NFC-normalized first so combining marks collapse onto their base rune
// instead of each counting as a separate column.
func displayWidth(s string) int {
	n := 0
	for _, r := range norm.NFC.String(s) {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// renderTestCard allocates a raw frame in caps' pixel format showing a flat
// grey field with a brighter horizontal band, centered and sized from text's
// display width. This is a stylized placeholder, not glyph rendering: spec
// §4.2 only requires the fallback frame to be visually distinguishable from
// a live signal, and scaling the band to the configured message's width
// keeps its footprint proportional without drawing actual characters.
func renderTestCard(caps media.Caps, text string) *media.Frame {
	data := make([]byte, caps.BufferSize())
	fillChroma(data, caps)
	drawOverlayBand(data, caps, displayWidth(text))
	return media.NewFrame(caps, data, false)
}

const (
	greyY           = 96
	overlayY        = 235
	neutralChroma   = 128
	bandColumnWidth = 6
	bandHeight      = 48
)

// fillChroma fills the Y plane with a mid-grey field and the chroma planes
// with neutral (no color cast).
func fillChroma(data []byte, caps media.Caps) {
	y, u, v, ok := caps.PlaneSizes()
	if !ok {
		return
	}
	for i := 0; i < y && i < len(data); i++ {
		data[i] = greyY
	}
	for i := y; i < y+u+v && i < len(data); i++ {
		data[i] = neutralChroma
	}
}

// drawOverlayBand paints a bright horizontal band centered in the Y plane,
// textColumns*bandColumnWidth pixels wide and bandHeight pixels tall,
// clamped to the frame's dimensions.
func drawOverlayBand(data []byte, caps media.Caps, textColumns int) {
	if caps.Width <= 0 || caps.Height <= 0 || textColumns <= 0 {
		return
	}
	bandWidth := textColumns * bandColumnWidth
	if bandWidth > caps.Width {
		bandWidth = caps.Width
	}
	left := (caps.Width - bandWidth) / 2

	top := (caps.Height - bandHeight) / 2
	if top < 0 {
		top = 0
	}
	bottom := top + bandHeight
	if bottom > caps.Height {
		bottom = caps.Height
	}

	for row := top; row < bottom; row++ {
		rowStart := row * caps.Width
		if rowStart+caps.Width > len(data) {
			break
		}
		for col := left; col < left+bandWidth; col++ {
			data[rowStart+col] = overlayY
		}
	}
}
