package ingest

import "github.com/signalkeep/relay/internal/media"

// scalePlanar nearest-neighbor resamples a planar frame buffer from src
// caps to dst caps, converting between I420 and NV12 if needed. It is
// intentionally simple (no filtering kernel): a cheap resampling kernel is
// enough for this stage's purpose. If the input buffer doesn't match
// the size src.Width/Height/PixelFormat implies (e.g. a pass-through
// decoder handed us still-compressed bytes), a correctly-sized zero buffer
// is returned instead of indexing out of bounds.
func scalePlanar(data []byte, src, dst media.Caps) []byte {
	srcY, srcU, srcV, ok := src.PlaneSizes()
	if !ok || len(data) < srcY+srcU+srcV {
		return make([]byte, dst.BufferSize())
	}

	srcYPlane := data[:srcY]
	var srcUPlane, srcVPlane []byte
	switch src.PixelFormat {
	case media.PixelFormatI420:
		srcUPlane = data[srcY : srcY+srcU]
		srcVPlane = data[srcY+srcU : srcY+srcU+srcV]
	case media.PixelFormatNV12:
		srcUPlane = data[srcY : srcY+srcU] // interleaved UV
	}

	dstYSize, dstUSize, dstVSize, _ := dst.PlaneSizes()
	out := make([]byte, dstYSize+dstUSize+dstVSize)

	resamplePlane(srcYPlane, src.Width, src.Height, out[:dstYSize], dst.Width, dst.Height)

	switch dst.PixelFormat {
	case media.PixelFormatI420:
		cw, ch := (dst.Width+1)/2, (dst.Height+1)/2
		uOut := out[dstYSize : dstYSize+dstUSize]
		vOut := out[dstYSize+dstUSize:]
		if src.PixelFormat == media.PixelFormatI420 {
			scw, sch := (src.Width+1)/2, (src.Height+1)/2
			resamplePlane(srcUPlane, scw, sch, uOut, cw, ch)
			resamplePlane(srcVPlane, scw, sch, vOut, cw, ch)
		} else if src.PixelFormat == media.PixelFormatNV12 {
			su, sv := deinterleaveNV12(srcUPlane)
			scw, sch := (src.Width+1)/2, (src.Height+1)/2
			resamplePlane(su, scw, sch, uOut, cw, ch)
			resamplePlane(sv, scw, sch, vOut, cw, ch)
		}
	case media.PixelFormatNV12:
		cw, ch := (dst.Width+1)/2, (dst.Height+1)/2
		uvOut := out[dstYSize:]
		if src.PixelFormat == media.PixelFormatNV12 {
			resampleInterleaved(srcUPlane, (src.Width+1)/2, (src.Height+1)/2, uvOut, cw, ch)
		} else if src.PixelFormat == media.PixelFormatI420 {
			scw, sch := (src.Width+1)/2, (src.Height+1)/2
			interleaveNV12(srcUPlane, srcVPlane, scw, sch, uvOut, cw, ch)
		}
	}

	return out
}

// outputSize is a local convenience alias for media.Caps.BufferSize, kept so
// call sites in this package read the same way they did before the sizing
// arithmetic moved onto Caps itself.
func outputSize(c media.Caps) int {
	return c.BufferSize()
}

// resamplePlane nearest-neighbor resamples a single 8-bit plane.
func resamplePlane(src []byte, sw, sh int, dst []byte, dw, dh int) {
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return
	}
	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		if sy >= sh {
			sy = sh - 1
		}
		srcRow := src[sy*sw : (sy+1)*sw]
		dstRow := dst[y*dw : (y+1)*dw]
		for x := 0; x < dw; x++ {
			sx := x * sw / dw
			if sx >= sw {
				sx = sw - 1
			}
			dstRow[x] = srcRow[sx]
		}
	}
}

// resampleInterleaved nearest-neighbor resamples an interleaved 2-byte
// (e.g. NV12 UV) plane.
func resampleInterleaved(src []byte, sw, sh int, dst []byte, dw, dh int) {
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return
	}
	for y := 0; y < dh; y++ {
		sy := y * sh / dh
		if sy >= sh {
			sy = sh - 1
		}
		srcRow := src[sy*sw*2 : (sy+1)*sw*2]
		dstRow := dst[y*dw*2 : (y+1)*dw*2]
		for x := 0; x < dw; x++ {
			sx := x * sw / dw
			if sx >= sw {
				sx = sw - 1
			}
			dstRow[2*x] = srcRow[2*sx]
			dstRow[2*x+1] = srcRow[2*sx+1]
		}
	}
}

func deinterleaveNV12(uv []byte) (u, v []byte) {
	n := len(uv) / 2
	u = make([]byte, n)
	v = make([]byte, n)
	for i := 0; i < n; i++ {
		u[i] = uv[2*i]
		v[i] = uv[2*i+1]
	}
	return u, v
}

func interleaveNV12(u, v []byte, scw, sch int, dst []byte, dw, dh int) {
	srcUV := make([]byte, len(u)*2)
	for i := range u {
		srcUV[2*i] = u[i]
		if i < len(v) {
			srcUV[2*i+1] = v[i]
		}
	}
	resampleInterleaved(srcUV, scw, sch, dst, dw, dh)
}
