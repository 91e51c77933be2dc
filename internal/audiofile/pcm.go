package audiofile

import (
	"encoding/binary"
	"math"
)

// deinterleaveInt16LE converts little-endian 16-bit interleaved PCM bytes
// into channel-planar float32 in [-1, 1], writing into dst (one slice per
// channel, each already sized for at least `frames`).
func deinterleaveInt16LE(raw []byte, channels, frames int, dst [][]float32) {
	const scale = 1.0 / 32768.0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
			dst[c][f] = float32(v) * scale
		}
	}
}

// deinterleaveInt16BE is the big-endian counterpart used by AIFF.
func deinterleaveInt16BE(raw []byte, channels, frames int, dst [][]float32) {
	const scale = 1.0 / 32768.0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 2
			v := int16(binary.BigEndian.Uint16(raw[off : off+2]))
			dst[c][f] = float32(v) * scale
		}
	}
}

// deinterleaveInt24 converts 24-bit signed PCM (3 bytes/sample) into
// float32, honoring byte order.
func deinterleaveInt24(raw []byte, channels, frames int, dst [][]float32, bigEndian bool) {
	const scale = 1.0 / 8388608.0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 3
			var v int32
			if bigEndian {
				v = int32(raw[off])<<16 | int32(raw[off+1])<<8 | int32(raw[off+2])
			} else {
				v = int32(raw[off+2])<<16 | int32(raw[off+1])<<8 | int32(raw[off])
			}
			if v&0x800000 != 0 {
				v |= -(1 << 24) // sign-extend
			}
			dst[c][f] = float32(v) * scale
		}
	}
}

// deinterleaveFloat32LE converts IEEE-754 32-bit float PCM (WAVE_FORMAT_IEEE_FLOAT,
// format tag 3) into the engine's float32 representation — effectively a
// straight copy with byte-order handling.
func deinterleaveFloat32LE(raw []byte, channels, frames int, dst [][]float32) {
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 4
			bits := binary.LittleEndian.Uint32(raw[off : off+4])
			dst[c][f] = math.Float32frombits(bits)
		}
	}
}

// deinterleaveInt32 converts 32-bit signed PCM into float32.
func deinterleaveInt32(raw []byte, channels, frames int, dst [][]float32, bigEndian bool) {
	const scale = 1.0 / 2147483648.0
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 4
			var u uint32
			if bigEndian {
				u = binary.BigEndian.Uint32(raw[off : off+4])
			} else {
				u = binary.LittleEndian.Uint32(raw[off : off+4])
			}
			dst[c][f] = float32(int32(u)) * scale
		}
	}
}
