package media

import "encoding/binary"

// vp8Keyframe inspects a VP8 frame header. Dimensions are only present on keyframes.
func vp8Keyframe(data []byte) (keyframe bool, width, height int) {
	if len(data) < 10 || data[0]&0x01 != 0 {
		return false, 0, 0
	}
	// start code
	if data[3] != 0x9d || data[4] != 0x01 || data[5] != 0x2a {
		return false, 0, 0
	}
	width = int(binary.LittleEndian.Uint16(data[6:8]) & 0x3fff)
	height = int(binary.LittleEndian.Uint16(data[8:10]) & 0x3fff)
	return true, width, height
}

// h264Keyframe reports whether an Annex B access unit contains an IDR slice.
func h264Keyframe(data []byte) bool {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		switch {
		case data[i+2] == 1:
			if data[i+3]&0x1f == 5 {
				return true
			}
		case data[i+2] == 0 && i+4 < len(data) && data[i+3] == 1:
			if data[i+4]&0x1f == 5 {
				return true
			}
		}
	}
	return false
}
