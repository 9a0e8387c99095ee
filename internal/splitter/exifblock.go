package splitter

import (
	"bytes"
	"encoding/binary"
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1

	// maxIFDs bounds the directory chain of a metadata block.
	maxIFDs = 16
	// maxSubIFDDepth bounds nested Exif, GPS and interoperability pointers.
	maxSubIFDDepth = 2

	tagExifIFD    = 0x8769
	tagGPSIFD     = 0x8825
	tagInteropIFD = 0xA005
)

var exifHeader = []byte("Exif\x00\x00")

// tiffFieldSize is the byte width of each TIFF field type. Unknown types are absent.
var tiffFieldSize = map[uint16]uint64{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1,
	7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

// exifBlock returns the TIFF structured metadata carried by data: the payload of
// the first Exif APP1 segment of a JPEG stream, or the stream itself when it is
// a TIFF file.
func exifBlock(data []byte) ([]byte, bool) {
	if isTIFFHeader(data) {
		return data, true
	}
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, false
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil, false
		}
		marker := data[i+1]
		switch {
		case marker == 0xFF:
			// fill byte
			i++
			continue
		case marker == markerSOS || marker == markerEOI:
			return nil, false
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			i += 2
			continue
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if length < 2 || i+2+length > len(data) {
			return nil, false
		}
		payload := data[i+4 : i+2+length]
		if marker == markerAPP1 && bytes.HasPrefix(payload, exifHeader) {
			block := payload[len(exifHeader):]
			return block, isTIFFHeader(block)
		}
		i += 2 + length
	}
	return nil, false
}

func isTIFFHeader(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	switch string(b[:4]) {
	case "II*\x00", "MM\x00*":
		return true
	}
	return false
}

// wellFormedTIFF reports whether every directory reachable from the header of b
// stays inside b: entry tables, out of line values, the next directory chain and
// the Exif, GPS and interoperability sub directories. Field sizes are computed
// without overflow so a huge component count cannot masquerade as an inline value.
func wellFormedTIFF(b []byte) bool {
	if !isTIFFHeader(b) {
		return false
	}
	var order binary.ByteOrder = binary.LittleEndian
	if b[0] == 'M' {
		order = binary.BigEndian
	}
	w := tiffWalker{b: b, order: order, seen: make(map[uint32]bool)}

	offset := order.Uint32(b[4:8])
	for n := 0; offset != 0; n++ {
		if n == maxIFDs {
			return false
		}
		next, ok := w.dir(offset, 0)
		if !ok {
			return false
		}
		offset = next
	}
	return true
}

type tiffWalker struct {
	b     []byte
	order binary.ByteOrder
	seen  map[uint32]bool
}

// dir checks the directory at offset and returns the offset of the next one.
func (w *tiffWalker) dir(offset uint32, depth int) (uint32, bool) {
	if depth > maxSubIFDDepth || w.seen[offset] {
		return 0, false
	}
	w.seen[offset] = true

	size := uint64(len(w.b))
	start := uint64(offset)
	if start < 8 || start+2 > size {
		return 0, false
	}
	entries := uint64(w.order.Uint16(w.b[start : start+2]))
	end := start + 2 + entries*12
	if end+4 > size {
		return 0, false
	}

	for e := start + 2; e < end; e += 12 {
		entry := w.b[e : e+12]
		tag := w.order.Uint16(entry[0:2])
		typ := w.order.Uint16(entry[2:4])
		count := uint64(w.order.Uint32(entry[4:8]))

		fieldSize, ok := tiffFieldSize[typ]
		if !ok {
			return 0, false
		}
		if length := fieldSize * count; length > 4 {
			at := uint64(w.order.Uint32(entry[8:12]))
			if at+length > size {
				return 0, false
			}
		}

		switch tag {
		case tagExifIFD, tagGPSIFD, tagInteropIFD:
			var sub uint32
			switch {
			case typ == 4 && count == 1:
				sub = w.order.Uint32(entry[8:12])
			case typ == 3 && count == 1:
				sub = uint32(w.order.Uint16(entry[8:10]))
			default:
				return 0, false
			}
			if _, ok := w.dir(sub, depth+1); !ok {
				return 0, false
			}
		}
	}
	return w.order.Uint32(w.b[end : end+4]), true
}
