package prog

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
)

// MZX is the kernel's executable format: a fixed magic, the entry name
// resolved against the program table, and an opaque payload the loader
// maps read-only into the image.
//
//	magic   [4]byte  "MZX\x01"
//	entry   u16 length + bytes
//	payload u32 length + bytes
const Magic = "MZX\x01"

const maxEntryLen = 255

// BuildImage assembles an MZX image for an entry name.
func BuildImage(entry string, payload []byte) []byte {
	img := make([]byte, 0, len(Magic)+2+len(entry)+4+len(payload))
	img = append(img, Magic...)
	img = binary.LittleEndian.AppendUint16(img, uint16(len(entry)))
	img = append(img, entry...)
	img = binary.LittleEndian.AppendUint32(img, uint32(len(payload)))
	img = append(img, payload...)
	return img
}

// ParseImage validates an MZX image and returns its entry name and
// payload. Every malformation reads as an exec-format error.
func ParseImage(img []byte) (entry string, payload []byte, err error) {
	if len(img) < len(Magic)+2 || string(img[:len(Magic)]) != Magic {
		return "", nil, errors.Wrap(abi.ENOEXEC, "bad magic")
	}
	off := len(Magic)
	nameLen := int(binary.LittleEndian.Uint16(img[off:]))
	off += 2
	if nameLen == 0 || nameLen > maxEntryLen || off+nameLen+4 > len(img) {
		return "", nil, errors.Wrap(abi.ENOEXEC, "truncated entry name")
	}
	entry = string(img[off : off+nameLen])
	off += nameLen
	payloadLen := int(binary.LittleEndian.Uint32(img[off:]))
	off += 4
	if off+payloadLen > len(img) {
		return "", nil, errors.Wrap(abi.ENOEXEC, "truncated payload")
	}
	return entry, img[off : off+payloadLen], nil
}
