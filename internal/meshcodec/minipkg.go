package meshcodec

import "fmt"

// Mini-package types carried inside an OutputSet (0x0420) payload.
const (
	TypeWhiteBalance   = 0x01
	TypeSource         = 0x03
	TypeLux            = 0x06
	TypeWindowControl  = 0x07
	TypeChannel        = 0x10
	TypeBatteryInfo    = 0x16
	TypeTilt           = 0x18
	TypeWindowPosition = 0x27
)

// Source values carried by a TypeSource mini-package.
const (
	SourceManual = 0x01
	SourceMotion = 0x03
	SourceApp    = 0x08
)

// MiniPkg is one TLV element of a composite 0x0420 payload:
//
//	byte0:  F S S S T T T T    F=flag, SSS=length-1, TTTT=type low nybble
//	                           (if TTTT==0xF, an extra byte carries type-0xF)
//	bytes:  payload[length]
type MiniPkg struct {
	Flag    bool
	Type    int
	Payload []byte
}

// Encode returns the wire bytes for this mini-package.
func (p MiniPkg) Encode() []byte {
	header := 0
	if p.Flag {
		header = 0x80
	}
	header += ((len(p.Payload) - 1) & 0x7) << 4

	var out []byte
	if p.Type > 0xF {
		out = append(out, byte(header|0xF), byte(p.Type-0xF))
	} else {
		out = append(out, byte(header|(p.Type&0xF)))
	}
	out = append(out, p.Payload...)
	return out
}

// Len returns the number of wire bytes Encode would produce.
func (p MiniPkg) Len() int {
	n := 1
	if p.Type > 0xF {
		n = 2
	}
	return n + len(p.Payload)
}

// decodeMiniPkg decodes one mini-package from the front of data, returning
// it along with the number of bytes consumed.
func decodeMiniPkg(data []byte) (MiniPkg, int, error) {
	if len(data) == 0 {
		return MiniPkg{}, 0, fmt.Errorf("meshcodec: empty mini-package")
	}

	flag := data[0]&0x80 != 0
	length := int((data[0] & 0x70) >> 4)
	typ := int(data[0] & 0x0F)
	start := 1

	if typ == 0x0F {
		if len(data) < 2 {
			return MiniPkg{}, 0, fmt.Errorf("meshcodec: truncated extended mini-package type")
		}
		typ += int(data[1])
		start = 2
	}

	end := start + length + 1
	if len(data) < end {
		return MiniPkg{}, 0, fmt.Errorf("meshcodec: mini-package payload truncated: need %d bytes, have %d", end, len(data))
	}

	pkg := MiniPkg{
		Flag:    flag,
		Type:    typ,
		Payload: append([]byte(nil), data[start:end]...),
	}
	return pkg, end, nil
}

// DecodeMiniPkgs decodes a sequence of back-to-back mini-packages filling
// the whole of data, as found in an OutputSet payload.
func DecodeMiniPkgs(data []byte) ([]MiniPkg, error) {
	var pkgs []MiniPkg
	offset := 0
	for offset < len(data) {
		pkg, n, err := decodeMiniPkg(data[offset:])
		if err != nil {
			return pkgs, err
		}
		pkgs = append(pkgs, pkg)
		offset += n
	}
	return pkgs, nil
}

// EncodeMiniPkgs concatenates the wire form of every mini-package in order.
func EncodeMiniPkgs(pkgs []MiniPkg) []byte {
	var out []byte
	for _, p := range pkgs {
		out = append(out, p.Encode()...)
	}
	return out
}
