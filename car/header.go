package car

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// The archive header is the dag-cbor map {"roots": [...], "version": 1}.
// Keys are emitted in canonical order (shortest first) so a given root
// set always produces identical header bytes.

func marshalHeader(roots []cid.Cid) ([]byte, error) {
	var buf bytes.Buffer
	cw := cbg.NewCborWriter(&buf)

	if err := cw.WriteMajorTypeHeader(cbg.MajMap, 2); err != nil {
		return nil, err
	}

	if err := cw.WriteMajorTypeHeader(cbg.MajTextString, uint64(len("roots"))); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(cw, "roots"); err != nil {
		return nil, err
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(roots))); err != nil {
		return nil, err
	}
	for _, c := range roots {
		if err := cbg.WriteCid(cw, c); err != nil {
			return nil, err
		}
	}

	if err := cw.WriteMajorTypeHeader(cbg.MajTextString, uint64(len("version"))); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(cw, "version"); err != nil {
		return nil, err
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, Version); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func unmarshalHeader(data []byte) (roots []cid.Cid, version uint64, err error) {
	cr := cbg.NewCborReader(bytes.NewReader(data))

	maj, n, err := cr.ReadHeader()
	if err != nil {
		return nil, 0, err
	}
	if maj != cbg.MajMap {
		return nil, 0, fmt.Errorf("header is not a map")
	}
	if n > 16 {
		return nil, 0, fmt.Errorf("header map too large")
	}
	sawVersion := false
	for i := uint64(0); i < n; i++ {
		key, err := cbg.ReadString(cr)
		if err != nil {
			return nil, 0, fmt.Errorf("read key: %w", err)
		}
		switch key {
		case "roots":
			maj, cnt, err := cr.ReadHeader()
			if err != nil {
				return nil, 0, err
			}
			if maj != cbg.MajArray {
				return nil, 0, fmt.Errorf("roots is not an array")
			}
			if cnt > 256 {
				return nil, 0, fmt.Errorf("too many roots: %d", cnt)
			}
			for j := uint64(0); j < cnt; j++ {
				c, err := cbg.ReadCid(cr)
				if err != nil {
					return nil, 0, fmt.Errorf("root %d: %w", j, err)
				}
				roots = append(roots, c)
			}
		case "version":
			maj, v, err := cr.ReadHeader()
			if err != nil {
				return nil, 0, err
			}
			if maj != cbg.MajUnsignedInt {
				return nil, 0, fmt.Errorf("version is not an unsigned int")
			}
			version = v
			sawVersion = true
		default:
			if err := cbg.ScanForLinks(cr, func(cid.Cid) {}); err != nil {
				return nil, 0, fmt.Errorf("skip field %q: %w", key, err)
			}
		}
	}
	if !sawVersion {
		return nil, 0, fmt.Errorf("header missing version")
	}
	return roots, version, nil
}
