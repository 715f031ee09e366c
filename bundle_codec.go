package pdp

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BundleLoader loads policy bundles from various formats.
type BundleLoader struct{}

func NewBundleLoader() *BundleLoader {
	return &BundleLoader{}
}

func (l *BundleLoader) LoadYAML(data []byte) (*Bundle, error) {
	b := &Bundle{}
	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *BundleLoader) LoadJSON(data []byte) (*Bundle, error) {
	b := &Bundle{}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadBinary loads from the compact binary distribution format.
func (l *BundleLoader) LoadBinary(data []byte) (*Bundle, error) {
	r := bytes.NewReader(data)
	return decodeBinaryBundle(r)
}

// LoadFile picks the codec from the file extension. .bin is the binary
// distribution format; .yaml/.yml and .json are the editable forms.
func (l *BundleLoader) LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	case ".bin":
		return l.LoadBinary(data)
	default:
		return nil, fmt.Errorf("unsupported bundle format: %s", filepath.Ext(path))
	}
}

// EncodeBinaryBundle encodes a bundle to the binary distribution format.
func EncodeBinaryBundle(b *Bundle) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeBinaryBundle(b, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToYAML exports the bundle to YAML.
func (b *Bundle) ToYAML() ([]byte, error) {
	return yaml.Marshal(b)
}

// ToJSON exports the bundle to indented JSON.
func (b *Bundle) ToJSON() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Binary protocol encoding/decoding
const (
	bundleMagic         = 0x5042 // "PB"
	bundleBinaryVersion = 1

	// maxBundleSectionSize bounds a section's declared size so malformed
	// input cannot drive an arbitrarily large allocation.
	maxBundleSectionSize = 16 << 20
)

func encodeBinaryBundle(b *Bundle, w io.Writer) error {
	buf := &bytes.Buffer{}

	// Header: magic(2) + format_version(2)
	binary.Write(buf, binary.LittleEndian, uint16(bundleMagic))
	binary.Write(buf, binary.LittleEndian, uint16(bundleBinaryVersion))

	var encodeErr error
	writeBundleSection(buf, 0x01, func(sec *bytes.Buffer) { encodeBundleHeader(sec, b) })
	writeBundleSection(buf, 0x02, func(sec *bytes.Buffer) {
		rules, err := json.Marshal(b.Rules)
		if err != nil {
			encodeErr = err
			return
		}
		sec.Write(rules)
	})
	if encodeErr != nil {
		return encodeErr
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func decodeBinaryBundle(r io.Reader) (*Bundle, error) {
	b := &Bundle{}

	var magic, ver uint16
	binary.Read(r, binary.LittleEndian, &magic)
	if err := binary.Read(r, binary.LittleEndian, &ver); err != nil {
		return nil, fmt.Errorf("truncated header")
	}
	if magic != bundleMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != bundleBinaryVersion {
		return nil, fmt.Errorf("unsupported format version: %d", ver)
	}

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("truncated section %#x", tag)
		}
		if size > maxBundleSectionSize {
			return nil, fmt.Errorf("section %#x size %d exceeds limit", tag, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("truncated section %#x", tag)
		}

		switch tag {
		case 0x01:
			if err := decodeBundleHeader(data, b); err != nil {
				return nil, err
			}
		case 0x02:
			if err := json.Unmarshal(data, &b.Rules); err != nil {
				return nil, fmt.Errorf("decode rules: %w", err)
			}
		}
	}

	return b, nil
}

func writeBundleSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeBundleString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readBundleString(r *bytes.Reader) (string, error) {
	var l uint16
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return "", fmt.Errorf("truncated string length")
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("truncated string")
	}
	return string(b), nil
}

func encodeBundleHeader(buf *bytes.Buffer, b *Bundle) {
	writeBundleString(buf, b.Version)
	writeBundleString(buf, b.SignerID)
	writeBundleString(buf, b.KeyVersion)
	writeBundleString(buf, b.Algorithm)
	binary.Write(buf, binary.LittleEndian, uint16(len(b.Signature)))
	buf.Write(b.Signature)
	var expires int64
	if !b.ExpiresAt.IsZero() {
		expires = b.ExpiresAt.UnixNano()
	}
	binary.Write(buf, binary.LittleEndian, expires)
}

func decodeBundleHeader(data []byte, b *Bundle) error {
	r := bytes.NewReader(data)
	var err error
	if b.Version, err = readBundleString(r); err != nil {
		return fmt.Errorf("header version: %w", err)
	}
	if b.SignerID, err = readBundleString(r); err != nil {
		return fmt.Errorf("header signer: %w", err)
	}
	if b.KeyVersion, err = readBundleString(r); err != nil {
		return fmt.Errorf("header key version: %w", err)
	}
	if b.Algorithm, err = readBundleString(r); err != nil {
		return fmt.Errorf("header algorithm: %w", err)
	}
	var sigLen uint16
	if err := binary.Read(r, binary.LittleEndian, &sigLen); err != nil {
		return fmt.Errorf("truncated signature length")
	}
	sig := make([]byte, sigLen)
	if _, err := io.ReadFull(r, sig); err != nil {
		return fmt.Errorf("truncated signature")
	}
	b.Signature = sig
	var expires int64
	if err := binary.Read(r, binary.LittleEndian, &expires); err != nil {
		return fmt.Errorf("truncated header")
	}
	if expires != 0 {
		b.ExpiresAt = time.Unix(0, expires).UTC()
	}
	return nil
}
