package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapcloak/pkg/il"
)

// Magic starts every image.
const Magic = "LCIM"

// FormatVersion is the current image format version.
const FormatVersion byte = 1

// Extension is the conventional file extension of an image.
const Extension = ".lcim"

// ErrNotImage is returned for input that does not start with Magic.
var ErrNotImage = errors.New("not a module image")

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codec returns the shared zstd encoder and decoder. EncodeAll and DecodeAll
// are safe for concurrent use.
func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, codecErr
}

// Marshal renders mod as its YAML document.
func Marshal(mod *il.Module) ([]byte, error) {
	doc, err := toDoc(mod)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode module %s: %w", mod.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a YAML module document.
func Unmarshal(data []byte) (*il.Module, error) {
	var doc moduleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode module document: %w", err)
	}
	return fromDoc(&doc)
}

// Write encodes mod to w.
func Write(w io.Writer, mod *il.Module) error {
	data, err := Encode(mod)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Encode returns the image bytes of mod. Output is deterministic for a given
// module.
func Encode(mod *il.Module) ([]byte, error) {
	doc, err := Marshal(mod)
	if err != nil {
		return nil, err
	}
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(doc)/3+len(Magic)+1)
	out = append(out, Magic...)
	out = append(out, FormatVersion)
	return enc.EncodeAll(doc, out), nil
}

// Read decodes an image from r.
func Read(r io.Reader) (*il.Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses image bytes.
func Decode(data []byte) (*il.Module, error) {
	if len(data) < len(Magic)+1 || string(data[:len(Magic)]) != Magic {
		return nil, ErrNotImage
	}
	if v := data[len(Magic)]; v != FormatVersion {
		return nil, fmt.Errorf("unsupported image format version %d", v)
	}
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	doc, err := dec.DecodeAll(data[len(Magic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress image: %w", err)
	}
	return Unmarshal(doc)
}

// ReadFile loads the image at path and records path on the module.
func ReadFile(path string) (*il.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mod, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	mod.Path = path
	return mod, nil
}

// WriteFile writes mod to path atomically: the image is written to a
// temporary file in the same directory and renamed into place.
func WriteFile(path string, mod *il.Module) error {
	data, err := Encode(mod)
	if err != nil {
		return err
	}
	return WriteData(path, data)
}

// WriteData writes an already encoded image to path atomically.
func WriteData(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // the write error is reported
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
