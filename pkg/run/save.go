package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	lz4Extension  = ".json.lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// Codec defines how a snapshot is serialized and deserialized.
type Codec interface {
	// Encode writes the snapshot to the writer.
	Encode(w io.Writer, snap *Snapshot) error
	// Decode reads the snapshot from the reader.
	Decode(r io.Reader, snap *Snapshot) error
	// Extension returns the file extension for this codec.
	Extension() string
}

// JSONCodec implements Codec using JSON with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means
	// compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode.
func (c *JSONCodec) Encode(w io.Writer, snap *Snapshot) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(snap)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode.
func (c *JSONCodec) Decode(r io.Reader, snap *Snapshot) error {
	err := json.NewDecoder(r).Decode(snap)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// LZ4Codec implements Codec as lz4-compressed JSON, for archiving
// large runs.
type LZ4Codec struct{}

// NewLZ4Codec creates an lz4-compressed JSON codec.
func NewLZ4Codec() *LZ4Codec {
	return &LZ4Codec{}
}

// Encode implements Codec.Encode.
func (c *LZ4Codec) Encode(w io.Writer, snap *Snapshot) error {
	zw := lz4.NewWriter(w)

	encErr := json.NewEncoder(zw).Encode(snap)
	if encErr != nil {
		return fmt.Errorf("lz4 json encode: %w", encErr)
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("lz4 close: %w", closeErr)
	}

	return nil
}

// Decode implements Codec.Decode.
func (c *LZ4Codec) Decode(r io.Reader, snap *Snapshot) error {
	err := json.NewDecoder(lz4.NewReader(r)).Decode(snap)
	if err != nil {
		return fmt.Errorf("lz4 json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension.
func (c *LZ4Codec) Extension() string {
	return lz4Extension
}

// Save writes the snapshot to dir as {runName}{ext} using the codec.
func Save(dir string, snap Snapshot, codec Codec) (string, error) {
	mkdirErr := os.MkdirAll(dir, 0o755)
	if mkdirErr != nil {
		return "", fmt.Errorf("create results dir: %w", mkdirErr)
	}

	path := filepath.Join(dir, snap.RunName+codec.Extension())

	file, createErr := os.Create(path)
	if createErr != nil {
		return "", fmt.Errorf("create results file: %w", createErr)
	}
	defer file.Close()

	encErr := codec.Encode(file, &snap)
	if encErr != nil {
		return "", fmt.Errorf("encode results: %w", encErr)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot back from disk using the codec.
func LoadSnapshot(path string, codec Codec) (Snapshot, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return Snapshot{}, fmt.Errorf("open results file: %w", openErr)
	}
	defer file.Close()

	var snap Snapshot

	decErr := codec.Decode(file, &snap)
	if decErr != nil {
		return Snapshot{}, fmt.Errorf("decode results: %w", decErr)
	}

	return snap, nil
}
