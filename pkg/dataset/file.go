package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidItems is returned when a dataset file fails schema
// validation.
var ErrInvalidItems = errors.New("dataset file failed validation")

// itemsSchema validates the JSON shape of a dataset file: a non-empty
// array of item objects, each with an input and optional id, expected
// output, and metadata.
const itemsSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["input"],
		"properties": {
			"id": {"type": "string"},
			"input": {},
			"expected_output": {},
			"metadata": {"type": "object"}
		},
		"additionalProperties": false
	}
}`

// File is a Source backed by a JSON or YAML file on disk.
type File struct {
	name string
	path string
}

// NewFile builds a file-backed source. The dataset name defaults to
// the file's base name without extension.
func NewFile(path string, name string) (*File, error) {
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if name == "" {
		return nil, ErrMissingName
	}

	return &File{name: name, path: path}, nil
}

// Name implements Source.
func (f *File) Name() string {
	return f.name
}

// Items implements Source: read, normalize to JSON, validate against
// the item schema, then decode.
func (f *File) Items() ([]Item, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", f.path, err)
	}

	jsonRaw, err := toJSON(f.path, raw)
	if err != nil {
		return nil, err
	}

	err = validateItems(jsonRaw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}

	var items []Item

	err = json.Unmarshal(jsonRaw, &items)
	if err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", f.path, err)
	}

	if len(items) == 0 {
		return nil, ErrEmptyDataset
	}

	return items, nil
}

// toJSON converts YAML dataset files to JSON so a single schema covers
// both formats.
func toJSON(path string, raw []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return raw, nil
	}

	var decoded any

	err := yaml.Unmarshal(raw, &decoded)
	if err != nil {
		return nil, fmt.Errorf("parse yaml dataset %s: %w", path, err)
	}

	jsonRaw, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("convert yaml dataset %s: %w", path, err)
	}

	return jsonRaw, nil
}

func validateItems(jsonRaw []byte) error {
	schema := gojsonschema.NewStringLoader(itemsSchema)
	document := gojsonschema.NewBytesLoader(jsonRaw)

	result, err := gojsonschema.Validate(schema, document)
	if err != nil {
		return fmt.Errorf("validate dataset: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidItems, strings.Join(details, "; "))
}
