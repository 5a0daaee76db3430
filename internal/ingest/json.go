package ingest

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// DecodeJSON decodes a single JSON document, rejecting unknown fields.
func DecodeJSON[T any](r io.Reader) (*T, error) {
	var obj T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// DecodeJSONFile opens path and decodes it with DecodeJSON.
func DecodeJSONFile[T any](path string) (*T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "json: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return DecodeJSON[T](f)
}
