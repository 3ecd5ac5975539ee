// Package codec encodes cache entries as JSON, optionally zstd compressed.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/ortelius/pdvd-depscan/model"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Marshal encodes v as JSON and, when compress is set, zstd compresses the result.
func Marshal(v any, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	je := json.NewEncoder(&buf)
	je.SetEscapeHTML(false)
	if err := je.Encode(v); err != nil {
		return nil, errors.Wrap(err, "json encode")
	}

	if compress {
		return encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
	}
	return buf.Bytes(), nil
}

// Unmarshal reverses Marshal. Any failure is reported as model.ErrCacheCorruption.
func Unmarshal(data []byte, compress bool, v any) error {
	if compress {
		raw, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return errors.Wrapf(model.ErrCacheCorruption, "zstd decode: %v", err)
		}
		data = raw
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(model.ErrCacheCorruption, "json unmarshal: %v", err)
	}
	return nil
}
