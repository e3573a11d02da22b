// Package snapshot decodes the compressed alert_log details written when an
// alert rule fires.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"alertdetail/internal/model"
)

// MaxDecodedSize bounds the inflated document.
const MaxDecodedSize = 32 << 20

var (
	ErrDecompression   = errors.New("snapshot decompression failed")
	ErrDeserialization = errors.New("snapshot deserialization failed")
)

type Kind int

const (
	KindDecompression Kind = iota + 1
	KindDeserialization
)

func (k Kind) String() string {
	switch k {
	case KindDecompression:
		return "decompression"
	case KindDeserialization:
		return "deserialization"
	}
	return "unknown"
}

type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode snapshot: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrDecompression:
		return e.Kind == KindDecompression
	case ErrDeserialization:
		return e.Kind == KindDeserialization
	}
	return false
}

func decompressionError(err error) error {
	return &DecodeError{Kind: KindDecompression, Err: err}
}

func deserializationError(err error) error {
	return &DecodeError{Kind: KindDeserialization, Err: err}
}

// Decode inflates blob and parses the {"rule":[...]} document it carries.
func Decode(blob []byte) (model.Snapshot, error) {
	raw, err := inflate(blob)
	if err != nil {
		return model.Snapshot{}, decompressionError(err)
	}
	return parse(raw)
}

func inflate(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty blob")
	}
	var (
		rc  io.ReadCloser
		err error
	)
	if len(blob) >= 2 && blob[0] == 0x1f && blob[1] == 0x8b {
		rc, err = gzip.NewReader(bytes.NewReader(blob))
	} else {
		rc, err = zlib.NewReader(bytes.NewReader(blob))
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDecodedSize {
		return nil, fmt.Errorf("inflated snapshot exceeds %d bytes", MaxDecodedSize)
	}
	return data, nil
}

func parse(raw []byte) (model.Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Snapshot{}, deserializationError(err)
	}
	ruleRaw, ok := doc["rule"]
	if !ok {
		return model.Snapshot{}, deserializationError(errors.New(`missing "rule" key`))
	}
	rule, order, err := parseRule(ruleRaw)
	if err != nil {
		return model.Snapshot{}, deserializationError(err)
	}
	return model.Snapshot{Rule: rule, Order: order}, nil
}

// parseRule walks the "rule" array token by token so each occurrence keeps
// its fields in document order. A repeated key keeps its first position and
// its last value.
func parseRule(raw json.RawMessage) ([]model.Occurrence, [][]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if !expectDelim(dec, '[') {
		return nil, nil, errors.New(`"rule" is not an array`)
	}
	rule := make([]model.Occurrence, 0)
	order := make([][]string, 0)
	for i := 0; dec.More(); i++ {
		if !expectDelim(dec, '{') {
			return nil, nil, fmt.Errorf(`"rule"[%d] is not an object`, i)
		}
		rec := model.Occurrence{}
		var keys []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, nil, fmt.Errorf(`"rule"[%d]: %w`, i, err)
			}
			key, ok := tok.(string)
			if !ok {
				return nil, nil, fmt.Errorf(`"rule"[%d]: unexpected token %v`, i, tok)
			}
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, nil, fmt.Errorf(`"rule"[%d].%s: %w`, i, key, err)
			}
			if !rec.Has(key) {
				keys = append(keys, key)
			}
			rec[key] = v
		}
		if !expectDelim(dec, '}') {
			return nil, nil, fmt.Errorf(`"rule"[%d]: unterminated object`, i)
		}
		rule = append(rule, rec)
		order = append(order, keys)
	}
	if !expectDelim(dec, ']') {
		return nil, nil, errors.New(`"rule": unterminated array`)
	}
	return rule, order, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) bool {
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	d, ok := tok.(json.Delim)
	return ok && d == want
}

// Encode writes snap in the format Decode reads.
func Encode(snap model.Snapshot) ([]byte, error) {
	if snap.Rule == nil {
		snap.Rule = []model.Occurrence{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSON compresses an already serialized details document as-is.
func EncodeJSON(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
