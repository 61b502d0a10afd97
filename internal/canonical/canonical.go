// Package canonical implements the serialization and hashing rules
// behind every content-addressed identifier in memcore. The rules are
// deliberately small: mappings are emitted in key-sorted order,
// sequences in declared order, numbers as their JSON literal, and the
// result is hashed with SHA-256. Two processes following these rules
// produce bit-identical ids for the same value.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Marshal serializes v into canonical JSON bytes. v may be any value
// that encoding/json accepts; struct tags apply as usual. Map keys are
// sorted, HTML escaping is disabled, and number literals are preserved
// through the normalization round trip.
func Marshal(v interface{}) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashHex returns the lower-case hex SHA-256 of the canonical
// serialization of v.
func HashHex(v interface{}) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentID returns a 128-bit content identifier: the first 16 bytes of
// the canonical SHA-256, as 32 lower-case hex characters. Used for atom
// and snapshot ids.
func ContentID(v interface{}) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// HashBytes returns the lower-case hex SHA-256 of raw bytes. Used for
// prompt and output hashes, where the bytes themselves are the content.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText hashes a UTF-8 string's bytes.
func HashText(text string) string {
	return HashBytes([]byte(text))
}

// HashStream hashes a large blob without buffering it in memory.
func HashStream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalize round-trips v through encoding/json so that structs, maps,
// and slices all collapse to the same generic shape before canonical
// encoding. UseNumber keeps numeric literals intact.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var norm interface{}
	if err := dec.Decode(&norm); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return norm, nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return encodeString(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical encoding does not support %T", v)
	}
	return nil
}

// encodeString writes a JSON string without HTML escaping, so the
// canonical form of "a<b" is identical everywhere.
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode string: %w", err)
	}
	// Encode appends a newline; drop it.
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
