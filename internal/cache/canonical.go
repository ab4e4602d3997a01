package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// GenerateQueryID builds "<name>::<canonical params>". Structurally equal
// params always produce the same id regardless of key order.
func GenerateQueryID(name string, params body.Params) string {
	var p any = map[string]any(params)
	if params == nil {
		p = map[string]any{}
	}
	data, err := MarshalCanonical(p)
	if err != nil {
		// Unencodable values still get a stable, if coarse, key.
		data = []byte(fmt.Sprintf("%v", params))
	}
	return name + "::" + string(data)
}

// MarshalCanonical encodes v as JSON with sorted object keys, NFC-normalised
// strings, no HTML escaping and integral floats printed without a fraction.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case time.Time:
		return writeString(buf, val.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		return writeObject(buf, val)
	case body.Params:
		return writeObject(buf, val)
	case []any:
		return writeArray(buf, len(val), func(i int) any { return val[i] })
	case []string:
		return writeArray(buf, len(val), func(i int) any { return val[i] })
	case body.Sort:
		return writeArray(buf, len(val), func(i int) any {
			return map[string]any{val[i].Field: val[i].Order}
		})
	default:
		if f, ok := body.ToFloat(v); ok {
			return writeNumber(buf, f)
		}
		return writeFallback(buf, v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func writeNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func writeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, m[k]); err != nil {
			return fmt.Errorf("%q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, at(i)); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeFallback round-trips values of other types through encoding/json.
func writeFallback(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unsupported type %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return writeCanonical(buf, generic)
}
