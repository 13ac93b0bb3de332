package replica

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mitchellh/copystructure"
)

// normalize converts v to its JSON data model (map[string]any, []any,
// float64, string, bool, nil) so values compare equal regardless of
// whether they were set locally or decoded from the wire.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	return out, nil
}

func normalizeSnapshot(snapshot map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

var equateEmpty = cmpopts.EquateEmpty()

// equal reports value equality of two normalized values.
func equal(a, b any) bool {
	return cmp.Equal(a, b, equateEmpty)
}

// deepCopy returns a copy of a normalized value that shares no memory with it.
func deepCopy[T any](v T) T {
	if any(v) == nil {
		return v
	}
	c, err := copystructure.Copy(v)
	if err != nil {
		// Normalized values only hold JSON types, which always copy.
		panic(fmt.Sprintf("replica: copy normalized value: %v", err))
	}
	if c == nil {
		var zero T
		return zero
	}
	return c.(T)
}

// decodeInto decodes a normalized value into a typed destination using
// json struct tags.
func decodeInto(src, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(src); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
