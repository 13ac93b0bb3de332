package replica

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec encodes the durable record: the map of durable keys written under
// the storage key. Every context sharing a store must use the same codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	// Format is the short name used in configuration files.
	Format() string
}

// JSONCodec stores the record as a JSON object. It is the default.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Format() string                     { return "json" }

// YAMLCodec stores the record as a YAML mapping, which is easier to edit by
// hand in a ConfigMap or a file.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAMLCodec) Format() string                     { return "yaml" }

// CodecFor returns the codec registered for format. The empty format
// selects JSONCodec.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("unknown record format %q", format)
}

var (
	_ Codec = JSONCodec{}
	_ Codec = YAMLCodec{}
)
