package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// If you need the most portable, lowest-dependency option, use JSON.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly encoded images.
//
// NOTE: Existing images are self-describing and are always decoded with
// the codec named in their header.
var Default Codec = GoJSON{}
