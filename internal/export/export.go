// Package export writes run results as JSON, YAML or protobuf JSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON      Format = "json"
	FormatYAML      Format = "yaml"
	FormatProtoJSON Format = "protojson"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatYAML, FormatProtoJSON}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatProtoJSON:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json, yaml or protojson)", s)
	}
}

// Write encodes v to w in format f.
func Write(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatProtoJSON:
		pv, err := ToValue(v)
		if err != nil {
			return err
		}
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(pv)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// ToValue converts v into a structpb.Value through its JSON form, so json
// tags decide field names.
func ToValue(v any) (*structpb.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	return pv, nil
}
