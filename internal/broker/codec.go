package broker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodePayload reverses PayloadEncoding then interprets the resulting
// bytes per PayloadFormat, per §4.9: "decodes the payload per
// encoding+format." FormatText returns the decoded bytes as a string;
// FormatJSON/FormatYAML unmarshal into a generic any.
func DecodePayload(raw []byte, encoding PayloadEncoding, format PayloadFormat) (any, error) {
	decoded, err := decodeBytes(raw, encoding)
	if err != nil {
		return nil, fmt.Errorf("decode payload encoding %q: %w", encoding, err)
	}

	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(decoded, &v); err != nil {
			return nil, fmt.Errorf("decode payload format json: %w", err)
		}
		return v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(decoded, &v); err != nil {
			return nil, fmt.Errorf("decode payload format yaml: %w", err)
		}
		return v, nil
	case FormatText, "":
		return string(decoded), nil
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
}

func decodeBytes(raw []byte, encoding PayloadEncoding) ([]byte, error) {
	switch encoding {
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(raw)))
		n, err := base64.StdEncoding.Decode(out, raw)
		if err != nil {
			return nil, err
		}
		return out[:n], nil
	case EncodingNone, EncodingUTF8, "":
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}

// EncodePayload renders value per format then applies encoding, the
// inverse of DecodePayload, used by broker output (§4.10).
func EncodePayload(value any, encoding PayloadEncoding, format PayloadFormat) ([]byte, error) {
	var body []byte
	switch format {
	case FormatJSON:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode payload format json: %w", err)
		}
		body = b
	case FormatYAML:
		b, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode payload format yaml: %w", err)
		}
		body = b
	case FormatText, "":
		switch v := value.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		default:
			body = []byte(fmt.Sprint(v))
		}
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}

	switch encoding {
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
		base64.StdEncoding.Encode(out, body)
		return out, nil
	case EncodingNone, EncodingUTF8, "":
		return body, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}
