package main

import (
	"encoding/json"
	"fmt"

	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/storage"
)

// valueCodec returns the codec named by the config, typed as any so the
// CLI can carry values it does not know the shape of.
func valueCodec(name string) storage.Codec[any] {
	switch name {
	case "json":
		return storage.JSONCodec[any]{}
	case "yaml":
		return storage.YAMLCodec[any]{}
	case "toml":
		inner := storage.TOMLCodec[map[string]any]{}
		return storage.CodecFunc[any]{
			EncodeFunc: func(v any) (string, error) {
				m, ok := v.(map[string]any)
				if !ok {
					return "", fmt.Errorf("toml needs a table, got %T", v)
				}
				return inner.Encode(m)
			},
			DecodeFunc: func(raw string) (any, error) {
				return inner.Decode(raw)
			},
		}
	default:
		return storage.CodecFunc[any]{
			EncodeFunc: func(v any) (string, error) {
				s, ok := v.(string)
				if !ok {
					return "", fmt.Errorf("string codec needs a string, got %T", v)
				}
				return s, nil
			},
			DecodeFunc: func(raw string) (any, error) { return raw, nil },
		}
	}
}

// render formats a stored value for output. Structured codecs are decoded
// first so a corrupt value is reported instead of printed.
func (a *app) render(raw string) (string, error) {
	if a.cfg.Codec == "string" && !a.jsonOutput {
		return raw, nil
	}

	value, err := valueCodec(a.cfg.Codec).Decode(raw)
	if err != nil {
		return "", errors.FromStorage(err).
			WithDetailf("The stored value is not valid %s", a.cfg.Codec).
			WithSuggestion("Read it with --codec string")
	}
	if !a.jsonOutput {
		return raw, nil
	}

	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", errors.New(errors.CodeEncode).Wrap(err)
	}
	return string(b), nil
}
