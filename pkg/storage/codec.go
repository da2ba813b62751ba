package storage

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Codec translates values to and from the string form kept in a Store.
// Codecs are stateless and must round-trip: Decode(Encode(v)) == v.
// They return errors instead of panicking, including for "".
type Codec[T any] interface {
	Encode(value T) (string, error)
	Decode(raw string) (T, error)
}

// StringCodec renders values in their canonical text form.
//
// It supports strings, booleans, every integer and float width (including
// named types such as `type Volume int`) and any type whose pointer
// implements encoding.TextUnmarshaler and whose value implements
// encoding.TextMarshaler. Decoding "" yields "" for strings and a parse
// error for everything else.
type StringCodec[T any] struct{}

// Encode implements Codec.
func (StringCodec[T]) Encode(value T) (string, error) {
	if m, ok := any(value).(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		if err != nil {
			return "", &CodecError{Op: "encode", Err: err}
		}
		return string(b), nil
	}

	rv := reflect.ValueOf(&value).Elem()
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits()), nil
	}
	return "", &CodecError{Op: "encode", Err: fmt.Errorf("type %T has no text form", value)}
}

// Decode implements Codec.
func (StringCodec[T]) Decode(raw string) (T, error) {
	var value T
	if u, ok := any(&value).(encoding.TextUnmarshaler); ok {
		if err := u.UnmarshalText([]byte(raw)); err != nil {
			var zero T
			return zero, &CodecError{Op: "decode", Err: err}
		}
		return value, nil
	}

	rv := reflect.ValueOf(&value).Elem()
	var err error
	switch rv.Kind() {
	case reflect.String:
		rv.SetString(raw)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(raw); err == nil {
			rv.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if n, err = strconv.ParseInt(raw, 10, rv.Type().Bits()); err == nil {
			rv.SetInt(n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var n uint64
		if n, err = strconv.ParseUint(raw, 10, rv.Type().Bits()); err == nil {
			rv.SetUint(n)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(raw, rv.Type().Bits()); err == nil {
			rv.SetFloat(f)
		}
	default:
		err = fmt.Errorf("type %T has no text form", value)
	}
	if err != nil {
		var zero T
		return zero, &CodecError{Op: "decode", Err: err}
	}
	return value, nil
}

// JSONCodec stores values as JSON documents. Decoding "" is an error.
type JSONCodec[T any] struct{}

// Encode implements Codec.
func (JSONCodec[T]) Encode(value T) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", &CodecError{Op: "encode", Err: err}
	}
	return string(b), nil
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(raw string) (T, error) {
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		var zero T
		return zero, &CodecError{Op: "decode", Err: err}
	}
	return value, nil
}

// TOMLCodec stores structs and maps as TOML documents. Decoding "" yields
// the zero value.
type TOMLCodec[T any] struct{}

// Encode implements Codec.
func (TOMLCodec[T]) Encode(value T) (string, error) {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if k := rv.Kind(); k != reflect.Struct && k != reflect.Map {
		return "", &CodecError{Op: "encode", Err: fmt.Errorf("toml: top-level value must be a struct or map, got %T", value)}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(value); err != nil {
		return "", &CodecError{Op: "encode", Err: err}
	}
	return buf.String(), nil
}

// Decode implements Codec.
func (TOMLCodec[T]) Decode(raw string) (T, error) {
	var value T
	if _, err := toml.Decode(raw, &value); err != nil {
		var zero T
		return zero, &CodecError{Op: "decode", Err: err}
	}
	return value, nil
}

// YAMLCodec stores values as YAML documents. Decoding "" yields the zero
// value.
type YAMLCodec[T any] struct{}

// Encode implements Codec.
func (YAMLCodec[T]) Encode(value T) (string, error) {
	b, err := yaml.Marshal(value)
	if err != nil {
		return "", &CodecError{Op: "encode", Err: err}
	}
	return string(b), nil
}

// Decode implements Codec.
func (YAMLCodec[T]) Decode(raw string) (T, error) {
	var value T
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		var zero T
		return zero, &CodecError{Op: "decode", Err: err}
	}
	return value, nil
}

// CodecFunc builds a Codec from a pair of functions. Errors that are not
// already CodecErrors are wrapped.
type CodecFunc[T any] struct {
	EncodeFunc func(T) (string, error)
	DecodeFunc func(string) (T, error)
}

// Encode implements Codec.
func (c CodecFunc[T]) Encode(value T) (string, error) {
	raw, err := c.EncodeFunc(value)
	return raw, asCodecError("encode", err)
}

// Decode implements Codec.
func (c CodecFunc[T]) Decode(raw string) (T, error) {
	value, err := c.DecodeFunc(raw)
	return value, asCodecError("decode", err)
}
