// Package jsoncodec centralises JSON encoding so every component (wire framer,
// broker payloads, HTTP bodies) shares one codec configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Valid reports whether data is well-formed JSON. The binary framer uses it to
// reject frames whose payload is not valid UTF-8 JSON.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
