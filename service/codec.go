package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned when a stored record names a variant this build does not know.
	ErrUnknownKind = errors.New("unknown service kind")
	errNilService  = errors.New("nil service")
)

type decoder func(data []byte) (Service, error)

var decoders = map[Kind]decoder{
	KindRegex: func(data []byte) (Service, error) {
		var s RegexService
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return &s, nil
	},
	KindAnt: func(data []byte) (Service, error) {
		var s AntPatternService
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return &s, nil
	},
}

// Marshal encodes s as a JSON object whose "kind" field names the variant.
func Marshal(s Service) ([]byte, error) {
	switch v := s.(type) {
	case *RegexService:
		if v == nil {
			return nil, errNilService
		}
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*RegexService
		}{KindRegex, v})
	case *AntPatternService:
		if v == nil {
			return nil, errNilService
		}
		return json.Marshal(struct {
			Kind Kind `json:"kind"`
			*AntPatternService
		}{KindAnt, v})
	case nil:
		return nil, errNilService
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, s)
	}
}

// Unmarshal decodes a value written by Marshal into the variant named by its kind.
func Unmarshal(data []byte) (Service, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	decode, ok := decoders[head.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Kind)
	}
	return decode(data)
}

// Clone returns a deep copy of s.
func Clone(s Service) (Service, error) {
	data, err := Marshal(s)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
