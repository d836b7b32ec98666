package midi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyData   = errors.New("midi data: empty message")
	errInvalidData = errors.New("midi data: unsupported payload shape")
)

// hexSeparators strips the separators commonly found in hand-written hex
// strings before decoding.
var hexSeparators = strings.NewReplacer(" ", "", ",", "", ":", "", "-", "")

// DecodeData converts an outbound payload into raw MIDI bytes. Accepted
// shapes are a hexadecimal string (pairs of hex digits, separators
// optional), a byte slice, or a list of numeric byte values 0-255. Anything
// else is rejected.
func DecodeData(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		cleaned := hexSeparators.Replace(v)
		if cleaned == "" {
			return nil, errEmptyData
		}

		data, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("midi data: invalid hex string: %w", err)
		}

		return data, nil
	case []byte:
		if len(v) == 0 {
			return nil, errEmptyData
		}

		data := make([]byte, len(v))
		copy(data, v)

		return data, nil
	case []interface{}:
		if len(v) == 0 {
			return nil, errEmptyData
		}

		data := make([]byte, len(v))

		for i, elem := range v {
			b, err := byteValue(elem)
			if err != nil {
				return nil, err
			}

			data[i] = b
		}

		return data, nil
	default:
		return nil, fmt.Errorf("%w: %T", errInvalidData, payload)
	}
}

// byteValue accepts the numeric types a JSON decode can produce and
// enforces the 0-255 range.
func byteValue(elem interface{}) (byte, error) {
	var n float64

	switch e := elem.(type) {
	case float64:
		n = e
	case int:
		n = float64(e)
	default:
		return 0, fmt.Errorf("midi data: non-numeric byte value %v", elem)
	}

	if n != float64(int64(n)) || n < 0 || n > 255 {
		return 0, fmt.Errorf("midi data: byte value %v out of range", n)
	}

	return byte(n), nil
}
