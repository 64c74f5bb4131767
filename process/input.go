package process

import (
	"fmt"
	"io"
)

// inputSource is what feeds the child's stdin: a stream, a fixed byte
// payload, or nothing.
type inputSource struct {
	reader io.Reader
	bytes  []byte
}

func (in inputSource) isZero() bool {
	return in.reader == nil && in.bytes == nil
}

// validateInput normalizes a caller-supplied input value. Streams pass
// through unchanged, scalars are coerced to their string form, anything
// else is rejected.
func validateInput(caller string, input any) (inputSource, error) {
	switch v := input.(type) {
	case nil:
		return inputSource{}, nil
	case io.Reader:
		return inputSource{reader: v}, nil
	case []byte:
		return inputSource{bytes: append([]byte(nil), v...)}, nil
	case string:
		return inputSource{bytes: []byte(v)}, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return inputSource{bytes: []byte(fmt.Sprint(v))}, nil
	default:
		return inputSource{}, newInvalidArgumentError(
			"%s only accepts strings, byte slices, scalar values, or io.Reader streams.", caller)
	}
}
