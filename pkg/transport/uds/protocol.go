package uds

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/modoterra/pulsebar/pkg/core"
)

// Replies written back to the client, one per received message.
const (
	ReplyAck     = "ack\n"
	ReplyInvalid = "err: invalid format\n"
)

var (
	// ErrEmpty is returned when a message holds no tokens.
	ErrEmpty = errors.New("empty message")
	// ErrOddTokenCount is returned when a label has no value to pair with.
	ErrOddTokenCount = errors.New("odd number of tokens")
)

// InvalidNumberError reports a value token that is not a non-negative integer.
type InvalidNumberError struct {
	Token string
	Err   error
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("invalid number %q", e.Token)
}

func (e *InvalidNumberError) Unwrap() error { return e.Err }

// Decode parses one received buffer into a sample.
//
// The buffer is read as text with invalid UTF-8 replaced, then split on
// whitespace into alternating label/value tokens. No trailing newline is
// required.
func Decode(b []byte) (core.Sample, error) {
	tokens := strings.Fields(Text(b))
	if len(tokens) == 0 {
		return nil, ErrEmpty
	}
	if len(tokens)%2 != 0 {
		return nil, ErrOddTokenCount
	}

	sample := make(core.Sample, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		v, err := parseValue(tokens[i+1])
		if err != nil {
			return nil, &InvalidNumberError{Token: tokens[i+1], Err: err}
		}
		sample = append(sample, core.Point{Label: tokens[i], Value: v})
	}
	return sample, nil
}

// parseValue reads a base-10 uint64. A single leading '+' is allowed.
func parseValue(tok string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(tok, "+"), 10, 64)
}

// Text converts raw bytes to a string that is safe to display: invalid UTF-8
// sequences and control characters other than whitespace become U+FFFD, and
// whitespace controls become spaces.
func Text(b []byte) string {
	return core.Printable(strings.ToValidUTF8(string(b), "\uFFFD"))
}

// Reply returns the bytes to send back for a decode result.
func Reply(err error) []byte {
	if err != nil {
		return []byte(ReplyInvalid)
	}
	return []byte(ReplyAck)
}

// Encode builds the client-side wire form of a message.
func Encode(tokens []string) []byte {
	return []byte(strings.Join(tokens, " ") + "\n")
}

// EncodeSample builds the wire form of a sample.
func EncodeSample(s core.Sample) []byte {
	tokens := make([]string, 0, len(s)*2)
	for _, p := range s {
		tokens = append(tokens, p.Label, strconv.FormatUint(p.Value, 10))
	}
	return Encode(tokens)
}
