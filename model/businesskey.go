package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BusinessKey is a human-readable identifier assigned to a process instance,
// distinct from the instance's internal engine id. It renders as
// prefix + separator + zero-or-placeholder-padded sequence.
type BusinessKey struct {
	Prefix    string `json:"prefix"`
	Separator string `json:"separator"`
	Sequence  int64  `json:"sequence"`
}

// Render formats the key with the sequence right-aligned in a field of the
// given width, left-padded with the placeholder character. The sequence is
// never truncated: if its decimal representation exceeds width, an
// INVALID_ARGUMENT error is returned.
func (k BusinessKey) Render(placeholder rune, width int) (string, error) {
	if width < 1 {
		return "", NewInvalidArgumentError(fmt.Sprintf("business key width must be positive, got %d", width))
	}

	digits := strconv.FormatInt(k.Sequence, 10)
	if len(digits) > width {
		return "", NewInvalidArgumentError(fmt.Sprintf(
			"sequence %d does not fit in %d characters", k.Sequence, width,
		))
	}

	var b strings.Builder
	b.Grow(len(k.Prefix) + len(k.Separator) + width)
	b.WriteString(k.Prefix)
	b.WriteString(k.Separator)
	for i := len(digits); i < width; i++ {
		b.WriteRune(placeholder)
	}
	b.WriteString(digits)
	return b.String(), nil
}
