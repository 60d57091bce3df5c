// Package businesskey allocates human-readable instance identifiers of the
// form prefix + separator + padded sequence. Sequence allocation is delegated
// to a Sequencer so a durable backend can replace the in-memory counter
// without touching call sites.
package businesskey

import (
	"context"

	"github.com/nyakairu/prosa/model"
)

// Sequencer allocates monotonically increasing sequence values per key.
// Implementations must be safe for concurrent use.
type Sequencer interface {
	// Next returns the next sequence value for the given key, starting at 1.
	Next(ctx context.Context, key string) (int64, error)
}

// Generator produces business keys for new process instances. Uniqueness per
// prefix is the generator's responsibility and is not validated downstream.
type Generator struct {
	seq Sequencer
}

// NewGenerator creates a Generator backed by the given sequencer.
func NewGenerator(seq Sequencer) *Generator {
	return &Generator{seq: seq}
}

// Generate allocates the next sequence for the prefix and returns the
// resulting business key. The prefix must be non-empty.
func (g *Generator) Generate(ctx context.Context, prefix, separator string) (model.BusinessKey, error) {
	if prefix == "" {
		return model.BusinessKey{}, model.NewValidationMessageError("business key prefix is required")
	}

	seq, err := g.seq.Next(ctx, prefix)
	if err != nil {
		return model.BusinessKey{}, model.NewRuntimeFailureError("allocate business key sequence", err)
	}

	return model.BusinessKey{
		Prefix:    prefix,
		Separator: separator,
		Sequence:  seq,
	}, nil
}
