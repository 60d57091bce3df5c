package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/nyakairu/prosa/model"
)

// BatchResolver decorates listings with owner display names. Resolution runs
// in two phases: collect the distinct subject ids across the whole page, then
// fetch them in one batch and apply the names. One identity call per page,
// regardless of page size.
//
// Resolution is best effort. A failed batch leaves display names empty; the
// listing itself never fails on identity outages.
type BatchResolver struct {
	client Client
	log    *zap.Logger
}

// NewBatchResolver creates a resolver backed by the given identity client.
func NewBatchResolver(client Client, log *zap.Logger) *BatchResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchResolver{client: client, log: log}
}

// DecorateDefinitions fills OwnerName and BusinessOwnerName on every
// definition in place.
func (r *BatchResolver) DecorateDefinitions(ctx context.Context, defs []model.ProcessDefinition) {
	// Phase 1: collect distinct subject ids.
	seen := make(map[string]bool)
	var ids []string
	collect := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for i := range defs {
		collect(defs[i].OwnerID)
		collect(defs[i].BusinessOwnerID)
	}
	if len(ids) == 0 {
		return
	}

	// Phase 2: one batch fetch, then apply.
	actors, err := r.client.ResolveBatch(ctx, ids)
	if err != nil {
		r.log.Warn("identity batch resolution failed, owner names omitted",
			zap.Int("subjects", len(ids)),
			zap.Error(err),
		)
		return
	}

	for i := range defs {
		if actor, ok := actors[defs[i].OwnerID]; ok {
			defs[i].OwnerName = actor.DisplayName
		}
		if actor, ok := actors[defs[i].BusinessOwnerID]; ok {
			defs[i].BusinessOwnerName = actor.DisplayName
		}
	}
}
