package service

import (
	"strconv"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// entitiesAs narrows a cached entity sequence back to its concrete kind.
// Cache list keys are kind-homogeneous, so the assertion cannot fail for
// records the facade stored itself.
func entitiesAs[T domain.Entity](ents []domain.Entity) []T {
	out := make([]T, 0, len(ents))
	for _, e := range ents {
		if rec, ok := e.(T); ok {
			out = append(out, rec)
		}
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
