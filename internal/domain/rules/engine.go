package rules

import (
	"context"

	"github.com/Sentinel-Gate/appsec-gate/internal/domain/valuetree"
)

// Engine evaluates serialized exchange data against the loaded rules.
type Engine interface {
	// Evaluate runs the rules of phase against data, a map value produced by
	// the collection serializers.
	Evaluate(ctx context.Context, phase Phase, data *valuetree.Value) (Decision, error)
}
