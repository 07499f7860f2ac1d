package classifier

import (
	"context"
	"errors"

	"github.com/privacyshield-ai/privacyshield/internal/entity"
)

// ErrUnavailable reports that the classification collaborator could not serve
// the request. Callers degrade to pattern-only scanning instead of failing.
var ErrUnavailable = errors.New("classification collaborator unavailable")

// Classifier is the boundary contract for the token-classification
// collaborator. Classify must honor the context deadline; Healthy doubles as
// the liveness probe for the reachability monitor.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]entity.Token, error)
	Healthy(ctx context.Context) (bool, error)
}
