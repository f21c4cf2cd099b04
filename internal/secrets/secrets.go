// Package secrets defines the boundary to the external secret store named
// in spec §1 Non-goals: bridge-sync never owns credential storage, it only
// resolves a secret_ref to a plaintext value at the moment a connection is
// opened, and never logs or persists the result. EnvResolver is the one
// concrete implementation bridge-sync ships — enough to run the ambient
// stack's own tests and a minimal deployment — grounded on the teacher's
// config.go loose-env-var convention (now adapted into internal/config).
package secrets

import (
	"context"
	"fmt"
	"os"

	"github.com/nucleus/bridge-sync/internal/model"
)

// Resolver turns a mapping's secret_ref into a plaintext credential. A real
// deployment wires in a vault- or KMS-backed implementation; bridge-sync
// ships only the interface plus an environment-variable fallback.
type Resolver interface {
	Resolve(ctx context.Context, secretRef string) (string, error)
}

// EnvResolver resolves secret_ref as the name of an environment variable.
// It exists for local/dev use; production deployments are expected to
// supply their own Resolver.
type EnvResolver struct{}

func (EnvResolver) Resolve(_ context.Context, secretRef string) (string, error) {
	v, ok := os.LookupEnv(secretRef)
	if !ok {
		return "", model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("secret_ref %q is not set in the environment", secretRef))
	}
	return v, nil
}
