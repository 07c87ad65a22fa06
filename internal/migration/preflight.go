package migration

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// verifyParallelism bounds the concurrent read-only lookups of VerifyRoots.
const verifyParallelism = 3

// Roots are the environments a move works with. Target is nil when it does
// not exist yet.
type Roots struct {
	Source models.Resource
	Parent models.Resource
	Target models.Resource
}

// VerifyRoots looks up the source, new parent and target environments
// concurrently. Source and parent must exist exactly once; a missing target is
// not an error.
func VerifyRoots(ctx context.Context, client *platform.Client, source, parent, target string) (*Roots, error) {
	var roots Roots
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyParallelism)

	g.Go(func() error {
		r, err := client.FindEnvironment(gctx, source)
		if err != nil {
			return fmt.Errorf("source environment: %w", err)
		}
		roots.Source = r
		return nil
	})
	g.Go(func() error {
		r, err := client.FindEnvironment(gctx, parent)
		if err != nil {
			return fmt.Errorf("parent environment: %w", err)
		}
		roots.Parent = r
		return nil
	})
	g.Go(func() error {
		r, err := client.FindEnvironment(gctx, target)
		var nf *platform.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("target environment: %w", err)
		}
		roots.Target = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &roots, nil
}
