// Package populate seeds an organization with nested test projects,
// environments and parameters so the tree operations have something to act on.
package populate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// Name prefixes of generated resources. delete-tree --match with one of
// them removes everything a populate run created.
const (
	ProjectPrefix     = "proj-testing_"
	EnvironmentPrefix = "env-testing_"
	ParameterPrefix   = "param-testing_"
)

// MaxResources bounds how many resources one run may create.
const MaxResources = 500

// Options describes what to create.
type Options struct {
	Projects     bool
	Environments bool

	ProjectCount     int
	EnvironmentCount int
	// ParameterCount parameters are created in every new project.
	ParameterCount int
	// Levels nests that many extra generations below the first one; every
	// node of a generation gets the same number of children.
	Levels int

	// ProjectRoot parents the first generation of projects. Empty makes them top level.
	ProjectRoot string
	// EnvironmentRoot parents the first generation of environments. Empty means "default".
	EnvironmentRoot string

	DryRun bool
}

// Validate checks the options before anything is read.
func (o Options) Validate() error {
	switch {
	case !o.Projects && !o.Environments:
		return errors.New("select at least one of projects or environments")
	case o.ProjectCount < 0 || o.EnvironmentCount < 0 || o.ParameterCount < 0 || o.Levels < 0:
		return errors.New("counts and levels must not be negative")
	case o.ParameterCount > 0 && !o.Projects:
		return errors.New("parameters are created in new projects; select projects too")
	}
	if n := o.Planned(); n > MaxResources {
		return fmt.Errorf("run would create %d resources, more than the limit of %d", n, MaxResources)
	}
	return nil
}

// Planned returns how many resources the options create.
func (o Options) Planned() int {
	total := 0
	if o.Projects {
		p := treeSize(o.ProjectCount, o.Levels)
		total += p + p*o.ParameterCount
	}
	if o.Environments {
		total += treeSize(o.EnvironmentCount, o.Levels)
	}
	return total
}

// treeSize is count + count^2 + ... + count^(levels+1), saturating above
// MaxResources.
func treeSize(count, levels int) int {
	total, gen := 0, 1
	for i := 0; i <= levels; i++ {
		gen *= count
		total += gen
		if gen == 0 || total > MaxResources {
			break
		}
	}
	return total
}

// Result lists what a run created.
type Result struct {
	Projects     []string `json:"projects,omitempty"`
	Environments []string `json:"environments,omitempty"`
	Parameters   []string `json:"parameters,omitempty"`
	Unconfirmed  []string `json:"unconfirmed,omitempty"`
	DryRun       bool     `json:"dry_run"`
}

// Populator creates test resources. Every mutation goes through the executor.
type Populator struct {
	client *platform.Client
	exec   *platform.Executor
	waiter *platform.Waiter
	logger *slog.Logger
}

// New creates a Populator.
func New(client *platform.Client, exec *platform.Executor, waiter *platform.Waiter, logger *slog.Logger) *Populator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Populator{client: client, exec: exec, waiter: waiter, logger: logger}
}

type created struct {
	name string
	id   string
	url  string
}

// Run creates the requested resources generation by generation. A node is
// confirmed present before it becomes a parent. The first failed create
// halts the run; cancelling ctx stops it after the create in flight.
func (p *Populator) Run(ctx context.Context, opts Options, log func(string)) (*Result, error) {
	if log == nil {
		log = func(string) {}
	}
	res := &Result{DryRun: opts.DryRun}
	if err := opts.Validate(); err != nil {
		return res, err
	}
	if !opts.DryRun {
		if _, err := p.client.CheckAccess(ctx); err != nil {
			return res, fmt.Errorf("checking access: %w", err)
		}
	}
	log(fmt.Sprintf("--- Populate plan: %d resources ---", opts.Planned()))

	if opts.Projects {
		log("")
		log("=== Creating projects ===")
		projects, err := p.tree(ctx, platform.Projects, ProjectPrefix, opts.ProjectRoot, opts.ProjectCount, opts.Levels, opts.DryRun, res, log)
		for _, c := range projects {
			res.Projects = append(res.Projects, c.name)
		}
		if err != nil {
			return res, err
		}
		if opts.ParameterCount > 0 {
			log("")
			log("=== Creating parameters ===")
			if err := p.parameters(ctx, projects, opts.ParameterCount, opts.DryRun, res, log); err != nil {
				return res, err
			}
		}
	}

	if opts.Environments {
		root := opts.EnvironmentRoot
		if root == "" {
			root = "default"
		}
		log("")
		log("=== Creating environments ===")
		envs, err := p.tree(ctx, platform.Environments, EnvironmentPrefix, root, opts.EnvironmentCount, opts.Levels, opts.DryRun, res, log)
		for _, c := range envs {
			res.Environments = append(res.Environments, c.name)
		}
		if err != nil {
			return res, err
		}
	}

	if opts.DryRun {
		log(fmt.Sprintf("Dry run: %d resources would be created", opts.Planned()))
	} else {
		log(fmt.Sprintf("Populate complete: %d projects, %d environments, %d parameters",
			len(res.Projects), len(res.Environments), len(res.Parameters)))
	}
	return res, nil
}

// tree creates count children under root, then count children under each of
// those, for levels extra generations.
func (p *Populator) tree(ctx context.Context, kind models.ResourceKind, prefix, root string, count, levels int, dryRun bool, res *Result, log func(string)) ([]created, error) {
	parents := []created{{}}
	if root != "" {
		r, err := p.client.FindByName(ctx, kind.Name, kind.APIPath, root)
		if err != nil {
			return nil, fmt.Errorf("resolving %s root: %w", kind.Name, err)
		}
		parents[0] = created{name: r.Name(), id: r.ID(), url: p.client.ResourceURL(kind, r)}
	}

	var all []created
	for level := 0; level <= levels; level++ {
		var next []created
		for _, parent := range parents {
			for i := 0; i < count; i++ {
				if err := ctx.Err(); err != nil {
					log(fmt.Sprintf("Interrupted: %d %s created", len(all), kind.Name))
					return all, err
				}
				c, err := p.createNode(ctx, kind, prefix+shortID(), parent, dryRun, res, log)
				if err != nil {
					return all, err
				}
				all = append(all, c)
				next = append(next, c)
			}
		}
		parents = next
	}
	return all, nil
}

func (p *Populator) createNode(ctx context.Context, kind models.ResourceKind, name string, parent created, dryRun bool, res *Result, log func(string)) (created, error) {
	under := ""
	if parent.name != "" {
		under = " under " + parent.name
	}
	if dryRun {
		log(fmt.Sprintf("  would create %s%s", name, under))
		return created{name: name}, nil
	}

	payload := map[string]interface{}{"name": name}
	if parent.url != "" {
		payload[kind.ParentField] = parent.url
	}
	resp, err := p.exec.Execute(context.WithoutCancel(ctx), platform.Request{Method: http.MethodPost, Target: kind.APIPath, Payload: payload})
	if err != nil {
		log(fmt.Sprintf("  FAIL %s: %v", name, err))
		return created{}, fmt.Errorf("creating %s %s: %w", kind.Name, name, err)
	}
	var r models.Resource
	if err := json.Unmarshal(resp.Body, &r); err != nil || r.ID() == "" {
		return created{}, fmt.Errorf("creating %s %s: unexpected response %q", kind.Name, name, string(resp.Body))
	}
	c := created{name: name, id: r.ID(), url: p.client.ResourceURL(kind, r)}
	log(fmt.Sprintf("  CREATED %s (id=%s)%s", name, c.id, under))
	p.confirm(ctx, kind.DetailPath(c.id), name, res, log)
	return c, nil
}

func (p *Populator) parameters(ctx context.Context, projects []created, count int, dryRun bool, res *Result, log func(string)) error {
	for _, proj := range projects {
		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				log(fmt.Sprintf("Interrupted: %d parameters created", len(res.Parameters)))
				return err
			}
			name := ParameterPrefix + shortID()
			qualified := proj.name + "/" + name
			if dryRun {
				log(fmt.Sprintf("  would create %s", qualified))
				res.Parameters = append(res.Parameters, qualified)
				continue
			}
			resp, err := p.exec.Execute(context.WithoutCancel(ctx), platform.Request{
				Method:  http.MethodPost,
				Target:  platform.ParametersPath(proj.id),
				Payload: map[string]interface{}{"name": name},
			})
			if err != nil {
				log(fmt.Sprintf("  FAIL %s: %v", qualified, err))
				return fmt.Errorf("creating parameter %s: %w", qualified, err)
			}
			var r models.Resource
			if err := json.Unmarshal(resp.Body, &r); err != nil || r.ID() == "" {
				return fmt.Errorf("creating parameter %s: unexpected response %q", qualified, string(resp.Body))
			}
			res.Parameters = append(res.Parameters, qualified)
			log(fmt.Sprintf("  CREATED %s (id=%s)", qualified, r.ID()))
		}
	}
	return nil
}

// confirm waits for target to be readable. A timeout is recorded and the
// run continues.
func (p *Populator) confirm(ctx context.Context, target, name string, res *Result, log func(string)) {
	err := p.waiter.WaitForPresence(ctx, target)
	var te *platform.TimeoutError
	switch {
	case errors.As(err, &te):
		res.Unconfirmed = append(res.Unconfirmed, name)
		log(fmt.Sprintf("  WARNING %s: %v", name, err))
	case err != nil && ctx.Err() == nil:
		p.logger.Warn("presence check failed", "target", target, "error", err)
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
