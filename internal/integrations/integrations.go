// Package integrations removes third-party integrations (AWS, Azure Key Vault
// and GitHub) together with the pushes and pulls that hang off them.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/treeops/internal/platform"
)

// ExternalValues is the pull the service attaches to every integration. It
// goes away with its integration and is never deleted on its own.
const ExternalValues = "ExternalValues"

// Service is an integration provider and its collection below /integrations/.
type Service struct {
	Name string
	Path string
}

// Services lists every supported provider.
var Services = []Service{
	{Name: "aws", Path: "aws"},
	{Name: "azure", Path: "azure/key_vault"},
	{Name: "github", Path: "github"},
}

// ServiceByName looks up a provider.
func ServiceByName(name string) (Service, error) {
	for _, s := range Services {
		if s.Name == name {
			return s, nil
		}
	}
	names := make([]string, len(Services))
	for i, s := range Services {
		names[i] = s.Name
	}
	return Service{}, fmt.Errorf("unknown integration service %q (want one of %s)", name, strings.Join(names, ", "))
}

func (s Service) collection() string {
	return "/integrations/" + s.Path + "/"
}

// Options selects what Run removes.
type Options struct {
	// Service limits the run to one provider. Empty means all of them.
	Service string
	// Force allows deleting integrations that still have pushes or pulls.
	Force    bool
	DryRun   bool
	PageSize int
}

// Action is a push or pull owned by an integration.
type Action struct {
	Kind string `json:"kind"` // "pulls" or "pushes"
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Entry is one integration scheduled for removal.
type Entry struct {
	Service string   `json:"service"`
	Name    string   `json:"name"`
	ID      string   `json:"id"`
	Actions []Action `json:"actions,omitempty"`

	path string
}

func (e Entry) String() string {
	return e.Service + "/" + e.Name
}

// Result reports what a run planned and did.
type Result struct {
	Plan           []Entry  `json:"plan"`
	Deleted        []string `json:"deleted"`
	DeletedActions []string `json:"deleted_actions,omitempty"`
	Unconfirmed    []string `json:"unconfirmed,omitempty"`
	Failed         string   `json:"failed,omitempty"`
	DryRun         bool     `json:"dry_run"`
}

// Remover deletes integrations. Every mutation goes through the executor.
type Remover struct {
	client *platform.Client
	exec   *platform.Executor
	waiter *platform.Waiter
	logger *slog.Logger
}

// NewRemover creates a Remover.
func NewRemover(client *platform.Client, exec *platform.Executor, waiter *platform.Waiter, logger *slog.Logger) *Remover {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Remover{client: client, exec: exec, waiter: waiter, logger: logger}
}

// Plan lists the selected integrations with their pushes and pulls.
func (r *Remover) Plan(ctx context.Context, opts Options) ([]Entry, error) {
	services := Services
	if opts.Service != "" {
		s, err := ServiceByName(opts.Service)
		if err != nil {
			return nil, err
		}
		services = []Service{s}
	}

	var entries []Entry
	for _, svc := range services {
		list, err := r.client.GetAll(ctx, svc.collection(), nil, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("listing %s integrations: %w", svc.Name, err)
		}
		for _, in := range list {
			entries = append(entries, Entry{Service: svc.Name, Name: in.Name(), ID: in.ID(), path: svc.collection() + in.ID() + "/"})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range entries {
		e := &entries[i]
		g.Go(func() error {
			actions, err := r.actions(gctx, e.path, opts.PageSize)
			if err != nil {
				return fmt.Errorf("listing actions of %s: %w", e, err)
			}
			e.Actions = actions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].String() < entries[j].String() })
	return entries, nil
}

func (r *Remover) actions(ctx context.Context, integrationPath string, pageSize int) ([]Action, error) {
	var out []Action
	for _, kind := range []string{"pulls", "pushes"} {
		list, err := r.client.GetAll(ctx, integrationPath+kind+"/", nil, pageSize)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if kind == "pulls" && a.Name() == ExternalValues {
				continue
			}
			out = append(out, Action{Kind: kind, Name: a.Name(), ID: a.ID()})
		}
	}
	return out, nil
}

// Run removes the selected integrations. Without Force, any integration that
// still has pushes or pulls stops the run before the first mutation. With
// Force, actions are deleted first and their integration after them. A
// failure halts the run.
func (r *Remover) Run(ctx context.Context, opts Options, log func(string)) (*Result, error) {
	if log == nil {
		log = func(string) {}
	}
	res := &Result{DryRun: opts.DryRun}

	if !opts.DryRun {
		if _, err := r.client.CheckAccess(ctx); err != nil {
			return res, fmt.Errorf("checking access: %w", err)
		}
	}

	entries, err := r.Plan(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Plan = entries
	if len(entries) == 0 {
		log("No integrations found")
		return res, nil
	}

	log(fmt.Sprintf("--- Deletion plan: %d integrations ---", len(entries)))
	var busy []string
	for _, e := range entries {
		log(fmt.Sprintf("  %s (id=%s)", e, e.ID))
		for _, a := range e.Actions {
			log(fmt.Sprintf("    %s %s (id=%s)", strings.TrimSuffix(a.Kind, "s"), a.Name, a.ID))
		}
		if len(e.Actions) > 0 {
			busy = append(busy, e.String())
		}
	}
	if opts.DryRun {
		log(fmt.Sprintf("Dry run: %d integrations would be deleted", len(entries)))
		return res, nil
	}
	if len(busy) > 0 && !opts.Force {
		return res, fmt.Errorf("%d integration(s) still have pushes or pulls (%s); re-run with --force to delete them too",
			len(busy), strings.Join(busy, ", "))
	}

	for i, e := range entries {
		for _, a := range e.Actions {
			name := e.String() + "/" + a.Kind + "/" + a.Name
			if err := r.remove(ctx, e.path+a.Kind+"/"+a.ID+"/", name, res, log); err != nil {
				return res, err
			}
			res.DeletedActions = append(res.DeletedActions, name)
		}
		if err := r.remove(ctx, e.path, e.String(), res, log); err != nil {
			return res, err
		}
		res.Deleted = append(res.Deleted, e.String())
		log(fmt.Sprintf("  [%d/%d] %s removed", i+1, len(entries), e))
	}

	log(fmt.Sprintf("Cleanup complete: %d integrations and %d actions deleted, %d unconfirmed",
		len(res.Deleted), len(res.DeletedActions), len(res.Unconfirmed)))
	return res, nil
}

func (r *Remover) remove(ctx context.Context, target, name string, res *Result, log func(string)) error {
	if err := ctx.Err(); err != nil {
		log(fmt.Sprintf("Interrupted: %d integrations deleted", len(res.Deleted)))
		return fmt.Errorf("interrupted after %d integration deletions: %w", len(res.Deleted), err)
	}
	if _, err := r.exec.Execute(context.WithoutCancel(ctx), platform.Request{Method: http.MethodDelete, Target: target}); err != nil {
		res.Failed = name
		log(fmt.Sprintf("  FAIL %s: %v", name, err))
		r.logger.Error("delete failed", "kind", "integration", "name", name, "error", err)
		return fmt.Errorf("deleting %s, %d integration(s) deleted before the failure: %w", name, len(res.Deleted), err)
	}
	log(fmt.Sprintf("  DELETED %s", name))

	if err := r.waiter.WaitForGone(ctx, target); err != nil {
		var te *platform.TimeoutError
		switch {
		case errors.As(err, &te):
			res.Unconfirmed = append(res.Unconfirmed, name)
			log(fmt.Sprintf("  WARNING %s: %v", name, err))
		case ctx.Err() != nil:
			log(fmt.Sprintf("Interrupted: %d integrations deleted", len(res.Deleted)))
			return fmt.Errorf("interrupted after %d integration deletions: %w", len(res.Deleted), ctx.Err())
		default:
			return fmt.Errorf("confirming deletion of %s: %w", name, err)
		}
	}
	return nil
}
