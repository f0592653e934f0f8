package platform

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Target names the service whose containers are wanted. Environment may
// be empty when the account can see exactly one.
type Target struct {
	Environment string
	Stack       string
	Service     string
}

func (t Target) String() string {
	if t.Environment == "" {
		return t.Stack + "/" + t.Service
	}
	return t.Environment + "/" + t.Stack + "/" + t.Service
}

// Filter selects containers.
type Filter func(Container) bool

// HasAction keeps containers that expose the named action.
func HasAction(name string) Filter {
	return func(c Container) bool { return c.HasAction(name) }
}

// Resolver walks index -> projects -> stacks -> services -> instances to
// find the containers backing a service.
type Resolver struct {
	client *Client
	log    zerolog.Logger
}

func NewResolver(c *Client) *Resolver {
	return &Resolver{client: c, log: c.log}
}

// Resolve returns every container of the target service accepted by filter,
// across all pages, in server order.
func (r *Resolver) Resolve(ctx context.Context, t Target, filter Filter) ([]Container, error) {
	var index Index
	if err := r.client.Get(ctx, BuildIndexURL(r.client.baseURL, r.client.apiPath), "get index", &index); err != nil {
		return nil, err
	}
	projectsURL, err := link(index.Links, "api index", "projects")
	if err != nil {
		return nil, err
	}

	project, err := r.project(ctx, projectsURL, t.Environment)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("environment", project.Name).Msg("resolved environment")

	stacksURL, err := link(project.Links, "environment "+project.Name, "stacks")
	if err != nil {
		return nil, err
	}
	stack, err := find(ctx, r.client, stacksURL, "stack", t.Stack, func(s Stack) bool { return s.Name == t.Stack })
	if err != nil {
		return nil, err
	}

	servicesURL, err := link(stack.Links, "stack "+stack.Name, "services")
	if err != nil {
		return nil, err
	}
	service, err := find(ctx, r.client, servicesURL, "service", t.Service, func(s Service) bool { return s.Name == t.Service })
	if err != nil {
		return nil, err
	}

	instancesURL, err := link(service.Links, "service "+service.Name, "instances")
	if err != nil {
		return nil, err
	}
	containers, err := collect[Container](ctx, r.client, instancesURL, "container", filter)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, &NotFoundError{Kind: "container", Name: t.String(), Err: ErrEmpty}
	}
	r.log.Debug().Int("count", len(containers)).Str("service", t.String()).Msg("resolved containers")
	return containers, nil
}

// project finds the named environment, or the only one visible when name
// is empty. Only the first page is considered in the unnamed case.
func (r *Resolver) project(ctx context.Context, url, name string) (Project, error) {
	if name != "" {
		return find(ctx, r.client, url, "environment", name, func(p Project) bool { return p.Name == name })
	}

	var page Collection[Project]
	if err := r.client.Get(ctx, url, "list environments", &page); err != nil {
		return Project{}, err
	}
	if len(page.Data) != 1 {
		return Project{}, &NotFoundError{Kind: "environment", Err: ErrCouldNotDetermineEnvironment}
	}
	return page.Data[0], nil
}

func link(links Links, resource, name string) (string, error) {
	url, ok := links[name]
	if !ok || url == "" {
		return "", &StructuralError{Resource: resource, Link: name}
	}
	return url, nil
}

// find returns the first item accepted by match, following pagination until
// the collection is exhausted.
func find[T any](ctx context.Context, c *Client, url, kind, name string, match func(T) bool) (T, error) {
	var zero T
	seen := make(map[string]bool)
	for url != "" {
		if seen[url] {
			return zero, fmt.Errorf("pagination loop at %s", url)
		}
		seen[url] = true

		var page Collection[T]
		if err := c.Get(ctx, url, "list "+kind+"s", &page); err != nil {
			return zero, err
		}
		for _, item := range page.Data {
			if match(item) {
				return item, nil
			}
		}
		url = page.Next()
	}
	return zero, &NotFoundError{Kind: kind, Name: name, Err: ErrEmpty}
}

// collect returns every item accepted by keep across all pages.
func collect[T any](ctx context.Context, c *Client, url, kind string, keep func(T) bool) ([]T, error) {
	var out []T
	seen := make(map[string]bool)
	for url != "" {
		if seen[url] {
			return nil, fmt.Errorf("pagination loop at %s", url)
		}
		seen[url] = true

		var page Collection[T]
		if err := c.Get(ctx, url, "list "+kind+"s", &page); err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			if keep == nil || keep(item) {
				out = append(out, item)
			}
		}
		url = page.Next()
	}
	return out, nil
}
