package interceptors

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/glimte/jsonp-bridge/contracts"
)

// ErrRequestFiltered is returned when a filter rejects a request
var ErrRequestFiltered = errors.New("request rejected by filter")

// RequestFilter decides whether a request may be performed
type RequestFilter interface {
	// Allow returns true if the request should be performed
	Allow(ctx context.Context, req contracts.Request) (bool, error)
}

// RequestFilterFunc is a function adapter for RequestFilter
type RequestFilterFunc func(ctx context.Context, req contracts.Request) (bool, error)

// Allow implements RequestFilter
func (f RequestFilterFunc) Allow(ctx context.Context, req contracts.Request) (bool, error) {
	return f(ctx, req)
}

// FilteringInterceptor rejects requests its filter does not allow. A JSONP
// response is executed as script, so the relay uses this to pin the hosts it
// will load from.
type FilteringInterceptor struct {
	filter RequestFilter
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter RequestFilter) *FilteringInterceptor {
	return &FilteringInterceptor{filter: filter}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, req contracts.Request, next Handler) (*contracts.Response, error) {
	allowed, err := i.filter.Allow(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrRequestFiltered, req.URL)
	}
	return next.Handle(ctx, req)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter allows a request only if every filter does
type CompositeFilter struct {
	filters []RequestFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...RequestFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Allow implements RequestFilter
func (f *CompositeFilter) Allow(ctx context.Context, req contracts.Request) (bool, error) {
	for _, filter := range f.filters {
		allowed, err := filter.Allow(ctx, req)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// HostFilter allows requests to the listed hosts and their subdomains.
// An empty list allows everything.
type HostFilter struct {
	hosts []string
}

// NewHostFilter creates a host allow-list
func NewHostFilter(hosts ...string) *HostFilter {
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &HostFilter{hosts: normalized}
}

// Allow implements RequestFilter
func (f *HostFilter) Allow(ctx context.Context, req contracts.Request) (bool, error) {
	if len(f.hosts) == 0 {
		return true, nil
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return false, err
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range f.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true, nil
		}
	}
	return false, nil
}

// SchemeFilter allows only the listed URL schemes
type SchemeFilter struct {
	schemes map[string]bool
}

// NewSchemeFilter creates a scheme allow-list
func NewSchemeFilter(schemes ...string) *SchemeFilter {
	set := make(map[string]bool, len(schemes))
	for _, s := range schemes {
		set[strings.ToLower(s)] = true
	}
	return &SchemeFilter{schemes: set}
}

// Allow implements RequestFilter
func (f *SchemeFilter) Allow(ctx context.Context, req contracts.Request) (bool, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return false, err
	}
	return f.schemes[strings.ToLower(u.Scheme)], nil
}
