package filtering

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type allowedHostsFilter struct {
	hosts  []string
	logger *zap.Logger
}

// NewAllowedHosts drops references whose host is not one of hosts or a
// subdomain of one. An empty list disables the filter.
func NewAllowedHosts(hosts []string, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			normalized = append(normalized, strings.TrimPrefix(h, "."))
		}
	}
	return &allowedHostsFilter{hosts: normalized, logger: logger}
}

func (f *allowedHostsFilter) Name() string { return "allowed_hosts" }

func (f *allowedHostsFilter) IsEnabled() bool { return len(f.hosts) > 0 }

func (f *allowedHostsFilter) Apply(_ context.Context, refs []string) ([]string, Step, error) {
	kept, dropped := keep(refs, f.allowed)

	for _, ref := range dropped {
		f.logger.Debug("dropping reference with foreign host", zap.String("reference", ref))
	}

	return kept, Step{Initial: len(refs), Dropped: len(dropped), Left: len(kept)}, nil
}

func (f *allowedHostsFilter) allowed(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range f.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
