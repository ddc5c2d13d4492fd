package domain

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// AgentRecord is the current known location and capabilities of one agent.
type AgentRecord struct {
	AgentID      string            `json:"agent_id"`
	Name         string            `json:"name,omitempty"`
	Location     Location          `json:"location"`
	Address      string            `json:"address"`
	DeviceID     string            `json:"device_id,omitempty"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Status       AgentStatus       `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IsOnline reports whether the agent was last known as reachable.
func (a *AgentRecord) IsOnline() bool {
	return a.Status == AgentStatusOnline
}

// Validate checks the fields required to route to the agent.
func (a *AgentRecord) Validate() error {
	var errs *multierror.Error

	if a.AgentID == "" {
		errs = multierror.Append(errs, errors.New("agent_id is required"))
	}
	switch a.Location {
	case LocationCloud:
		if a.DeviceID != "" {
			errs = multierror.Append(errs, errors.New("device_id is only allowed for edge agents"))
		}
	case LocationEdge:
		if a.DeviceID == "" {
			errs = multierror.Append(errs, errors.New("device_id is required for edge agents"))
		}
	case "":
		errs = multierror.Append(errs, errors.New("location is required"))
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown location %q", a.Location))
	}
	if a.Address == "" {
		errs = multierror.Append(errs, errors.New("address is required"))
	} else if u, err := url.Parse(a.Address); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("address %q is not an http(s) URL", a.Address))
	}
	switch a.Status {
	case AgentStatusOnline, AgentStatusOffline:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown status %q", a.Status))
	}

	return validationError(errs)
}

// NormalizeCapabilities trims, deduplicates and sorts capability tags.
func NormalizeCapabilities(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// AgentFilter selects agents for discovery. Empty fields do not filter.
type AgentFilter struct {
	// Capabilities matches agents sharing at least one tag.
	Capabilities []string
	Location     Location
	TenantID     string
	Limit        int
}

func validationError(errs *multierror.Error) error {
	if errs == nil {
		return nil
	}
	errs.ErrorFormat = func(es []error) string {
		parts := make([]string, len(es))
		for i, e := range es {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Errorf("%w: %s", ErrValidation, errs.Error())
}
