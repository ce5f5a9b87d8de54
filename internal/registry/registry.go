// Package registry builds the ordered list of monitored sources for one
// evaluation run.
package registry

import (
	"fmt"

	"github.com/marcus-qen/esmhealth/internal/config"
	"github.com/marcus-qen/esmhealth/internal/devdir"
)

// Kind distinguishes the global alarm feed from a device event feed.
type Kind string

const (
	KindAlarms Kind = "alarms"
	KindEvents Kind = "events"
)

// AlarmSourceName is the fixed display name of the global alarm feed.
const AlarmSourceName = "Primary ESM"

// receiverMask is appended to datasource IDs when querying events; ERC
// receivers are addressed with a /8 mask.
const receiverMask = "/8"

// Source is one monitored feed. Sources are immutable once built and are
// discarded at the end of the run.
type Source struct {
	Kind Kind

	// ID is the query identifier: empty for the alarm feed, the masked
	// datasource ID for an event feed.
	ID string

	// DeviceID is the unmasked datasource ID (event feeds only).
	DeviceID string

	// DisplayName is the resolved device name, or the raw datasource ID
	// when the directory lookup missed (NameResolved=false).
	DisplayName  string
	NameResolved bool

	// Window is the ESM time-range expression queried for this source.
	Window string

	// ThresholdMinutes is the max acceptable idle time. Always >= 0 for
	// a Source produced by Build.
	ThresholdMinutes int
}

// Build derives the monitored sources from configuration, in configuration
// order: the alarm feed first when enabled, then one event source per query
// entry. An unresolvable device name degrades to the raw ID; an invalid
// threshold fails the build.
func Build(cfg *config.Config, dir *devdir.Directory) ([]Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("registry: nil config")
	}

	var sources []Source

	if cfg.MonitorAlarms {
		if cfg.AlarmThresholdMinutes < 0 {
			return nil, &config.ConfigurationError{Field: "alarm_threshold", Reason: "must not be negative"}
		}
		sources = append(sources, Source{
			Kind:             KindAlarms,
			DisplayName:      AlarmSourceName,
			NameResolved:     true,
			Window:           cfg.AlarmWindow,
			ThresholdMinutes: cfg.AlarmThresholdMinutes,
		})
	}

	if cfg.MonitorQueries {
		for i, q := range cfg.Queries {
			if q.DeviceID == "" {
				return nil, &config.ConfigurationError{Field: fmt.Sprintf("queries[%d].device_id", i), Reason: "required"}
			}
			if q.ThresholdMinutes < 0 {
				return nil, &config.ConfigurationError{Field: fmt.Sprintf("queries[%d].threshold", i), Reason: "must not be negative"}
			}

			src := Source{
				Kind:             KindEvents,
				ID:               q.DeviceID + receiverMask,
				DeviceID:         q.DeviceID,
				Window:           cfg.EventWindow,
				ThresholdMinutes: q.ThresholdMinutes,
			}

			if dir != nil {
				if name, ok := dir.Resolve(q.DeviceID); ok {
					src.DisplayName = name
					src.NameResolved = true
				}
			}
			if !src.NameResolved {
				if q.Name != "" {
					src.DisplayName = q.Name
				} else {
					src.DisplayName = q.DeviceID
				}
			}

			sources = append(sources, src)
		}
	}

	return sources, nil
}
