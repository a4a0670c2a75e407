package pipeline

import (
	"sort"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// ExportConfig returns a serializable snapshot of the registered targets
// and pipeline tuning. The caller owns persistence; this subsystem does not
// touch durable storage.
func (c *Controller) ExportConfig() types.ConfigSnapshot {
	c.mu.Lock()
	snapshots := make([]types.TargetSnapshot, 0, len(c.targets))
	for _, t := range c.targets {
		snapshots = append(snapshots, types.TargetSnapshot{
			Kind:       t.kind,
			Descriptor: t.desc,
			TargetFPS:  int(t.targetFPS.Load()),
			Active:     t.active.Load(),
		})
	}
	c.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Kind != snapshots[j].Kind {
			return snapshots[i].Kind < snapshots[j].Kind
		}
		if snapshots[i].Descriptor.Screen != snapshots[j].Descriptor.Screen {
			return snapshots[i].Descriptor.Screen < snapshots[j].Descriptor.Screen
		}
		return snapshots[i].Descriptor.WindowTitle < snapshots[j].Descriptor.WindowTitle
	})

	return types.ConfigSnapshot{
		Targets:               snapshots,
		ConfidenceThreshold:   c.confidence.Load(),
		MaxDetectionsPerFrame: int(c.maxDetections.Load()),
	}
}

// ImportConfig registers the snapshot's targets and applies its tuning.
// Descriptors are re-resolved through the Capturer; entries that no longer
// resolve (display detached, window gone) are skipped with a warning rather
// than failing the whole import. Works whether the pipeline is Stopped or
// Running.
func (c *Controller) ImportConfig(snapshot types.ConfigSnapshot) error {
	c.SetConfidenceThreshold(snapshot.ConfidenceThreshold)
	if snapshot.MaxDetectionsPerFrame > 0 {
		c.SetMaxDetections(snapshot.MaxDetectionsPerFrame)
	}

	for _, ts := range snapshot.Targets {
		var (
			id  string
			err error
		)
		switch ts.Kind {
		case types.KindScreen:
			id, err = c.AddScreenTarget(ts.Descriptor.Screen, ts.TargetFPS)
		case types.KindWindow:
			id, err = c.AddWindowTarget(ts.Descriptor.WindowTitle, ts.TargetFPS)
		default:
			logger.Warn("StreamController", "config: skipping target with unknown kind %q", ts.Kind)
			continue
		}
		if err != nil {
			logger.Warn("StreamController", "config: skipping unresolvable target: %v", err)
			continue
		}
		if !ts.Active {
			c.SetTargetActive(id, false)
		}
	}
	return nil
}
