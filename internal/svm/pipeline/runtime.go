package pipeline

import (
	"github.com/banshee-data/surroundview/internal/config"
	"github.com/banshee-data/surroundview/internal/svm/framequeue"
	"github.com/banshee-data/surroundview/internal/svm/l5composite"
)

// SensorRuntime bundles the per-feed instances so they are passed
// explicitly instead of living in package globals.
type SensorRuntime struct {
	FeedID     string
	Queue      *framequeue.Queue
	Compositor *l5composite.Compositor
}

// NewSensorRuntime builds the queue and compositor from tuning config.
func NewSensorRuntime(feedID string, cfg *config.TuningConfig) (*SensorRuntime, error) {
	opts, err := l5composite.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SensorRuntime{
		FeedID:     feedID,
		Queue:      framequeue.New(cfg.GetQueueCapacity(), cfg.GetPollInterval()),
		Compositor: l5composite.New(opts),
	}, nil
}
