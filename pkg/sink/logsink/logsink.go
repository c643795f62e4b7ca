// Package logsink is a reference Sink implementation that logs every
// lifecycle callback and row event instead of writing to a real
// destination. It registers itself under the name "log" so cmd/replicator
// has a sink available out of the box; real deployments register their
// own sink package the same way.
package logsink

import (
	"context"

	"github.com/mdbcdc/replicator/pkg/sink"
	"github.com/sirupsen/logrus"
)

func init() {
	sink.Register("log", func(config string) (sink.Sink, error) {
		return &Sink{log: logrus.New()}, nil
	})
}

// Sink logs every call it receives; config is ignored.
type Sink struct {
	log *logrus.Logger
}

func (s *Sink) Init(ctx context.Context) error {
	s.log.Info("sink: init")
	return nil
}

func (s *Sink) InitiateFullRegeneration(ctx context.Context) error {
	s.log.Info("sink: initiate_full_regeneration")
	return nil
}

func (s *Sink) FinishedFullRegeneration(ctx context.Context) error {
	s.log.Info("sink: finished_full_regeneration")
	return nil
}

func (s *Sink) InitiateSynchMode(ctx context.Context) error {
	s.log.Info("sink: initiate_synch_mode")
	return nil
}

func (s *Sink) ProcessEvent(ctx context.Context, kind sink.Kind, schema, table string, payload sink.Payload) error {
	s.log.WithFields(logrus.Fields{
		"kind":   kind,
		"schema": schema,
		"table":  table,
	}).Debug("sink: process_event")
	return nil
}

func (s *Sink) CommitBoundary(ctx context.Context) error {
	s.log.Debug("sink: commit_boundary")
	return nil
}

func (s *Sink) TearDown(ctx context.Context) error {
	s.log.Info("sink: tear_down")
	return nil
}
