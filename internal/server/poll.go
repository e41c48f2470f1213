package server

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/rybkr/topoorder/internal/pipeline"
)

// pollRepo rescans on a fixed period, for filesystems where change
// notifications are unreliable (network mounts, some containers).
func (s *Server) pollRepo() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollPeriod)
	defer ticker.Stop()

	s.logger.Info("repository polling started", "period", s.pollPeriod)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("repository polling stopped")
			return
		case <-ticker.C:
			s.refreshLogged()
		}
	}
}

// refreshLogged runs Refresh for background triggers, where there is no
// caller to hand an error to.
func (s *Server) refreshLogged() {
	if err := s.Refresh(); err != nil {
		s.logger.Error("rescan failed, keeping previous order", "err", err)
		s.broadcastUpdate(MessageTypeError, err.Error())
	}
}

// Refresh rescans the repository and broadcasts the order if it changed.
// Concurrent calls run one at a time.
func (s *Server) Refresh() (err error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// A store mutated mid-scan must not take the server down.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during rescan: %v", r)
		}
		if err != nil {
			s.metrics.Rebuilds.WithLabelValues("error").Inc()
		}
	}()

	result, err := pipeline.Run(s.repo, s.logger)
	if err != nil {
		return err
	}
	s.metrics.Rebuilds.WithLabelValues("ok").Inc()
	s.metrics.RebuildDuration.Observe(result.Elapsed.Seconds())
	s.metrics.Commits.Set(float64(len(result.Entries)))

	s.mu.Lock()
	changed := !resultsEqual(s.cached, result)
	if changed {
		s.cached = result
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("history changed, broadcasting update", "commits", len(result.Entries))
		s.broadcastUpdate(MessageTypeOrder, result)
	}
	return nil
}

func resultsEqual(a, b *pipeline.Result) bool {
	if a == nil || b == nil {
		return a == b
	}

	// json.Marshal gives a stable byte form; Elapsed is excluded from it.
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a.Entries, b.Entries)
	}
	return string(aJSON) == string(bJSON)
}
