package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"patternlattice/internal/engine"
	"patternlattice/internal/metrics"
	"patternlattice/internal/store"
)

// session owns the model and its collaborators for one command.
type session struct {
	model    *engine.Model
	store    *store.Store
	registry *prometheus.Registry
}

func openSession() (*session, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	s := &session{store: st}
	opts := []engine.ModelOption{engine.WithSuspensionHook(st)}
	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		opts = append(opts, engine.WithMetrics(metrics.New(s.registry, cfg.Metrics.Namespace)))
	}
	s.model, err = engine.New(cfg.Engine, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		logger.Warn("Closing store failed", zap.Error(err))
	}
}

// commandContext bounds a command by the timeout flag and cancels it on
// SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// writeMetrics prints every gathered sample as "name{labels} value".
func (s *session) writeMetrics(w io.Writer) error {
	if s.registry == nil {
		return nil
	}
	families, err := s.registry.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for i, lp := range m.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			if labels != "" {
				labels = "{" + labels + "}"
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			lines = append(lines, fmt.Sprintf("%s%s %g", mf.GetName(), labels, value))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
