package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/coordinator"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/logging"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/metrics"
	s "github.com/krew-solutions/ascetic-store-go/asceticstore/specification/domain"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/store"
)

var validFormats = []string{"text", "json"}

type rootOptions struct {
	config      string
	format      string
	metricsFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "storectl",
		Short: "Inspect and maintain a store",
		Long: `storectl opens the store described by a YAML config file and runs one
operation on it. Predicates use the textual form, for example

  storectl count Task --where 'done == false AND priority > 2'`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "",
		"write metrics in the prometheus text format to this file on exit")

	cmd.AddCommand(newCountCommand(opts))
	cmd.AddCommand(newDistinctCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	return cmd
}

// session is one opened store.
type session struct {
	coordinator *coordinator.Coordinator
	logger      *zap.Logger
	registry    *prometheus.Registry
	metricsFile string
}

func (o *rootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := store.LoadConfig(o.config)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging)
	registry := prometheus.NewRegistry()
	c, err := coordinator.Open(ctx, cfg.Store,
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		return nil, err
	}
	return &session{
		coordinator: c,
		logger:      logging.For(logger, logging.ComponentCLI),
		registry:    registry,
		metricsFile: o.metricsFile,
	}, nil
}

func (sess *session) close() {
	if err := sess.coordinator.Close(); err != nil {
		sess.logger.Warn("close store", zap.Error(err))
	}
	if sess.metricsFile != "" {
		if err := prometheus.WriteToTextfile(sess.metricsFile, sess.registry); err != nil {
			sess.logger.Warn("write metrics", zap.String("path", sess.metricsFile), zap.Error(err))
		}
	}
	_ = sess.logger.Sync()
}

// parseWhere parses a textual predicate, nil for an empty one.
func parseWhere(where string) (s.Visitable, error) {
	if where == "" {
		return nil, nil
	}
	raw, err := s.NewRawNode(where)
	if err != nil {
		return nil, fmt.Errorf("invalid --where: %w", err)
	}
	return raw, nil
}

// output writes data as JSON, or text() in text format.
func (o *rootOptions) output(w io.Writer, data any, text func() string) error {
	if o.format == "json" {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(encoded))
		return err
	}
	_, err := fmt.Fprintln(w, text())
	return err
}
