package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/engine"
	"github.com/krew-solutions/ascetic-store-go/asceticstore/managed"
)

func newCountCommand(opts *rootOptions) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "count ENTITY",
		Short: "Count records of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseWhere(where)
			if err != nil {
				return err
			}
			sess, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			n, err := sess.coordinator.Engine().Count(cmd.Context(), engine.FetchRequest{Entity: args[0], Where: node})
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), map[string]any{"entity": args[0], "count": n}, func() string {
				return strconv.Itoa(n)
			})
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "", "textual predicate")
	return cmd
}

func newDistinctCommand(opts *rootOptions) *cobra.Command {
	var where string
	var fields []string
	var descending bool
	cmd := &cobra.Command{
		Use:   "distinct ENTITY --field KEY [--field KEY...]",
		Short: "List distinct value tuples of some fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parseWhere(where)
			if err != nil {
				return err
			}
			sort := make([]engine.SortKey, 0, len(fields))
			for _, f := range fields {
				sort = append(sort, engine.SortKey{Key: f, Ascending: !descending})
			}
			sess, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			tuples, err := sess.coordinator.Engine().Distinct(cmd.Context(), engine.DistinctRequest{
				Entity: args[0],
				Fields: fields,
				Where:  node,
				Sort:   sort,
			})
			if err != nil {
				return err
			}
			return opts.output(cmd.OutOrStdout(), map[string]any{"fields": fields, "tuples": tuples}, func() string {
				lines := make([]string, 0, len(tuples))
				for _, tuple := range tuples {
					lines = append(lines, formatTuple(tuple))
				}
				return strings.Join(lines, "\n")
			})
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "", "textual predicate")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "projected field (repeatable)")
	cmd.Flags().BoolVar(&descending, "desc", false, "sort descending")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func formatTuple(tuple []any) string {
	cells := make([]string, 0, len(tuple))
	for _, v := range tuple {
		encoded, err := json.Marshal(v)
		if err != nil {
			encoded = []byte(fmt.Sprint(v))
		}
		cells = append(cells, string(encoded))
	}
	return strings.Join(cells, "\t")
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var where string
	var all bool
	cmd := &cobra.Command{
		Use:   "purge ENTITY --where PREDICATE",
		Short: "Delete the records matching a predicate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if where == "" && !all {
				return fmt.Errorf("purge needs --where, or --all to delete every %s", args[0])
			}
			node, err := parseWhere(where)
			if err != nil {
				return err
			}
			sess, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			result, err := managed.DeleteMatching(cmd.Context(), sess.coordinator.Background(), engine.DeleteRequest{
				Entity: args[0],
				Where:  node,
			})
			if err != nil {
				return err
			}
			sess.logger.Info("purged",
				zap.String("entity", args[0]),
				zap.Int("deleted", len(result.Deleted)),
				zap.Stringer("strategy", result.Strategy),
			)
			ids := make([]string, 0, len(result.Deleted))
			for _, id := range result.Deleted {
				ids = append(ids, id.String())
			}
			data := map[string]any{"entity": args[0], "deleted": ids, "strategy": result.Strategy.String()}
			return opts.output(cmd.OutOrStdout(), data, func() string {
				return fmt.Sprintf("deleted %d %s (%s)", len(ids), args[0], result.Strategy)
			})
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "", "textual predicate")
	cmd.Flags().BoolVar(&all, "all", false, "delete every record of the entity")
	return cmd
}
