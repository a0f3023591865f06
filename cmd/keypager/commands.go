package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/Alp4ka/keypager"
)

type rootOptions struct {
	verbose bool
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}

	return log
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "keypager",
		Short:         "Inspect and build keyset pagination cursors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pagination errors to stderr")

	cmd.AddCommand(newDecodeCommand(), newEncodeCommand(), newPredicateCommand(opts))

	return cmd
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN",
		Short: "Print the typed values carried by a cursor token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := keypager.Decode(args[0])
			if err != nil {
				return err
			}

			for i, v := range values {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, v)
			}

			return nil
		},
	}
}

func newEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "encode KIND:VALUE...",
		Short:   "Build a cursor token from typed values",
		Example: "  keypager encode int:4 objectid:65f0c0ffee0000000000beef",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make([]keypager.Value, 0, len(args))
			for _, arg := range args {
				v, err := keypager.ParseValue(arg)
				if err != nil {
					return err
				}
				values = append(values, v)
			}

			fmt.Fprintln(cmd.OutOrStdout(), keypager.Encode(values...))

			return nil
		},
	}
}

type predicateOptions struct {
	sort       []string
	tieBreaker string
	next       string
	previous   string
}

func newPredicateCommand(root *rootOptions) *cobra.Command {
	opts := &predicateOptions{}

	cmd := &cobra.Command{
		Use:   "predicate",
		Short: "Print the filter and sort a cursor expands to",
		Example: `  keypager predicate --sort "createdAt desc" --next <token>
  keypager predicate --sort "score score" --previous <token>`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPredicate(cmd, root, opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.sort, "sort", "s", nil, `ordering column, "column asc|desc|score"; repeatable`)
	cmd.Flags().StringVar(&opts.tieBreaker, "tie-breaker", keypager.DefaultTieBreaker, "unique column closing the ordering")
	cmd.Flags().StringVar(&opts.next, "next", "", "next page token")
	cmd.Flags().StringVar(&opts.previous, "previous", "", "previous page token")
	cmd.MarkFlagsMutuallyExclusive("next", "previous")

	return cmd
}

func runPredicate(cmd *cobra.Command, root *rootOptions, opts *predicateOptions) error {
	mapping := keypager.ColumnMapping{}
	for _, s := range opts.sort {
		if column, _, ok := strings.Cut(strings.TrimSpace(s), " "); ok {
			mapping[column] = column
		}
	}

	orderings, err := keypager.ParseSort(opts.sort, mapping)
	if err != nil {
		return err
	}

	pager, err := keypager.DecodeCursorPager(keypager.DefaultLimit, opts.next, opts.previous, orderings...)
	if err != nil {
		return err
	}
	pager = pager.WithTieBreaker(opts.tieBreaker).WithLogger(root.logger())

	predicate, err := pager.Predicate()
	if err != nil {
		return err
	}

	sort, err := pager.EffectiveSort()
	if err != nil {
		return err
	}

	filterJSON, err := bson.MarshalExtJSON(predicate.ToBSON(), false, false)
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}

	sortJSON, err := bson.MarshalExtJSON(sort.ToBSON(), false, false)
	if err != nil {
		return fmt.Errorf("marshal sort: %w", err)
	}

	where, args := predicate.ToSQL()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "direction: %s\n", pager.GetDirection())
	fmt.Fprintf(out, "predicate: %s\n", predicate)
	fmt.Fprintf(out, "filter:    %s\n", filterJSON)
	fmt.Fprintf(out, "sort:      %s\n", sortJSON)
	fmt.Fprintf(out, "sql:       WHERE %s ORDER BY %s %v\n", where, sort.ToSQL(), args)

	return nil
}
