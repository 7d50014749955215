package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"mongoseq/pkg/logger"
	"mongoseq/pkg/schema"
	"mongoseq/pkg/sequence"
	"mongoseq/pkg/sequence/counters"
)

var (
	flagModel   string
	flagField   string
	flagStart   int64
	flagStep    int64
	flagPrefix  string
	flagSuffix  string
	flagN       int
	flagWorkers int
)

func prepareStore(ctx context.Context, db *mongo.Database) (*counters.Store, error) {
	return counters.PrepareNamed(ctx, db, getEnv("SEQ_COLLECTION", counters.DefaultCollection))
}

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Create the counter collection and its unique index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		if _, err := prepareStore(ctx, db); err != nil {
			return err
		}
		fmt.Printf("counter store ready: %s.%s\n", db.Name(), getEnv("SEQ_COLLECTION", counters.DefaultCollection))
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Allocate the next value for a counter and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		store, err := prepareStore(ctx, db)
		if err != nil {
			return err
		}
		count, err := store.Allocate(ctx, flagModel, flagField, flagStart, flagStep)
		if err != nil {
			return err
		}
		logger.Info(ctx, "value allocated", "model", flagModel, "field", flagField, "count", count)
		fmt.Printf("%s%d%s\n", flagPrefix, count, flagSuffix)
		return nil
	},
}

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Print the value the next allocation would return, without advancing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		store, err := prepareStore(ctx, db)
		if err != nil {
			return err
		}
		count, err := store.Peek(ctx, flagModel, flagField, flagStart, flagStep)
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", count)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Rewind a counter so the next allocation starts over",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		store, err := prepareStore(ctx, db)
		if err != nil {
			return err
		}
		if err := store.Reset(ctx, flagModel, flagField, flagStart, flagStep); err != nil {
			return err
		}
		fmt.Printf("counter %s/%s reset; next allocation returns %d\n", flagModel, flagField, flagStart)
		return nil
	},
}

var raceCmd = &cobra.Command{
	Use:   "race",
	Short: "Allocate N values concurrently and verify the exact set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		store, err := prepareStore(ctx, db)
		if err != nil {
			return err
		}

		model := flagModel
		if model == "" {
			// Disposable counter so the exact-set check starts clean.
			model = "race-" + xid.New().String()
		}

		results := make([]int64, flagN)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(flagWorkers)
		for i := 0; i < flagN; i++ {
			i := i // pin per-iteration value; required while go.mod targets pre-1.22 loop scoping
			g.Go(func() error {
				value, err := store.Allocate(gctx, model, flagField, flagStart, flagStep)
				if err != nil {
					return err
				}
				results[i] = value
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		seen := make(map[int64]bool, flagN)
		for _, value := range results {
			if seen[value] {
				return fmt.Errorf("duplicate value %d allocated", value)
			}
			seen[value] = true
		}
		for i := 0; i < flagN; i++ {
			want := flagStart + int64(i)*flagStep
			if !seen[want] {
				return fmt.Errorf("expected value %d was never allocated", want)
			}
		}

		logger.Info(ctx, "race verified", "model", model, "allocations", flagN, "workers", flagWorkers)
		fmt.Printf("OK: %d concurrent allocations produced the exact set [%d..%d] step %d\n",
			flagN, flagStart, flagStart+int64(flagN-1)*flagStep, flagStep)
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk the schema plugin end to end against a live database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer disconnect(ctx, client)

		store, err := prepareStore(ctx, db)
		if err != nil {
			return err
		}

		sch := schema.New("order")
		if err := sch.AddField(schema.FieldDef{Name: "customer", Type: schema.TypeString, Required: true}); err != nil {
			return err
		}
		if err := sch.AddField(schema.FieldDef{Name: "region", Type: schema.TypeString, Required: true}); err != nil {
			return err
		}

		seq, err := sequence.Attach(sch, store, sequence.Options{
			Model:   "order",
			Field:   "number",
			StartAt: 1000,
			Prefix:  sequence.Static("ORD-"),
			Suffix: sequence.Computed(func(ctx context.Context, doc *schema.Document) (string, error) {
				return "-" + strings.ToUpper(doc.GetString("region")), nil
			}),
		})
		if err != nil {
			return err
		}

		coll := schema.Bind(sch, db.Collection("demo_orders"))
		if err := coll.EnsureIndexes(ctx); err != nil {
			return err
		}

		first := coll.NewDocument().Set("customer", "ACME").Set("region", "eu")
		if err := coll.Save(ctx, first); err != nil {
			return err
		}
		fmt.Printf("created %s: number=%s\n", first.ID().Hex(), first.GetString("number"))

		second := coll.NewDocument().Set("customer", "Globex").Set("region", "us")
		if err := coll.Save(ctx, second); err != nil {
			return err
		}
		fmt.Printf("created %s: number=%s\n", second.ID().Hex(), second.GetString("number"))

		// A re-save may change anything except the assigned sequence field.
		first.Set("customer", "ACME Corp").Set("number", "ORD-9999-EU")
		err = coll.Save(ctx, first)
		if err == nil {
			return fmt.Errorf("tampered save unexpectedly succeeded")
		}
		fmt.Printf("tampering rejected: %v\n", err)

		next, err := seq.NextCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("next order would get count %d\n", next)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{nextCmd, peekCmd, resetCmd, raceCmd} {
		cmd.Flags().StringVar(&flagModel, "model", "", "counter owner name")
		cmd.Flags().StringVar(&flagField, "field", "seq", "target document field")
		cmd.Flags().Int64Var(&flagStart, "start", 0, "first value to allocate")
		cmd.Flags().Int64Var(&flagStep, "step", 1, "increment between values")
	}
	nextCmd.Flags().StringVar(&flagPrefix, "prefix", "", "static prefix for the printed value")
	nextCmd.Flags().StringVar(&flagSuffix, "suffix", "", "static suffix for the printed value")
	raceCmd.Flags().IntVar(&flagN, "n", 100, "number of allocations")
	raceCmd.Flags().IntVar(&flagWorkers, "workers", 8, "concurrent workers")

	for _, cmd := range []*cobra.Command{nextCmd, peekCmd, resetCmd} {
		_ = cmd.MarkFlagRequired("model")
	}

	rootCmd.AddCommand(prepareCmd, nextCmd, peekCmd, resetCmd, raceCmd, demoCmd)
}
