// Command syncline is the CLI client for a Syncline daemon: record CRUD
// against the remote store, and pull/push replication into a local
// store under --data-dir.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/syncline-dev/syncline/internal/changelog"
	"github.com/syncline-dev/syncline/pkg/engine"
	"github.com/syncline-dev/syncline/pkg/replicate"
	"github.com/syncline-dev/syncline/pkg/sdk"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Addr    string
	Token   string
	DataDir string
	Verbose bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "syncline",
		Short:         "Syncline - bidirectional record replication",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", envOr("SYNCLINE_ADDR", "localhost:7010"), "daemon address")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("SYNCLINE_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", envOr("SYNCLINE_DATA_DIR", "./data"), "local store directory")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newPullCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *rootOptions) client() (*sdk.Client, error) {
	return sdk.Connect(o.Addr, o.Token)
}

// localSide opens the durable local data source: record snapshots plus a
// sqlite changelog, both under DataDir.
func (o *rootOptions) localSide() (*replicate.LocalEndpoint, *changelog.Store, error) {
	clog, err := changelog.Open(filepath.Join(o.DataDir, "changelog.db"))
	if err != nil {
		return nil, nil, err
	}

	persister, err := engine.NewPersistence(o.DataDir)
	if err != nil {
		clog.Close()
		return nil, nil, err
	}
	initial, err := persister.LoadAll()
	if err != nil {
		clog.Close()
		return nil, nil, err
	}

	tracker := replicate.NewTracker(clog, clog.SequencerFactory())
	store := engine.NewMemStore(initial, tracker, persister)
	differ := replicate.NewDiffer(clog)
	endpoint := replicate.NewLocalEndpoint("local", store, differ, tracker, replicate.AllowAll)
	return endpoint, clog, nil
}

func (o *rootOptions) logger() zerolog.Logger {
	if !o.Verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <model>",
		Short: "List the remote records of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			records, err := client.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(records)
			return nil
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <model> <id>",
		Short: "Fetch one remote record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			record, err := client.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printJSON(record)
			return nil
		},
	}
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <model> <json>",
		Short: "Create a remote record from a JSON payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var record map[string]any
			if err := json.Unmarshal([]byte(args[1]), &record); err != nil {
				return fmt.Errorf("invalid record JSON: %w", err)
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			created, err := client.Create(cmd.Context(), args[0], record)
			if err != nil {
				return err
			}
			printJSON(created)
			return nil
		},
	}
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <model> <id> <json>",
		Short: "Update a remote record with a JSON patch",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch map[string]any
			if err := json.Unmarshal([]byte(args[2]), &patch); err != nil {
				return fmt.Errorf("invalid patch JSON: %w", err)
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			updated, err := client.Update(cmd.Context(), args[0], args[1], patch)
			if err != nil {
				return err
			}
			printJSON(updated)
			return nil
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model> <id>",
		Short: "Delete a remote record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func newPullCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model>",
		Short: "Replicate remote changes into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.replicate(cmd.Context(), args[0], true)
		},
	}
}

func newPushCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <model>",
		Short: "Replicate local changes to the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.replicate(cmd.Context(), args[0], false)
		},
	}
}

func (o *rootOptions) replicate(ctx context.Context, model string, pull bool) error {
	client, err := o.client()
	if err != nil {
		return err
	}
	local, clog, err := o.localSide()
	if err != nil {
		return err
	}
	defer clog.Close()

	pair := replicate.Pair{Source: client, Target: local, Model: model}
	if !pull {
		pair = replicate.Pair{Source: local, Target: client, Model: model}
	}

	replicator := replicate.NewReplicator(clog, o.logger())
	result, err := replicator.Replicate(ctx, pair)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var keep string

	cmd := &cobra.Command{
		Use:   "resolve <model> <record-id>",
		Short: "Resolve a pending conflict by picking a side",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice := replicate.Choice(keep)
			if choice != replicate.KeepSource && choice != replicate.KeepTarget {
				return fmt.Errorf("--keep must be %q or %q", replicate.KeepSource, replicate.KeepTarget)
			}

			model, recordID := args[0], args[1]
			client, err := opts.client()
			if err != nil {
				return err
			}
			local, clog, err := opts.localSide()
			if err != nil {
				return err
			}
			defer clog.Close()

			// The pull direction (remote source, local target) defines
			// which side "source" and "target" name.
			pair := replicate.Pair{Source: client, Target: local, Model: model}

			sourceHeads, err := pair.Source.Head(cmd.Context(), model, []string{recordID})
			if err != nil {
				return err
			}
			targetHeads, err := pair.Target.Head(cmd.Context(), model, []string{recordID})
			if err != nil {
				return err
			}
			if len(sourceHeads) == 0 || len(targetHeads) == 0 {
				return fmt.Errorf("no conflict found for %s/%s", model, recordID)
			}

			conflict := replicate.Conflict{
				Model:    model,
				RecordID: recordID,
				Source:   sourceHeads[0],
				Target:   targetHeads[0],
			}
			replicator := replicate.NewReplicator(clog, opts.logger())
			if err := replicator.Resolve(cmd.Context(), pair, conflict, choice); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}

	cmd.Flags().StringVar(&keep, "keep", "", "winning side: source (remote) or target (local)")
	cmd.MarkFlagRequired("keep")
	return cmd
}
