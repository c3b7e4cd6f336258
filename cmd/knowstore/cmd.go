package main

import (
	"fmt"
	"time"

	"github.com/axiomkit/knowstore"
	"github.com/axiomkit/knowstore/config"
	"github.com/axiomkit/knowstore/graph"
	"github.com/axiomkit/knowstore/internal/mylog"
	"github.com/axiomkit/knowstore/memory"
	"github.com/axiomkit/knowstore/vector"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func newCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "knowstore",
		Short:        "Multi-backend knowledge storage CLI",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newVerifyCmd(&configFile),
		newStatsCmd(&configFile),
	)

	return cmd
}

func openStore(cmd *cobra.Command, configFile string) (*knowstore.Store, *config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := mylog.NewLogger(cfg.Log.LogLevel, cfg.Log.LogHandler)
	store, err := knowstore.New(cmd.Context(),
		knowstore.WithConfig(cfg),
		knowstore.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// newVerifyCmd exercises one write/read/delete round trip per engine
// against the configured backends.
func newVerifyCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run a round-trip check against every configured engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd, *configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			index := fmt.Sprintf("knowstore-verify-%d", time.Now().UnixNano())

			if err := store.Vector.CreateIndex(ctx, index, 3, vector.MetricCosine); err != nil {
				return err
			}
			if _, err := store.Vector.PutVectors(ctx, index, []vector.Record{
				{Key: "probe", Vector: []float32{1, 0, 0}},
			}); err != nil {
				return err
			}
			results, err := store.Vector.QueryVectors(ctx, index, []float32{1, 0, 0}, 1, nil)
			if err != nil {
				return err
			}
			if len(results) != 1 || results[0].Key != "probe" {
				return fmt.Errorf("vector round trip failed: got %d results", len(results))
			}
			if err := store.Vector.DeleteIndex(ctx, index); err != nil {
				return err
			}
			cmd.Println("vector engine: ok")

			nodeID, err := store.Graph.CreateNode(ctx, graph.Node{
				Type:       "Probe",
				Properties: map[string]any{"purpose": "round trip"},
			})
			if err != nil {
				return err
			}
			if _, err := store.Graph.DeleteNode(ctx, nodeID); err != nil {
				return err
			}
			cmd.Println("graph engine: ok")

			actorID := fmt.Sprintf("knowstore-verify-%d", time.Now().UnixNano())
			if _, err := store.Memory.CreateEvent(ctx, []memory.Event{
				{ActorID: actorID, SessionID: "verify", Role: memory.RoleSystem, Content: "round trip probe"},
			}); err != nil {
				return err
			}
			history, err := store.Memory.GetSessionHistory(ctx, actorID, "verify", 10)
			if err != nil {
				return err
			}
			if len(history) != 1 {
				return fmt.Errorf("memory round trip failed: got %d events", len(history))
			}
			if _, err := store.Memory.DeleteActorMemory(ctx, actorID); err != nil {
				return err
			}
			cmd.Println("memory engine: ok")

			cmd.Printf("all engines verified (mode=%s)\n", cfg.Mode)
			return nil
		},
	}
}

func newStatsCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print storage statistics for every engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd, *configFile)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()

			indices, err := store.Vector.ListIndices(ctx)
			if err != nil {
				return err
			}
			vectorStats := make([]*vector.IndexStats, 0, len(indices))
			for _, name := range indices {
				stats, err := store.Vector.Stats(ctx, name)
				if err != nil {
					return err
				}
				vectorStats = append(vectorStats, stats)
			}

			graphStats, err := store.Graph.Stats(ctx)
			if err != nil {
				return err
			}
			memoryStats, err := store.Memory.Stats(ctx)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(map[string]any{
				"mode":   cfg.Mode,
				"vector": vectorStats,
				"graph":  graphStats,
				"memory": memoryStats,
			})
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
}
