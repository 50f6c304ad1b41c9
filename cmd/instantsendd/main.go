package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"instantsend/config"
	"instantsend/core"
	"instantsend/observability/logging"
	"instantsend/rpc"
	"instantsend/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	rpcTokenEnv = "ISND_RPC_TOKEN"
	genesisEnv  = "ISND_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis alloc JSON file (overrides ISND_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ISND_ENV"))
	logger := logging.Setup("instantsendd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = strings.TrimSpace(cfg.RPCToken)
	}
	if authToken == "" {
		logger.Warn("No RPC token configured; transaction submission is disabled",
			slog.String("env", rpcTokenEnv))
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)

	freshStore := !dataDirExists(cfg.DataDir)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, logger)

	if genesisPath != "" && freshStore {
		doc, err := core.LoadGenesis(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis file: %v", err))
		}
		if err := node.ApplyGenesis(doc); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
		logger.Info("Applied genesis allocation", slog.String("path", genesisPath))
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics listener starting", slog.String("address", cfg.MetricsAddress))
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics listener failed", slog.Any("error", err))
		}
	}()

	server := rpc.NewServer(node, authToken)
	logger.Info("RPC listener starting",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))
	if err := server.Start(cfg.RPCAddress); err != nil {
		panic(fmt.Sprintf("RPC server failed: %v", err))
	}
}

// resolveGenesisPath prefers the CLI flag, then the environment, then the
// config file.
func resolveGenesisPath(flagValue, configValue string, lookupEnv func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if raw, ok := lookupEnv(genesisEnv); ok {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(configValue)
}

func dataDirExists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "ledger"))
	return err == nil && info.IsDir()
}
