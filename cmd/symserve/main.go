// Copyright 2025 The symserve Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the symbol search server and CLI [DBG] application.

symserve answers "which documented symbols start with what I typed?" for
generated documentation. It loads Doxygen searchData files (and JSON or
msgpack entry dumps) from a data directory, builds an immutable bucketed
index and serves prefix searches with results grouped by symbol key.

# Usage

Start the server with default settings:

	symserve

Use a custom data directory and enable debug mode:

	symserve -data /path/to/search -d

Run in CLI mode for interactive testing:

	symserve -c -limit 10

The data directory holds files such as all_0.js, all_1.js ... as written by
Doxygen into html/search/, optionally zstd-compressed (all_0.js.zst).

# Configuration

Runtime configuration is a TOML (or YAML) file:

	[server]
	max_limit = 64
	min_query = 1
	max_query = 128
	requests_per_second = 500
	cache_size = 256
	metrics_addr = ""

	[data]
	dir = "data/"
	watch = true
	debounce_ms = 250

	[cli]
	default_limit = 24
	highlight = true

The config file is created with defaults if it doesn't exist.

# IPC Protocol

The server communicates via MessagePack over stdin/stdout:

	{"id": "q1", "q": "mu_", "l": 20}

returns groups in key order:

	{"id": "q1", "g": [{"k": "mu_n", "n": "mu_n", "o": [{"scope": "m_global_parameters", "anchor": "#a782"}]}], "c": 1, "t": 12}

Index management requests:

	{"id": "a1", "action": "reload"}
	{"id": "a2", "action": "stats"}

When watching is enabled, changes in the data directory rebuild the index in
the background; a failed rebuild keeps the previous index.

# Command Line Flags

	-data string
	    Directory containing search data files (default from config)
	-config string
	    Path to a config file
	-d  Enable debug mode with detailed logging
	-c  Run in CLI mode instead of server mode
	-limit int
	    Number of groups to show in CLI mode
	-metrics string
	    Address for the Prometheus /metrics endpoint
	-no-watch
	    Disable reloading when data files change
	-reset-config
	    Rewrite the config file with defaults and exit
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bastiangx/symserve/internal/cli"
	"github.com/bastiangx/symserve/internal/logger"
	"github.com/bastiangx/symserve/internal/utils"
	"github.com/bastiangx/symserve/pkg/config"
	"github.com/bastiangx/symserve/pkg/metrics"
	"github.com/bastiangx/symserve/pkg/searchdata"
	"github.com/bastiangx/symserve/pkg/server"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

const (
	Version = "0.3.0-beta"
	AppName = "symserve"
	gh      = "https://github.com/bastiangx/symserve"
)

// sigHandler cancels background work and exits on SIGINT/SIGTERM.
// The IPC loop blocks on stdin, so exiting is the only way out of it.
func sigHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		cancel()
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		os.Exit(0)
	}()
}

// main wires config, loader, watcher and metrics, then hands off to the
// server or the CLI.
func main() {
	defaultConfig := config.DefaultConfig()

	showVersion := flag.Bool("version", false, "Show current version")
	dataDir := flag.String("data", "", "Directory containing the search data files")
	configFile := flag.String("config", "", "Path to config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	limit := flag.Int("limit", defaultConfig.CLI.DefaultLimit, "Number of groups to show in CLI mode")
	metricsAddr := flag.String("metrics", "", "Address to expose Prometheus metrics on (overrides config)")
	noWatch := flag.Bool("no-watch", false, "Disable reloading when data files change")
	resetConfig := flag.Bool("reset-config", false, "Rewrite the config file with defaults and exit")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger.Setup(*debugMode)

	if *resetConfig {
		if err := config.RebuildConfigFile(*configFile); err != nil {
			log.Fatalf("Failed to rebuild config: %v", err)
		}
		log.Printf("Config rewritten at %s", config.GetActiveConfigPath(*configFile))
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigHandler(cancel)

	appConfig, configPath, err := config.LoadConfigWithPriority(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Debugf("Using config file: (%s)", configPath)

	pathResolver, err := utils.NewPathResolver()
	if err != nil {
		log.Fatalf("Failed to initialize path resolver: %v", err)
	}
	log.Debug("Runtime", "info", pathResolver.GetRuntimeInfo())

	requestedDir := *dataDir
	if requestedDir == "" {
		requestedDir = appConfig.Data.Dir
	}
	resolvedDataDir, err := pathResolver.GetDataDir(requestedDir)
	if err != nil {
		log.Fatalf("Failed to resolve data dir: (%v)", err)
	}
	log.Debugf("Using data dir at: %s", resolvedDataDir)

	m := metrics.New()
	loader := searchdata.NewLoader(resolvedDataDir)
	srv := server.NewServer(appConfig, loader, m)
	if err := srv.Reload(ctx); err != nil {
		log.Fatalf("Failed to build index: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if appConfig.Data.Watch && !*noWatch {
		watcher, err := searchdata.NewWatcher(resolvedDataDir, appConfig.Data.Debounce(), func() {
			// Errors are logged by Reload; the old index stays live.
			_ = srv.Reload(gctx)
		})
		if err != nil {
			log.Warnf("File watching disabled: %v", err)
		} else {
			watcher.Start(gctx)
			defer watcher.Close()
		}
	}

	addr := appConfig.Server.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		g.Go(func() error { return m.Serve(gctx, addr) })
	}

	// CLI would be mainly used for testing and dbg purposes.
	if *cliMode {
		log.SetReportTimestamp(false)
		inputHandler := cli.NewInputHandler(srv.Index, *limit, appConfig.Server.MaxQuery, appConfig.CLI.Highlight, os.Stdout)
		if isatty.IsTerminal(os.Stdin.Fd()) {
			histPath, herr := pathResolver.GetConfigPath("cli_history")
			if herr != nil {
				log.Fatalf("Failed to resolve history path: %v", herr)
			}
			err = inputHandler.StartTerminal(histPath)
		} else {
			err = inputHandler.Start(os.Stdin)
		}
	} else {
		showStartupInfo(configPath, loader, srv)
		err = srv.Start(gctx)
	}
	cancel()
	if werr := g.Wait(); werr != nil {
		log.Errorf("Metrics endpoint: %v", werr)
	}
	if err != nil {
		log.Fatalf("%s stopped: %v", AppName, err)
	}
}

func printVersion() {
	banner := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    false,
		ReportTimestamp: false,
		Prefix:          "",
	})

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	banner.SetStyles(styles)

	banner.Print("")
	banner.Print("[ symserve ] Serves really fast symbol search!")
	banner.Print("", "version", Version)
	banner.Print("")
	banner.Print("use -h or --help to see available options")
	banner.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process.
// Written to stderr since stdout carries IPC frames.
func showStartupInfo(configPath string, loader *searchdata.Loader, srv *server.Server) {
	currentLevel := log.GetLevel()
	log.SetLevel(log.InfoLevel)

	st := srv.Index().Stats()
	ls := loader.GetStats()
	log.Infof("Version: %s", Version)
	log.Infof("Process ID: [ %d ]", os.Getpid())
	log.Infof("config: ( %s )", config.GetActiveConfigPath(configPath))
	log.Infof("data dir: ( %s ), %d files", loader.Dir(), ls.Files)
	log.Infof("index: %s keys, %s occurrences", utils.FormatCount(st.Keys), utils.FormatCount(st.Occurrences))
	log.Info("status: ready")

	log.SetLevel(currentLevel)
}
