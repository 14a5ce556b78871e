package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"modelhub/internal/config"
	"modelhub/internal/events"
	"modelhub/internal/hub"
	"modelhub/internal/logging"
	"modelhub/internal/provider"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) <= 1 {
		printUsage()
		return
	}

	command := strings.ToLower(os.Args[1])
	if handler, ok := commandHandlers()[command]; ok {
		handler(os.Args[2:])
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	printUsage()
	os.Exit(1)
}

func commandHandlers() map[string]func(args []string) {
	return map[string]func(args []string){
		"status":      runStatus,
		"providers":   runStatus, // Alias for status
		"scan":        runScan,
		"suggestions": runSuggestions,
		"models":      runModels,
		"download":    runDownload,
		"cancel":      runCancel,
		"delete":      runDelete,
		"usage":       runUsage,
		"evict":       runEvict,
		"use":         runUse,
		"generate":    runGenerate,
		"config":      runConfig,
		"version":     runVersion,
		"help":        func([]string) { printUsage() },
		"--help":      func([]string) { printUsage() },
		"-h":          func([]string) { printUsage() },
	}
}

func runVersion([]string) {
	fmt.Printf("modelhub version %s\n", version)
}

// newService loads configuration and wires the hub. The returned
// cleanup stops background work.
func newService() (*hub.Service, func()) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Could not load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging)

	configPath, err := config.UserConfigPath()
	if err != nil {
		configPath = config.SystemConfigPath()
	}

	svc, err := hub.New(cfg, configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return svc, func() {
		svc.Close()
		logger.Close()
	}
}

func buildLogger(cfg config.LoggingConfig) *logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File != "" {
		if logger, err := logging.NewFileLogger(level, cfg.File); err == nil {
			return logger
		}
	}
	return logging.NewLogger(level)
}

// providerArg interprets an optional trailing provider argument
func providerArg(args []string, index int) provider.Type {
	if len(args) > index {
		return provider.Type(args[index])
	}
	return ""
}

func runStatus([]string) {
	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.ScanForProviders(ctx)

	fmt.Println("=== Providers ===")
	fmt.Println()

	infos := svc.AllProviders()
	if len(infos) == 0 {
		fmt.Println("No providers configured. Run 'modelhub scan' to look for local backends.")
		return
	}

	for _, info := range infos {
		marker := " "
		if info.Active {
			marker = "*"
		}
		state := "✗ unreachable"
		if info.Availability.Available {
			state = "✓ available"
			if info.Availability.Version != "" {
				state += " (" + info.Availability.Version + ")"
			}
		}
		endpoint := info.Config.Endpoint
		if endpoint == "" {
			endpoint = info.Descriptor.DefaultEndpoint
		}
		fmt.Printf("%s %-22s %-14s %s\n", marker, info.Descriptor.Type, state, endpoint)
	}
	fmt.Println()
	fmt.Println("* = active provider")
}

func runScan([]string) {
	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Scanning for providers...")
	if !svc.ScanForProviders(ctx) {
		fmt.Println("A scan is already running.")
		return
	}

	for _, info := range svc.AllProviders() {
		if info.Availability.Available {
			fmt.Printf("  ✓ %s\n", info.Descriptor.Type)
		} else {
			fmt.Printf("  ✗ %s (%s)\n", info.Descriptor.Type, info.Availability.Error)
		}
	}

	suggestions := svc.DiscoverySuggestions()
	if len(suggestions) > 0 {
		fmt.Println()
		fmt.Println("Unconfigured backends found:")
		for _, s := range suggestions {
			fmt.Printf("  %s at %s\n", s.Descriptor.Type, s.Descriptor.DefaultEndpoint)
		}
		fmt.Println("Configure one with 'modelhub use <provider>'.")
	}
}

func runSuggestions([]string) {
	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.ScanForProviders(ctx)

	suggestions := svc.DiscoverySuggestions()
	if len(suggestions) == 0 {
		fmt.Println("No unconfigured backends answered on their default endpoints.")
		return
	}

	fmt.Println("=== Discovery Suggestions ===")
	for _, s := range suggestions {
		fmt.Printf("  %-22s %s\n", s.Descriptor.Type, s.Descriptor.DefaultEndpoint)
		if s.Descriptor.Description != "" {
			fmt.Printf("    %s\n", s.Descriptor.Description)
		}
	}
}

func runModels(args []string) {
	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	downloadedOnly := false
	var providerType provider.Type
	for _, arg := range args {
		if arg == "--downloaded" {
			downloadedOnly = true
			continue
		}
		providerType = provider.Type(arg)
	}

	var models []provider.ModelDescriptor
	var err error
	if downloadedOnly {
		models, err = svc.DownloadedModels(ctx, providerType)
	} else {
		models, err = svc.AvailableModels(ctx, providerType)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(models) == 0 {
		fmt.Println("No models found.")
		return
	}

	for _, m := range models {
		marker := " "
		if m.Downloaded {
			marker = "✓"
		}
		fmt.Printf("%s %-40s %10s  %s\n", marker, m.ID, formatBytes(m.SizeBytes), m.Name)
	}
}

func runDownload(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelhub download <model-id> [provider]")
		os.Exit(1)
	}
	modelID := args[0]
	providerType := providerArg(args, 1)

	svc, done := newService()
	defer done()

	sub := svc.Subscribe(256)
	defer svc.Unsubscribe(sub.ID)

	if _, err := svc.DownloadModel(context.Background(), modelID, providerType); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Downloading %s...\n", modelID)
	for event := range sub.C {
		if event.ModelID != modelID {
			continue
		}
		switch event.Type {
		case events.DownloadProgress:
			p := event.Progress
			fmt.Printf("\r  %5.1f%%  %s / %s  (%s/s, ETA %ds)   ",
				p.Percent,
				formatBytes(p.BytesDownloaded), formatBytes(p.TotalBytes),
				formatBytes(p.BytesPerSecond), p.ETASeconds)
		case events.DownloadCompleted:
			fmt.Println()
			fmt.Printf("✓ %s downloaded\n", modelID)
			return
		case events.DownloadFailed:
			fmt.Println()
			fmt.Fprintf(os.Stderr, "✗ Download failed: %s\n", event.Error)
			os.Exit(1)
		}
	}
}

func runCancel(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelhub cancel <model-id> [provider]")
		os.Exit(1)
	}

	svc, done := newService()
	defer done()

	if err := svc.CancelDownload(args[0], providerArg(args, 1)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cancelled %s\n", args[0])
}

func runDelete(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelhub delete <model-id> [provider]")
		os.Exit(1)
	}

	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := svc.DeleteModel(ctx, args[0], providerArg(args, 1)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", args[0])
}

func runUsage([]string) {
	svc, done := newService()
	defer done()

	usage := svc.DiskUsage()

	fmt.Println("=== Disk Usage ===")
	fmt.Printf("  Used:      %s\n", formatBytes(usage.UsedBytes))
	if usage.LimitBytes > 0 {
		fmt.Printf("  Limit:     %s\n", formatBytes(usage.LimitBytes))
		fmt.Printf("  Available: %s\n", formatBytes(usage.AvailableBytes))
	} else {
		fmt.Println("  Limit:     unlimited")
	}
	fmt.Printf("  Models:    %d\n", usage.ModelCount)
}

func runEvict([]string) {
	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	evicted, err := svc.EvictOldest(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Evicted %s\n", evicted)
}

func runUse(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelhub use <provider>")
		os.Exit(1)
	}

	svc, done := newService()
	defer done()

	t := provider.Type(args[0])
	if err := svc.SetActiveProvider(t); err != nil {
		if provider.KindOf(err) == provider.KindUnknownProvider {
			fmt.Fprintf(os.Stderr, "Error: provider %q is not configured.\n", args[0])
			fmt.Fprintln(os.Stderr, "Configure it in the config file or check 'modelhub suggestions'.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Active provider is now %s\n", t)
}

func runGenerate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: modelhub generate <prompt...>")
		os.Exit(1)
	}
	prompt := strings.Join(args, " ")

	svc, done := newService()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Generation routes to the active provider; probe it first so an
	// unreachable backend fails fast instead of hanging.
	svc.ScanForProviders(ctx)

	resp, err := svc.GenerateText(ctx, prompt, "", "", 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Text)
}

func runConfig([]string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Could not load configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Configuration ===")
	fmt.Printf("  Enabled:          %v\n", cfg.Enabled)
	fmt.Printf("  Auto-switch:      %v\n", cfg.AutoSwitch)
	fmt.Printf("  Models directory: %s\n", cfg.ModelsDirectory)
	fmt.Printf("  Disk limit:       %s\n", formatBytes(cfg.MaxDiskSpaceBytes))
	fmt.Printf("  Active provider:  %s\n", cfg.ActiveProvider)
	fmt.Printf("  Scan interval:    %ds\n", cfg.Discovery.IntervalSeconds)
	fmt.Printf("  Max downloads:    %d\n", cfg.Downloads.MaxConcurrent)
	fmt.Println()
	fmt.Println("Providers:")
	if len(cfg.Providers) == 0 {
		fmt.Println("  (none configured)")
	}
	for name, pc := range cfg.Providers {
		fmt.Printf("  %-22s %s\n", name, pc.Endpoint)
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func printUsage() {
	fmt.Println(`modelhub - local model provider hub

Usage: modelhub <command> [arguments]

Providers:
  status                     Show configured providers and availability
  scan                       Probe providers and default endpoints now
  suggestions                Show unconfigured backends that responded
  use <provider>             Select the active provider
  config                     Show the effective configuration

Models:
  models [provider]          List models offered by a provider
  models --downloaded        List models already on disk
  download <model> [prov]    Download a model with live progress
  cancel <model> [prov]      Cancel a running download
  delete <model> [prov]      Delete a downloaded model
  usage                      Show disk usage against the quota
  evict                      Remove the oldest downloaded model

Generation:
  generate <prompt...>       Run a completion on the active provider

Other:
  version                    Show version
  help                       Show this help`)
}
