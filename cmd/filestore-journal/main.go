// Package main is the entry point for filestore-journal, the journal export tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stjepano/filestore/internal/journal"
)

const defaultDBPath = "./data/journal.db"

// resolveDBPath reads journal.path from the server config without applying
// the rest of its defaults.
func resolveDBPath(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	section, _ := raw["journal"].(map[string]any)
	if section == nil {
		return defaultDBPath, nil
	}
	path, _ := section["path"].(string)
	if path == "" {
		return defaultDBPath, nil
	}
	return path, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: filestore-journal export [flags]")
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "export":
		os.Exit(runExport(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\nUsage: filestore-journal export [flags]\n", command)
		os.Exit(1)
	}
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "filestore.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite journal path (overrides config)")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	ops := fs.String("operations", "", "Comma-separated operations to include")
	bucket := fs.String("bucket", "", "Only include entries for this bucket")
	since := fs.String("since", "", "Only include entries at or after this RFC 3339 time")
	fs.Parse(args)

	db := *dbPath
	if db == "" {
		var err error
		db, err = resolveDBPath(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			return 1
		}
	}

	opts := &journal.ExportOptions{Bucket: *bucket}
	if *ops != "" {
		for _, op := range strings.Split(*ops, ",") {
			opts.Operations = append(opts.Operations, journal.Operation(strings.TrimSpace(op)))
		}
	}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid -since: %v\n", err)
			return 1
		}
		opts.Since = t
	}

	result, err := journal.ExportFile(context.Background(), db, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		return 1
	}

	if *output == "-" {
		fmt.Println(string(result))
	} else {
		if err := os.WriteFile(*output, append(result, '\n'), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)
	}
	return 0
}
