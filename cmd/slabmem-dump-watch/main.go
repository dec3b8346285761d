// Command slabmem-dump-watch tails a directory of allocator diagnostic dump
// files, printing each new one as it is written and flagging any whose
// declared format version is incompatible with this tool's.
//
// A dump file is produced by a host process calling the allocator's
// DumpHeap/DumpGlobalCache/DumpLargeObjectTable operations and writing their
// output to a file under the watched directory; its first line must be
// "slabmem-dump <semver>". This tool never touches the allocator itself —
// it only watches the filesystem.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/slabmem/internal/cli"
)

// formatVersion is the dump format this build understands. A dump whose
// major version differs is flagged as incompatible; a differing minor or
// patch is accepted.
const formatVersion = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		jsonOutput  = flag.Bool("json", false, "output version in JSON format")
		dir         = flag.String("dir", "", "directory to watch for dump files (overrides the config file's work_dir)")
		once        = flag.Bool("once", false, "print every existing dump file once, then exit, instead of watching")
		debug       = flag.Bool("debug", false, "enable debug logging")
		configPath  = flag.String("config", "", "path to a JSON config file (verbose, debug, work_dir)")
		writeConfig = flag.String("write-config", "", "write the resolved config to this path and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Watches a directory for allocator diagnostic dump files and prints each one.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		cli.PrintVersion("slabmem-dump-watch", *jsonOutput)
		os.Exit(0)
	}

	cfg, err := cli.LoadConfig(*configPath)
	if err != nil {
		cli.ExitWithError("%v", err)
	}
	if *dir != "" {
		cfg.WorkDir = *dir
	}
	cfg.Debug = cfg.Debug || *debug

	logger := cli.NewLogger(true, cfg.Debug)
	logger.Debug("resolved config: work_dir=%s debug=%v config_file=%s", cfg.WorkDir, cfg.Debug, *configPath)

	if *writeConfig != "" {
		cli.HandleError(cfg.SaveConfig(*writeConfig), logger)
		return
	}

	if *once {
		entries, err := os.ReadDir(cfg.WorkDir)
		cli.HandleError(err, logger)
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			printDump(logger, filepath.Join(cfg.WorkDir, e.Name()))
		}
		return
	}

	cli.HandleError(watch(cfg.WorkDir, logger), logger)
}

func watch(dir string, logger *cli.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	logger.Info("watching %s for dump files", dir)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			printDump(logger, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error: %v", err)
		}
	}
}

func printDump(logger *cli.Logger, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("%s: %v", path, err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		logger.Warn("%s: empty dump file", path)
		return
	}

	header := scanner.Text()
	version, ok := parseHeader(header)
	if !ok {
		logger.Warn("%s: missing or malformed \"slabmem-dump <version>\" header", path)
		return
	}

	if !compatible(version) {
		logger.Warn("%s: dump format %s is incompatible with this tool's %s", path, version, formatVersion)
		return
	}

	fmt.Printf("=== %s (format %s) ===\n", path, version)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("%s: %v", path, err)
	}
}

func parseHeader(line string) (string, bool) {
	const prefix = "slabmem-dump "
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
}

func compatible(dumpVersion string) bool {
	want, err := semver.NewVersion(formatVersion)
	if err != nil {
		return false
	}
	got, err := semver.NewVersion(dumpVersion)
	if err != nil {
		return false
	}
	return got.Major() == want.Major()
}
