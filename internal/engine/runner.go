package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/adapt"
	"github.com/xxllxllxlllx/live-graph-system/internal/config"
	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
)

const stderrTailBytes = 512

func (s *Supervisor) runToc(ctx context.Context, seed string) error {
	ec, ok := s.cfg.Engines[string(SlotToc)]
	if !ok {
		return fmt.Errorf("engine %q not configured", SlotToc)
	}

	args := substituteArgs(ec.Args, map[string]string{
		"url":        seed,
		"socks_host": s.cfg.Tor.SocksHost,
		"socks_port": strconv.Itoa(s.cfg.Tor.SocksPort),
	})
	if err := s.execute(ctx, SlotToc, ec, args, nil); err != nil {
		return err
	}

	data, artifact, err := s.consumeArtifact(ec, "*.json", map[string]string{"url": seed})
	if err != nil {
		return err
	}
	tree, err := adapt.RecursiveTree(data)
	if err != nil {
		return fmt.Errorf("adapt toc output: %w", err)
	}
	if tree.Name == "" {
		tree.Name = "TOC Crawl: " + seed
		tree.Description = "TOC crawler results from " + seed
		tree.URL = seed
	}
	return s.publishAndCleanup(tree, artifact)
}

func (s *Supervisor) runOnionSearch(ctx context.Context, opts OnionSearchOptions) error {
	ec, ok := s.cfg.Engines[string(SlotOnionSearch)]
	if !ok {
		return fmt.Errorf("engine %q not configured", SlotOnionSearch)
	}

	args := substituteArgs(ec.Args, map[string]string{
		"query": opts.Query,
		"limit": strconv.Itoa(opts.Limit),
	})
	if len(opts.Engines) > 0 {
		args = append(args, "--engines")
		args = append(args, opts.Engines...)
	}
	if opts.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(opts.Limit))
	}
	if err := s.execute(ctx, SlotOnionSearch, ec, args, nil); err != nil {
		return err
	}

	data, artifact, err := s.consumeArtifact(ec, "*.csv", map[string]string{"query": opts.Query})
	if err != nil {
		return err
	}
	tree, err := adapt.OnionSearchCSV(bytes.NewReader(data), opts.Query)
	if err != nil {
		return fmt.Errorf("adapt onionsearch output: %w", err)
	}
	return s.publishAndCleanup(tree, artifact)
}

func (s *Supervisor) runTorBot(ctx context.Context, opts TorBotOptions) error {
	ec, ok := s.cfg.Engines[string(SlotTorBot)]
	if !ok {
		return fmt.Errorf("engine %q not configured", SlotTorBot)
	}

	args := substituteArgs(ec.Args, nil)
	args = append(args,
		"-u", opts.URL,
		"--depth", strconv.Itoa(opts.Depth),
		"--save", opts.OutputFormat,
		"--quiet")
	if opts.InfoMode {
		args = append(args, "--info")
	}
	if opts.DisableSocks5 {
		args = append(args, "--disable-socks5")
	} else {
		args = append(args, "--host", opts.SocksHost, "--port", strconv.Itoa(opts.SocksPort))
	}

	s.mu.Lock()
	progress := s.progress
	s.mu.Unlock()

	if err := s.execute(ctx, SlotTorBot, ec, args, progress.Observe); err != nil {
		return err
	}

	data, artifact, err := s.consumeArtifact(ec, "*.json", nil)
	if err != nil {
		return err
	}
	tree, err := adapt.TorBotJSON(data, opts.URL)
	if err != nil {
		return fmt.Errorf("adapt torbot output: %w", err)
	}
	return s.publishAndCleanup(tree, artifact)
}

// execute runs one engine subprocess under the slot's timeout. stdout is
// scanned line by line into lineFn when provided, otherwise captured for
// debug logging. Cancellation interrupts the process and escalates to a
// kill after the drain grace.
func (s *Supervisor) execute(ctx context.Context, slot Slot, ec config.EngineConfig, args []string, lineFn func(string)) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EngineTimeout(string(slot)))
	defer cancel()

	cmd := exec.CommandContext(ctx, ec.Binary, args...)
	cmd.Dir = ec.Workdir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = drainGrace

	s.logger.Info("running engine subprocess",
		zap.String("slot", string(slot)),
		zap.String("binary", ec.Binary),
		zap.Strings("args", args),
		zap.String("workdir", ec.Workdir))

	var runErr error
	if lineFn != nil {
		pipe, perr := cmd.StdoutPipe()
		if perr != nil {
			return fmt.Errorf("stdout pipe: %w", perr)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", ec.Binary, err)
		}
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineFn(scanner.Text())
		}
		runErr = cmd.Wait()
	} else {
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		runErr = cmd.Run()
		if stdout.Len() > 0 {
			s.logger.Debug("engine stdout",
				zap.String("slot", string(slot)),
				zap.Int("bytes", stdout.Len()))
		}
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s", ec.Binary, s.cfg.EngineTimeout(string(slot)))
		}
		if tail := tailOf(stderr.String()); tail != "" {
			return fmt.Errorf("%s: %w: %s", ec.Binary, runErr, tail)
		}
		return fmt.Errorf("%s: %w", ec.Binary, runErr)
	}
	return nil
}

// consumeArtifact locates and reads the engine's output file. A
// configured artifact path wins; otherwise the newest file matching the
// fallback glob in the working directory is taken.
func (s *Supervisor) consumeArtifact(ec config.EngineConfig, fallbackGlob string, vars map[string]string) ([]byte, string, error) {
	var path string
	if ec.Artifact != "" {
		path = substituteArg(ec.Artifact, vars)
		if !filepath.IsAbs(path) {
			path = filepath.Join(ec.Workdir, path)
		}
	} else {
		newest, err := newestMatch(ec.Workdir, fallbackGlob)
		if err != nil {
			return nil, "", err
		}
		path = newest
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	return data, path, nil
}

// publishAndCleanup publishes the adapted tree and removes the consumed
// artifact.
func (s *Supervisor) publishAndCleanup(tree *graph.Node, artifact string) error {
	if err := s.publisher.Publish(tree); err != nil {
		return fmt.Errorf("publish engine results: %w", err)
	}
	if err := os.Remove(artifact); err != nil {
		s.logger.Warn("remove artifact", zap.String("path", artifact), zap.Error(err))
	}
	return nil
}

// newestMatch returns the most recently modified file matching the glob.
func newestMatch(dir, glob string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	var newest string
	var newestMod int64
	for _, match := range matches {
		info, serr := os.Stat(match)
		if serr != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = match
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no artifact matching %q in %s", glob, dir)
	}
	return newest, nil
}

func substituteArgs(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = substituteArg(arg, vars)
	}
	return out
}

func substituteArg(arg string, vars map[string]string) string {
	for key, value := range vars {
		arg = strings.ReplaceAll(arg, "{"+key+"}", value)
	}
	return arg
}

func tailOf(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > stderrTailBytes {
		text = text[len(text)-stderrTailBytes:]
	}
	return text
}
