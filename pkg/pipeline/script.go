package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agentos-io/agentcore/pkg/envelope"
	"github.com/agentos-io/agentcore/pkg/version"
)

// WriteReplayScript writes a shell script that reproduces the episode's
// report offline by re-executing the saved plan with the local skill
// primitives. Returns the script path and its body.
func WriteReplayScript(dir, traceID, outPath string) (string, string, error) {
	if dir == "" {
		dir = "episodes"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create script dir: %w", err)
	}
	body := fmt.Sprintf(`#!/bin/sh
# Offline reproduction for trace %s.
# Re-executes the saved plan with the local skill primitives; no network.
exec %s replay --trace %s --rerun --out %q
`, traceID, version.AppName, traceID, outPath)
	path := filepath.Join(dir, traceID+"_replay.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return "", "", fmt.Errorf("write script: %w", err)
	}
	return path, body, nil
}

// emitScript writes the reproduction script and records it on the already
// finalized episode. Script problems are logged, not fatal: the run itself
// has already succeeded or failed on its own terms.
func (p *Pipeline) emitScript(logger *slog.Logger, traceID, outPath string) {
	path, body, err := WriteReplayScript(p.opts.ScriptDir, traceID, outPath)
	if err != nil {
		logger.Warn("reproduction script not written", "error", err)
		return
	}
	doc, err := envelope.New(traceID, envelope.TypeArtifactScript, map[string]any{"path": path, "body": body}).Doc()
	if err != nil {
		logger.Warn("reproduction script event not built", "error", err)
		return
	}
	if err := p.box.AppendToFinalized(traceID, doc); err != nil {
		logger.Warn("reproduction script event not recorded", "error", err)
		return
	}
	logger.Info("reproduction script written", "path", path)
}
