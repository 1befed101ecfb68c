// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package phantom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"go.uber.org/zap"
)

// ResultFile is the document every analysis writes into its output folder.
const ResultFile = "result.json"

// ExecAnalyzer runs an external analysis program. The job is written to the
// program's stdin as JSON and each line it prints is forwarded to the job log.
type ExecAnalyzer struct {
	Command []string
	Logger  *zap.Logger
}

// RunAnalysis runs the program and checks that it produced result.json.
func (e *ExecAnalyzer) RunAnalysis(ctx context.Context, job Job) error {
	if len(e.Command) == 0 {
		return apperr.Validation("run analysis", "analysis command is empty")
	}
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	input, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = job.OutputDir
	cmd.Stdin = bytes.NewReader(input)
	out := &lineWriter{emit: job.log}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("Running phantom analysis",
		zap.String("phantom", job.Phantom),
		zap.Strings("command", e.Command),
		zap.String("output_dir", job.OutputDir))

	runErr := cmd.Run()
	out.Flush()
	if runErr != nil {
		return fmt.Errorf("analysis program %s failed: %w", e.Command[0], runErr)
	}

	if _, err := os.Stat(filepath.Join(job.OutputDir, ResultFile)); err != nil {
		return apperr.Validation("run analysis", "analysis finished without writing %s", ResultFile)
	}

	logger.Info("Phantom analysis completed",
		zap.String("phantom", job.Phantom),
		zap.String("output_dir", job.OutputDir))
	return nil
}

// lineWriter splits written bytes into lines and emits each one.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.send(line)
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.send(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) send(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line != "" && w.emit != nil {
		w.emit(line)
	}
}
