package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pewpew/pewpew/internal/jsonvalue"
	"github.com/pewpew/pewpew/internal/logging"
	"github.com/pewpew/pewpew/internal/plan"
	"github.com/pewpew/pewpew/internal/provider"
)

// parseLine decodes one file line into a jsonvalue.Value. A line that
// isn't valid JSON is treated as a bare string, so plain-text fixture
// files (one token per line, no quoting) work as file providers too.
func parseLine(line []byte) jsonvalue.Value {
	var v jsonvalue.Value
	if err := v.UnmarshalJSON(line); err == nil {
		return v
	}
	return jsonvalue.NewString(string(line))
}

// runFileReader feeds one line at a time from a file provider's backing
// file into its Provider, one JSON value per line, blocking (send:
// block semantics) so the reader naturally paces itself to consumer
// demand. When repeat is set, EOF rewinds to the start of the file
// instead of closing the provider, for an endless fixture-data mode.
func runFileReader(ctx context.Context, p *provider.Provider, cfg plan.ProviderConfig, log *slog.Logger) {
	defer p.Close()
	log = logging.ForProvider(log, cfg.Name)

	for {
		if err := feedFileOnce(ctx, p, cfg.FilePath, log); err != nil {
			log.Error("provider_file_read_error", "path", cfg.FilePath, "error", err)
			return
		}
		if !cfg.Repeat {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func feedFileOnce(ctx context.Context, p *provider.Provider, path string, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		v := parseLine(line)
		if _, err := p.Put(ctx, v, plan.SendBlock); err != nil {
			return nil // provider closed or context cancelled; not a read error
		}
	}
	return scanner.Err()
}
