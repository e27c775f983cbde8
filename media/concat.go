package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Concat joins inputs that share codec parameters with the concat demuxer.
// The list file is written into workDir.
func (e *Executor) Concat(ctx context.Context, workDir string, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no input files provided")
	}
	if output == "" {
		return errors.New("output path is required")
	}

	e.logger.Debug().Int("inputs", len(inputs)).Str("output", output).Msg("concatenating")

	listFile, err := WriteConcatList(workDir, inputs)
	if err != nil {
		return errors.Wrap(err, "create concat list")
	}
	defer os.Remove(listFile)

	return e.RunArgs(ctx, []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	})
}

// WriteConcatList writes an ffmpeg concat list and returns its path.
func WriteConcatList(dir string, inputs []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			os.Remove(f.Name())
			return "", err
		}
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs)); err != nil {
			os.Remove(f.Name())
			return "", err
		}
	}
	return f.Name(), nil
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
