// Package document renders legal markdown into documents by piping it
// through an external converter.
package document

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned when no converter command is set.
var ErrNotConfigured = errors.New("document compiler not configured")

// Compiler turns markdown plus template parameters into rendered bytes.
type Compiler interface {
	Compile(ctx context.Context, source string, params map[string]any) ([]byte, error)
}

// CommandCompiler runs Command with Args, writing the document to stdin and
// returning stdout.
type CommandCompiler struct {
	Command string
	Args    []string
	Timeout time.Duration
}

var _ Compiler = (*CommandCompiler)(nil)

// FrontMatter prefixes source with params as a YAML front matter block.
// Sources without params are returned unchanged.
func FrontMatter(source string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return source, nil
	}
	header, err := yaml.Marshal(params)
	if err != nil {
		return "", errors.Wrap(err, "encode params")
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n")
	b.WriteString(source)
	return b.String(), nil
}

// Compile runs the converter over source.
func (c *CommandCompiler) Compile(ctx context.Context, source string, params map[string]any) ([]byte, error) {
	if c == nil || c.Command == "" {
		return nil, ErrNotConfigured
	}
	doc, err := FrontMatter(source, params)
	if err != nil {
		return nil, err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(doc)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "%s: %s", c.Command, msg)
		}
		return nil, errors.Wrap(err, c.Command)
	}
	return stdout.Bytes(), nil
}
