package cover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// ToolName is the MCP tool invoked for each cover.
const ToolName = "generate_cover"

// ErrSessionUnavailable wraps failures to start the tool server.
var ErrSessionUnavailable = errors.New("cover session unavailable")

// ErrClosed is returned by Generate after Close.
var ErrClosed = errors.New("cover generator closed")

// Config describes the tool server process.
type Config struct {
	Command string
	Args    []string
	Version string
}

// Generator owns one lazily started MCP session and reuses it for every
// cover in a run.
type Generator struct {
	cfg          Config
	logger       *zap.Logger
	newTransport func() mcp.Transport

	mu      sync.Mutex
	session *mcp.ClientSession
	closed  bool
}

// NewGenerator builds a Generator. No process is started until Generate.
func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if cfg.Command == "" {
		cfg.Command = "python"
		cfg.Args = []string{"-m", "generate_cover_mcp"}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{cfg: cfg, logger: logger.Named("cover")}
	g.newTransport = func() mcp.Transport {
		// #nosec G204 -- command comes from operator configuration.
		return &mcp.CommandTransport{Command: exec.Command(g.cfg.Command, g.cfg.Args...)}
	}
	return g
}

func (g *Generator) acquire(ctx context.Context) (*mcp.ClientSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}
	if g.session != nil {
		return g.session, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "linkpub", Version: g.cfg.Version}, nil)
	session, err := client.Connect(ctx, g.newTransport(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	g.logger.Debug("cover session started", zap.String("command", g.cfg.Command))
	g.session = session
	return session, nil
}

// Generate renders a cover to output and returns its path.
func (g *Generator) Generate(ctx context.Context, title, subtitle, style, output string) (string, error) {
	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create cover dir: %w", err)
		}
	}

	session, err := g.acquire(ctx)
	if err != nil {
		return "", err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: ToolName,
		Arguments: map[string]any{
			"title":    title,
			"subtitle": subtitle,
			"style":    style,
			"output":   output,
		},
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", ToolName, err)
	}
	if res.IsError {
		return "", fmt.Errorf("%s reported failure: %s", ToolName, contentText(res))
	}

	g.logger.Info("cover generated", zap.String("path", output), zap.String("style", style))
	return output, nil
}

// Close releases the session. Later calls are no-ops.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	if err != nil {
		return fmt.Errorf("close cover session: %w", err)
	}
	return nil
}

func contentText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "no detail"
	}
	return strings.Join(parts, "; ")
}
