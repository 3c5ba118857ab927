package counsel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// Tool is a capability the model may call during a completion.
type Tool interface {
	// Name is the function name shown to the model.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Parameters is the JSON schema of the call arguments.
	Parameters() *jsonschema.Schema

	// Call runs the tool with JSON arguments and returns text for the model.
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// funcTool is a Tool whose arguments decode into In.
type funcTool[In any] struct {
	name        string
	description string
	schema      *jsonschema.Schema
	fn          func(ctx context.Context, in In) (string, error)
}

// NewTool creates a tool from a typed function. The parameter schema is
// reflected from In; use jsonschema struct tags to describe fields.
func NewTool[In any](name, description string, fn func(ctx context.Context, in In) (string, error)) Tool {
	return &funcTool[In]{
		name:        name,
		description: description,
		schema:      reflectSchema(new(In)),
		fn:          fn,
	}
}

func reflectSchema(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	return schema
}

func (t *funcTool[In]) Name() string                   { return t.name }
func (t *funcTool[In]) Description() string            { return t.description }
func (t *funcTool[In]) Parameters() *jsonschema.Schema { return t.schema }

func (t *funcTool[In]) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in In
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid %s arguments: %w", t.name, err)
		}
	}
	return t.fn(ctx, in)
}

// ReadFileInput holds readFile arguments.
type ReadFileInput struct {
	FileName string `json:"fileName" jsonschema:"description=Name of the file to read"`
}

// WriteFileInput holds writeFile arguments.
type WriteFileInput struct {
	FileName string `json:"fileName" jsonschema:"description=Name of the file to write"`
	Content  string `json:"content" jsonschema:"description=Content to write to the file"`
}

// ErrOutsideSandbox is returned when a file tool is asked for a path outside
// its base directory.
var ErrOutsideSandbox = errors.New("path escapes tool directory")

// FileTools returns readFile and writeFile tools confined to baseDir.
func FileTools(baseDir string) []Tool {
	return []Tool{
		NewTool("readFile", "Read content from a file", func(_ context.Context, in ReadFileInput) (string, error) {
			path, err := sandboxPath(baseDir, in.FileName)
			if err != nil {
				return "", err
			}
			b, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("failed to read %s: %w", in.FileName, err)
			}
			return string(b), nil
		}),
		NewTool("writeFile", "Write content to a file", func(_ context.Context, in WriteFileInput) (string, error) {
			path, err := sandboxPath(baseDir, in.FileName)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", in.FileName, err)
			}
			return "File written successfully to: " + path, nil
		}),
	}
}

// sandboxPath resolves name inside baseDir and rejects anything outside it.
func sandboxPath(baseDir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("fileName is required")
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, name)
	if path != base && !strings.HasPrefix(path, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, name)
	}
	return path, nil
}

// DateTimeInput holds getCurrentTime arguments.
type DateTimeInput struct {
	TimeZone string `json:"timeZone,omitempty" jsonschema:"description=IANA time zone such as Asia/Shanghai; defaults to local time"`
}

// DateTimeTool returns a tool reporting the current time.
func DateTimeTool(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return NewTool("getCurrentTime", "Get the current date and time", func(_ context.Context, in DateTimeInput) (string, error) {
		t := now()
		if in.TimeZone != "" {
			loc, err := time.LoadLocation(in.TimeZone)
			if err != nil {
				return "", fmt.Errorf("unknown time zone %q: %w", in.TimeZone, err)
			}
			t = t.In(loc)
		}
		return t.Format("2006-01-02 15:04:05 Mon MST"), nil
	})
}

// ToolByName returns the tool with the given name.
func ToolByName(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
