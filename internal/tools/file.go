package tools

import (
	"context"
	"encoding/json"
	"mime"
	"path/filepath"
	"strings"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// FileName is the catalog name of the file tool.
const FileName = "file"

// File operations.
const (
	FileRead  = "read"
	FileWrite = "write"
	FileList  = "list"
)

type fileArgs struct {
	Operation string  `json:"operation" jsonschema:"enum=read,enum=write,enum=list" jsonschema_description:"The file operation to perform"`
	Path      string  `json:"path,omitempty" jsonschema_description:"Path relative to the workspace (required for read and write)"`
	Content   *string `json:"content,omitempty" jsonschema_description:"Content to write (required for write)"`
	Recursive bool    `json:"recursive,omitempty" jsonschema_description:"List subdirectories recursively"`
}

// FileWriteResult is returned by a successful write and reports the file
// as an artifact.
type FileWriteResult struct {
	FileResult
	Type string `json:"type"`
}

// Artifacts implements ArtifactProducer.
func (r FileWriteResult) Artifacts() []model.Artifact {
	return []model.Artifact{{Path: r.Path, Size: r.Size, Type: r.Type}}
}

// FileTool reads, writes and lists files in the sandbox.
type FileTool struct {
	sandbox Sandbox
	spec    model.ToolSpec
}

// NewFileTool creates the file tool.
func NewFileTool(sandbox Sandbox) *FileTool {
	return &FileTool{
		sandbox: sandbox,
		spec: newSpec[fileArgs](FileName,
			"Read, write or list files in the workspace. Use operation=write with path and content to save results."),
	}
}

func (t *FileTool) Spec() model.ToolSpec { return t.spec }

// Idempotent reports false for writes.
func (t *FileTool) Idempotent(raw json.RawMessage) bool {
	var args struct {
		Operation string `json:"operation"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return false
	}
	return args.Operation == FileRead || args.Operation == FileList
}

func (t *FileTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[fileArgs](FileName, raw)
	if err != nil {
		return nil, agenterr.Invalid(FileName, "%v", err)
	}
	if _, err := CleanPath(args.Path); err != nil {
		return nil, agenterr.Invalid(FileName, "%v", err)
	}

	switch args.Operation {
	case FileRead:
		if strings.TrimSpace(args.Path) == "" {
			return nil, agenterr.Invalid(FileName, "path is required for read")
		}
		res := t.sandbox.ReadFile(ctx, args.Path)
		if !res.Success {
			return nil, &agenterr.ExecutionError{Tool: FileName, Err: backendError(res.Error)}
		}
		return res, nil

	case FileWrite:
		if strings.TrimSpace(args.Path) == "" {
			return nil, agenterr.Invalid(FileName, "path is required for write")
		}
		if args.Content == nil {
			return nil, agenterr.Invalid(FileName, "content is required for write")
		}
		res := t.sandbox.WriteFile(ctx, args.Path, *args.Content)
		if !res.Success {
			return nil, &agenterr.ExecutionError{Tool: FileName, Err: backendError(res.Error)}
		}
		return FileWriteResult{FileResult: res, Type: fileType(res.Path)}, nil

	case FileList:
		dir := args.Path
		if dir == "" {
			dir = "."
		}
		res := t.sandbox.ListFiles(ctx, dir, args.Recursive)
		if !res.Success {
			return nil, &agenterr.ExecutionError{Tool: FileName, Err: backendError(res.Error)}
		}
		return res, nil
	}

	return nil, agenterr.Invalid(FileName, "unknown operation %q", args.Operation)
}

func fileType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "text/plain"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
