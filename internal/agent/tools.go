// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/report-engine/internal/webtext"
	"github.com/pdiddy/report-engine/internal/workspace"
)

// maxReadBytes caps file content returned to the model in one call.
const maxReadBytes = 200_000

// maxPageChars caps fetched page text returned to the model.
const maxPageChars = 40_000

// ObjectSchema builds a JSON schema object with string properties.
func ObjectSchema(required []string, props map[string]map[string]any) map[string]any {
	properties := make(map[string]any, len(props))
	for name, p := range props {
		properties[name] = p
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// StringProp describes a string argument.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// DecodeArgs unmarshals tool arguments into v. Empty arguments decode as {}.
func DecodeArgs(args json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// builtinTools returns the capability tools granted by req.
func builtinTools(req Request, fetcher *webtext.Fetcher) []Tool {
	var tools []Tool
	if req.Has(CapRead) {
		tools = append(tools, readFileTool(req.Scope), listFilesTool(req.Scope))
	}
	if req.Has(CapWrite) {
		tools = append(tools, writeFileTool(req.Scope, req.WriteDir))
	}
	if req.Has(CapWeb) && fetcher != nil {
		tools = append(tools, fetchURLTool(fetcher))
	}
	return tools
}

func readFileTool(scope string) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read a file from the session workspace. Paths are relative to the session directory, e.g. 01_draft/draft.md.",
		Parameters: ObjectSchema([]string{"path"}, map[string]map[string]any{
			"path": StringProp("session-relative file path"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			full, err := workspace.ResolveWithin(scope, args.Path)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", args.Path, err)
			}
			if len(data) > maxReadBytes {
				return webtext.Clip(string(data), maxReadBytes) + "\n[truncated]", nil
			}
			return string(data), nil
		},
	}
}

func listFilesTool(scope string) Tool {
	return Tool{
		Name:        "list_files",
		Description: "List files under a directory of the session workspace. Use \".\" for the session root.",
		Parameters: ObjectSchema([]string{"dir"}, map[string]map[string]any{
			"dir": StringProp("session-relative directory"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Dir string `json:"dir"`
			}
			if err := DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			if args.Dir == "" {
				args.Dir = "."
			}
			full, err := workspace.ResolveWithin(scope, args.Dir)
			if err != nil {
				return "", err
			}
			var files []string
			err = filepath.WalkDir(full, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
					return nil
				}
				rel, err := filepath.Rel(scope, path)
				if err != nil {
					return err
				}
				files = append(files, filepath.ToSlash(rel))
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("listing %s: %w", args.Dir, err)
			}
			sort.Strings(files)
			if len(files) == 0 {
				return "(no files)", nil
			}
			return strings.Join(files, "\n"), nil
		},
	}
}

func writeFileTool(scope, writeDir string) Tool {
	return Tool{
		Name:        "write_file",
		Description: fmt.Sprintf("Write a file into %s/. Give only the file name; existing files are replaced.", writeDir),
		Parameters: ObjectSchema([]string{"name", "content"}, map[string]map[string]any{
			"name":    StringProp("file name, e.g. draft.md"),
			"content": StringProp("full file content"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Name    string `json:"name"`
				Content string `json:"content"`
			}
			if err := DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			name := filepath.Base(filepath.Clean(args.Name))
			if name == "." || name == string(filepath.Separator) || name != args.Name {
				return "", fmt.Errorf("name %q must be a plain file name", args.Name)
			}
			dir, err := workspace.ResolveWithin(scope, writeDir)
			if err != nil {
				return "", err
			}
			if err := workspace.WriteFileAtomic(filepath.Join(dir, name), []byte(args.Content)); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %s/%s (%d bytes)", writeDir, name, len(args.Content)), nil
		},
	}
}

func fetchURLTool(fetcher *webtext.Fetcher) Tool {
	return Tool{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its title and readable text.",
		Parameters: ObjectSchema([]string{"url"}, map[string]map[string]any{
			"url": StringProp("absolute http(s) URL"),
		}),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				URL string `json:"url"`
			}
			if err := DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			if !strings.HasPrefix(args.URL, "http://") && !strings.HasPrefix(args.URL, "https://") {
				return "", fmt.Errorf("unsupported URL %q", args.URL)
			}
			page, err := fetcher.Fetch(ctx, args.URL)
			if err != nil {
				return "", err
			}
			text := page.Text
			if len(text) > maxPageChars {
				text = webtext.Clip(text, maxPageChars) + "\n[truncated]"
			}
			return fmt.Sprintf("Title: %s\nURL: %s\n\n%s", page.Title, page.URL, text), nil
		},
	}
}
