package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/convert"
	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/fetch"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/markdown"
	"github.com/dgallion1/apiingest/internal/render"
	"github.com/dgallion1/apiingest/internal/resolver"
	"github.com/dgallion1/apiingest/internal/tools"
)

// errCheckFailed makes check exit non-zero after it has printed its report.
var errCheckFailed = errors.New("check failed")

// options holds the flags shared by every subcommand.
type options struct {
	format            string
	maxDepth          int
	maxNodes          int
	maxFragmentTokens int
	descriptionLimit  int
	allowRemote       bool
	noLocalRefs       bool
	refRoot           string
	timeout           time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "apiingest",
		Short:         "Convert OpenAPI and Swagger documents into LLM-ready artifacts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.format, "format", "", "Input syntax: json or yaml (default: from extension, then content)")
	pf.IntVar(&opts.maxDepth, "max-depth", resolver.DefaultMaxDepth, "Maximum $ref nesting depth")
	pf.IntVar(&opts.maxNodes, "max-nodes", resolver.DefaultMaxNodes, "Maximum nodes produced by reference expansion")
	pf.IntVar(&opts.maxFragmentTokens, "max-fragment-tokens", chunker.DefaultMaxFragmentTokens, "Token ceiling for one chunk")
	pf.IntVar(&opts.descriptionLimit, "description-limit", 0, "Truncate descriptions to this many characters (0 keeps them whole)")
	pf.BoolVar(&opts.allowRemote, "allow-remote", false, "Follow http(s) external references")
	pf.BoolVar(&opts.noLocalRefs, "no-local-refs", false, "Do not follow file references")
	pf.StringVar(&opts.refRoot, "ref-root", "", "Directory file references may read from (default: the input's directory)")
	pf.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Conversion timeout")

	root.AddCommand(newConvertCmd(opts))
	root.AddCommand(newChunksCmd(opts))
	root.AddCommand(newToolsCmd(opts))
	root.AddCommand(newOutlineCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	return root
}

func newConvertCmd(opts *options) *cobra.Command {
	var out string
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Render the document as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, art, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			reportDiagnostics(cmd.ErrOrStderr(), res.Diagnostics)
			content := []byte(art.Markdown)
			if asHTML {
				if content, err = render.Page(res.API.Info.Title, art.Markdown); err != nil {
					return err
				}
			}
			return writeOutput(cmd, out, content)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&asHTML, "html", false, "Render a standalone HTML page instead of Markdown")
	return cmd
}

func newChunksCmd(opts *options) *cobra.Command {
	var out, output, kind, key string
	cmd := &cobra.Command{
		Use:   "chunks FILE",
		Short: "Print the chunk map, or one fragment with --key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, art, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			if key != "" {
				if kind == "" {
					kind = guessKind(art.Chunks, key)
				}
				text, ok := art.Chunks.Get(kind, key)
				if !ok {
					return fmt.Errorf("no %s fragment %q", kind, key)
				}
				return writeOutput(cmd, out, []byte(text))
			}
			data, err := encode(art.Chunks, output)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&output, "output", "json", "Output encoding: json or yaml")
	cmd.Flags().StringVar(&kind, "kind", "", "Fragment kind: tag, endpoint or schema (default: inferred from the key)")
	cmd.Flags().StringVar(&key, "key", "", `Fragment key, e.g. "GET /pets" or "Pet"`)
	return cmd
}

func newToolsCmd(opts *options) *cobra.Command {
	var out, output string
	cmd := &cobra.Command{
		Use:   "tools FILE",
		Short: "Print one tool descriptor per operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, art, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			descs := art.Tools
			if descs == nil {
				descs = []tools.Descriptor{}
			}
			data, err := encode(descs, output)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&output, "output", "json", "Output encoding: json or yaml")
	return cmd
}

func newOutlineCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "outline FILE",
		Short: "Print the section tree of the Markdown with token estimates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, art, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			outline := render.Outline(art.Markdown)
			fmt.Fprintf(w, "%s (%d tokens)\n", outline.Title, art.Tokens)
			var walk func(ss []*render.Section)
			walk = func(ss []*render.Section) {
				for _, s := range ss {
					fmt.Fprintf(w, "%s%s (%d)\n", strings.Repeat("  ", s.Level-1), s.Title, s.Tokens)
					walk(s.Children)
				}
			}
			walk(render.Sections(outline))
			return nil
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Report diagnostics and validate the generated tool schemas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, art, err := opts.run(cmd, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			api := res.API
			fmt.Fprintf(w, "%s %s (%s): %d operations, %d schemas, %d tools, ~%d tokens\n",
				api.Info.Title, api.Info.Version, api.SpecVersion,
				len(api.Operations), len(api.Schemas), len(art.Tools), art.Tokens)

			failed := false
			for _, d := range res.Diagnostics {
				level := "warning"
				if d.Kind.Informational() {
					level = "info"
				} else if strict {
					failed = true
				}
				fmt.Fprintf(w, "%s: %s\n", level, d)
			}
			if err := tools.Validate(art.Tools); err != nil {
				failed = true
				for _, line := range strings.Split(err.Error(), "\n") {
					fmt.Fprintf(w, "error: %s\n", line)
				}
			}
			if failed {
				return errCheckFailed
			}
			fmt.Fprintln(w, "ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on warnings as well as invalid tool schemas")
	return cmd
}

// run reads file ("-" is stdin), converts it and projects every artifact.
func (o *options) run(cmd *cobra.Command, file string) (*convert.Result, *convert.Artifacts, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", file, err)
	}

	format, err := loader.ParseFormat(o.format)
	if err != nil {
		return nil, nil, err
	}
	if format == loader.FormatAuto && file != "-" {
		format = loader.FormatForFile(file)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	res, err := convert.Convert(ctx, data, o.convertOptions(file, format))
	if err != nil {
		return nil, nil, err
	}
	md := markdown.Options{DescriptionLimit: o.descriptionLimit}
	art, err := convert.ProjectAll(ctx, res.API, convert.ProjectOptions{
		Markdown: md,
		Chunks:   chunker.Config{MaxFragmentTokens: o.maxFragmentTokens, Markdown: md},
	})
	if err != nil {
		return nil, nil, err
	}
	return res, art, nil
}

// convertOptions resolves relative file references against the input's
// directory, or ref-root when given. Stdin input resolves against the
// working directory.
func (o *options) convertOptions(file string, format loader.Format) convert.Options {
	var chain fetch.Chain
	location := file
	if !o.noLocalRefs {
		dir := filepath.Dir(file)
		if file == "-" {
			dir, location = ".", "stdin"
		}
		root := o.refRoot
		if root == "" {
			root = dir
		}
		chain.Local = &fetch.FileFetcher{Root: root}
		if abs, err := filepath.Abs(file); err == nil && file != "-" {
			location = abs
		}
	}
	if o.allowRemote {
		chain.Remote = fetch.NewHTTPFetcher(10*time.Second, fetch.DefaultMaxBytes)
	}
	opts := convert.Options{
		Format:   format,
		Location: location,
		MaxDepth: o.maxDepth,
		MaxNodes: o.maxNodes,
	}
	if chain.Enabled() {
		opts.Fetcher = chain
	}
	return opts
}

func guessKind(m *chunker.ChunkMap, key string) string {
	for _, kind := range []string{"endpoint", "schema", "tag"} {
		if _, ok := m.Get(kind, key); ok {
			return kind
		}
	}
	return "endpoint"
}

func encode(v any, output string) ([]byte, error) {
	switch output {
	case "", "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported output %q: use json or yaml", output)
	}
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func reportDiagnostics(w io.Writer, ds []diag.Diagnostic) {
	for _, line := range diag.Summarize(ds) {
		fmt.Fprintf(w, "warning: %s\n", line)
	}
}
