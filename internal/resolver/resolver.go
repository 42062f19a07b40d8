// Package resolver inlines $ref pointers in a document tree.
//
// Each call owns its memo table and in-progress set. A reference that
// re-enters a pointer already being resolved becomes a named reference
// (tree.KindRef) instead of being expanded again.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/tree"
)

const (
	DefaultMaxDepth = 64
	DefaultMaxNodes = 500000
)

// Fetcher loads an external document by location (file path or URL).
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

// Options configures one resolution.
type Options struct {
	// Fetcher loads external documents. Nil disables external references.
	Fetcher Fetcher
	// BaseLocation is where the root document came from; relative
	// external references resolve against it.
	BaseLocation string
	// MaxDepth bounds the length of a reference chain.
	MaxDepth int
	// MaxNodes bounds the number of nodes visited.
	MaxNodes int
}

// BrokenReferenceError reports a reference that could not be followed.
type BrokenReferenceError struct {
	Ref string
	Err error
}

func (e *BrokenReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %s: %v", e.Ref, e.Err)
}

func (e *BrokenReferenceError) Unwrap() error { return e.Err }

var (
	errMissing  = errors.New("target does not exist")
	errNoFetch  = errors.New("external references are disabled")
	errNotLocal = errors.New("fragment is not a JSON pointer")
)

type document struct {
	loc     string
	root    *tree.Node
	targets map[string]bool
}

type resolver struct {
	ctx  context.Context
	opts Options

	docs   map[string]*document
	failed map[string]error
	memo   map[string]*tree.Node
	active map[string]bool

	depth       int
	nodes       int
	overBudget  bool
	cycleSeen   map[string]bool
	diagnostics []diag.Diagnostic
}

// Resolve returns a copy of root with every reference replaced by its
// target. The input tree is not modified. Targets reached from several
// places are shared in the output.
func Resolve(ctx context.Context, root *tree.Node, opts Options) (*tree.Node, []diag.Diagnostic) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	r := &resolver{
		ctx:       ctx,
		opts:      opts,
		docs:      map[string]*document{},
		failed:    map[string]error{},
		memo:      map[string]*tree.Node{},
		active:    map[string]bool{},
		cycleSeen: map[string]bool{},
	}
	doc := r.register(opts.BaseLocation, root)
	out := r.walk(doc, root, "", position{})
	return out, r.diagnostics
}

func (r *resolver) register(loc string, root *tree.Node) *document {
	doc := &document{loc: loc, root: root, targets: map[string]bool{}}
	collectTargets(root, "", doc.targets, position{})
	r.docs[loc] = doc
	return doc
}

// position carries what the walker needs to know about where a node sits.
type position struct {
	// names is set when the node's keys are user-chosen names
	// (properties, schemas, responses, ...) rather than keywords.
	names bool
	// exampleEntry is set for the entries of an "examples" map, whose
	// "value" holds literal data.
	exampleEntry bool
}

// child returns the position of the value stored under key k of a
// mapping at ptr.
func (p position) child(k, ptr string) position {
	if p.names {
		return position{exampleEntry: strings.HasSuffix(ptr, "/examples")}
	}
	return position{names: nameContainers[k]}
}

var nameContainers = map[string]bool{
	"properties":          true,
	"patternProperties":   true,
	"definitions":         true,
	"$defs":               true,
	"schemas":             true,
	"responses":           true,
	"parameters":          true,
	"requestBodies":       true,
	"securitySchemes":     true,
	"securityDefinitions": true,
	"headers":             true,
	"examples":            true,
	"links":               true,
	"callbacks":           true,
	"paths":               true,
	"webhooks":            true,
	"content":             true,
	"encoding":            true,
	"variables":           true,
	"mapping":             true,
	"pathItems":           true,
}

func isLiteralKey(p position, k string) bool {
	if p.names {
		return false
	}
	switch k {
	case "example", "default", "enum", "const":
		return true
	case "value":
		return p.exampleEntry
	}
	return strings.HasPrefix(k, "x-")
}

func (r *resolver) walk(doc *document, n *tree.Node, ptr string, pos position) *tree.Node {
	if n == nil {
		return nil
	}
	if n.Kind != tree.KindMapping && n.Kind != tree.KindSequence {
		return n
	}
	r.nodes++
	if r.nodes > r.opts.MaxNodes {
		return r.ceiling(ptr)
	}
	if doc.targets[ptr] {
		return r.enter(doc, n, ptr, pos, "#"+ptr)
	}
	return r.resolveNode(doc, n, ptr, pos)
}

// resolveNode follows n when it is a reference and copies it otherwise.
func (r *resolver) resolveNode(doc *document, n *tree.Node, ptr string, pos position) *tree.Node {
	if n.Kind == tree.KindMapping && !pos.names {
		if ref, ok := refValue(n); ok {
			return r.follow(doc, n, ref, ptr)
		}
	}
	return r.expand(doc, n, ptr, pos)
}

// enter resolves a node other references point at, sharing the result.
func (r *resolver) enter(doc *document, n *tree.Node, ptr string, pos position, ref string) *tree.Node {
	key := doc.loc + "#" + ptr
	if v, ok := r.memo[key]; ok {
		return v
	}
	if r.active[key] {
		if !r.cycleSeen[key] {
			r.cycleSeen[key] = true
			r.report(diag.CycleBoundaryReached, "#"+ptr, fmt.Sprintf("recursive reference to %s rendered by name", ref))
		}
		return tree.NewRef(refName(ref), ref)
	}
	r.active[key] = true
	out := r.resolveNode(doc, n, ptr, pos)
	delete(r.active, key)
	r.memo[key] = out
	return out
}

func (r *resolver) expand(doc *document, n *tree.Node, ptr string, pos position) *tree.Node {
	switch n.Kind {
	case tree.KindSequence:
		out := &tree.Node{Kind: tree.KindSequence, Line: n.Line, Column: n.Column}
		out.Items = make([]*tree.Node, len(n.Items))
		itemPos := position{}
		for i, it := range n.Items {
			out.Items[i] = r.walk(doc, it, ptr+"/"+strconv.Itoa(i), itemPos)
		}
		return out
	case tree.KindMapping:
		out := tree.NewMapping()
		out.Line, out.Column = n.Line, n.Column
		for _, k := range n.Keys() {
			v := n.Get(k)
			if isLiteralKey(pos, k) {
				out.Set(k, v)
				continue
			}
			out.Set(k, r.walk(doc, v, ptr+"/"+tree.EscapeToken(k), pos.child(k, ptr)))
		}
		return out
	}
	return n
}

// follow replaces a reference node by its resolved target.
func (r *resolver) follow(doc *document, n *tree.Node, ref, ptr string) *tree.Node {
	if err := r.ctx.Err(); err != nil {
		return r.broken(ptr, ref, err)
	}
	if r.depth >= r.opts.MaxDepth {
		r.report(diag.CycleBoundaryReached, "#"+ptr, fmt.Sprintf("reference chain deeper than %d at %s", r.opts.MaxDepth, ref))
		return tree.NewRef(refName(ref), ref)
	}

	docPart, frag, _ := strings.Cut(ref, "#")
	target := doc
	if docPart != "" {
		var err error
		target, err = r.external(doc, docPart)
		if err != nil {
			return r.broken(ptr, ref, err)
		}
	}

	fragPtr, err := decodeFragment(frag)
	if err != nil {
		return r.broken(ptr, ref, err)
	}
	node, err := lookup(target.root, fragPtr)
	if err != nil {
		return r.broken(ptr, ref, err)
	}

	target.targets[fragPtr] = true
	r.depth++
	resolved := r.enter(target, node, fragPtr, targetPosition(fragPtr), ref)
	r.depth--

	return overlay(n, resolved)
}

// overlay applies description and summary siblings of a $ref on top of a
// copy of the resolved target. Other siblings are ignored.
func overlay(n, resolved *tree.Node) *tree.Node {
	if !resolved.IsMapping() || (!n.Has("description") && !n.Has("summary")) {
		return resolved
	}
	out := resolved.ShallowCopy()
	out.Origin = resolved.Source()
	for _, k := range []string{"summary", "description"} {
		if v := n.Get(k); v != nil && v.IsScalar() {
			out.Set(k, v)
		}
	}
	return out
}

func (r *resolver) broken(ptr, ref string, err error) *tree.Node {
	be := &BrokenReferenceError{Ref: ref, Err: err}
	r.report(diag.BrokenReference, "#"+ptr, be.Error())
	return tree.NewMapping()
}

func (r *resolver) ceiling(ptr string) *tree.Node {
	if !r.overBudget {
		r.overBudget = true
		r.report(diag.CycleBoundaryReached, "#"+ptr, fmt.Sprintf("resolution stopped after %d nodes", r.opts.MaxNodes))
	}
	return tree.NewRef(refName("#"+ptr), "#"+ptr)
}

func (r *resolver) report(kind diag.Kind, p, msg string) {
	r.diagnostics = append(r.diagnostics, diag.Diagnostic{Kind: kind, Path: p, Message: msg})
}

// external loads and caches the document named by docPart, relative to from.
func (r *resolver) external(from *document, docPart string) (*document, error) {
	loc := resolveLocation(from.loc, docPart)
	if d, ok := r.docs[loc]; ok {
		return d, nil
	}
	if err, ok := r.failed[loc]; ok {
		return nil, err
	}
	if r.opts.Fetcher == nil {
		r.failed[loc] = errNoFetch
		return nil, errNoFetch
	}
	data, err := r.opts.Fetcher.Fetch(r.ctx, loc)
	if err != nil {
		err = fmt.Errorf("fetch %s: %w", loc, err)
		r.failed[loc] = err
		return nil, err
	}
	root, err := loader.Load(data, loader.FormatForFile(loc))
	if err != nil {
		err = fmt.Errorf("load %s: %w", loc, err)
		r.failed[loc] = err
		return nil, err
	}
	return r.register(loc, root), nil
}

// resolveLocation resolves ref against base. URLs use RFC 3986 rules and
// file paths are relative to the referencing file's directory.
func resolveLocation(base, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if bu, err := url.Parse(base); err == nil && bu.IsAbs() && bu.Host != "" {
		ru, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return bu.ResolveReference(ru).String()
	}
	if filepath.IsAbs(ref) || base == "" {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(base), ref)
}

func refValue(n *tree.Node) (string, bool) {
	v := n.Get("$ref")
	if v == nil || v.Kind != tree.KindString {
		return "", false
	}
	return v.Value, true
}

// decodeFragment turns "/a/b%20c" into the escaped pointer form used by the walker.
func decodeFragment(frag string) (string, error) {
	if frag == "" {
		return "", nil
	}
	dec, err := url.PathUnescape(frag)
	if err != nil {
		dec = frag
	}
	if !strings.HasPrefix(dec, "/") {
		return "", errNotLocal
	}
	return dec, nil
}

func lookup(root *tree.Node, ptr string) (*tree.Node, error) {
	cur := root
	if ptr == "" {
		return cur, nil
	}
	for _, seg := range strings.Split(ptr[1:], "/") {
		next, ok := cur.Lookup(tree.UnescapeToken(seg))
		if !ok || next == nil {
			return nil, errMissing
		}
		cur = next
	}
	return cur, nil
}

// refName is the display name of a reference: its last pointer segment,
// or the document's base name for whole-document references.
func refName(ref string) string {
	docPart, frag, _ := strings.Cut(ref, "#")
	if frag != "" {
		if dec, err := url.PathUnescape(frag); err == nil {
			frag = dec
		}
		frag = strings.TrimSuffix(frag, "/")
		if i := strings.LastIndex(frag, "/"); i >= 0 {
			return tree.UnescapeToken(frag[i+1:])
		}
		return frag
	}
	base := path.Base(docPart)
	return strings.TrimSuffix(base, path.Ext(base))
}

// targetPosition derives the walker position of a reference target from
// its pointer.
func targetPosition(ptr string) position {
	segs := strings.Split(ptr, "/")
	if len(segs) >= 2 && segs[len(segs)-2] == "examples" {
		return position{exampleEntry: true}
	}
	return position{}
}

// collectTargets records the local pointers referenced from root.
func collectTargets(n *tree.Node, ptr string, out map[string]bool, pos position) {
	if n == nil {
		return
	}
	switch n.Kind {
	case tree.KindSequence:
		for i, it := range n.Items {
			collectTargets(it, ptr+"/"+strconv.Itoa(i), out, position{})
		}
	case tree.KindMapping:
		if !pos.names {
			if ref, ok := refValue(n); ok {
				if docPart, frag, _ := strings.Cut(ref, "#"); docPart == "" {
					if p, err := decodeFragment(frag); err == nil {
						out[p] = true
					}
				}
				return
			}
		}
		for _, k := range n.Keys() {
			if isLiteralKey(pos, k) {
				continue
			}
			collectTargets(n.Get(k), ptr+"/"+tree.EscapeToken(k), out, pos.child(k, ptr))
		}
	}
}
