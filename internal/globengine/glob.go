// Package globengine implements the glob engine: given a path pattern that
// may contain shell wildcards, it expands brace groups, splits the pattern
// into a literal prefix and a magic suffix, and streams matches by walking
// the backend's directory listings rather than listing an entire bucket.
package globengine

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/go-megfile/megfile/pkg/errors"
	"github.com/go-megfile/megfile/pkg/storepath"
	"github.com/go-megfile/megfile/pkg/types"
)

const magicChars = "*?[{"

// HasMagic reports whether s contains any shell glob metacharacter.
func HasMagic(s string) bool {
	return strings.ContainsAny(s, magicChars)
}

// hasMagicIgnoreBrace reports whether s contains a wildcard metacharacter
// other than brace-expansion syntax, mirroring the distinction the upstream
// splitter draws between "needs brace expansion" and "needs a real glob
// walk" - a bucket name like "{dev,prod}-bucket" only needs ungloblize, not
// ListObjectsV2 filtering.
func hasMagicIgnoreBrace(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// Ungloblize expands the brace groups in pattern into the list of concrete
// patterns they denote, e.g. "a/{b,c}/d" becomes ["a/b/d", "a/c/d"].
// Patterns with no brace group are returned unchanged as a single-element
// slice. Groups are expanded left to right by recursing on each result, so
// "{a,b}/{c,d}" yields four patterns. Nested groups are not supported: the
// first '}' after a '{' closes the group.
func Ungloblize(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return []string{pattern}
	}
	end := strings.IndexByte(pattern[start:], '}')
	if end < 0 {
		return []string{pattern}
	}
	end += start

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	options := strings.Split(pattern[start+1:end], ",")

	var results []string
	for _, opt := range options {
		for _, expanded := range Ungloblize(prefix + opt + suffix) {
			results = append(results, expanded)
		}
	}
	return results
}

// splitMagic splits pattern into a non-magic prefix (the deepest directory
// that can be addressed directly, no listing required) and the remaining
// magic suffix (the part that needs wildcard matching), both without a
// trailing slash convention beyond what path.Join produces.
func splitMagic(pattern string) (prefix, suffix string) {
	if !HasMagic(pattern) {
		return pattern, ""
	}

	parts := strings.Split(pattern, "/")
	cut := len(parts)
	for i, part := range parts {
		if HasMagic(part) {
			cut = i
			break
		}
	}
	return strings.Join(parts[:cut], "/"), strings.Join(parts[cut:], "/")
}

// Engine walks a Registry's backends to resolve glob patterns.
type Engine struct {
	registry *storepath.Registry
}

// New builds an Engine resolving paths through registry.
func New(registry *storepath.Registry) *Engine {
	return &Engine{registry: registry}
}

// Expand returns every path matching pattern, in ascending alphabetical
// order, collecting the full Stream output. missingOk=false surfaces
// NotFound when the pattern matched nothing, the same lazy check Stream
// defers to the first (here, only) consumption of its channels.
func (e *Engine) Expand(ctx context.Context, pattern string, recursive bool, missingOk bool) ([]types.FileEntry, error) {
	entries, errCh := e.Stream(ctx, pattern, recursive, missingOk)
	var results []types.FileEntry
	for entry := range entries {
		results = append(results, entry)
	}
	if err := <-errCh; err != nil {
		return results, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// Stream resolves pattern and emits every matching FileEntry on the
// returned channel as it is discovered, closing it when done; the second
// channel carries the first error encountered, if any, and is always sent
// to exactly once before entries is closed. When missingOk is false and
// the pattern matches nothing, the error channel carries NotFound - the
// check happens lazily, once the caller has actually drained entries,
// since a caller checking emptiness itself should still see an empty
// sequence rather than an error.
func (e *Engine) Stream(ctx context.Context, pattern string, recursive bool, missingOk bool) (<-chan types.FileEntry, <-chan error) {
	out := make(chan types.FileEntry)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)

		var firstErr error
		var matched bool
		for _, expanded := range Ungloblize(pattern) {
			n, err := e.streamOne(ctx, expanded, recursive, out)
			matched = matched || n > 0
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr == nil && !matched && !missingOk {
			firstErr = errors.New(errors.NotFound, "glob", pattern)
		}
		errCh <- firstErr
	}()

	return out, errCh
}

// streamOne resolves one already-brace-expanded pattern and returns how
// many entries it emitted, so Stream can tell a genuinely empty match from
// one that merely errored partway through.
func (e *Engine) streamOne(ctx context.Context, pattern string, recursive bool, out chan<- types.FileEntry) (int, error) {
	if p, err := storepath.Parse(pattern); err == nil && p.Bucket != "" && HasMagic(p.Bucket) {
		return e.streamBucketWildcard(ctx, p, recursive, out)
	}

	if !HasMagic(pattern) {
		stat, err := e.registry.Stat(ctx, pattern)
		if err != nil {
			return 0, err
		}
		select {
		case out <- types.FileEntry{Path: pattern, Stat: stat}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return 1, nil
	}

	prefix, magicSuffix := splitMagic(pattern)
	magicParts := splitPathParts(magicSuffix)
	return e.walk(ctx, prefix, magicParts, recursive, out)
}

// streamBucketWildcard resolves p's wildcard bucket segment against
// ListBuckets, then streams each matching bucket's own pattern in turn -
// the union spec.md's bucket-wildcard scenario (distinct buckets matching
// a prefix pattern, each contributing its own keys) calls for.
func (e *Engine) streamBucketWildcard(ctx context.Context, p storepath.Path, recursive bool, out chan<- types.FileEntry) (int, error) {
	buckets, err := e.registry.ListBuckets(ctx, p.Protocol)
	if err != nil {
		return 0, err
	}

	var total int
	var firstErr error
	for _, bucket := range buckets {
		if !matchSegment(p.Bucket, bucket) {
			continue
		}
		concrete := string(p.Protocol) + "://" + bucket
		if p.Key != "" {
			concrete += "/" + p.Key
		}
		n, err := e.streamOne(ctx, concrete, recursive, out)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// walk recursively descends from dir, matching each directory listing
// against parts[0] and recursing into parts[1:] for subdirectories that
// match, emitting an entry once parts is exhausted at a matching name.
// A "**" part matches any number of path components, including zero,
// implementing recursive globbing the way doublestar-style matchers do.
func (e *Engine) walk(ctx context.Context, dir string, parts []string, recursive bool, out chan<- types.FileEntry) (int, error) {
	if len(parts) == 0 {
		stat, err := e.registry.Stat(ctx, dir)
		if err != nil {
			return 0, err
		}
		select {
		case out <- types.FileEntry{Path: dir, Stat: stat}:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return 1, nil
	}

	entries, err := e.registry.ListDir(ctx, dir)
	if err != nil {
		return 0, err
	}

	part := parts[0]
	rest := parts[1:]
	var total int

	if part == "**" {
		if !recursive {
			// Without recursion, "**" behaves like a single "*" segment.
			return e.walk(ctx, dir, append([]string{"*"}, rest...), recursive, out)
		}
		if len(rest) > 0 {
			// "**" matching zero components: match rest against dir itself.
			n, err := e.walk(ctx, dir, rest, recursive, out)
			total += n
			if err != nil {
				return total, err
			}
		}
		for _, entry := range entries {
			name := path.Base(entry.Path)
			if strings.HasPrefix(name, ".") {
				// Hidden entries are excluded from "**", matching POSIX glob;
				// they are neither emitted nor descended into.
				continue
			}
			if matchSegment("*", name) && len(rest) == 0 {
				select {
				case out <- entry:
				case <-ctx.Done():
					return total, ctx.Err()
				}
				total++
			}
			if entry.Stat.IsDir {
				// "**" spans entry; the recursive call's own zero-component
				// step then matches rest inside it.
				n, err := e.walk(ctx, entry.Path, parts, recursive, out)
				total += n
				if err != nil {
					return total, err
				}
			}
		}
		return total, nil
	}

	for _, entry := range entries {
		name := path.Base(entry.Path)
		if !matchSegment(part, name) {
			continue
		}
		if len(rest) == 0 {
			select {
			case out <- entry:
			case <-ctx.Done():
				return total, ctx.Err()
			}
			total++
			continue
		}
		if !entry.Stat.IsDir {
			continue
		}
		n, err := e.walk(ctx, entry.Path, rest, recursive, out)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// matchSegment reports whether name matches pattern, with the same hidden-
// entry convention as POSIX glob: a name starting with "." only matches a
// pattern that itself starts with ".", even if the wildcard would
// otherwise accept it (path.Match("*", ".git") is true, but POSIX glob
// hides ".git" from a bare "*").
func matchSegment(pattern, name string) bool {
	if strings.HasPrefix(name, ".") && !strings.HasPrefix(pattern, ".") {
		return false
	}
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

func splitPathParts(p string) []string {
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	filtered := parts[:0]
	for _, part := range parts {
		if part != "" {
			filtered = append(filtered, part)
		}
	}
	return filtered
}
