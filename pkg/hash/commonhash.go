package hash

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/compilecache/ccache/pkg/ccacheinfo"
	"github.com/compilecache/ccache/pkg/config"
)

// ErrTooHard is returned by CommonHash when the argument list contains an
// option the engine cannot safely cache around (spec.md §4.1: "disqualify
// the invocation from caching").
var ErrTooHard = errors.New("hash: compiler arguments disqualify this invocation from caching")

// ErrTooHardForDirectMode is never returned by CommonHash, which reports
// that condition through its DirectModeOK result instead; it is kept for
// callers that want a named sentinel when downgrading mode selection.
var ErrTooHardForDirectMode = errors.New("hash: compiler arguments disqualify direct mode")

// allowedEnvVars lists the environment variables whose values are mixed
// into the common hash when present (spec.md §4.1 step 5: "allow-listed
// environment variables"). Compilers are sensitive to these in ways that
// affect output but aren't visible on the command line.
var allowedEnvVars = []string{
	"CPATH",
	"C_INCLUDE_PATH",
	"CPLUS_INCLUDE_PATH",
	"OBJC_INCLUDE_PATH",
	"SOURCE_DATE_EPOCH",
	"GCC_EXEC_PREFIX",
	"COMPILER_PATH",
}

// CompilerInput describes the compiler half of an invocation: either its
// resolved executable path (hashed when cfg.HashCompilerByPath is set) or a
// precomputed content digest of the executable (the default, spec.md §4.1
// step 1).
type CompilerInput struct {
	Identity      Identity
	Path          string
	ContentDigest *Digest
}

// Env is the subset of the process environment the caller makes visible to
// CommonHash. Callers should pass only variables they're willing to have
// mixed into the cache key; CommonHash itself filters by allowedEnvVars so
// passing the full environment is safe but unnecessary.
type Env map[string]string

// CommonHash computes the shared hash prefix described in spec.md §4.1
// steps 1-6: compiler identity, namespace and format version, the
// canonically ordered and path-normalized argument list, allow-listed
// environment variables, and (optionally) the current working directory.
//
// It returns ErrTooHard if args contains an option classified TooHard by
// Classify. directModeOK is false if args contains an option classified
// TooHardForDirectMode; the caller should then skip direct-mode lookup but
// may still proceed with preprocessor mode.
func CommonHash(cfg config.Config, compiler CompilerInput, args []string, cwd string, env Env) (ctx *Ctx, directModeOK bool, err error) {
	ctx = New()
	directModeOK = true

	// Step 1: compiler content digest or path.
	if cfg.HashCompilerByPath {
		ctx.UpdateString(compiler.Path)
	} else if compiler.ContentDigest != nil {
		ctx.Update(compiler.ContentDigest[:])
	} else {
		return nil, false, fmt.Errorf("hash: compiler content digest required when HashCompilerByPath is false")
	}

	// Step 2: compiler identity tag.
	ctx.UpdateString(compiler.Identity.String())

	// Step 3: namespace and format version tag.
	ctx.UpdateString(cfg.Namespace)
	ctx.Update([]byte{byte(ccacheinfo.FormatVersion)})

	// Step 4: canonically ordered, path-normalized argument list. A path
	// argument may arrive concatenated onto its flag ("-Ifoo") or as the
	// next element in the list ("-MF foo"); pendingPath tracks the latter.
	// hasRelativePathArg records whether any such path argument was itself
	// relative, which gates step 6's cwd hash below.
	ordered := CanonicalOrder(args)
	pendingPath := false
	hasRelativePathArg := false
	for _, arg := range ordered {
		if pendingPath {
			if !filepath.IsAbs(arg) {
				hasRelativePathArg = true
			}
			ctx.UpdateString(normalizeArgPath(arg, 0, cwd))
			pendingPath = false
			continue
		}

		class := Classify(arg)
		if class.TooHard {
			return nil, false, fmt.Errorf("%w: %s", ErrTooHard, arg)
		}
		if class.TooHardForDirectMode {
			directModeOK = false
		}

		if prefixLen := ConcatPrefixLen(arg); class.TakesPath && prefixLen > 0 {
			if !filepath.IsAbs(arg[prefixLen:]) {
				hasRelativePathArg = true
			}
			ctx.UpdateString(normalizeArgPath(arg, prefixLen, cwd))
		} else {
			ctx.UpdateString(arg)
			if class.TakesPath && class.TakesArg && prefixLen == 0 {
				pendingPath = true
			}
		}
	}

	// Step 5: allow-listed environment variables, in a fixed order so the
	// hash doesn't depend on map iteration order.
	names := append([]string(nil), allowedEnvVars...)
	sort.Strings(names)
	for _, name := range names {
		if value, ok := env[name]; ok {
			ctx.UpdateString(name)
			ctx.UpdateString("=")
			ctx.UpdateString(value)
		}
	}

	// Step 6: optional CWD hash, only when some argument actually refers to
	// a relative path (spec.md §4.1 step 6) — an invocation with no
	// path-bearing arguments at all, or only absolute ones, doesn't need
	// cwd to resolve its inputs.
	if cfg.HashDir && hasRelativePathArg {
		ctx.UpdateString(cwd)
	}

	return ctx, directModeOK, nil
}

// normalizeArgPath rewrites the path portion of arg (everything after the
// first prefixLen bytes, which may be a flag like "-I") to an absolute,
// cleaned form relative to cwd, leaving any flag prefix intact. This keeps
// the hash stable across build-directory-relative invocations that
// nonetheless resolve to the same file.
func normalizeArgPath(arg string, prefixLen int, cwd string) string {
	prefix := arg[:prefixLen]
	path := arg[prefixLen:]
	if path == "" {
		return arg
	}
	if !filepath.IsAbs(path) && cwd != "" {
		path = filepath.Join(cwd, path)
	}
	return prefix + filepath.Clean(path)
}
