// Package engine ties the hashing, manifest, local-storage, result-format,
// statistics, and remote-storage packages into the six-step control flow
// of one compilation described in spec.md §2. Parsing a compiler command
// line and actually running the preprocessor/compiler are both out of
// scope per spec.md §1, so those steps are represented here as narrow
// injected interfaces (Preprocessor, Compiler) the caller supplies.
package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/compilecache/ccache/pkg/cacheentry"
	"github.com/compilecache/ccache/pkg/ccacheerr"
	"github.com/compilecache/ccache/pkg/ccacheinfo"
	"github.com/compilecache/ccache/pkg/compress"
	"github.com/compilecache/ccache/pkg/config"
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/localstore"
	"github.com/compilecache/ccache/pkg/logging"
	"github.com/compilecache/ccache/pkg/manifest"
	"github.com/compilecache/ccache/pkg/remotestore"
	"github.com/compilecache/ccache/pkg/resultfile"
	"github.com/compilecache/ccache/pkg/showincludes"
	"github.com/compilecache/ccache/pkg/sloppiness"
	"github.com/compilecache/ccache/pkg/stats"
)

// orderedFileTypes fixes the iteration order used when building a result
// entry, so that two identical output sets always encode to the same
// bytes regardless of map iteration order.
var orderedFileTypes = []resultfile.FileType{
	resultfile.Object,
	resultfile.Dependency,
	resultfile.Stderr,
	resultfile.CoverageNotes,
	resultfile.StackUsage,
	resultfile.Diagnostic,
	resultfile.DwarfObject,
	resultfile.AssemblerListing,
	resultfile.IncludedPCHFile,
}

// Request describes one compiler invocation, assembled by the caller from
// whatever command-line-parsing layer it uses (spec.md §1: out of scope
// here).
type Request struct {
	// Compiler identifies and optionally digests the compiler executable
	// (spec.md §4.1 step 1-2).
	Compiler hash.CompilerInput
	// Args is the full canonicalizable argument list (spec.md §4.1 step 4).
	Args []string
	// Cwd is the invocation's working directory, hashed when
	// config.Config.HashDir is set (spec.md §4.1 step 6) and used to
	// normalize relative path arguments.
	Cwd string
	// Env is the allow-listed subset of the process environment the
	// caller is willing to mix into the hash (spec.md §4.1 step 5).
	Env hash.Env

	// SourcePath is the raw source file hashed into the direct-mode key
	// (spec.md §4.1 "direct-mode key").
	SourcePath string
	// PreprocessorArgs is the subset of Args that affects preprocessing
	// (include paths, macro definitions), used by DirectKey.
	PreprocessorArgs []string
	// CompilerOnlyArgs is the subset of Args that affects only compiler
	// output, used by PreprocessorKey.
	CompilerOnlyArgs []string

	// Sloppiness is the relaxation bitset in effect for this invocation
	// (spec.md §3 "Sloppiness set").
	Sloppiness sloppiness.Set

	// ShowIncludesPrefix overrides showincludes.DefaultPrefix for a
	// localized MSVC installation (supplements spec.md with the
	// /showIncludes parsing ccache's own source implements).
	ShowIncludesPrefix string
}

// Preprocessor runs the compiler's preprocessing step and returns the
// expanded source (spec.md §2 step 4). Invoking the real process is the
// caller's responsibility (spec.md §1).
type Preprocessor interface {
	Preprocess(ctx context.Context, req Request) ([]byte, error)
}

// CompileResult is what a real compiler invocation produced: the output
// files destined for a result entry, the set of files it read while
// compiling (for the manifest's fingerprint list), and, for MSVC, the raw
// stdout a caller may want parsed with pkg/showincludes.
type CompileResult struct {
	Outputs       map[resultfile.FileType][]byte
	IncludedFiles []string
	Stdout        []byte
}

// Compiler runs the real compiler (spec.md §2 step 5). Invoking the real
// process is the caller's responsibility (spec.md §1).
type Compiler interface {
	Compile(ctx context.Context, req Request) (CompileResult, error)
}

// Outcome is the result of one Engine.Run call.
type Outcome struct {
	Hit     bool
	Mode    string // "direct", "preprocessed", or "miss"
	Outputs map[resultfile.FileType][]byte
}

// Engine implements spec.md §2's six-step control flow over a local
// store, its derived manifest store, and an optional remote backend. It
// holds no process-execution logic itself, matching the "plain struct
// with an explicit Run method, narrow injected interfaces for I/O" shape
// the teacher uses for pkg/housekeeping.Housekeep.
type Engine struct {
	cfg      config.Config
	local    *localstore.Store
	manifest *manifest.Store
	remote   *remotestore.Policy
	logger   *logging.Logger
	statsLog *stats.Log
}

// New constructs an Engine over store, using cfg for hashing/compression
// knobs and the optional remote policy for secondary-storage lookups
// (nil if no remote backend is configured). When cfg.StatsLogPath is
// non-empty, every Run call also appends its triggered statistics to
// that path (spec.md §6 "Stats log format (optional)").
func New(store *localstore.Store, cfg config.Config, remote *remotestore.Policy, logger *logging.Logger) *Engine {
	var statsLog *stats.Log
	if cfg.StatsLogPath != "" {
		statsLog = stats.NewLog(cfg.StatsLogPath)
	}
	return &Engine{
		cfg:      cfg,
		local:    store,
		manifest: manifest.NewStore(store.ManifestBackend(), cfg),
		remote:   remote,
		logger:   logger,
		statsLog: statsLog,
	}
}

func (e *Engine) codec() compress.Codec {
	if e.cfg.CompressionDisabled {
		return compress.NewNone()
	}
	return compress.NewZstd(e.cfg.CompressionLevel)
}

// bumpStat folds delta into the shard that owns key's per-outcome
// counter. Failures are logged and swallowed: a lost statistics update
// must never turn a cache hit or miss into a hard error (spec.md §4.4
// "Statistics counters" is itself best-effort bookkeeping).
func (e *Engine) bumpStat(key hash.Digest, statistic stats.Statistic, delta int64) {
	if err := e.local.IncrementStats(key, statistic, delta); err != nil {
		e.logger.Warn(err)
	}
}

// logResult appends one stats-log entry recording that sourcePath
// triggered triggered, if a stats log is configured. A request that never
// reached a point where a statistic could be attributed to it (e.g. a
// pre-hash Unsupported failure) logs nothing, matching statslog.cpp's own
// behavior of only logging once a result is known.
func (e *Engine) logResult(sourcePath string, triggered []stats.Statistic) {
	if e.statsLog == nil || len(triggered) == 0 {
		return
	}
	if err := e.statsLog.LogResult(sourcePath, triggered); err != nil {
		e.logger.Warn(err)
	}
}

// Run executes spec.md §2's control flow for req: common hash, direct-mode
// lookup, preprocessor-mode fallback, compiler run, and result/manifest
// storage, incrementing the appropriate outcome counters at each step.
func (e *Engine) Run(ctx context.Context, req Request, pre Preprocessor, comp Compiler) (Outcome, error) {
	var triggered []stats.Statistic
	bump := func(key hash.Digest, statistic stats.Statistic, delta int64) {
		e.bumpStat(key, statistic, delta)
		triggered = append(triggered, statistic)
	}
	defer func() {
		e.logResult(req.SourcePath, triggered)
	}()

	common, directModeOK, err := hash.CommonHash(e.cfg, req.Compiler, req.Args, req.Cwd, req.Env)
	if err != nil {
		// No digest exists yet to shard a counter under; spec.md §4.4 only
		// defines per-shard statistics, so a pre-hash disqualification has
		// nowhere to record itself except the caller's own accounting.
		return Outcome{}, &ccacheerr.Unsupported{Reason: err.Error()}
	}

	var directKey hash.Digest
	if directModeOK {
		directKey, err = hash.DirectKey(common.Clone(), req.SourcePath, req.PreprocessorArgs, req.Sloppiness)
		if err != nil {
			return Outcome{}, &ccacheerr.IoFailed{Op: "hash source file", Err: err}
		}

		resultKey, found, err := e.manifest.Get(directKey, manifest.StatFile, req.Sloppiness)
		if err != nil {
			bump(directKey, stats.InternalError, 1)
			return Outcome{}, &ccacheerr.IoFailed{Op: "read manifest", Err: err}
		}
		if found {
			outputs, hit, err := e.fetchResult(ctx, resultKey, bump)
			if err != nil {
				bump(directKey, stats.InternalError, 1)
				return Outcome{}, err
			}
			if hit {
				bump(directKey, stats.DirectCacheHit, 1)
				return Outcome{Hit: true, Mode: "direct", Outputs: outputs}, nil
			}
			bump(directKey, stats.CacheMissDueToCorruption, 1)
		}
	}

	output, err := pre.Preprocess(ctx, req)
	if err != nil {
		fallbackKey := directKey
		if !directModeOK {
			fallbackKey = common.Clone().Digest()
		}
		bump(fallbackKey, stats.PreprocessorError, 1)
		return Outcome{}, &ccacheerr.IoFailed{Op: "run preprocessor", Err: err}
	}

	preprocessorKey := hash.PreprocessorKey(common.Clone(), output, req.CompilerOnlyArgs)

	outputs, hit, err := e.fetchResult(ctx, preprocessorKey, bump)
	if err != nil {
		bump(preprocessorKey, stats.InternalError, 1)
		return Outcome{}, err
	}
	if hit {
		bump(preprocessorKey, stats.PreprocessedCacheHit, 1)
		return Outcome{Hit: true, Mode: "preprocessed", Outputs: outputs}, nil
	}
	bump(preprocessorKey, stats.CacheMiss, 1)

	result, err := comp.Compile(ctx, req)
	if err != nil {
		bump(preprocessorKey, stats.CompileFailed, 1)
		return Outcome{}, &ccacheerr.IoFailed{Op: "run compiler", Err: err}
	}

	envelope, err := e.storeResult(preprocessorKey, result.Outputs)
	if err != nil {
		bump(preprocessorKey, stats.InternalError, 1)
		return Outcome{}, &ccacheerr.IoFailed{Op: "store result entry", Err: err}
	}

	if e.remote != nil && e.remote.Put(ctx, preprocessorKey.String(), envelope, true) {
		bump(preprocessorKey, stats.RemoteStorageWriteHit, 1)
	}

	if directModeOK {
		includedFiles := result.IncludedFiles
		if req.Compiler.Identity == hash.IdentityMSVC && len(result.Stdout) > 0 {
			prefix := req.ShowIncludesPrefix
			if prefix == "" {
				prefix = showincludes.DefaultPrefix
			}
			includedFiles = append(includedFiles, showincludes.Parse(result.Stdout, prefix)...)
		}

		fingerprints := make([]manifest.FileFingerprint, 0, len(includedFiles))
		for _, path := range includedFiles {
			fp, statErr := manifest.StatFile(path)
			if statErr != nil {
				e.logger.Warn(&ccacheerr.IoFailed{Op: "stat included file " + path, Err: statErr})
				continue
			}
			fingerprints = append(fingerprints, fp)
		}

		if err := e.manifest.Put(directKey, fingerprints, preprocessorKey); err != nil {
			e.logger.Warn(err)
		}
	}

	return Outcome{Hit: false, Mode: "miss", Outputs: result.Outputs}, nil
}

// storeResult writes a result entry for outputs under key, committing any
// raw sidecar files before the entry itself (spec.md §4.4 "Raw file
// handling": sidecars must be committed before the result entry that
// references them). It returns the full on-disk envelope bytes so the
// caller can also write them through to remote storage.
func (e *Engine) storeResult(key hash.Digest, outputs map[resultfile.FileType][]byte) ([]byte, error) {
	var entry resultfile.Entry
	type pendingRaw struct {
		sidecar uint8
		data    []byte
	}
	var rawWrites []pendingRaw

	for _, ft := range orderedFileTypes {
		data, ok := outputs[ft]
		if !ok {
			continue
		}
		rawPayload, err := entry.AddFile(ft, data, e.cfg.InlineThreshold)
		if err != nil {
			return nil, err
		}
		if rawPayload != nil {
			sidecar := entry.Files[len(entry.Files)-1].SidecarNumber
			rawWrites = append(rawWrites, pendingRaw{sidecar: sidecar, data: rawPayload})
		}
	}

	for _, rw := range rawWrites {
		if err := e.local.WriteRawAtomic(key, rw.sidecar, rw.data); err != nil {
			return nil, err
		}
	}

	payload, err := resultfile.Encode(entry)
	if err != nil {
		return nil, err
	}

	header := cacheentry.Header{
		FormatVersion: ccacheinfo.FormatVersion,
		EntryType:     cacheentry.TypeResult,
		CreationTime:  time.Now().Unix(),
		CCacheVersion: ccacheinfo.Version,
		Namespace:     e.cfg.Namespace,
	}

	var buf bytes.Buffer
	if err := cacheentry.Write(&buf, header, payload, e.codec()); err != nil {
		return nil, err
	}

	if err := e.local.ResultBackend().WriteAtomic(key, buf.Bytes()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// fetchResult loads the result entry at key, trying the local store
// first and falling back to the remote backend (if configured), writing
// a remote hit through to local storage so subsequent lookups stay local
// (spec.md §4.5 "on a local miss, query the remote backend ... on a hit,
// write the entry through to the local store"). bump records both the
// per-shard counter and (via the caller's Run) the stats-log entry for
// this request.
func (e *Engine) fetchResult(ctx context.Context, key hash.Digest, bump func(hash.Digest, stats.Statistic, int64)) (map[resultfile.FileType][]byte, bool, error) {
	outputs, hit, err := e.fetchResultLocal(key)
	if err != nil {
		return nil, false, err
	}
	if hit {
		return outputs, true, nil
	}

	if e.remote == nil {
		return nil, false, nil
	}

	data, ok, err := e.remote.Get(ctx, key.String())
	if err != nil {
		return nil, false, &ccacheerr.RemoteError{Backend: "remote", Err: err}
	}
	if !ok {
		bump(key, stats.RemoteStorageReadMiss, 1)
		return nil, false, nil
	}
	bump(key, stats.RemoteStorageReadHit, 1)

	outputs, err = e.decodeAndWriteThrough(key, data)
	if err != nil {
		return nil, false, err
	}
	return outputs, true, nil
}

// fetchResultLocal loads and decodes the result entry at key from the
// local store only. A corrupt entry is removed and treated as a miss
// (spec.md §4.3 "the offending file is removed; the request is treated as
// a miss").
func (e *Engine) fetchResultLocal(key hash.Digest) (map[resultfile.FileType][]byte, bool, error) {
	r, err := e.local.ResultBackend().Read(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &ccacheerr.IoFailed{Op: "read result entry", Err: err}
	}

	_, payload, err := cacheentry.Read(r)
	closeErr := r.Close()
	if closeErr != nil {
		e.logger.Warn(closeErr)
	}
	if err != nil {
		if err == cacheentry.ErrCorruptEntry {
			if removeErr := e.local.ResultBackend().Remove(key); removeErr != nil {
				e.logger.Warn(removeErr)
			}
			return nil, false, nil
		}
		return nil, false, &ccacheerr.IoFailed{Op: "parse result entry", Err: err}
	}

	return e.resolveEntry(key, payload)
}

// decodeAndWriteThrough parses a remotely fetched envelope and writes it
// (and its outputs map) through to local storage, returning the decoded
// outputs.
func (e *Engine) decodeAndWriteThrough(key hash.Digest, envelope []byte) (map[resultfile.FileType][]byte, error) {
	_, payload, err := cacheentry.Read(bytes.NewReader(envelope))
	if err != nil {
		return nil, &ccacheerr.CorruptEntry{Path: "remote:" + key.String()}
	}

	entry, err := resultfile.Decode(payload)
	if err != nil {
		return nil, &ccacheerr.CorruptEntry{Path: "remote:" + key.String()}
	}

	outputs := make(map[resultfile.FileType][]byte, len(entry.Files))
	for _, f := range entry.Files {
		if f.Kind == resultfile.Raw {
			// A remote envelope's raw files carry no sidecar bytes of
			// their own (the sidecar content never left the peer that
			// produced it); skip rather than fail the whole fetch.
			continue
		}
		outputs[f.Type] = f.Bytes
	}

	if _, err := e.storeResult(key, outputs); err != nil {
		return nil, &ccacheerr.IoFailed{Op: "write remote hit through to local store", Err: err}
	}

	return outputs, nil
}

// resolveEntry decodes a result-entry payload and resolves any raw
// sidecar references against the local store.
func (e *Engine) resolveEntry(key hash.Digest, payload []byte) (map[resultfile.FileType][]byte, bool, error) {
	entry, err := resultfile.Decode(payload)
	if err != nil {
		return nil, false, &ccacheerr.CorruptEntry{Path: key.String()}
	}

	outputs := make(map[resultfile.FileType][]byte, len(entry.Files))
	for _, f := range entry.Files {
		if f.Kind == resultfile.Embedded {
			outputs[f.Type] = f.Bytes
			continue
		}

		rc, err := e.local.ReadRaw(key, f.SidecarNumber)
		if err != nil {
			return nil, false, &ccacheerr.IoFailed{Op: "read raw sidecar", Err: err}
		}
		data, err := readAllAndClose(rc)
		if err != nil {
			return nil, false, &ccacheerr.IoFailed{Op: "read raw sidecar", Err: err}
		}
		outputs[f.Type] = data
	}

	return outputs, true, nil
}

// readAllAndClose reads rc to completion and closes it, returning the
// read error if both occur.
func readAllAndClose(rc io.ReadCloser) ([]byte, error) {
	data, err := io.ReadAll(rc)
	if closeErr := rc.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return data, err
}
