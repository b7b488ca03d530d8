package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/compilecache/ccache/pkg/config"
	"github.com/compilecache/ccache/pkg/hash"
	"github.com/compilecache/ccache/pkg/localstore"
	"github.com/compilecache/ccache/pkg/logging"
	"github.com/compilecache/ccache/pkg/resultfile"
	"github.com/compilecache/ccache/pkg/stats"
)

// countingPreprocessor returns a fixed expansion and counts its calls.
type countingPreprocessor struct {
	output []byte
	calls  int
}

func (p *countingPreprocessor) Preprocess(ctx context.Context, req Request) ([]byte, error) {
	p.calls++
	return p.output, nil
}

// countingCompiler returns a fixed CompileResult and counts its calls.
type countingCompiler struct {
	result CompileResult
	calls  int
}

func (c *countingCompiler) Compile(ctx context.Context, req Request) (CompileResult, error) {
	c.calls++
	return c.result, nil
}

func testCompiler() hash.CompilerInput {
	ctx := hash.New()
	ctx.UpdateString("gcc-content")
	digest := ctx.Digest()
	return hash.CompilerInput{Identity: hash.IdentityGCC, ContentDigest: &digest}
}

func newTestEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	store := localstore.NewStore(t.TempDir(), cfg)
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return New(store, cfg, nil, logging.RootLogger.Sublogger("engine-test"))
}

func writeSourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.c")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unable to write source file: %v", err)
	}
	return path
}

func TestRunMissThenDirectHit(t *testing.T) {
	cfg := config.Default()
	e := newTestEngine(t, cfg)

	source := writeSourceFile(t, "int main(void) { return 0; }")
	req := Request{
		Compiler:   testCompiler(),
		Args:       []string{"-c", "-Iinclude"},
		SourcePath: source,
		Cwd:        t.TempDir(),
	}

	pre := &countingPreprocessor{output: []byte("expanded source")}
	comp := &countingCompiler{result: CompileResult{
		Outputs:       map[resultfile.FileType][]byte{resultfile.Object: []byte("OBJDATA")},
		IncludedFiles: []string{source},
	}}

	outcome, err := e.Run(context.Background(), req, pre, comp)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if outcome.Hit || outcome.Mode != "miss" {
		t.Fatalf("expected a miss on first run, got %+v", outcome)
	}
	if pre.calls != 1 || comp.calls != 1 {
		t.Fatalf("expected one preprocess and one compile call, got pre=%d comp=%d", pre.calls, comp.calls)
	}
	if string(outcome.Outputs[resultfile.Object]) != "OBJDATA" {
		t.Fatalf("unexpected object output: %q", outcome.Outputs[resultfile.Object])
	}

	outcome, err = e.Run(context.Background(), req, pre, comp)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !outcome.Hit || outcome.Mode != "direct" {
		t.Fatalf("expected a direct-mode hit on second run, got %+v", outcome)
	}
	if comp.calls != 1 {
		t.Fatalf("expected compiler not to run again on a direct hit, calls=%d", comp.calls)
	}
	if string(outcome.Outputs[resultfile.Object]) != "OBJDATA" {
		t.Fatalf("unexpected object output on hit: %q", outcome.Outputs[resultfile.Object])
	}
}

func TestRunDirectMissFallsBackAfterSourceChanges(t *testing.T) {
	cfg := config.Default()
	e := newTestEngine(t, cfg)

	sourcePath := filepath.Join(t.TempDir(), "main.c")
	if err := os.WriteFile(sourcePath, []byte("version one"), 0o600); err != nil {
		t.Fatalf("unable to write source file: %v", err)
	}

	req := Request{
		Compiler:   testCompiler(),
		Args:       []string{"-c"},
		SourcePath: sourcePath,
	}
	pre := &countingPreprocessor{output: []byte("expanded v1")}
	comp := &countingCompiler{result: CompileResult{
		Outputs:       map[resultfile.FileType][]byte{resultfile.Object: []byte("OBJ1")},
		IncludedFiles: []string{sourcePath},
	}}

	if _, err := e.Run(context.Background(), req, pre, comp); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	if err := os.WriteFile(sourcePath, []byte("version two, completely different"), 0o600); err != nil {
		t.Fatalf("unable to rewrite source file: %v", err)
	}

	pre2 := &countingPreprocessor{output: []byte("expanded v2")}
	comp2 := &countingCompiler{result: CompileResult{
		Outputs:       map[resultfile.FileType][]byte{resultfile.Object: []byte("OBJ2")},
		IncludedFiles: []string{sourcePath},
	}}

	outcome, err := e.Run(context.Background(), req, pre2, comp2)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if outcome.Hit {
		t.Fatalf("expected a miss after the source file changed, got %+v", outcome)
	}
	if comp2.calls != 1 {
		t.Fatalf("expected the compiler to run again after a source change, calls=%d", comp2.calls)
	}
}

func TestRunPreprocessedHitSkipsRecompile(t *testing.T) {
	cfg := config.Default()
	e := newTestEngine(t, cfg)

	source := writeSourceFile(t, "int main(void) { return 0; }")
	req := Request{
		Compiler:   testCompiler(),
		Args:       []string{"-c", "-fmodules"}, // too-hard-for-direct-mode
		SourcePath: source,
	}

	sharedOutput := []byte("identical preprocessed output")
	pre1 := &countingPreprocessor{output: sharedOutput}
	comp := &countingCompiler{result: CompileResult{
		Outputs: map[resultfile.FileType][]byte{resultfile.Object: []byte("OBJDATA")},
	}}

	outcome, err := e.Run(context.Background(), req, pre1, comp)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if outcome.Hit {
		t.Fatalf("expected a miss on first run, got %+v", outcome)
	}

	pre2 := &countingPreprocessor{output: sharedOutput}
	outcome, err = e.Run(context.Background(), req, pre2, comp)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !outcome.Hit || outcome.Mode != "preprocessed" {
		t.Fatalf("expected a preprocessor-mode hit, got %+v", outcome)
	}
	if pre2.calls != 1 {
		t.Fatalf("expected the preprocessor to still run once, calls=%d", pre2.calls)
	}
	if comp.calls != 1 {
		t.Fatalf("expected the compiler not to run again, calls=%d", comp.calls)
	}
}

func TestRunWritesStatsLogWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.StatsLogPath = filepath.Join(t.TempDir(), "stats.log")
	e := newTestEngine(t, cfg)

	source := writeSourceFile(t, "int main(void) { return 0; }")
	req := Request{
		Compiler:   testCompiler(),
		Args:       []string{"-c"},
		SourcePath: source,
	}
	pre := &countingPreprocessor{output: []byte("expanded")}
	comp := &countingCompiler{result: CompileResult{
		Outputs:       map[resultfile.FileType][]byte{resultfile.Object: []byte("OBJDATA")},
		IncludedFiles: []string{source},
	}}

	if _, err := e.Run(context.Background(), req, pre, comp); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := e.Run(context.Background(), req, pre, comp); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	log := stats.NewLog(cfg.StatsLogPath)
	counters, err := log.Read()
	if err != nil {
		t.Fatalf("unable to read stats log: %v", err)
	}
	if got := counters.Get(stats.CacheMiss); got != 1 {
		t.Errorf("expected one logged cache_miss, got %d", got)
	}
	if got := counters.Get(stats.DirectCacheHit); got != 1 {
		t.Errorf("expected one logged direct_cache_hit, got %d", got)
	}

	contents, err := os.ReadFile(cfg.StatsLogPath)
	if err != nil {
		t.Fatalf("unable to read stats log file: %v", err)
	}
	if !bytes.Contains(contents, []byte("# "+source)) {
		t.Errorf("expected stats log to record the source path, got:\n%s", contents)
	}
}

func TestRunRawSidecarRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.InlineThreshold = 4 // force the object file into a raw sidecar
	e := newTestEngine(t, cfg)

	source := writeSourceFile(t, "int main(void) { return 0; }")
	req := Request{
		Compiler:   testCompiler(),
		Args:       []string{"-c"},
		SourcePath: source,
	}

	large := bytes.Repeat([]byte("x"), 4096)
	pre := &countingPreprocessor{output: []byte("expanded")}
	comp := &countingCompiler{result: CompileResult{
		Outputs:       map[resultfile.FileType][]byte{resultfile.Object: large},
		IncludedFiles: []string{source},
	}}

	if _, err := e.Run(context.Background(), req, pre, comp); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	outcome, err := e.Run(context.Background(), req, pre, comp)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if !outcome.Hit {
		t.Fatalf("expected a hit, got %+v", outcome)
	}
	if !bytes.Equal(outcome.Outputs[resultfile.Object], large) {
		t.Fatalf("raw sidecar payload did not round-trip")
	}
}
