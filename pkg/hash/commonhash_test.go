package hash

import (
	"testing"

	"github.com/compilecache/ccache/pkg/config"
)

func testCompiler() CompilerInput {
	digest := Digest{1, 2, 3}
	return CompilerInput{Identity: IdentityGCC, Path: "/usr/bin/gcc", ContentDigest: &digest}
}

func TestCommonHashDeterministic(t *testing.T) {
	cfg := config.Default()
	cfg.Namespace = "test"

	args := []string{"-Wall", "-O2", "-Ifoo", "-DFOO=1"}

	ctx1, direct1, err := CommonHash(cfg, testCompiler(), args, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx2, direct2, err := CommonHash(cfg, testCompiler(), args, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !direct1 || !direct2 {
		t.Fatalf("expected direct mode to remain available for these args")
	}
	if ctx1.Digest() != ctx2.Digest() {
		t.Fatalf("expected identical args to produce identical common hash")
	}
}

func TestCommonHashArgOrderIndependent(t *testing.T) {
	cfg := config.Default()

	a, _, err := CommonHash(cfg, testCompiler(), []string{"-DFOO=1", "-Ifoo"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := CommonHash(cfg, testCompiler(), []string{"-Ifoo", "-DFOO=1"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Digest() != b.Digest() {
		t.Fatalf("expected canonical ordering to make arg order irrelevant to the hash")
	}
}

func TestCommonHashTooHard(t *testing.T) {
	cfg := config.Default()

	_, _, err := CommonHash(cfg, testCompiler(), []string{"-E"}, "/build", nil)
	if err == nil {
		t.Fatal("expected ErrTooHard for -E")
	}
}

func TestCommonHashTooHardForDirectMode(t *testing.T) {
	cfg := config.Default()

	_, direct, err := CommonHash(cfg, testCompiler(), []string{"-fmodules"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if direct {
		t.Fatal("expected -fmodules to disable direct mode")
	}
}

func TestCommonHashEnvAffectsHash(t *testing.T) {
	cfg := config.Default()

	withEnv, _, err := CommonHash(cfg, testCompiler(), []string{"-O2"}, "/build", Env{"SOURCE_DATE_EPOCH": "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	withoutEnv, _, err := CommonHash(cfg, testCompiler(), []string{"-O2"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if withEnv.Digest() == withoutEnv.Digest() {
		t.Fatal("expected allow-listed env var to change the common hash")
	}
}

func TestCommonHashDirOptional(t *testing.T) {
	cfg := config.Default()
	cfg.HashDir = true

	a, _, err := CommonHash(cfg, testCompiler(), []string{"-Ifoo"}, "/build/one", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := CommonHash(cfg, testCompiler(), []string{"-Ifoo"}, "/build/two", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Digest() == b.Digest() {
		t.Fatal("expected HashDir to make cwd affect the common hash when a relative path argument is present")
	}
}

func TestCommonHashDirIgnoredWithoutRelativePathArg(t *testing.T) {
	cfg := config.Default()
	cfg.HashDir = true

	a, _, err := CommonHash(cfg, testCompiler(), []string{"-O2"}, "/build/one", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := CommonHash(cfg, testCompiler(), []string{"-O2"}, "/build/two", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Digest() != b.Digest() {
		t.Fatal("expected HashDir to have no effect when no argument refers to a relative path")
	}
}

func TestCommonHashDirIgnoresAbsolutePathArg(t *testing.T) {
	cfg := config.Default()
	cfg.HashDir = true

	a, _, err := CommonHash(cfg, testCompiler(), []string{"-I/usr/include"}, "/build/one", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := CommonHash(cfg, testCompiler(), []string{"-I/usr/include"}, "/build/two", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Digest() != b.Digest() {
		t.Fatal("expected an absolute path argument not to trigger the cwd hash")
	}
}

func TestCommonHashConcatPathNormalized(t *testing.T) {
	cfg := config.Default()

	a, _, err := CommonHash(cfg, testCompiler(), []string{"-Ifoo/../foo/bar"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _, err := CommonHash(cfg, testCompiler(), []string{"-Ifoo/bar"}, "/build", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Digest() != b.Digest() {
		t.Fatal("expected equivalent paths to normalize to the same hash")
	}
}
