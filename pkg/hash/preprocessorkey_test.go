package hash

import "testing"

func TestPreprocessorKeyDeterministic(t *testing.T) {
	output := []byte("# 1 \"source.c\"\nint main(void) { return 0; }\n")

	k1 := PreprocessorKey(commonHashForTest(t), output, []string{"-O2"})
	k2 := PreprocessorKey(commonHashForTest(t), output, []string{"-O2"})

	if k1 != k2 {
		t.Fatal("expected identical inputs to produce identical preprocessor-mode keys")
	}
}

func TestPreprocessorKeyChangesWithOutput(t *testing.T) {
	k1 := PreprocessorKey(commonHashForTest(t), []byte("a"), nil)
	k2 := PreprocessorKey(commonHashForTest(t), []byte("b"), nil)

	if k1 == k2 {
		t.Fatal("expected different preprocessed output to produce different keys")
	}
}

func TestPreprocessorKeyIgnoresPreprocessorOnlyArgs(t *testing.T) {
	output := []byte("same output")

	k1 := PreprocessorKey(commonHashForTest(t), output, []string{"-Ifoo"})
	k2 := PreprocessorKey(commonHashForTest(t), output, []string{"-Ibar"})

	if k1 != k2 {
		t.Fatal("expected -I to be excluded from the preprocessor-mode key (it doesn't AffectCompiler)")
	}
}

func TestPreprocessorKeyChangesWithCompilerOnlyArgs(t *testing.T) {
	output := []byte("same output")

	k1 := PreprocessorKey(commonHashForTest(t), output, []string{"-g"})
	k2 := PreprocessorKey(commonHashForTest(t), output, []string{"-g3"})

	if k1 == k2 {
		t.Fatal("expected different compiler-only args to produce different keys")
	}
}
