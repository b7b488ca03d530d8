package hash

// PreprocessorKey computes the preprocessor-mode key (spec.md §4.1: "the
// preprocessor-mode key hashes the common hash plus the preprocessed output
// plus any compiler-only arguments"), used as a fallback when the
// direct-mode manifest lookup misses or when an argument disqualifies
// direct mode entirely (TooHardForDirectMode).
//
// preprocessedOutput is the full text or binary output of running the
// compiler's preprocessing step; producing it is the caller's
// responsibility, since invoking the compiler is out of scope for this
// package.
func PreprocessorKey(common *Ctx, preprocessedOutput []byte, compilerOnlyArgs []string) Digest {
	ctx := common.Clone()

	ctx.Update(preprocessedOutput)

	for _, arg := range CanonicalOrder(compilerOnlyArgs) {
		class := Classify(arg)
		if !class.AffectsCompiler {
			continue
		}
		ctx.UpdateString(arg)
	}

	return ctx.Digest()
}
