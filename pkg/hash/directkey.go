package hash

import "github.com/compilecache/ccache/pkg/sloppiness"

// DirectKey computes the direct-mode lookup key (spec.md §4.1: "the
// direct-mode key hashes the common hash plus the raw source file content
// and any preprocessor-affecting arguments plus the sloppiness bitmask").
//
// common must be a Ctx produced by CommonHash (or a Clone of one); DirectKey
// forks it via Clone so the shared prefix isn't re-hashed and so common
// remains usable for deriving a preprocessor-mode key from the same state.
func DirectKey(common *Ctx, sourcePath string, preprocessorArgs []string, sloppy sloppiness.Set) (Digest, error) {
	ctx := common.Clone()

	if err := ctx.UpdateFromFile(sourcePath); err != nil {
		return Digest{}, err
	}

	for _, arg := range CanonicalOrder(preprocessorArgs) {
		class := Classify(arg)
		if !class.AffectsPreprocessor {
			continue
		}
		ctx.UpdateString(arg)
	}

	var bitmask [4]byte
	v := sloppy.ToBitmask()
	bitmask[0] = byte(v)
	bitmask[1] = byte(v >> 8)
	bitmask[2] = byte(v >> 16)
	bitmask[3] = byte(v >> 24)
	ctx.Update(bitmask[:])

	return ctx.Digest(), nil
}
