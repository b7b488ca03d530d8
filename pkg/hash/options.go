package hash

import "strings"

// OptionClass classifies one compiler-argument option for the purposes of
// hashing and mode selection (spec.md §4.1). It mirrors the predicate set
// of ccache's own compopt_* functions (orig: src/ccache/compopt.hpp):
// compopt_affects_cpp_output, compopt_affects_compiler_output,
// compopt_too_hard, compopt_too_hard_for_direct_mode, compopt_takes_path,
// compopt_takes_arg, compopt_takes_concat_arg.
type OptionClass struct {
	// AffectsPreprocessor is true for options that change preprocessed
	// output (include paths, macro definitions) and so must be hashed into
	// the direct-mode key.
	AffectsPreprocessor bool
	// AffectsCompiler is true for options that change compiler output
	// without affecting preprocessing (optimization level, debug info) and
	// so must be hashed into both common and preprocessor-mode keys.
	AffectsCompiler bool
	// TooHard disqualifies the whole invocation from caching (spec.md
	// §4.1: "Options whose behavior is known to be too hard to cache...
	// disqualify the invocation from caching").
	TooHard bool
	// TooHardForDirectMode permits preprocessor-mode caching but forces a
	// fallback from direct mode.
	TooHardForDirectMode bool
	// TakesPath indicates the option is followed by (or concatenated
	// with) a path argument whose normalized form must also be hashed.
	TakesPath bool
	// TakesArg indicates the option consumes a following argument.
	TakesArg bool
	// TakesConcatArg indicates the argument is concatenated directly onto
	// the option, e.g. "-Ifoo" rather than "-I foo".
	TakesConcatArg bool
}

// optionEntry pairs a table key (exact option spelling or a prefix) with
// its classification.
type optionEntry struct {
	key    string
	prefix bool
	class  OptionClass
}

// optionTable lists options in the canonical order used when hashing the
// "compiler args" bucket (spec.md §4.1 step 4: "sorted into a canonical
// order defined by an options table"). The canonical order is the byte-wise
// order of the matched keys (see stableSortByOptionKey), not the order of
// this table; Classify resolves prefix ties by preferring the longest
// matching key regardless of table order.
var optionTable = []optionEntry{
	{key: "-D", prefix: true, class: OptionClass{AffectsPreprocessor: true, TakesConcatArg: true}},
	{key: "-E", prefix: false, class: OptionClass{TooHard: true}},
	{key: "-I", prefix: true, class: OptionClass{AffectsPreprocessor: true, TakesConcatArg: true, TakesPath: true}},
	{key: "-MD", prefix: false, class: OptionClass{AffectsCompiler: true}},
	{key: "-MF", prefix: false, class: OptionClass{AffectsCompiler: true, TakesArg: true, TakesPath: true}},
	{key: "-MM", prefix: false, class: OptionClass{TooHard: true}},
	{key: "-MMD", prefix: false, class: OptionClass{AffectsCompiler: true}},
	{key: "-MQ", prefix: false, class: OptionClass{AffectsCompiler: true, TakesArg: true}},
	{key: "-MT", prefix: false, class: OptionClass{AffectsCompiler: true, TakesArg: true}},
	{key: "-U", prefix: true, class: OptionClass{AffectsPreprocessor: true, TakesConcatArg: true}},
	{key: "--analyze", prefix: false, class: OptionClass{TooHard: true}},
	{key: "-c", prefix: false, class: OptionClass{AffectsCompiler: true}},
	{key: "-fmodules", prefix: false, class: OptionClass{AffectsCompiler: true, TooHardForDirectMode: true}},
	{key: "-frandom-seed=", prefix: true, class: OptionClass{AffectsCompiler: true, TakesConcatArg: true}},
	{key: "-g", prefix: true, class: OptionClass{AffectsCompiler: true}},
	{key: "-idirafter", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-imacros", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-include", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-index-store-path", prefix: false, class: OptionClass{AffectsCompiler: true, TakesArg: true, TakesPath: true}},
	{key: "-iquote", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-isystem", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-ivfsoverlay", prefix: false, class: OptionClass{AffectsPreprocessor: true, TakesArg: true, TakesPath: true}},
	{key: "-o", prefix: false, class: OptionClass{TakesArg: true, TakesPath: true}},
	{key: "-save-temps", prefix: true, class: OptionClass{TooHard: true}},
}

// defaultClass is returned for any argument not present in optionTable: an
// ordinary option assumed to affect compiler output, as ccache does for
// unrecognized flags.
var defaultClass = OptionClass{AffectsCompiler: true}

// matchedEntry returns the longest-matching table entry for arg, if any.
func matchedEntry(arg string) (optionEntry, bool) {
	var best optionEntry
	haveBest := false
	for _, entry := range optionTable {
		if entry.prefix {
			if strings.HasPrefix(arg, entry.key) {
				if !haveBest || len(entry.key) > len(best.key) {
					best = entry
					haveBest = true
				}
			}
		} else if arg == entry.key {
			if !haveBest || len(entry.key) > len(best.key) {
				best = entry
				haveBest = true
			}
		}
	}
	return best, haveBest
}

// Classify returns the OptionClass for a compiler argument. When multiple
// table entries' prefixes match, the longest match wins (spec.md §4.1
// "Tie-breaks").
func Classify(arg string) OptionClass {
	if entry, ok := matchedEntry(arg); ok {
		return entry.class
	}
	return defaultClass
}

// ConcatPrefixLen returns the length of the matched option key when arg is
// classified TakesConcatArg (so the path portion starts right after it),
// or 0 if arg doesn't match a concatenated-argument option.
func ConcatPrefixLen(arg string) int {
	entry, ok := matchedEntry(arg)
	if !ok || !entry.class.TakesConcatArg {
		return 0
	}
	return len(entry.key)
}

// CanonicalOrder sorts a slice of arguments into the canonical order used
// for hashing (spec.md §4.1 step 4), using the stable insertion sort in
// stableSortByOptionKey. Arguments that map to the same table key retain
// their relative input order; arguments not found in the option table are
// keyed, and so sorted, by their own string.
func CanonicalOrder(args []string) []string {
	sorted := make([]string, len(args))
	copy(sorted, args)
	stableSortByOptionKey(sorted)
	return sorted
}

// stableSortByOptionKey performs an insertion sort (cheap for the small
// argument counts typical of a single compiler invocation) keyed on each
// argument's longest matching table entry, falling back to the raw
// argument string so unrecognized options still sort deterministically.
func stableSortByOptionKey(args []string) {
	key := func(s string) string {
		for _, entry := range optionTable {
			if entry.prefix && strings.HasPrefix(s, entry.key) {
				return entry.key
			}
			if !entry.prefix && s == entry.key {
				return entry.key
			}
		}
		return s
	}
	for i := 1; i < len(args); i++ {
		j := i
		for j > 0 && key(args[j-1]) > key(args[j]) {
			args[j-1], args[j] = args[j], args[j-1]
			j--
		}
	}
}
