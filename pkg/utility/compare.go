package utility

// StringSlicesEqual reports whether two string slices contain the same
// elements in the same order. nil and empty slices compare equal.
func StringSlicesEqual(first, second []string) bool {
	if len(first) != len(second) {
		return false
	}
	for i, v := range first {
		if second[i] != v {
			return false
		}
	}
	return true
}

// StringMapsEqual reports whether two string-keyed maps hold identical
// key/value pairs. nil and empty maps compare equal.
func StringMapsEqual(first, second map[string]string) bool {
	if len(first) != len(second) {
		return false
	}
	for k, v := range first {
		if other, ok := second[k]; !ok || other != v {
			return false
		}
	}
	return true
}
