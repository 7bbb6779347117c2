package relay

import "sort"

// sharedInterests returns the sorted intersection of two interest lists,
// deduplicated.
func sharedInterests(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}

	seen := make(map[string]bool)
	shared := []string{}
	for _, tag := range b {
		if set[tag] && !seen[tag] {
			seen[tag] = true
			shared = append(shared, tag)
		}
	}
	sort.Strings(shared)
	return shared
}

// compatible reports whether two clients may be paired and with which shared
// interests. If either side requires interest matching, at least one shared
// tag is needed; otherwise any pairing goes.
func compatible(aInterests []string, aRequire bool, bInterests []string, bRequire bool) ([]string, bool) {
	shared := sharedInterests(aInterests, bInterests)
	if (aRequire || bRequire) && len(shared) == 0 {
		return nil, false
	}
	return shared, true
}
