package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"srcode/internal/source"
)

// uniqueNames gives every name a distinct, case-insensitive spelling by
// suffixing repeats with -2, -3 in input order. CombinedName is reserved for
// the merged table.
func uniqueNames(names []string) []string {
	used := map[string]bool{CombinedName: true}
	out := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			name = "source"
		}
		candidate := name
		for n := 2; used[strings.ToLower(candidate)]; n++ {
			candidate = fmt.Sprintf("%s-%d", name, n)
		}
		used[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}

// renameDuplicates returns a copy of sources whose names are unique, so
// every source gets its own published artifact.
func (s *Service) renameDuplicates(sources []source.Source) []source.Source {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = src.Name
	}
	out := make([]source.Source, len(sources))
	for i, name := range uniqueNames(names) {
		out[i] = sources[i]
		if name != sources[i].Name {
			s.logger().Warn("source renamed",
				zap.String("source", sources[i].Name),
				zap.String("name", name),
				zap.String("origin", sources[i].Origin))
			out[i].Name = name
		}
	}
	return out
}
