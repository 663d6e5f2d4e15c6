package extraction

import "context"

type runInfoKey struct{}

// RunInfo identifies the extraction run an operation belongs to. It rides
// the context so pipeline components can tag fetches, evidence, and
// progress events without widening their interfaces.
type RunInfo struct {
	RunID    string
	RepoPath string
}

// WithRunInfo attaches run metadata to the context.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext extracts run metadata when present.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}
