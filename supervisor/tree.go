package supervisor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// TreeTerminator stops pid and its descendants. It sends a graceful signal,
// waits up to grace for exited to close, then kills whatever remains.
type TreeTerminator func(ctx context.Context, pid int, grace time.Duration, exited <-chan struct{}) error

// KillTree is the default TreeTerminator.
// Descendants are collected before signalling, since bundled interpreters
// fork workers that outlive a killed parent.
func KillTree(ctx context.Context, pid int, grace time.Duration, exited <-chan struct{}) error {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	tree := append(descendants(ctx, root), root)

	for _, p := range tree {
		_ = p.TerminateWithContext(ctx)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
	case <-ctx.Done():
	}

	for _, p := range tree {
		if running, err := p.IsRunningWithContext(ctx); err == nil && running {
			_ = p.KillWithContext(ctx)
		}
	}
	return nil
}

// descendants returns every process below p, deepest first.
func descendants(ctx context.Context, p *process.Process) []*process.Process {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(ctx, c)...)
		out = append(out, c)
	}
	return out
}
