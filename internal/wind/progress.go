package wind

import (
	"github.com/cheggaaa/pb/v3"
)

// progressReporter wraps a cheggaaa/pb bar tracking files_complete over
// files_count for one attended-mode session. In daemon or quiet mode,
// callers skip constructing one entirely; no per-file progress is logged
// in its place.
type progressReporter struct {
	bar *pb.ProgressBar
}

func newProgressReporter() *progressReporter {
	bar, err := pb.New(0).SetTemplateString(`downloading: {{ bar . }} {{ counters . }}`)
	if err != nil {
		bar = pb.New(0)
	}
	bar.Start()
	return &progressReporter{bar: bar}
}

func (p *progressReporter) set(complete, total int) {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.SetTotal(int64(total))
	p.bar.SetCurrent(int64(complete))
}

func (p *progressReporter) finish() {
	if p == nil || p.bar == nil {
		return
	}
	p.bar.Finish()
}
