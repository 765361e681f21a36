package segmentation

// CorruptionCheck decides whether a decoded label map indicates a corrupted
// model runtime. The default heuristic treats a fully background frame as
// suspect, which can false-positive on a frame genuinely empty of findings;
// keeping this behind an interface lets it be tuned per model.
type CorruptionCheck interface {
	Corrupted(m *LabelMap) bool
}

// AllBackgroundCheck flags any frame whose labels are all background.
type AllBackgroundCheck struct{}

func (AllBackgroundCheck) Corrupted(m *LabelMap) bool {
	return m.AllBackground()
}
