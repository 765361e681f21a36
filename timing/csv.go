package timing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrPersistence marks a report file write failure. Callers log it and move
// on; the live pipeline never depends on report durability.
var ErrPersistence = errors.New("report write failed")

const timestampLayout = "2006-01-02 15:04:05.000"

var (
	sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	collapseRe = regexp.MustCompile(`_{2,}`)
	trimRe     = regexp.MustCompile(`^_|_$`)
)

var perFrameHeader = []string{"timestamp", "prep_ms", "inference_ms", "post_ms", "total_ms"}

var summaryHeader = []string{
	"timestamp", "duration_ms", "count",
	"prep_avg_ms", "prep_min_ms", "prep_max_ms", "prep_stddev_ms",
	"inference_avg_ms", "inference_min_ms", "inference_max_ms", "inference_stddev_ms",
	"post_avg_ms", "post_min_ms", "post_max_ms", "post_stddev_ms",
	"total_avg_ms", "total_min_ms", "total_max_ms", "total_stddev_ms",
	"prep_percent", "inference_percent", "post_percent", "average_fps",
}

// ReportWriter appends timing windows to two tabular files: per-sample rows
// and summary rows. Headers are written once, when a file is first created.
type ReportWriter struct {
	perFramePath string
	summaryPath  string
}

// NewReportWriter derives report file names from the model file name and
// ensures the report directory exists.
func NewReportWriter(dir, modelName string) (*ReportWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	base := "timing_data_" + sanitizeModelName(modelName)
	return &ReportWriter{
		perFramePath: filepath.Join(dir, base+"_perframe.csv"),
		summaryPath:  filepath.Join(dir, base+"_summary.csv"),
	}, nil
}

// WriteSamples appends one row per sample to the per-frame file.
func (w *ReportWriter) WriteSamples(samples []Sample) error {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			s.Timestamp.Format(timestampLayout),
			formatMs(toMs(s.Prep)),
			formatMs(toMs(s.Inference)),
			formatMs(toMs(s.Post)),
			formatMs(toMs(s.Total)),
		})
	}
	return w.appendRows(w.perFramePath, perFrameHeader, rows)
}

// WriteSummary appends one recomputed summary row.
func (w *ReportWriter) WriteSummary(s Summary) error {
	row := []string{
		time.Now().Format(timestampLayout),
		strconv.FormatInt(s.WindowDuration.Milliseconds(), 10),
		strconv.Itoa(s.SampleCount),
	}
	for _, st := range []StageStats{s.Prep, s.Inference, s.Post, s.Total} {
		row = append(row,
			formatMs(st.MeanMs),
			formatMs(st.MinMs),
			formatMs(st.MaxMs),
			formatMs(st.StdDevMs),
		)
	}
	row = append(row,
		strconv.FormatFloat(s.PrepPercent, 'f', 1, 64),
		strconv.FormatFloat(s.InferencePercent, 'f', 1, 64),
		strconv.FormatFloat(s.PostPercent, 'f', 1, 64),
		strconv.FormatFloat(s.FPS, 'f', 2, 64),
	)
	return w.appendRows(w.summaryPath, summaryHeader, [][]string{row})
}

func (w *ReportWriter) appendRows(path string, header []string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func sanitizeModelName(name string) string {
	s := sanitizeRe.ReplaceAllString(filepath.Base(name), "_")
	s = collapseRe.ReplaceAllString(s, "_")
	s = trimRe.ReplaceAllString(s, "")
	if s == "" {
		return "unknown_model"
	}
	return strings.ToLower(s)
}
