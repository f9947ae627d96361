// Package keyframesink turns accepted KeyframeCandidates into
// transport-ready Observations (spec.md §4.5): downscale to a target
// width, JPEG-encode, and optionally persist to disk on a background
// writer so the detection path never blocks on I/O.
package keyframesink

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"gocv.io/x/gocv"

	"github.com/technosupport/vision-compliance/internal/changedetect"
	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
)

// writeJob is a unit of work for the background disk writer.
type writeJob struct {
	key  string
	path string
	data []byte
}

// MetricsRecorder lets a Sink report its async write queue's health
// without importing internal/metrics directly. Optional: an unwired Sink
// records nothing.
type MetricsRecorder interface {
	SetQueueDepth(sessionID string, depth float64)
	IncWritesDropped(sessionID string)
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(string, float64) {}
func (noopMetrics) IncWritesDropped(string)        {}

// Sink encodes candidates into Observations and, if a directory is
// configured, persists them asynchronously. Observation indexes
// increase monotonically per Sink instance (one Sink per session), per
// spec.md's invariant on Observation ordering.
type Sink struct {
	cfg       engineconfig.EngineConfig
	live      bool // live sessions use JPEGQualityLive instead of JPEGQuality
	outputDir string

	mu        sync.Mutex
	nextIdx   int
	queue     chan writeJob
	dedup     *lru.Cache[string, struct{}]
	wg        sync.WaitGroup
	closed    bool
	dropped   int
	buffered  int
	sessionID string
	metrics   MetricsRecorder
}

// New creates a Sink. outputDir may be empty, in which case Observations
// are produced without ever touching disk.
func New(cfg engineconfig.EngineConfig, live bool, outputDir string) *Sink {
	dedup, _ := lru.New[string, struct{}](cfg.DedupCacheSize)
	s := &Sink{
		cfg:       cfg,
		live:      live,
		outputDir: outputDir,
		queue:     make(chan writeJob, cfg.SinkQueueDepth),
		dedup:     dedup,
		metrics:   noopMetrics{},
	}
	if outputDir != "" {
		s.wg.Add(1)
		go s.writeLoop()
	}
	return s
}

// SetMetrics wires a MetricsRecorder into the Sink, labeled by sessionID.
// Called once after New, before the first Encode; nil resets it to a no-op.
func (s *Sink) SetMetrics(sessionID string, m MetricsRecorder) {
	if m == nil {
		m = noopMetrics{}
	}
	s.mu.Lock()
	s.sessionID = sessionID
	s.metrics = m
	s.mu.Unlock()
}

// Encode downscales and JPEG-encodes a keyframe candidate, producing an
// Observation with a freshly assigned monotonic index. The candidate's
// Mat is not closed here — the caller (Session) owns that lifecycle.
func (s *Sink) Encode(c changedetect.Candidate) (compliance.Observation, error) {
	resized := s.resize(c.Frame.Mat)
	defer resized.Close()

	quality := s.cfg.JPEGQuality
	if s.live {
		quality = s.cfg.JPEGQualityLive
	}
	buf, err := gocv.IMEncodeWithParams(".jpg", resized, []int{gocv.IMWriteJpegQuality, int(quality * 100)})
	if err != nil {
		return compliance.Observation{}, fmt.Errorf("keyframesink: encode: %w", err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)

	s.mu.Lock()
	idx := s.nextIdx
	s.nextIdx++
	s.mu.Unlock()

	obs := compliance.Observation{
		Index:       idx,
		Timestamp:   c.Frame.Timestamp,
		Trigger:     string(c.Reason),
		ChangeScore: c.Score,
		ImageBase64: encodeBase64(data),
	}

	if s.outputDir != "" {
		key := fmt.Sprintf("%d-%s", idx, c.Reason)
		s.enqueueWrite(key, data, idx)
	}
	return obs, nil
}

func (s *Sink) resize(src gocv.Mat) gocv.Mat {
	maxWidth := s.cfg.KeyframeMaxWidth
	if maxWidth <= 0 || src.Cols() <= maxWidth {
		out := gocv.NewMat()
		src.CopyTo(&out)
		return out
	}
	scale := float64(maxWidth) / float64(src.Cols())
	h := int(float64(src.Rows()) * scale)
	out := gocv.NewMat()
	gocv.Resize(src, &out, image.Pt(maxWidth, h), 0, 0, gocv.InterpolationArea)
	return out
}

// enqueueWrite hands a write off to the background writer. The queue is
// bounded; on overflow the oldest pending write is dropped, never the
// current one — detection throughput always wins over archival writes.
func (s *Sink) enqueueWrite(key string, data []byte, idx int) {
	if s.dedup.Contains(key) {
		return
	}
	s.dedup.Add(key, struct{}{})

	path := filepath.Join(s.outputDir, fmt.Sprintf("keyframe-%08d.jpg", idx))
	job := writeJob{key: key, path: path, data: data}

	select {
	case s.queue <- job:
	default:
		select {
		case old := <-s.queue:
			log.Printf("[SINK] queue full, dropping pending write %s", old.path)
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.metrics.IncWritesDropped(s.sessionID)
		default:
		}
		select {
		case s.queue <- job:
		default:
			log.Printf("[SINK] queue still full, dropping new write %s", job.path)
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			s.metrics.IncWritesDropped(s.sessionID)
		}
	}
	s.metrics.SetQueueDepth(s.sessionID, float64(len(s.queue)))
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for job := range s.queue {
		if err := os.WriteFile(job.path, job.data, 0o644); err != nil {
			log.Printf("[SINK] write %s failed: %v", job.path, err)
		}
		s.metrics.SetQueueDepth(s.sessionID, float64(len(s.queue)))
	}
}

// Close stops accepting new writes and waits for pending ones to flush.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.outputDir != "" {
		close(s.queue)
		s.wg.Wait()
	}
}

// Dropped returns the number of pending writes discarded to queue
// overflow, for metrics.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
