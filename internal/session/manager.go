package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/metrics"
	"github.com/technosupport/vision-compliance/internal/progressbus"
	"github.com/technosupport/vision-compliance/internal/videoframe"
)

// Dependencies are the process-wide collaborators every session shares:
// one VLM/Evaluator/RateLimiter per process, per spec.md §5's note that
// rate limiting is process-global rather than per-session.
type Dependencies struct {
	VLM         dispatch.VLM
	Evaluator   dispatch.Evaluator
	Transcriber dispatch.Transcriber // optional
	Limiter     dispatch.RateLimiter

	OutputDir string              // optional, keyframe persistence
	Metrics   *metrics.Collector  // optional
	Mirror    *progressbus.Mirror // optional
}

// Manager tracks every running Session so Stop and Get can address one by
// id. One Manager belongs to one process.
type Manager struct {
	cfg  engineconfig.EngineConfig
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg engineconfig.EngineConfig, deps Dependencies) *Manager {
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// StartFileAnalysis runs source to completion and emits a single Report,
// per spec.md §4.7.
func (m *Manager) StartFileAnalysis(path string, policy compliance.Policy) (*Session, error) {
	src, err := videoframe.OpenFile(path, videoframe.Options{})
	if err != nil {
		return nil, err
	}
	return m.launch(false, src, policy, 0), nil
}

// StartLiveMonitoring runs until Stop, emitting one Report per window.
// windowDuration <= 0 falls back to the configured default.
func (m *Manager) StartLiveMonitoring(uri string, policy compliance.Policy, windowDuration float64) (*Session, error) {
	src, err := videoframe.OpenLive(uri, videoframe.Options{SampleInterval: m.cfg.SampleInterval})
	if err != nil {
		return nil, err
	}
	if windowDuration <= 0 {
		windowDuration = m.cfg.WindowDuration
	}
	return m.launch(true, src, policy, windowDuration), nil
}

func (m *Manager) launch(live bool, src videoframe.Source, policy compliance.Policy, windowDuration float64) *Session {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	sess := newSession(id, live, cancel)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	if m.deps.Metrics != nil {
		m.deps.Metrics.SessionsActive.Inc()
	}

	go func() {
		defer func() {
			if m.deps.Metrics != nil {
				m.deps.Metrics.SessionsActive.Dec()
			}
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
		}()
		if live {
			m.runLive(ctx, sess, src, policy, windowDuration)
		} else {
			m.runFile(ctx, sess, src, policy)
		}
	}()
	return sess
}

// Stop requests cooperative shutdown of the named session and blocks
// until it has actually exited.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %s not found", id)
	}
	sess.Stop()
	return nil
}

// Get returns the running session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}
