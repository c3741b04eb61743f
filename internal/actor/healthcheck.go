package actor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/scee/internal/consts"
)

// HealthStatus represents the health status of an actor
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthMetrics contains health-related metrics for an actor
type HealthMetrics struct {
	MailboxDepth    int     `json:"mailbox_depth"`
	MailboxCapacity int     `json:"mailbox_capacity"`
	MailboxUsage    float64 `json:"mailbox_usage"` // percentage

	LastActivityTime time.Time     `json:"last_activity_time"`
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`

	ErrorCount   int64     `json:"error_count"`
	LastError    time.Time `json:"last_error,omitempty"`
	LastErrorMsg string    `json:"last_error_msg,omitempty"`

	CustomMetrics interface{} `json:"custom_metrics,omitempty"`
}

// HealthReport contains the complete health assessment of an actor
type HealthReport struct {
	ActorID   string        `json:"actor_id"`
	Status    HealthStatus  `json:"status"`
	Metrics   HealthMetrics `json:"metrics"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthCheckRequest asks an actor's run loop for a report. Because it goes
// through the mailbox, a reply also proves the loop is not stuck.
type HealthCheckRequest struct {
	ResponseChan chan<- HealthReport
}

func (HealthCheckRequest) Type() string {
	return "HealthCheckRequest"
}

// MetricsProvider is implemented by actors that add their own metrics to
// health reports
type MetricsProvider interface {
	CustomMetrics() interface{}
}

// HealthCheckable tracks activity and errors for one actor
type HealthCheckable struct {
	id              string
	mu              sync.RWMutex
	mailbox         chan Message
	startTime       time.Time
	lastActivity    time.Time
	errorCount      int64
	lastError       time.Time
	lastErrorMsg    string
	metricsProvider func() interface{}
}

// NewHealthCheckable creates a tracker over mailbox
func NewHealthCheckable(id string, mailbox chan Message, metricsProvider func() interface{}) *HealthCheckable {
	now := time.Now()
	return &HealthCheckable{
		id:              id,
		mailbox:         mailbox,
		startTime:       now,
		lastActivity:    now,
		metricsProvider: metricsProvider,
	}
}

// MarkStarted resets the uptime clock
func (h *HealthCheckable) MarkStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startTime = time.Now()
	h.lastActivity = h.startTime
}

// GetHealthMetrics returns current health metrics
func (h *HealthCheckable) GetHealthMetrics() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	mailboxDepth := len(h.mailbox)
	mailboxCapacity := cap(h.mailbox)
	var mailboxUsage float64
	if mailboxCapacity > 0 {
		mailboxUsage = float64(mailboxDepth) / float64(mailboxCapacity) * 100
	}

	var customMetrics interface{}
	if h.metricsProvider != nil {
		customMetrics = h.metricsProvider()
	}

	return HealthMetrics{
		MailboxDepth:     mailboxDepth,
		MailboxCapacity:  mailboxCapacity,
		MailboxUsage:     mailboxUsage,
		LastActivityTime: h.lastActivity,
		StartTime:        h.startTime,
		Uptime:           time.Since(h.startTime),
		ErrorCount:       h.errorCount,
		LastError:        h.lastError,
		LastErrorMsg:     h.lastErrorMsg,
		CustomMetrics:    customMetrics,
	}
}

// RecordActivity updates the last activity timestamp
func (h *HealthCheckable) RecordActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = time.Now()
}

// RecordError records an error occurrence
func (h *HealthCheckable) RecordError(err error) {
	if err == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorCount++
	h.lastError = time.Now()
	h.lastErrorMsg = err.Error()
}

// GenerateHealthReport classifies the actor: a congested mailbox or a recent
// error degrades it, both together make it unhealthy.
func (h *HealthCheckable) GenerateHealthReport() HealthReport {
	metrics := h.GetHealthMetrics()

	var issues []string
	if metrics.MailboxUsage > consts.HealthMailboxThreshold {
		issues = append(issues, fmt.Sprintf("high mailbox usage (%.1f%%)", metrics.MailboxUsage))
	}
	if metrics.ErrorCount > 0 && time.Since(metrics.LastError) < consts.HealthErrorWindow {
		issues = append(issues, fmt.Sprintf("recent error: %s", metrics.LastErrorMsg))
	}

	report := HealthReport{
		ActorID:   h.id,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}

	switch len(issues) {
	case 0:
		report.Status = HealthStatusHealthy
		report.Message = "operating normally"
	case 1:
		report.Status = HealthStatusDegraded
		report.Message = issues[0]
	default:
		report.Status = HealthStatusUnhealthy
		report.Message = strings.Join(issues, "; ")
	}
	return report
}

// Respond answers a HealthCheckRequest unless ctx ends first
func (h *HealthCheckable) Respond(ctx context.Context, req HealthCheckRequest) {
	select {
	case req.ResponseChan <- h.GenerateHealthReport():
	case <-ctx.Done():
	}
}
