package storeguard

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/storeguard/middleware"
)

const (
	// MaxScore caps the cumulative suspicion score of an IP
	MaxScore = 100

	// BlockThreshold: a single request scoring above this blocks its IP
	BlockThreshold = 50

	// SuspiciousThreshold: a request scoring above this is suspicious
	SuspiciousThreshold = 30

	DefaultBlockDuration           = time.Hour
	DefaultDetectorCleanupInterval = 10 * time.Minute

	// recordTTL is how long an unseen IP keeps its score
	recordTTL = time.Hour

	minUserAgentLength = 10
	burstInterval      = 100 * time.Millisecond

	scoreShortUserAgent = 20
	scoreAutomation     = 15
	scoreForeignReferer = 10
	scoreBurst          = 30
)

var automationPattern = regexp.MustCompile(`(?i)curl|wget|python|scrapy|bot|crawler|spider`)

// Analysis is the detector's verdict on one request
type Analysis struct {
	IP         string   `json:"ip"`
	Suspicious bool     `json:"suspicious"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons"`
	Blocked    bool     `json:"blocked"`
}

// SuspiciousIP is the tracked state of one address
type SuspiciousIP struct {
	IP       string    `json:"ip"`
	Score    int       `json:"score"`
	LastSeen time.Time `json:"lastSeen"`
}

// BlockedIP is an active block
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blockedAt"`
	Until     time.Time `json:"until"`
}

// DetectorRecorder receives detector events
type DetectorRecorder interface {
	RecordAnalysis(suspicious bool)
	RecordBlock()
}

type ipRecord struct {
	score    int
	lastSeen time.Time
}

// Detector scores requests for bot-like or volumetric behaviour and blocks
// abusive IPs for a fixed duration. Blocks expire lazily on read.
type Detector struct {
	resolver      *Resolver
	recorder      DetectorRecorder
	logger        *slog.Logger
	now           func() time.Time
	blockDuration time.Duration

	mu      sync.Mutex
	records map[string]*ipRecord
	blocked map[string]BlockedIP

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

// DetectorOption configures a Detector
type DetectorOption func(*Detector)

func WithDetectorResolver(resolver *Resolver) DetectorOption {
	return func(d *Detector) { d.resolver = resolver }
}

func WithDetectorRecorder(recorder DetectorRecorder) DetectorOption {
	return func(d *Detector) { d.recorder = recorder }
}

func WithDetectorLogger(logger *slog.Logger) DetectorOption {
	return func(d *Detector) { d.logger = logger }
}

func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// WithBlockDuration sets how long blocks last
func WithBlockDuration(duration time.Duration) DetectorOption {
	return func(d *Detector) { d.blockDuration = duration }
}

// NewDetector creates a detector with empty state
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		resolver:      NewResolver(),
		logger:        slog.Default(),
		now:           time.Now,
		blockDuration: DefaultBlockDuration,
		records:       make(map[string]*ipRecord),
		blocked:       make(map[string]BlockedIP),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AnalyzeRequest scores r, updates the IP's cumulative score and blocks
// the IP when this request alone scores above BlockThreshold.
func (d *Detector) AnalyzeRequest(r *http.Request) Analysis {
	ip := d.resolver.ClientIP(r)

	d.mu.Lock()
	now := d.now()

	if d.isBlockedLocked(ip, now) {
		d.mu.Unlock()
		d.recordAnalysis(true)
		return Analysis{
			IP:         ip,
			Suspicious: true,
			Score:      MaxScore,
			Reasons:    []string{"IP is blocked"},
			Blocked:    true,
		}
	}

	score := 0
	reasons := []string{}

	userAgent := r.UserAgent()
	if len(userAgent) < minUserAgentLength {
		score += scoreShortUserAgent
		reasons = append(reasons, "Missing or short user agent")
	}
	if automationPattern.MatchString(userAgent) {
		score += scoreAutomation
		reasons = append(reasons, "Automated user agent")
	}

	if referer := r.Referer(); referer != "" && !strings.Contains(referer, r.Host) {
		score += scoreForeignReferer
		reasons = append(reasons, "Cross-origin referer")
	}

	record, seen := d.records[ip]
	if seen && now.Sub(record.lastSeen) < burstInterval {
		score += scoreBurst
		reasons = append(reasons, "Excessive request frequency")
	}

	if !seen {
		record = &ipRecord{}
		d.records[ip] = record
	}
	record.score = min(MaxScore, record.score+score)
	record.lastSeen = now

	// The per-request score, not the cumulative one, decides blocking.
	var block BlockedIP
	blocked := score > BlockThreshold
	if blocked {
		block = d.blockLocked(ip, fmt.Sprintf("Automatic block: request score %d", score), now)
	}
	d.mu.Unlock()

	suspicious := score > SuspiciousThreshold
	d.recordAnalysis(suspicious)
	if blocked {
		d.logBlock(block)
	}

	return Analysis{
		IP:         ip,
		Suspicious: suspicious,
		Score:      score,
		Reasons:    reasons,
		Blocked:    blocked,
	}
}

// BlockIP blocks ip for the configured duration
func (d *Detector) BlockIP(ip, reason string) {
	d.mu.Lock()
	block := d.blockLocked(ip, reason, d.now())
	d.mu.Unlock()
	d.logBlock(block)
}

// blockLocked records the block; callers log it via logBlock after unlocking.
func (d *Detector) blockLocked(ip, reason string, now time.Time) BlockedIP {
	block := BlockedIP{
		IP:        ip,
		Reason:    reason,
		BlockedAt: now,
		Until:     now.Add(d.blockDuration),
	}
	d.blocked[ip] = block
	return block
}

func (d *Detector) logBlock(block BlockedIP) {
	d.logger.Warn("blocked IP", "ip", block.IP, "reason", block.Reason, "duration", d.blockDuration)
	d.recordBlock()
}

// UnblockIP lifts a block and forgets the IP's score
func (d *Detector) UnblockIP(ip string) {
	d.mu.Lock()
	delete(d.blocked, ip)
	delete(d.records, ip)
	d.mu.Unlock()

	d.logger.Info("unblocked IP", "ip", ip)
}

// IsBlocked reports whether ip is currently blocked
func (d *Detector) IsBlocked(ip string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isBlockedLocked(ip, d.now())
}

func (d *Detector) isBlockedLocked(ip string, now time.Time) bool {
	block, ok := d.blocked[ip]
	if !ok {
		return false
	}
	if !now.Before(block.Until) {
		delete(d.blocked, ip)
		return false
	}
	return true
}

// SuspiciousIPs returns every tracked IP, highest score first
func (d *Detector) SuspiciousIPs() []SuspiciousIP {
	d.mu.Lock()
	out := make([]SuspiciousIP, 0, len(d.records))
	for ip, record := range d.records {
		out = append(out, SuspiciousIP{IP: ip, Score: record.score, LastSeen: record.lastSeen})
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IP < out[j].IP
	})
	return out
}

// BlockedIPs returns the active blocks, soonest expiry first
func (d *Detector) BlockedIPs() []BlockedIP {
	d.mu.Lock()
	now := d.now()
	out := make([]BlockedIP, 0, len(d.blocked))
	for ip, block := range d.blocked {
		if !now.Before(block.Until) {
			delete(d.blocked, ip)
			continue
		}
		out = append(out, block)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Until.Before(out[j].Until)
	})
	return out
}

// Cleanup forgets IPs unseen for over an hour and drops expired blocks.
// Returns the number of records removed.
func (d *Detector) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for ip, record := range d.records {
		if now.Sub(record.lastSeen) > recordTTL {
			delete(d.records, ip)
			removed++
		}
	}
	for ip, block := range d.blocked {
		if !now.Before(block.Until) {
			delete(d.blocked, ip)
		}
	}
	return removed
}

// Start runs Cleanup every interval until Stop is called
func (d *Detector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDetectorCleanupInterval
	}

	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop, d.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := d.Cleanup(); removed > 0 {
					d.logger.Debug("cleaned up suspicious IP records", "removed", removed)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the cleanup loop and waits for it to exit
func (d *Detector) Stop() {
	d.loopMu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.loopMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Middleware analyses every request and answers 403 for blocked IPs
func (d *Detector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		analysis := d.AnalyzeRequest(r)
		if analysis.Blocked {
			middleware.WriteForbidden(w, "Access temporarily blocked due to suspicious activity.")
			return
		}
		if analysis.Suspicious {
			d.logger.Info("suspicious request",
				"ip", analysis.IP,
				"score", analysis.Score,
				"reasons", analysis.Reasons,
				"path", r.URL.Path,
			)
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Detector) recordAnalysis(suspicious bool) {
	if d.recorder != nil {
		d.recorder.RecordAnalysis(suspicious)
	}
}

func (d *Detector) recordBlock() {
	if d.recorder != nil {
		d.recorder.RecordBlock()
	}
}
