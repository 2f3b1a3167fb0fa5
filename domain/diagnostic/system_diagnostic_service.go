package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/console/pkg/channel"
)

// SystemMetrics represents the robot host health as last reported
type SystemMetrics struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	CPUTemp   float64   `json:"cpu_temp"`
	CPULoad   float64   `json:"cpu_load"`
	RAMUsed   float64   `json:"ram_used"`
	RAMTotal  float64   `json:"ram_total"`
	DiskUsed  float64   `json:"disk_used"`
	DiskTotal float64   `json:"disk_total"`
	Uptime    float64   `json:"uptime"`                // seconds
	WifiRSSI  *float64  `json:"wifi_rssi"`             // dBm, nil without wifi
	RAMPct    float64   `json:"ram_percent,omitempty"` // derived
	DiskPct   float64   `json:"disk_percent,omitempty"`
}

// DiagnosticService stores the latest system report
type DiagnosticService struct {
	mu       sync.RWMutex
	metrics  SystemMetrics
	reported bool
	reports  int64
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService() *DiagnosticService {
	return &DiagnosticService{}
}

// HandleMessage stores a system channel report.
func (s *DiagnosticService) HandleMessage(msg channel.SystemMessage) {
	m := SystemMetrics{
		IP:        msg.IP,
		CPUTemp:   msg.CPUTemp,
		CPULoad:   msg.CPULoad,
		RAMUsed:   msg.RAMUsed,
		RAMTotal:  msg.RAMTotal,
		DiskUsed:  msg.DiskUsed,
		DiskTotal: msg.DiskTotal,
		Uptime:    msg.Uptime,
	}
	if msg.WifiRSSI != nil {
		rssi := *msg.WifiRSSI
		m.WifiRSSI = &rssi
	}
	if msg.RAMTotal > 0 {
		m.RAMPct = 100 * msg.RAMUsed / msg.RAMTotal
	}
	if msg.DiskTotal > 0 {
		m.DiskPct = 100 * msg.DiskUsed / msg.DiskTotal
	}
	s.UpdateMetrics(m)
}

// UpdateMetrics updates the stored system metrics
func (s *DiagnosticService) UpdateMetrics(metrics SystemMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = metrics
	s.metrics.Timestamp = time.Now()
	s.reported = true
	s.reports++
}

// GetMetrics returns the current system metrics and whether the robot has
// reported at all.
func (s *DiagnosticService) GetMetrics() (SystemMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.metrics
	if m.WifiRSSI != nil {
		rssi := *m.WifiRSSI
		m.WifiRSSI = &rssi
	}
	return m, s.reported
}

// Reports returns how many reports have been stored.
func (s *DiagnosticService) Reports() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports
}

// GetMetricsHandler handles API requests for system metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	metrics, ok := s.GetMetrics()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "error",
			"error":  "robot has not reported system metrics yet",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": metrics,
	})
}
