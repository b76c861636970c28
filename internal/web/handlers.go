package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/StepGo/internal/hw/motor"
)

// MaxRequestBytes caps request bodies; control requests are tiny.
const MaxRequestBytes = 1 << 20

// DefaultMinGap is the debounce window between web-started motions.
// A second start request inside the window gets 429.
const DefaultMinGap = 5 * time.Second

// Axis is the motion surface the handlers drive. *motor.Controller
// satisfies it; tests substitute lighter fakes.
type Axis interface {
	MoveSteps(ctx context.Context, steps int, dir motor.Direction) (motor.MoveResult, error)
	MoveAngle(ctx context.Context, degrees float64, dir motor.Direction) (motor.MoveResult, error)
	Home(ctx context.Context) (int, error)
	Calibrate(ctx context.Context) (int, error)
	Stop()
	EmergencyStop()
	Position() int
	Moving() bool
	Config() motor.Config
	SetSpeed(rpm float64) error
}

// MoveRequest is the body of POST /move. Exactly one of Steps or
// Angle selects the distance.
type MoveRequest struct {
	Steps     int     `json:"steps"`
	Angle     float64 `json:"angle"`
	Direction string  `json:"direction"`
}

// SpeedRequest is the body of POST /speed.
type SpeedRequest struct {
	SpeedRPM float64 `json:"speed_rpm"`
}

// ValidateMoveRequest checks a move request before it reaches the
// motor. The distance must be positive and given exactly once.
func ValidateMoveRequest(req MoveRequest) error {
	if math.IsNaN(req.Angle) || math.IsInf(req.Angle, 0) {
		return fmt.Errorf("angle must be a finite number")
	}
	if req.Steps < 0 {
		return fmt.Errorf("steps must be >= 0, got %d", req.Steps)
	}
	if req.Angle < 0 {
		return fmt.Errorf("angle must be >= 0, got %g", req.Angle)
	}
	if req.Steps == 0 && req.Angle == 0 {
		return fmt.Errorf("steps or angle is required")
	}
	if req.Steps != 0 && req.Angle != 0 {
		return fmt.Errorf("steps and angle are mutually exclusive")
	}
	if _, err := motor.ParseDirection(req.Direction); err != nil {
		return fmt.Errorf("direction must be forward or reverse, got %q", req.Direction)
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Axis        Axis

	runningMu sync.Mutex
	running   bool
	lastStart time.Time
	minGap    time.Duration

	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If axis is nil, motion endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, axis Axis, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Axis:        axis,
		minGap:      DefaultMinGap,
		staticFS:    staticFS,
	}
}

// tryStart claims the single web motion slot. On refusal it writes
// the response itself and returns false. Stop endpoints bypass this:
// stopping must always be possible.
func (h *Handlers) tryStart(w http.ResponseWriter) bool {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()
	if h.running {
		http.Error(w, "motion already in progress", http.StatusConflict)
		return false
	}
	if !h.lastStart.IsZero() && time.Since(h.lastStart) < h.minGap {
		http.Error(w, "too many motion requests", http.StatusTooManyRequests)
		return false
	}
	h.running = true
	h.lastStart = time.Now()
	return true
}

func (h *Handlers) finish() {
	h.runningMu.Lock()
	h.running = false
	h.runningMu.Unlock()
}

// accepted writes the 202 response for a motion started in the background.
func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// HandleMove handles POST /move: a bounded move by steps or angle.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MoveRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateMoveRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.tryStart(w) {
		return
	}

	dir, _ := motor.ParseDirection(req.Direction)
	go func() {
		defer h.finish()

		var (
			res motor.MoveResult
			err error
		)
		if req.Angle != 0 {
			res, err = h.Axis.MoveAngle(context.Background(), req.Angle, dir)
		} else {
			res, err = h.Axis.MoveSteps(context.Background(), req.Steps, dir)
		}
		if err != nil {
			h.Broadcaster.Broadcast("error", "Move failed: "+err.Error())
			log.Printf("web: move failed: %v", err)
		} else {
			h.Broadcaster.Broadcast("info",
				fmt.Sprintf("Move %s: %d/%d steps (%s)", dir, res.Moved, res.Requested, res.Reason))
		}
		h.Broadcaster.BroadcastPosition(h.Axis.Position(), false)
	}()

	accepted(w)
}

// HandleHome handles POST /home: drive to the bottom switch and zero.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.tryStart(w) {
		return
	}

	go func() {
		defer h.finish()

		moved, err := h.Axis.Home(context.Background())
		if err != nil {
			h.Broadcaster.Broadcast("error", "Homing failed: "+err.Error())
			log.Printf("web: homing failed: %v", err)
		} else {
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Homed after %d steps", moved))
		}
		h.Broadcaster.BroadcastPosition(h.Axis.Position(), false)
	}()

	accepted(w)
}

// HandleCalibrate handles POST /calibrate: measure the real travel.
func (h *Handlers) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.tryStart(w) {
		return
	}

	go func() {
		defer h.finish()

		measured, err := h.Axis.Calibrate(context.Background())
		if err != nil {
			h.Broadcaster.Broadcast("error", "Calibration failed: "+err.Error())
			log.Printf("web: calibration failed: %v", err)
		} else {
			h.Broadcaster.Broadcast("info", fmt.Sprintf("Measured range: %d steps", measured))
		}
		h.Broadcaster.BroadcastPosition(h.Axis.Position(), false)
	}()

	accepted(w)
}

// HandleStop handles POST /stop. It is synchronous, never rate
// limited, and works whether or not the move was started via the web.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}

	h.Axis.Stop()
	h.Broadcaster.Broadcast("info", "Stop requested")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "stopped",
		"position": h.Axis.Position(),
	})
}

// HandleEStop handles POST /estop: stop and zero the step counter.
func (h *Handlers) HandleEStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}

	h.Axis.EmergencyStop()
	h.Broadcaster.Broadcast("error", "EMERGENCY STOP")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "stopped",
		"position": h.Axis.Position(),
	})
}

// HandleSpeed handles POST /speed. Speed changes wait behind motion
// on the controller itself, so a busy axis is refused outright.
func (h *Handlers) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}

	var req SpeedRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if h.Axis.Moving() {
		http.Error(w, "cannot change speed while moving", http.StatusConflict)
		return
	}
	if err := h.Axis.SetSpeed(req.SpeedRPM); err != nil {
		if errors.Is(err, motor.ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Broadcaster.Broadcast("info", fmt.Sprintf("Speed set to %g RPM", req.SpeedRPM))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"speed_rpm": req.SpeedRPM})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Position int  `json:"position"`
	Moving   bool `json:"moving"`
}

// HandleStatus handles GET /status. It reads atomics only and never
// waits behind an in-flight move.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		Position: h.Axis.Position(),
		Moving:   h.Axis.Moving(),
	})
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	StepsPerRev    int     `json:"steps_per_rev"`
	Microstepping  int     `json:"microstepping"`
	SpeedRPM       float64 `json:"speed_rpm"`
	FullRangeSteps int     `json:"full_range_steps"`
	HomingMaxSteps int     `json:"homing_max_steps"`
}

// HandleConfig handles GET /config. The snapshot waits for any
// in-flight motion, like all configuration operations.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if h.Axis == nil {
		http.Error(w, "motor not configured", http.StatusServiceUnavailable)
		return
	}
	cfg := h.Axis.Config()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConfigResponse{
		StepsPerRev:    cfg.StepsPerRev,
		Microstepping:  cfg.Microstepping,
		SpeedRPM:       cfg.SpeedRPM,
		FullRangeSteps: cfg.FullRangeSteps,
		HomingMaxSteps: cfg.HomingMaxSteps,
	})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// New clients get the current position right away.
	if h.Axis != nil {
		pos := h.Axis.Position()
		moving := h.Axis.Moving()
		if data, err := json.Marshal(StatusEvent{
			Time:     time.Now().Format(time.RFC3339),
			Position: &pos,
			Moving:   &moving,
		}); err == nil {
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
