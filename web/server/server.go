package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/time/rate"

	"github.com/picar-labs/rover/components/powersensor"
	"github.com/picar-labs/rover/config"
	"github.com/picar-labs/rover/robot"
	"github.com/picar-labs/rover/utils"
	"github.com/picar-labs/rover/web"
)

const (
	defaultIMUInterval     = 200 * time.Millisecond
	defaultBatteryInterval = 5 * time.Second
	// defaultFrameInterval caps the video feed at 10 frames per second.
	defaultFrameInterval = 100 * time.Millisecond
	// joystick pads report every pointer move; anything past this rate is dropped.
	defaultControlRate  = rate.Limit(30)
	defaultControlBurst = 10

	batteryCriticalMessage = "Battery critically low, please charge soon!"
)

// Server serves the control page, the REST endpoints, the video feed and the realtime channel.
type Server struct {
	robot  *robot.Robot
	cfg    config.WebConfig
	logger golog.Logger
	hub    *hub

	static          http.FileSystem
	upgrader        websocket.Upgrader
	imuInterval     time.Duration
	batteryInterval time.Duration
	frameInterval   time.Duration
	controlRate     rate.Limit
	controlBurst    int

	workers utils.StoppableWorkers
}

// Option configures a Server.
type Option func(*Server)

// WithIntervals overrides how often IMU and battery updates are pushed and video frames are sent.
func WithIntervals(imu, battery, frame time.Duration) Option {
	return func(s *Server) {
		s.imuInterval = imu
		s.batteryInterval = battery
		s.frameInterval = frame
	}
}

// WithControlRate overrides how many car_control and gimbal_control events per second each client
// may send, and how many may arrive at once.
func WithControlRate(limit rate.Limit, burst int) Option {
	return func(s *Server) {
		s.controlRate = limit
		s.controlBurst = burst
	}
}

// New returns a server for r. Nothing is pushed to clients until Start.
func New(r *robot.Robot, cfg *config.WebConfig, logger golog.Logger, opts ...Option) *Server {
	s := &Server{
		robot:           r,
		cfg:             *cfg,
		logger:          logger,
		hub:             newHub(logger.Named("ws")),
		imuInterval:     defaultIMUInterval,
		batteryInterval: defaultBatteryInterval,
		frameInterval:   defaultFrameInterval,
		controlRate:     defaultControlRate,
		controlBurst:    defaultControlBurst,
	}
	s.static = staticFS(cfg.StaticDir)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  socketBufferSize,
		WriteBufferSize: socketBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func staticFS(dir string) http.FileSystem {
	if dir != "" {
		return http.Dir(dir)
	}
	sub, err := fs.Sub(web.AppFS, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return http.FS(sub)
}

func (s *Server) allowAllOrigins() bool {
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAllOrigins() {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler)

	mux.HandleFunc(pat.Get("/"), s.handleIndex)
	mux.Handle(pat.Get("/static/*"), http.StripPrefix("/static", http.FileServer(s.static)))
	mux.HandleFunc(pat.Get("/video_feed"), s.handleVideoFeed)
	mux.HandleFunc(pat.Get("/map_data"), s.handleMapData)
	mux.HandleFunc(pat.Get("/position"), s.handlePosition)
	mux.HandleFunc(pat.Get("/imu_data"), s.handleIMUData)
	mux.HandleFunc(pat.Get("/imu_status"), s.handleIMUStatus)
	mux.HandleFunc(pat.Get("/battery_status"), s.handleBatteryStatus)
	mux.HandleFunc(pat.Post("/reset_slam"), s.handleResetSLAM)
	mux.HandleFunc(pat.Post("/reset_gimbal"), s.handleResetGimbal)
	mux.HandleFunc(pat.Get("/ws"), s.handleWebSocket)
	return mux
}

// Start begins pushing IMU and battery updates to connected clients.
func (s *Server) Start() {
	s.workers = utils.NewStoppableWorkers(s.pushIMU, s.pushBattery)
}

// Close stops the pushers and disconnects every client.
func (s *Server) Close() {
	if s.workers != nil {
		s.workers.Stop()
	}
	s.hub.closeAll()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	f, err := s.static.Open("index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "index.html", info.ModTime(), f)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("cannot write response", "error", err)
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleMapData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.robot.SLAM.MapData(r.Context()))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.robot.SLAM.Position(r.Context()))
}

type xyz struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type rollPitchYaw struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type imuReport struct {
	Available       bool          `json:"available"`
	Orientation     *rollPitchYaw `json:"orientation,omitempty"`
	Acceleration    *xyz          `json:"acceleration,omitempty"`
	AngularVelocity *xyz          `json:"angular_velocity,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// imuReport describes the latest inertial sample. Pushed updates are rounded to hundredths and
// leave out the angular velocity.
func (s *Server) imuReport(forPush bool) imuReport {
	sample, ok := s.robot.Inertial.Snapshot()
	if !ok {
		if forPush {
			return imuReport{}
		}
		return imuReport{Error: "IMU not available"}
	}
	round := func(v float64) float64 { return v }
	if forPush {
		round = func(v float64) float64 { return utils.RoundTo(v, 2) }
	}
	report := imuReport{
		Available: true,
		Orientation: &rollPitchYaw{
			Roll:  round(sample.Orientation.Roll),
			Pitch: round(sample.Orientation.Pitch),
			Yaw:   round(sample.Orientation.Yaw),
		},
		Acceleration: &xyz{
			X: round(sample.Acceleration.X),
			Y: round(sample.Acceleration.Y),
			Z: round(sample.Acceleration.Z),
		},
	}
	if !forPush {
		report.AngularVelocity = &xyz{X: sample.AngularVelocity.X, Y: sample.AngularVelocity.Y, Z: sample.AngularVelocity.Z}
	}
	return report
}

func (s *Server) handleIMUData(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.imuReport(false))
}

func (s *Server) handleIMUStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, struct {
		Available bool `json:"available"`
	}{s.robot.Inertial.Available()})
}

func (s *Server) handleBatteryStatus(w http.ResponseWriter, r *http.Request) {
	if s.robot.Battery == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no battery monitor"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.robot.Battery.Battery(r.Context()))
}

func (s *Server) handleResetSLAM(w http.ResponseWriter, r *http.Request) {
	s.robot.SLAM.Reset(r.Context())
	s.logger.Info("slam reset")
	s.writeJSON(w, http.StatusOK, statusResponse{"success"})
}

func (s *Server) handleResetGimbal(w http.ResponseWriter, r *http.Request) {
	angles, err := s.robot.Teleop.ResetGimbal(r.Context())
	if err != nil {
		s.logger.Warnw("cannot reset gimbal", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	s.hub.broadcast("gimbal_update", angles)
	s.writeJSON(w, http.StatusOK, statusResponse{"success"})
}

// handleVideoFeed streams JPEG frames as multipart/x-mixed-replace until the client goes away.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	header := textproto.MIMEHeader{"Content-Type": {"image/jpeg"}}
	for {
		frame, ok := s.robot.Camera.LatestJPEG(ctx)
		if ok {
			part, err := mw.CreatePart(header)
			if err == nil {
				_, err = part.Write(frame)
			}
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if !goutils.SelectContextOrWait(ctx, s.frameInterval) {
			return
		}
	}
}

type joystick struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type timestamp struct {
	Timestamp float64 `json:"timestamp"`
}

func now() timestamp {
	return timestamp{float64(time.Now().UnixNano()) / 1e9}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(socket, rate.NewLimiter(s.controlRate, s.controlBurst))
	s.hub.join(c)
	goutils.PanicCapturingGo(c.write)
	defer func() {
		s.hub.leave(c)
		// an unattended rover stops
		if err := s.robot.Teleop.Stop(context.Background()); err != nil {
			s.logger.Warnw("cannot stop base after disconnect", "error", err)
		}
	}()

	s.hub.sendTo(c, "status", struct {
		Status       string `json:"status"`
		IMUAvailable bool   `json:"imu_available"`
	}{"connected", s.robot.Inertial.Available()})
	s.hub.sendTo(c, "connection_established", now())

	socket.SetReadLimit(maxMessageSize)
	for {
		var ev Event
		if err := socket.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("websocket read failed", "id", c.id, "error", err)
			}
			return
		}
		s.handleEvent(r.Context(), c, ev)
	}
}

func (s *Server) handleEvent(ctx context.Context, c *client, ev Event) {
	ctx, span := trace.StartSpan(ctx, "server::handleEvent::"+ev.Event)
	defer span.End()

	switch ev.Event {
	case "ping":
		s.hub.sendTo(c, "pong", now())
	case "car_control":
		var js joystick
		if err := json.Unmarshal(ev.Data, &js); err != nil {
			s.logger.Debugw("bad car_control", "error", err)
			return
		}
		if !s.allowControl(c, ev.Event, js) {
			return
		}
		status, err := s.robot.Teleop.CarControl(ctx, js.X, js.Y)
		if err != nil {
			s.logger.Warnw("cannot drive", "error", err)
		}
		s.hub.broadcast("status_update", status)
	case "gimbal_control":
		var js joystick
		if err := json.Unmarshal(ev.Data, &js); err != nil {
			s.logger.Debugw("bad gimbal_control", "error", err)
			return
		}
		if !s.allowControl(c, ev.Event, js) {
			return
		}
		angles, err := s.robot.Teleop.GimbalControl(ctx, js.X, js.Y)
		if err != nil {
			s.logger.Warnw("cannot move gimbal", "error", err)
		}
		s.hub.broadcast("gimbal_update", angles)
	default:
		s.logger.Debugw("unknown event", "event", ev.Event)
	}
}

// allowControl reports whether a control event fits in the client's rate. A centered joystick
// always passes so that releasing the stick is never lost.
func (s *Server) allowControl(c *client, event string, js joystick) bool {
	if js.X == 0 && js.Y == 0 {
		return true
	}
	if c.control.Allow() {
		return true
	}
	s.logger.Debugw("control event dropped", "id", c.id, "event", event)
	return false
}

func (s *Server) pushIMU(ctx context.Context) {
	for goutils.SelectContextOrWait(ctx, s.imuInterval) {
		if s.hub.count() == 0 {
			continue
		}
		s.hub.broadcast("imu_update", s.imuReport(true))
	}
}

func (s *Server) pushBattery(ctx context.Context) {
	if s.robot.Battery == nil {
		return
	}
	for goutils.SelectContextOrWait(ctx, s.batteryInterval) {
		status := s.robot.Battery.Battery(ctx)
		s.hub.broadcast("battery_update", status)
		if status.Status != powersensor.StatusCritical {
			continue
		}
		s.hub.broadcast("battery_critical", struct {
			Message string `json:"message"`
			Level   int    `json:"level"`
		}{batteryCriticalMessage, status.Level})

		driving, throttled, err := s.robot.Teleop.Throttle(ctx)
		if err != nil {
			s.logger.Warnw("cannot throttle base", "error", err)
			continue
		}
		if throttled {
			s.hub.broadcast("status_update", driving)
		}
	}
}
