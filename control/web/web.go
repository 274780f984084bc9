// Package web serves the clock's status page and settings API.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jrockway/wordclock/control/clock"
	"github.com/jrockway/wordclock/control/light"
	"github.com/jrockway/wordclock/control/ntp"
	"github.com/skip2/go-qrcode"
	"periph.io/x/conn/v3/physic"
)

var (
	//go:embed index.html.tmpl
	indexHTML string
	funcMap   = template.FuncMap{
		"refid":      ntp.FormatRefID,
		"duration":   formatDuration,
		"float3":     formatFloat3,
		"leap":       ntp.LeapStatus,
		"correction": formatCorrection,
		"freq":       formatFreq,
		"image":      formatImage,
		"clock":      formatClock,
	}
	index = template.Must(template.New("index").Funcs(funcMap).Parse(indexHTML))
)

// Status is everything the status page shows.
type Status struct {
	Render      clock.Render
	Face        *image.NRGBA
	Sync        ntp.Status
	Ambient     int // number of samples recorded in the last day
	Setting     light.Setting
	Env         *physic.Env // conditions inside the case, if there is a sensor
	Rendered    bool
	HaveSetting bool // Setting is set; the zero setting is a valid one
}

// SettingStore persists brightness settings.
type SettingStore interface {
	SaveSetting(light.Setting) error
}

// Server is the clock's web interface.
type Server struct {
	mux   *http.ServeMux
	store SettingStore
	apply func(context.Context, light.Setting) error
	qr    template.URL

	statusMu sync.RWMutex
	status   Status // must hold statusMu to read or write.
}

// NewServer returns a server that saves settings to st and then passes them to apply.  display, if
// non-nil, is served at /display.png.
func NewServer(st SettingStore, apply func(context.Context, light.Setting) error, display http.Handler) *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		store: st,
		apply: apply,
	}
	s.mux.HandleFunc("GET /{$}", s.ServeStatus)
	s.mux.HandleFunc("GET /api/status", s.ServeStatusJSON)
	s.mux.HandleFunc("GET /api/settings", s.ServeSettings)
	s.mux.HandleFunc("POST /api/settings", s.UpdateSettingsJSON)
	s.mux.HandleFunc("POST /settings", s.UpdateSettingsForm)
	if display != nil {
		s.mux.Handle("GET /display.png", display)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

// SetAccessPoint makes the status page show a QR code that joins the clock's own wifi network.
func (s *Server) SetAccessPoint(ssid, password string) error {
	code := fmt.Sprintf("WIFI:S:%s;T:WPA;P:%s;;", ssid, password)
	if password == "" {
		code = fmt.Sprintf("WIFI:S:%s;T:nopass;;", ssid)
	}
	qr, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("encode qr code: %w", err)
	}
	s.qr = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(qr))
	return nil
}

// UpdateStatus merges the non-empty parts of newStatus into the current status.
func (s *Server) UpdateStatus(newStatus Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if newStatus.Rendered {
		s.status.Render = newStatus.Render
		s.status.Rendered = true
		s.status.Setting = newStatus.Render.Setting
		s.status.HaveSetting = true
	}
	if newStatus.Face != nil {
		s.status.Face = newStatus.Face
	}
	if !newStatus.Sync.Now.IsZero() {
		s.status.Sync = newStatus.Sync
	}
	if newStatus.Ambient != 0 {
		s.status.Ambient = newStatus.Ambient
	}
	if newStatus.Env != nil {
		s.status.Env = newStatus.Env
	}
	if newStatus.HaveSetting {
		s.status.Setting = newStatus.Setting
		s.status.HaveSetting = true
	}
}

// CurrentStatus returns a copy of the current status.
func (s *Server) CurrentStatus() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

type page struct {
	Status
	QRCode template.URL
	Error  string
}

// ServeStatus renders the status page.
func (s *Server) ServeStatus(w http.ResponseWriter, req *http.Request) {
	s.renderPage(w, http.StatusOK, "")
}

func (s *Server) renderPage(w http.ResponseWriter, code int, errMsg string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := index.Execute(w, page{Status: s.CurrentStatus(), QRCode: s.qr, Error: errMsg}); err != nil {
		log.Printf("execute template: %v", err)
	}
}

// StatusJSON is the response body of /api/status.
type StatusJSON struct {
	Phrase     string        `json:"phrase"`
	Rounded    string        `json:"rounded"`
	Raw        string        `json:"raw"`
	Lit        []int         `json:"lit"`
	Brightness uint8         `json:"brightness"`
	Sample     int           `json:"sample"`
	Setting    light.Setting `json:"setting"`
	Synced     bool          `json:"synced"`
	Stratum    uint16        `json:"stratum"`
	RefID      string        `json:"refId"`
	LastSync   *time.Time    `json:"lastSync,omitempty"`
	Enclosure  string        `json:"enclosure,omitempty"`
}

func toJSON(st Status) StatusJSON {
	result := StatusJSON{
		Setting: st.Setting,
		Synced:  st.Sync.Synced,
		Stratum: st.Sync.Tracking.Stratum,
		RefID:   ntp.FormatRefID(st.Sync.Tracking.RefID),
		Lit:     []int{},
	}
	if !st.Sync.Now.IsZero() {
		t := st.Sync.Now
		result.LastSync = &t
	}
	if e := st.Env; e != nil {
		result.Enclosure = fmt.Sprintf("%v, %v, %v", e.Temperature, e.Humidity, e.Pressure)
	}
	if st.Rendered {
		r := st.Render
		result.Phrase = r.Frame.String()
		result.Rounded = r.Rounded.String()
		result.Raw = formatClock(r.RawHour, r.RawMinute)
		result.Brightness = r.Brightness
		result.Sample = r.Sample
		for i, on := range r.Bitmap {
			if on {
				result.Lit = append(result.Lit, i)
			}
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode json: %v", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ServeStatusJSON serves the current status as JSON.
func (s *Server) ServeStatusJSON(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, toJSON(s.CurrentStatus()))
}

// ServeSettings serves the current brightness setting as JSON.
func (s *Server) ServeSettings(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.CurrentStatus().Setting)
}

type badSettingError struct{ err error }

func (e badSettingError) Error() string { return e.err.Error() }
func (e badSettingError) Unwrap() error { return e.err }

// save validates, persists, and applies a new setting.
func (s *Server) save(ctx context.Context, setting light.Setting) error {
	if err := setting.Validate(); err != nil {
		return badSettingError{err: err}
	}
	if s.store != nil {
		if err := s.store.SaveSetting(setting); err != nil {
			return fmt.Errorf("save setting: %w", err)
		}
	}
	if s.apply != nil {
		if err := s.apply(ctx, setting); err != nil {
			return fmt.Errorf("apply setting: %w", err)
		}
	}
	s.UpdateStatus(Status{Setting: setting, HaveSetting: true})
	log.Printf("new brightness setting: %#v", setting)
	return nil
}

func statusFor(err error) int {
	if _, ok := err.(badSettingError); ok {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// UpdateSettingsJSON accepts a new setting as a JSON body.
func (s *Server) UpdateSettingsJSON(w http.ResponseWriter, req *http.Request) {
	setting := s.CurrentStatus().Setting
	if err := json.NewDecoder(req.Body).Decode(&setting); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.save(req.Context(), setting); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// UpdateSettingsForm accepts a new setting from the form on the status page.
func (s *Server) UpdateSettingsForm(w http.ResponseWriter, req *http.Request) {
	var setting light.Setting
	for _, field := range []struct {
		name string
		dst  *int
	}{
		{"darkLevel", &setting.DarkLevel},
		{"lightLevel", &setting.LightLevel},
		{"threshold", &setting.Threshold},
	} {
		v, err := strconv.Atoi(req.PostFormValue(field.name))
		if err != nil {
			s.renderPage(w, http.StatusBadRequest, fmt.Sprintf("%s: not a number", field.name))
			return
		}
		*field.dst = v
	}
	if err := s.save(req.Context(), setting); err != nil {
		s.renderPage(w, statusFor(err), err.Error())
		return
	}
	http.Redirect(w, req, "/", http.StatusSeeOther)
}

func formatClock(h, m int) string { return fmt.Sprintf("%02d:%02d", h, m) }

func formatDuration(x float64) string {
	d := time.Duration(x * 1e9)
	return d.String()
}

func formatCorrection(x float64) string {
	var fast string
	if x < 0 {
		x = -x
		fast = "fast"
	} else {
		fast = "slow"
	}
	return fmt.Sprintf("%s %s of NTP time", time.Duration(x*1e9).String(), fast)
}

func formatFreq(x float64) string {
	var fast string
	if x < 0 {
		x = -x
		fast = "slow"
	} else {
		fast = "fast"
	}
	return fmt.Sprintf("%.3f ppm %s", x, fast)
}

func formatImage(src *image.NRGBA) template.URL {
	enlarge, space := 24, 3
	if src == nil {
		src = image.NewNRGBA(image.Rect(0, 0, 1, 1))
	}
	img := image.NewNRGBA(image.Rect(0, 0, enlarge*src.Bounds().Dx(), enlarge*src.Bounds().Dy()))
	for x := 0; x < src.Bounds().Dx(); x++ {
		for y := 0; y < src.Bounds().Dy(); y++ {
			val := src.At(x, y)
			for i := space; i < enlarge-space; i++ {
				for j := space; j < enlarge-space; j++ {
					img.Set(x*enlarge+i, y*enlarge+j, val)
				}
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		log.Printf("problem encoding image: %v", err)
		return template.URL("data:text/plain,error")
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func formatFloat3(x float64) string { return fmt.Sprintf("%.3f", x) }
