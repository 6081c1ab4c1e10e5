// Package window keeps the bounded set of samples on display, derives the
// temperature axis bounds from it and applies unit switches to everything
// it holds.
package window

import (
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sensorview/internal/message"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/queue"
	"github.com/banshee-data/sensorview/internal/units"
)

// ErrSwitchInProgress is returned when a unit switch is requested while
// another is still converting.
var ErrSwitchInProgress = errors.New("unit switch already in progress")

// MinSettlingForce is the floor of the derived settling force.
const MinSettlingForce = 0.1

// Renderer receives every refreshed view. Present is called without the
// window lock held and must not call back into Refresh synchronously.
type Renderer interface {
	Present(View)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(View)

func (f RendererFunc) Present(v View) { f(v) }

// View is an immutable snapshot of the window for rendering.
type View struct {
	Samples     []message.Sample `json:"samples"`
	Unit        string           `json:"unit"`
	UnitSymbol  string           `json:"unit_symbol"`
	Average     int              `json:"average"`
	StdDev      float64          `json:"std_dev"`
	Lower       int              `json:"lower"`
	Upper       int              `json:"upper"`
	DisplaySize int              `json:"display_size"`
	YBoundShift int              `json:"y_bound_shift"`
	// Setting is the value of the last Setting frame, typically the
	// sampling interval in milliseconds.
	Setting       string  `json:"setting,omitempty"`
	AccelX        float64 `json:"accel_x"`
	AccelY        float64 `json:"accel_y"`
	AccelZ        float64 `json:"accel_z"`
	SettlingForce float64 `json:"settling_force"`
	Pending       int     `json:"pending"`
}

// Window is safe for concurrent use. Refresh is expected from a single
// display activity; Enqueue, Resize and SwitchUnit may come from anywhere.
type Window struct {
	cfg      Config
	settings *queue.Queue
	renderer Renderer

	Metrics  *monitoring.Metrics
	Recorder monitoring.Recorder

	paused atomic.Bool

	mu       sync.Mutex
	unit     units.Temperature
	retained []message.Sample
	pending  []message.Sample
	setting  string
	accel    [3]float64
	settling float64
	average  int
	stddev   float64
	lower    int
	upper    int
}

// New returns an empty window. Settings, if non-nil, is the queue the
// latest Setting message is pulled from on each refresh. Samples handed to
// Enqueue are taken to be in Celsius.
func New(cfg Config, settings *queue.Queue, r Renderer) *Window {
	cfg = cfg.normalize()
	return &Window{
		cfg:      cfg,
		settings: settings,
		renderer: r,
		unit:     cfg.Unit,
		settling: MinSettlingForce,
		Recorder: monitoring.Discard,
	}
}

// Enqueue adds samples waiting to be drained into the display. Each is
// converted from Celsius to the current unit under the window lock, so a
// concurrent switch cannot leave it in the wrong unit.
func (w *Window) Enqueue(samples ...message.Sample) {
	if len(samples) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range samples {
		s.Temperature = units.Convert(s.Temperature, units.Celsius, w.unit)
		w.pending = append(w.pending, s)
	}
}

// Refresh runs one display cycle and reports whether the renderer was
// given a new view.
func (w *Window) Refresh() bool {
	return w.refresh(false)
}

func (w *Window) refresh(force bool) bool {
	changed := w.pullSetting()

	if w.paused.Load() {
		return false
	}

	w.mu.Lock()
	if w.paused.Load() || (!force && len(w.pending) == 0) {
		var v View
		if changed {
			v = w.viewLocked()
		}
		w.mu.Unlock()
		if changed {
			w.present(v)
		}
		return changed
	}

	n := min(w.cfg.DisplaySize, len(w.pending))
	for _, s := range w.pending[:n] {
		w.retained = append(w.retained, s)
		w.accel = [3]float64{s.AccelX, s.AccelY, s.AccelZ}
		w.settling = math.Max(MinSettlingForce, 1-s.AccelZ)
	}
	w.pending = append(w.pending[:0], w.pending[n:]...)

	if excess := len(w.retained) - w.cfg.DisplaySize; excess > 0 {
		w.retained = append(w.retained[:0], w.retained[excess:]...)
	}
	w.recomputeLocked()
	v := w.viewLocked()
	w.mu.Unlock()

	w.Metrics.SetWindowSamples(len(v.Samples))
	w.present(v)
	return true
}

// pullSetting takes the newest Setting message, discarding older ones.
func (w *Window) pullSetting() bool {
	if w.settings == nil {
		return false
	}
	m, ok := w.settings.PopMostRecent(message.Setting)
	if !ok {
		return false
	}
	_, value, ok := m.Setting()
	if !ok {
		value = strings.TrimSpace(m.Payload)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if value == w.setting {
		return false
	}
	w.setting = value
	return true
}

// recomputeLocked derives the average and bounds from the retained samples.
func (w *Window) recomputeLocked() {
	if len(w.retained) == 0 {
		w.average, w.stddev = 0, 0
		w.lower, w.upper = -w.cfg.YBoundShift, w.cfg.YBoundShift
		return
	}
	temps := make([]float64, len(w.retained))
	for i, s := range w.retained {
		temps[i] = s.Temperature
	}
	w.average = int(stat.Mean(temps, nil))
	w.stddev = 0
	if len(temps) > 1 {
		w.stddev = stat.StdDev(temps, nil)
	}
	w.lower = w.average - w.cfg.YBoundShift
	w.upper = w.average + w.cfg.YBoundShift
}

func (w *Window) viewLocked() View {
	return View{
		Samples:       append([]message.Sample(nil), w.retained...),
		Unit:          w.unit.String(),
		UnitSymbol:    w.unit.Symbol(),
		Average:       w.average,
		StdDev:        w.stddev,
		Lower:         w.lower,
		Upper:         w.upper,
		DisplaySize:   w.cfg.DisplaySize,
		YBoundShift:   w.cfg.YBoundShift,
		Setting:       w.setting,
		AccelX:        w.accel[0],
		AccelY:        w.accel[1],
		AccelZ:        w.accel[2],
		SettlingForce: w.settling,
		Pending:       len(w.pending),
	}
}

func (w *Window) present(v View) {
	if w.renderer != nil {
		w.renderer.Present(v)
	}
}

// View returns the current snapshot without refreshing.
func (w *Window) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// Unit returns the current display unit.
func (w *Window) Unit() units.Temperature {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unit
}

// Config returns the current scale settings.
func (w *Window) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Resize applies a scroll event. A negative delta zooms in (more samples,
// wider bounds), a positive delta zooms out, zero leaves the scale alone.
// Every call refreshes immediately.
func (w *Window) Resize(delta float64) {
	w.mu.Lock()
	switch {
	case delta < 0:
		w.cfg.DisplaySize = min(w.cfg.DisplaySize+SizeStep, w.cfg.MaxDisplaySize)
		w.cfg.YBoundShift = min(w.cfg.YBoundShift+1, w.cfg.MaxYBoundShift)
	case delta > 0:
		w.cfg.DisplaySize = max(w.cfg.DisplaySize-SizeStep, MinDisplaySize)
		w.cfg.YBoundShift = max(w.cfg.YBoundShift-1, MinYBoundShift)
	}
	w.mu.Unlock()

	w.refresh(true)
}

// SwitchUnit converts every retained and pending sample to u and makes it
// the display unit. Switching to the current unit does nothing.
func (w *Window) SwitchUnit(u units.Temperature) error {
	if !u.Valid() {
		return units.ErrUnknownUnit
	}
	if !w.paused.CompareAndSwap(false, true) {
		return ErrSwitchInProgress
	}

	w.mu.Lock()
	from := w.unit
	if from == u {
		w.mu.Unlock()
		w.paused.Store(false)
		return nil
	}
	for i := range w.retained {
		w.retained[i].Temperature = units.Convert(w.retained[i].Temperature, from, u)
	}
	for i := range w.pending {
		w.pending[i].Temperature = units.Convert(w.pending[i].Temperature, from, u)
	}
	w.unit = u
	w.recomputeLocked()
	v := w.viewLocked()
	w.mu.Unlock()
	w.paused.Store(false)

	w.Recorder.Record("display unit switched from "+from.String()+" to "+u.String(), true)
	w.present(v)
	return nil
}

// Paused reports whether a unit switch is converting right now.
func (w *Window) Paused() bool {
	return w.paused.Load()
}
