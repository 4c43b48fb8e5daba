package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"Drover/pkg/types"

	"gocv.io/x/gocv"
)

// defaultScales are the template scales tried when multi-scale matching is
// enabled. A scaled template larger than the screenshot skips that scale.
var defaultScales = []float64{0.8, 0.9, 1.0, 1.1, 1.2}

// Detector classifies screenshots against the known screen templates using
// normalized cross-correlation. It is a pure function of its inputs: the
// same screenshot and template set always produce the same MatchResult, and
// nothing here mutates the template store.
type Detector struct {
	templatesDir string
	multiscale   bool
	scales       []float64

	// Decoded grayscale template images, keyed by filename. Invalidated
	// by the template watcher when files change on disk.
	cacheMu sync.Mutex
	cache   map[string]gocv.Mat
}

// NewDetector creates a detector reading template images from templatesDir
func NewDetector(templatesDir string, multiscale bool) *Detector {
	return &Detector{
		templatesDir: templatesDir,
		multiscale:   multiscale,
		scales:       defaultScales,
		cache:        make(map[string]gocv.Mat),
	}
}

// Close releases all cached template images
func (d *Detector) Close() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for name, m := range d.cache {
		m.Close()
		delete(d.cache, name)
	}
}

// Invalidate drops one cached template image, e.g. after the file changed
func (d *Detector) Invalidate(filename string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if m, ok := d.cache[filename]; ok {
		m.Close()
		delete(d.cache, filename)
	}
}

// InvalidateAll drops every cached template image
func (d *Detector) InvalidateAll() {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	for name, m := range d.cache {
		m.Close()
		delete(d.cache, name)
	}
}

// templateMat returns the grayscale template image, decoding and caching it
// on first use. The returned Mat is owned by the cache; callers must not
// close it.
func (d *Detector) templateMat(filename string) (gocv.Mat, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	if m, ok := d.cache[filename]; ok {
		return m, nil
	}

	path := filepath.Join(d.templatesDir, filename)
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, fmt.Errorf("template image missing: %w", err)
	}

	m := gocv.IMRead(path, gocv.IMReadGrayScale)
	if m.Empty() {
		m.Close()
		return gocv.Mat{}, fmt.Errorf("template image %s could not be decoded", filename)
	}

	d.cache[filename] = m
	return m, nil
}

// Detect classifies a captured screenshot against the given template set.
//
// Templates are tried in descending priority (stable on ties) and the first
// template whose best correlation meets or exceeds its own threshold wins
// immediately; lower-priority templates are then never evaluated. This is a
// deliberate short-circuit, not a best-of-all search: a lower-priority
// template with a higher raw score loses to a higher-priority template that
// merely clears its own threshold.
//
// overrideThreshold, when non-nil, replaces every template's own threshold.
// An undecodable screenshot returns ErrScreenshotDecode; an empty template
// set returns an unmatched result with no error.
func (d *Detector) Detect(screenshotPNG []byte, templates []types.Template, overrideThreshold *float64) (types.MatchResult, error) {
	result := types.MatchResult{Timestamp: time.Now()}

	if len(screenshotPNG) == 0 {
		return result, ErrScreenshotDecode
	}

	shot, err := gocv.IMDecode(screenshotPNG, gocv.IMReadGrayScale)
	if err != nil || shot.Empty() {
		if err == nil {
			err = fmt.Errorf("empty image")
		}
		return result, fmt.Errorf("%w: %v", ErrScreenshotDecode, err)
	}
	defer shot.Close()

	if len(templates) == 0 {
		LogWarn("detector").Msg("No templates configured")
		return result, nil
	}

	ordered := make([]types.Template, len(templates))
	copy(ordered, templates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, t := range ordered {
		threshold := t.Threshold
		if overrideThreshold != nil {
			threshold = *overrideThreshold
		}

		tmpl, err := d.templateMat(t.Filename)
		if err != nil {
			LogWarn("detector").Str("template", t.Name).Err(err).Msg("Skipping unreadable template")
			continue
		}

		var confidence float64
		var loc *types.Rect
		var scale float64
		if d.multiscale {
			confidence, loc, scale = matchMultiscale(shot, tmpl, d.scales)
		} else {
			confidence, loc = matchSingle(shot, tmpl)
			scale = 1.0
		}
		if loc == nil {
			// Template larger than the screenshot at every scale:
			// skipped, not an error.
			continue
		}

		// Keep the best near-miss for diagnostics
		if confidence > result.Confidence {
			result.Confidence = confidence
			result.Screen = t.Name
			result.TemplateID = t.ID
			result.Location = loc
			result.Scale = scale
		}

		if confidence >= threshold {
			result.Matched = true
			result.Confidence = confidence
			result.Screen = t.Name
			result.TemplateID = t.ID
			result.Location = loc
			result.Scale = scale
			LogDebug("detector").
				Str("screen", t.Name).
				Float64("confidence", confidence).
				Float64("threshold", threshold).
				Msg("Screen matched")
			return result, nil
		}
	}

	LogDebug("detector").
		Str("bestCandidate", result.Screen).
		Float64("bestConfidence", result.Confidence).
		Msg("No screen matched")
	return result, nil
}

// matchSingle runs normalized cross-correlation of tmpl against shot and
// returns the best score and its region. A nil Rect means the template did
// not fit inside the screenshot.
func matchSingle(shot, tmpl gocv.Mat) (float64, *types.Rect) {
	if tmpl.Cols() > shot.Cols() || tmpl.Rows() > shot.Rows() {
		return 0, nil
	}

	res := gocv.NewMat()
	defer res.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(shot, tmpl, &res, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(res)

	return float64(maxVal), &types.Rect{
		X:      maxLoc.X,
		Y:      maxLoc.Y,
		Width:  tmpl.Cols(),
		Height: tmpl.Rows(),
	}
}

// matchMultiscale tries the template at several scales and returns the best
// score across scales with the region and scale that produced it
func matchMultiscale(shot, tmpl gocv.Mat, scales []float64) (float64, *types.Rect, float64) {
	var bestConfidence float64
	var bestRect *types.Rect
	bestScale := 1.0

	for _, s := range scales {
		w := int(float64(tmpl.Cols()) * s)
		h := int(float64(tmpl.Rows()) * s)
		if w < 1 || h < 1 || w > shot.Cols() || h > shot.Rows() {
			continue
		}

		var scaled gocv.Mat
		if s == 1.0 {
			scaled = tmpl
		} else {
			scaled = gocv.NewMat()
			gocv.Resize(tmpl, &scaled, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		}

		confidence, rect := matchSingle(shot, scaled)
		if s != 1.0 {
			scaled.Close()
		}

		if rect != nil && (bestRect == nil || confidence > bestConfidence) {
			bestConfidence = confidence
			bestRect = rect
			bestScale = s
		}
	}

	return bestConfidence, bestRect, bestScale
}

// ========================================
// App-level detection
// ========================================

// DetectCurrentScreen captures a fresh screenshot from the device and runs
// detection against all stored templates, honoring the device's configured
// match threshold override when overrideThreshold is nil and the device
// settings define one different from the template defaults.
func (a *App) DetectCurrentScreen(deviceID string, overrideThreshold *float64) (types.MatchResult, error) {
	path, err := a.TakeScreenshot(deviceID, "")
	if err != nil {
		return types.MatchResult{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("%w: %v", ErrScreenshotDecode, err)
	}

	templates, err := a.store.ListTemplates()
	if err != nil {
		return types.MatchResult{}, err
	}

	start := time.Now()
	result, err := a.detector.Detect(data, templates, overrideThreshold)
	observeDetection(result, time.Since(start), err)
	if err != nil {
		return result, err
	}

	if logErr := a.store.LogDetection(deviceID, result); logErr != nil {
		LogWarn("detector").Err(logErr).Msg("Failed to record detection")
	}
	return result, nil
}

// DetectAgainst captures a fresh screenshot and runs detection against the
// given template subset only. Used for single-template testing.
func (a *App) DetectAgainst(ctx context.Context, deviceID string, templates []types.Template) (types.MatchResult, error) {
	path, err := a.TakeScreenshotWithContext(ctx, deviceID, "")
	if err != nil {
		return types.MatchResult{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.MatchResult{}, fmt.Errorf("%w: %v", ErrScreenshotDecode, err)
	}

	start := time.Now()
	result, err := a.detector.Detect(data, templates, nil)
	observeDetection(result, time.Since(start), err)
	return result, err
}
