// Package formengine implements the Form Engine (C6, spec §4.5): a
// per-dispenser phase state machine driving a calibration form, plus
// a batch runner iterating it across multiple visits. Grounded on the
// teacher's internal/jobs/processor state-machine executors (phase
// enum + ERROR branch from any non-terminal phase), generalized from
// crawl-job phases to the calibration form's phase set.
package formengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/fossawork/dispatcher/internal/browser"
	"github.com/fossawork/dispatcher/internal/driver"
	"github.com/fossawork/dispatcher/internal/models"
	"github.com/fossawork/dispatcher/internal/progress"
	"github.com/fossawork/dispatcher/internal/recovery"
)

// Phase is one state in the per-dispenser form run (spec §4.5).
type Phase string

const (
	PhaseInitializing       Phase = "initializing"
	PhaseLogin               Phase = "login"
	PhaseNavigation          Phase = "navigation"
	PhaseFormDetection       Phase = "form_detection"
	PhaseFormPreparation     Phase = "form_preparation"
	PhaseFormFilling         Phase = "form_filling"
	PhaseDispenserAutomation Phase = "dispenser_automation"
	PhaseValidation          Phase = "validation"
	PhaseCompletion          Phase = "completion"
	PhaseError               Phase = "error"
)

// phaseOrder is the fixed forward progression used to compute
// percentage-complete for progress events.
var phaseOrder = []Phase{
	PhaseInitializing, PhaseLogin, PhaseNavigation, PhaseFormDetection,
	PhaseFormPreparation, PhaseFormFilling, PhaseDispenserAutomation,
	PhaseValidation, PhaseCompletion,
}

// Template is a named fuel-grade field layout, selected by matching a
// dispenser's declared grades against a template signature (spec
// §4.5).
type Template string

const (
	TemplateRegularPlusPremium           Template = "regular_plus_premium"
	TemplateRegularPlusPremiumDiesel     Template = "regular_plus_premium_diesel"
	TemplateEthanolFreeVariants          Template = "ethanol_free_variants"
	TemplateThreeGradeEthanolDiesel      Template = "three_grade_ethanol_diesel"
	TemplateCustom                       Template = "custom"
)

// templateSignatures maps each named template to the exact grade set
// it matches (spec §4.5 "chosen by matching the dispenser's declared
// grades against template signatures").
var templateSignatures = map[Template][]string{
	TemplateRegularPlusPremium:      {"Regular", "Plus", "Premium"},
	TemplateRegularPlusPremiumDiesel: {"Regular", "Plus", "Premium", "Diesel"},
	TemplateEthanolFreeVariants:     {"Ethanol-Free Regular", "Ethanol-Free Plus", "Ethanol-Free Premium"},
	TemplateThreeGradeEthanolDiesel: {"Regular", "Plus", "Premium", "Ethanol-Free Gasoline Plus", "Diesel"},
}

// SelectTemplate matches grades against the known signatures, falling
// back to TemplateCustom when nothing matches exactly.
func SelectTemplate(grades []string) Template {
	for tmpl, sig := range templateSignatures {
		if sameSet(grades, sig) {
			return tmpl
		}
	}
	return TemplateCustom
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(b))
	for _, v := range b {
		seen[v] = true
	}
	for _, v := range a {
		if !seen[v] {
			return false
		}
	}
	return true
}

// StandardTestValues are the defaulted form values (spec §4.5 step 4).
type StandardTestValues struct {
	Date          time.Time
	Time          time.Time
	TemperatureF  float64
	VolumeGallons float64
	ErrorPercent  float64
}

// DefaultTestValues returns today's date/time with the spec's fixed
// defaults (70°F, 5.00 gal, 0.00 error).
func DefaultTestValues() StandardTestValues {
	now := time.Now()
	return StandardTestValues{Date: now, Time: now, TemperatureF: 70, VolumeGallons: 5.00, ErrorPercent: 0.00}
}

// Run is one per-dispenser form automation (spec §3, §4.5).
type Run struct {
	Dispenser *models.Dispenser
	VisitURL  string
	Template  Template
	Values    StandardTestValues
}

// Engine drives Run instances through their phase state machine.
type Engine struct {
	driver      *driver.Driver
	recoveryEng *recovery.Engine
	bus         *progress.Bus
	logger      arbor.ILogger
}

// New constructs a form Engine.
func New(d *driver.Driver, recoveryEng *recovery.Engine, bus *progress.Bus, logger arbor.ILogger) *Engine {
	return &Engine{driver: d, recoveryEng: recoveryEng, bus: bus, logger: logger}
}

// RunOne drives a single dispenser's form to completion or a
// terminal error, publishing a progress event at each phase
// transition (spec §4.5, §4.6). Each phase runs under the recovery
// engine (spec §4.7), the same way the teacher's processor wraps each
// job phase with its retry/backoff/circuit-breaker harness.
func (e *Engine) RunOne(ctx context.Context, session *models.Session, jobID string, run Run) error {
	for i, phase := range phaseOrder {
		e.publish(jobID, session.UserID, run.Dispenser.ID, phase, phaseProgress(i))

		operation := fmt.Sprintf("form_phase_%s", phase)
		err := e.recoveryEng.Run(ctx, session.SessionID, session.UserID, jobID, operation,
			func(ctx context.Context, attempt int) error {
				return e.runPhase(ctx, session, run, phase)
			})
		if err != nil {
			e.publish(jobID, session.UserID, run.Dispenser.ID, PhaseError, phaseProgress(i))
			return fmt.Errorf("form engine: phase %s failed for dispenser %s: %w", phase, run.Dispenser.ID, err)
		}
	}
	e.publish(jobID, session.UserID, run.Dispenser.ID, PhaseCompletion, 1.0)
	return nil
}

func phaseProgress(index int) float64 {
	return float64(index) / float64(len(phaseOrder)-1)
}

func (e *Engine) publish(jobID, userID, dispenserID string, phase Phase, pct float64) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(models.ProgressEvent{
		JobID: jobID, UserID: userID, DispenserID: dispenserID,
		Phase: string(phase), Percentage: pct, Timestamp: time.Now(),
	})
}

func (e *Engine) runPhase(ctx context.Context, session *models.Session, run Run, phase Phase) error {
	switch phase {
	case PhaseInitializing:
		return nil
	case PhaseLogin:
		// Login is performed once per session by the caller before the
		// batch begins; re-verify liveness here (spec §4.2 reuse contract).
		return browser.Probe(session.Ctx)
	case PhaseNavigation:
		return e.driver.GoToVisit(ctx, session, run.VisitURL)
	case PhaseFormDetection:
		return e.detectExistingRow(ctx, session, run.Dispenser.Number)
	case PhaseFormPreparation:
		return nil
	case PhaseFormFilling:
		return e.fillForm(ctx, session, run)
	case PhaseDispenserAutomation:
		return nil
	case PhaseValidation:
		return e.validateCommit(ctx, session)
	case PhaseCompletion:
		return nil
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// detectExistingRow checks whether a form row already exists for
// dispenserNumber, clicking "Add New" when it does not (spec §4.5
// steps 1-2).
func (e *Engine) detectExistingRow(ctx context.Context, session *models.Session, dispenserNumber string) error {
	navCtx, cancel := context.WithTimeout(session.Ctx, 10*time.Second)
	defer cancel()

	var exists bool
	sel := fmt.Sprintf(`[data-dispenser-number="%s"]`, dispenserNumber)
	if err := chromedp.Run(navCtx, chromedp.Evaluate(
		fmt.Sprintf(`!!document.querySelector(%q)`, sel), &exists,
	)); err != nil {
		return fmt.Errorf("detect existing row: %w", err)
	}
	if exists {
		return nil
	}
	return chromedp.Run(navCtx, chromedp.Click(`//*[contains(text(), "Add New")]`, chromedp.BySearch))
}

// fillForm sets the fuel-grade fields in the template's canonical
// order and the standard test-value fields (spec §4.5 steps 3-4).
func (e *Engine) fillForm(ctx context.Context, session *models.Session, run Run) error {
	navCtx, cancel := context.WithTimeout(session.Ctx, 15*time.Second)
	defer cancel()

	actions := make([]chromedp.Action, 0, len(run.Dispenser.FuelGrades)+4)
	for _, grade := range run.Dispenser.FuelGrades {
		field := fmt.Sprintf(`input[name="grade_%s"]`, strings.ToLower(strings.ReplaceAll(grade, " ", "_")))
		actions = append(actions, chromedp.SetValue(field, fmt.Sprintf("%.2f", run.Values.VolumeGallons), chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.SetValue(`input[name="test_date"]`, run.Values.Date.Format("2006-01-02"), chromedp.ByQuery),
		chromedp.SetValue(`input[name="test_time"]`, run.Values.Time.Format("15:04"), chromedp.ByQuery),
		chromedp.SetValue(`input[name="temperature"]`, fmt.Sprintf("%.0f", run.Values.TemperatureF), chromedp.ByQuery),
		chromedp.SetValue(`input[name="error_percent"]`, fmt.Sprintf("%.2f", run.Values.ErrorPercent), chromedp.ByQuery),
	)

	if err := chromedp.Run(navCtx, actions...); err != nil {
		return fmt.Errorf("fill form: %w", err)
	}
	return nil
}

// validateCommit submits the form and waits for DOM quiescence (spec
// §4.5 step 5).
func (e *Engine) validateCommit(ctx context.Context, session *models.Session) error {
	navCtx, cancel := context.WithTimeout(session.Ctx, 15*time.Second)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(1500*time.Millisecond),
	); err != nil {
		return fmt.Errorf("validate/commit: %w", err)
	}
	return nil
}
