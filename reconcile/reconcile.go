// Package reconcile turns a diagram specification into the minimal set of
// canvas API calls that make the live scene match it. A mapping record
// beside the spec file remembers which server element each logical key
// produced, so re-runs update and delete instead of duplicating.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/maretko/drawbridge/diagram"
	"github.com/maretko/drawbridge/scene"
)

// Reconciler pushes diagram specifications to one canvas service.
type Reconciler struct {
	client *Client
	logger *slog.Logger
}

type ReconcilerOption func(*Reconciler)

func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

func NewReconciler(client *Client, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Failure records one entry the engine could not reconcile. The run
// continues past failures; the mapping keeps whatever record that entry
// had before, so the next push retries it.
type Failure struct {
	Key string
	Op  string
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %q: %v", f.Op, f.Key, f.Err)
}

// Report summarizes one push run by logical key.
type Report struct {
	Created   []string
	Updated   []string
	Deleted   []string
	Unchanged []string
	Failures  []Failure

	// FullResync is set when the run recreated every entry instead of
	// diffing, with Reason one of "first push", "requested", "stale mapping".
	FullResync bool
	Reason     string
}

// Summary renders the report as a one-line human-readable digest.
func (r *Report) Summary() string {
	s := fmt.Sprintf("created=%d updated=%d deleted=%d unchanged=%d",
		len(r.Created), len(r.Updated), len(r.Deleted), len(r.Unchanged))
	if r.FullResync {
		s += " (full resync: " + r.Reason + ")"
	}
	if len(r.Failures) > 0 {
		s += fmt.Sprintf(" failures=%d", len(r.Failures))
	}
	return s
}

// Push reconciles the spec file at specPath against the canvas. With full
// set, it clears the canvas and recreates everything from scratch.
//
// Spec parse/validation errors and a failed initial snapshot fetch abort
// the run; per-entry create/update/delete failures do not, and are
// collected in the report. The mapping record is saved after every run
// that got past the snapshot, reflecting exactly what succeeded.
func (r *Reconciler) Push(ctx context.Context, specPath string, full bool) (*Report, error) {
	doc, err := diagram.Load(specPath)
	if err != nil {
		return nil, err
	}
	entries := doc.Entries()
	state := LoadState(specPath)

	if full {
		n, err := r.client.Clear(ctx)
		if err != nil {
			return nil, err
		}
		r.logger.Info("canvas cleared for full push", "deleted", n)
		return r.recreate(ctx, specPath, entries, "requested")
	}
	if len(state.Mappings) == 0 {
		return r.recreate(ctx, specPath, entries, "first push")
	}

	// One snapshot fetch validates the whole mapping up front: if any
	// recorded server ID no longer resolves, the canvas has diverged
	// (restart, out-of-band clear) and the incremental plan is unsafe.
	snapshot, err := r.client.Elements(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(snapshot))
	for i := range snapshot {
		live[snapshot[i].ID] = true
	}
	for key, m := range state.Mappings {
		if !live[m.ElementID] {
			r.logger.Warn("mapping is stale, falling back to full resync",
				"key", key, "element_id", m.ElementID)
			return r.recreate(ctx, specPath, entries, "stale mapping")
		}
	}

	report, err := r.incremental(ctx, specPath, entries, state)
	if errors.Is(err, errStale) {
		return r.recreate(ctx, specPath, entries, "stale mapping")
	}
	return report, err
}

// incremental diffs entries against the (verified) mapping and issues the
// minimal create/update/delete calls. Connectors resolve last so their
// endpoint bindings can reference server IDs created in this same run.
func (r *Reconciler) incremental(ctx context.Context, specPath string, entries []diagram.Entry, state *State) (*Report, error) {
	report := &Report{}
	next := newState()
	inSpec := make(map[string]bool, len(entries))

	var newShapes, newConnectors []diagram.Entry
	var changedConnectors []diagram.Entry

	for _, e := range entries {
		inSpec[e.Key] = true
		prev, known := state.Mappings[e.Key]
		switch {
		case !known:
			if e.Kind == diagram.KindConnector {
				newConnectors = append(newConnectors, e)
			} else {
				newShapes = append(newShapes, e)
			}
		case prev.Hash == e.Hash:
			next.Mappings[e.Key] = prev
			report.Unchanged = append(report.Unchanged, e.Key)
		case e.Kind == diagram.KindConnector:
			// Deferred: binding fields may reference shapes created below.
			changedConnectors = append(changedConnectors, e)
		default:
			if err := r.update(ctx, e, prev, next, report); err != nil {
				return nil, err
			}
		}
	}

	// Entries dropped from the spec. Sorted for deterministic logs.
	var removed []string
	for key := range state.Mappings {
		if !inSpec[key] {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	for _, key := range removed {
		m := state.Mappings[key]
		if err := r.client.Delete(ctx, m.ElementID); err != nil && !errors.Is(err, ErrNotFound) {
			report.Failures = append(report.Failures, Failure{Key: key, Op: "delete", Err: err})
			next.Mappings[key] = m
			continue
		}
		report.Deleted = append(report.Deleted, key)
	}

	r.createBatch(ctx, newShapes, next, report)
	r.bindConnectors(newConnectors, next)
	r.createBatch(ctx, newConnectors, next, report)

	r.bindConnectors(changedConnectors, next)
	for _, e := range changedConnectors {
		if err := r.update(ctx, e, state.Mappings[e.Key], next, report); err != nil {
			return nil, err
		}
	}

	if err := next.Save(specPath); err != nil {
		return report, err
	}
	r.logger.Info("push complete", "spec", specPath, "summary", report.Summary())
	return report, nil
}

// recreate is the full-resync path: every entry is created fresh and the
// mapping rebuilt from scratch. It deletes nothing itself; the caller
// clears first when that is wanted.
func (r *Reconciler) recreate(ctx context.Context, specPath string, entries []diagram.Entry, reason string) (*Report, error) {
	report := &Report{FullResync: true, Reason: reason}
	next := newState()

	var shapes, connectors []diagram.Entry
	for _, e := range entries {
		if e.Kind == diagram.KindConnector {
			connectors = append(connectors, e)
		} else {
			shapes = append(shapes, e)
		}
	}
	r.createBatch(ctx, shapes, next, report)
	r.bindConnectors(connectors, next)
	r.createBatch(ctx, connectors, next, report)

	if err := next.Save(specPath); err != nil {
		return report, err
	}
	r.logger.Info("push complete", "spec", specPath, "summary", report.Summary())
	return report, nil
}

var errStale = errors.New("reconcile: mapping went stale mid-run")

// update merges an entry's skeleton onto its mapped server element. A
// NotFound here means the element vanished after the snapshot check; it
// returns errStale so the caller can abandon the incremental plan.
func (r *Reconciler) update(ctx context.Context, e diagram.Entry, prev Mapping, next *State, report *Report) error {
	_, err := r.client.Update(ctx, prev.ElementID, overwriteFields(e.Skeleton))
	switch {
	case errors.Is(err, ErrNotFound):
		r.logger.Warn("mapped element vanished mid-run",
			"key", e.Key, "element_id", prev.ElementID)
		return errStale
	case err != nil:
		report.Failures = append(report.Failures, Failure{Key: e.Key, Op: "update", Err: err})
		next.Mappings[e.Key] = prev
		return nil
	}
	next.Mappings[e.Key] = Mapping{ElementID: prev.ElementID, Hash: e.Hash}
	report.Updated = append(report.Updated, e.Key)
	return nil
}

// createBatch creates the given entries in one atomic call and records
// their server IDs. A failed batch marks every entry in it failed; the
// missing mapping records make the next push retry them as creates.
func (r *Reconciler) createBatch(ctx context.Context, entries []diagram.Entry, next *State, report *Report) {
	if len(entries) == 0 {
		return
	}
	skeletons := make([]scene.Element, len(entries))
	for i, e := range entries {
		skeletons[i] = e.Skeleton
	}
	created, err := r.client.CreateBatch(ctx, skeletons)
	if err != nil || len(created) != len(entries) {
		if err == nil {
			err = fmt.Errorf("reconcile: batch returned %d elements for %d entries", len(created), len(entries))
		}
		for _, e := range entries {
			report.Failures = append(report.Failures, Failure{Key: e.Key, Op: "create", Err: err})
		}
		return
	}
	for i, e := range entries {
		next.Mappings[e.Key] = Mapping{ElementID: created[i].ID, Hash: e.Hash}
		report.Created = append(report.Created, e.Key)
	}
}

// bindConnectors fills StartID/EndID on connector skeletons from the
// in-progress mapping. An unresolvable endpoint (its shape failed to
// create earlier in this run) leaves the binding empty; the connector is
// still drawn, just unbound.
func (r *Reconciler) bindConnectors(connectors []diagram.Entry, next *State) {
	for i := range connectors {
		e := &connectors[i]
		if m, ok := next.Mappings[e.FromKey]; ok {
			e.Skeleton.StartID = m.ElementID
		}
		if m, ok := next.Mappings[e.ToKey]; ok {
			e.Skeleton.EndID = m.ElementID
		}
	}
}

// overwriteFields builds the update payload for a skeleton: every
// renderable attribute, explicitly, including nils and zeros. Merge
// semantics on the server would otherwise keep fields the new skeleton
// no longer sets (a removed label, say).
func overwriteFields(s scene.Element) map[string]any {
	var points any
	if s.Points != nil {
		points = s.Points
	}
	var label any
	if s.Label != nil {
		label = s.Label
	}
	return map[string]any{
		"type":            s.Type,
		"x":               s.X,
		"y":               s.Y,
		"width":           s.Width,
		"height":          s.Height,
		"points":          points,
		"strokeColor":     s.StrokeColor,
		"backgroundColor": s.BackgroundColor,
		"fillStyle":       s.FillStyle,
		"strokeWidth":     s.StrokeWidth,
		"strokeStyle":     s.StrokeStyle,
		"roughness":       s.Roughness,
		"opacity":         s.Opacity,
		"text":            s.Text,
		"fontSize":        s.FontSize,
		"fontFamily":      s.FontFamily,
		"label":           label,
		"startArrowhead":  s.StartArrowhead,
		"endArrowhead":    s.EndArrowhead,
		"startId":         s.StartID,
		"endId":           s.EndID,
	}
}
