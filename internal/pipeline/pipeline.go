// Package pipeline orchestrates a processing batch: extraction,
// abundance correction and integration fan out over a worker pool on
// the (sample x compound) product, then the calibration stage runs
// behind a barrier once every integration has landed.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"isoquant/internal/binner"
	"isoquant/internal/calibrate"
	"isoquant/internal/compound"
	"isoquant/internal/config"
	"isoquant/internal/correct"
	"isoquant/internal/integrate"
	"isoquant/internal/isotope"
	"isoquant/internal/msdata"
)

// Cell is the per-(sample, compound) output row.
type Cell struct {
	Sample   string
	Compound string

	// RawAreas and CorrectedAreas are the integrated isotopologue
	// vectors before and after abundance correction.
	RawAreas       []float64
	CorrectedAreas []float64
	// Ratios are the corrected areas normalized to sum 1; zero vector
	// when the corrected total is zero.
	Ratios []float64

	Metrics calibrate.CellMetrics

	Degenerate bool
	Clamped    int
	Cond       float64
}

// Outcome aggregates a whole batch.
type Outcome struct {
	// Cells are ordered by sample, then compound, in input order.
	Cells []Cell

	// CompoundErrors holds per-compound fatal errors (formula parse,
	// matrix build); those compounds produce no cells but do not abort
	// the batch.
	CompoundErrors map[string]error

	// CellErrors holds isolated per-cell failures.
	CellErrors map[calibrate.CellKey]error

	// ClampEvents counts negative values clamped across the batch.
	ClampEvents int

	// Calibration carries the calibration-stage outputs; when
	// CalibrationErr is set the abundance fields are zero but ratios
	// and areas above remain exportable.
	Calibration    *calibrate.Results
	CalibrationErr error

	CacheHits   int64
	CacheMisses int64
}

// Pipeline wires the processing stages together. The matrix cache is
// injected so several batches can share built matrices.
type Pipeline struct {
	cfg     *config.Config
	session *compound.Session
	cache   *isotope.Cache
	log     *slog.Logger
}

// New builds a pipeline. A nil cache gets a private one; a nil logger
// uses slog.Default.
func New(cfg *config.Config, session *compound.Session, cache *isotope.Cache, log *slog.Logger) *Pipeline {
	if cache == nil {
		cache = isotope.NewCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, session: session, cache: cache, log: log}
}

// prepared is the read-only per-compound state shared by all workers.
type prepared struct {
	def    compound.Config
	matrix *isotope.Matrix
}

type job struct {
	sampleIdx   int
	compoundIdx int
	sample      *msdata.Sample
	prep        prepared
}

type jobResult struct {
	sampleIdx   int
	compoundIdx int
	cell        Cell
	err         error
}

// Run processes a batch. Per-compound and per-cell failures are
// aggregated in the Outcome; only context cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, samples []*msdata.Sample) (*Outcome, error) {
	out := &Outcome{
		CompoundErrors: make(map[string]error),
		CellErrors:     make(map[calibrate.CellKey]error),
	}

	// Matrices are built once per compound, before the pool starts:
	// workers then share strictly read-only state.
	var preps []prepared
	var activeDefs []compound.Config
	for _, def := range p.session.Compounds() {
		eff, err := def.EffectiveFormula(p.cfg.TBDMS())
		if err != nil {
			p.log.Warn("compound excluded", "compound", def.Name, "err", err)
			out.CompoundErrors[def.Name] = err
			continue
		}
		m, err := p.cache.Get(eff, def.LabelElement, def.LabelAtoms, p.cfg.LabelPurity)
		if err != nil {
			p.log.Warn("compound excluded", "compound", def.Name, "err", err)
			out.CompoundErrors[def.Name] = err
			continue
		}
		preps = append(preps, prepared{def: def, matrix: m})
		activeDefs = append(activeDefs, def)
	}

	workers := p.cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	jobs := make(chan job, workers*2)
	results := make(chan jobResult, workers*2)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-jobs:
					if !ok {
						return
					}
					cell, err := p.processCell(j.sample, j.prep)
					results <- jobResult{j.sampleIdx, j.compoundIdx, cell, err}
				}
			}
		}()
	}

	done := make(chan struct{})
	collected := make([]*jobResult, len(samples)*len(preps))
	go func() {
		defer close(done)
		for r := range results {
			r := r
			collected[r.sampleIdx*len(preps)+r.compoundIdx] = &r
		}
	}()

feed:
	for si, s := range samples {
		for ci, prep := range preps {
			select {
			case <-ctx.Done():
				break feed
			case jobs <- job{si, ci, s, prep}:
			}
		}
	}
	close(jobs)
	wg.Wait()
	close(results)
	<-done

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	corrected := make(calibrate.Corrected, len(samples))
	for si, s := range samples {
		corrected[s.Name] = make(map[string][]float64, len(preps))
		for ci := range preps {
			r := collected[si*len(preps)+ci]
			if r == nil {
				continue
			}
			if r.err != nil {
				out.CellErrors[calibrate.CellKey{Sample: r.cell.Sample, Compound: r.cell.Compound}] = r.err
				continue
			}
			out.Cells = append(out.Cells, r.cell)
			out.ClampEvents += r.cell.Clamped
			corrected[s.Name][r.cell.Compound] = r.cell.CorrectedAreas
		}
	}
	// Barrier reached: every standard-mixture sample is integrated, so
	// the calibration stage may run.
	sampleNames := make([]string, len(samples))
	for i, s := range samples {
		sampleNames[i] = s.Name
	}
	engine := &calibrate.Engine{
		InternalStandard: p.cfg.InternalStandard,
		RefIndex:         p.cfg.ISReferenceIndex,
		MinPeakRatio:     p.cfg.MinPeakRatio,
		Logger:           p.log,
	}
	cal, calErr := engine.Evaluate(activeDefs, sampleNames, corrected)
	out.Calibration = cal
	out.CalibrationErr = calErr
	if calErr != nil {
		p.log.Error("calibration stage failed", "err", calErr)
	}
	for i := range out.Cells {
		c := &out.Cells[i]
		c.Metrics = cal.Cells[calibrate.CellKey{Sample: c.Sample, Compound: c.Compound}]
	}

	hits, misses, entries := p.cache.Stats()
	out.CacheHits, out.CacheMisses = hits, misses
	p.log.Info("batch complete",
		"cells", len(out.Cells),
		"compound_errors", len(out.CompoundErrors),
		"cell_errors", len(out.CellErrors),
		"clamp_events", out.ClampEvents,
		"cache_hits", hits, "cache_misses", misses, "cache_entries", entries)
	return out, nil
}

// processCell runs extraction, correction and integration for one
// (sample, compound) pair.
func (p *Pipeline) processCell(sample *msdata.Sample, prep prepared) (Cell, error) {
	def := prep.def
	cell := Cell{Sample: sample.Name, Compound: def.Name, Cond: prep.matrix.Cond}

	w := p.session.Window(sample.Name, def)
	lo := def.RetentionTime - math.Max(p.cfg.RTWindow, w.LOffset)
	hi := def.RetentionTime + math.Max(p.cfg.RTWindow, w.ROffset)
	scans := binner.WindowScans(sample.Scans, lo, hi)
	series := binner.Extract(scans, def.Mass0, def.LabelAtoms, p.cfg.MassTolerance)

	mode := p.cfg.Mode()
	rawRes := integrate.Series(series.Time, series.Intensity, w, mode, p.cfg.BaselineCorrection)
	cell.RawAreas = rawRes.Areas
	cell.Clamped += rawRes.Clamped
	cell.Degenerate = rawRes.Degenerate != nil
	if cell.Degenerate {
		p.log.Warn("degenerate integration window",
			"sample", sample.Name, "compound", def.Name, "err", rawRes.Degenerate)
	}

	switch p.cfg.Correction() {
	case config.CorrectionIntegratedTotal:
		vec, clamped, err := correct.Vector(prep.matrix, rawRes.Areas)
		if err != nil {
			return cell, err
		}
		cell.CorrectedAreas = vec
		cell.Clamped += clamped
	default:
		res, err := correct.Series(prep.matrix, series.Intensity)
		if err != nil {
			return cell, err
		}
		cell.Clamped += res.Clamped
		corrRes := integrate.Series(series.Time, res.Intensity, w, mode, p.cfg.BaselineCorrection)
		cell.CorrectedAreas = corrRes.Areas
		cell.Clamped += corrRes.Clamped
	}

	cell.Ratios = normalize(cell.CorrectedAreas)
	return cell, nil
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var total float64
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}
