// Package pipeline drives one snapshot through the stage sequence:
// align the stored series onto the weekly grid, merge the panel, derive
// costs, filter to usable rows and build the feature tables. Each stage is
// a pure table transform; the pipeline owns all I/O.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lox/olivepanel/internal/align"
	"github.com/lox/olivepanel/internal/export"
	"github.com/lox/olivepanel/internal/features"
	"github.com/lox/olivepanel/internal/metrics"
	"github.com/lox/olivepanel/internal/models"
	"github.com/lox/olivepanel/internal/panel"
	"github.com/lox/olivepanel/internal/store"
)

type Pipeline struct {
	store  *store.Store
	writer *export.Writer
}

func New(st *store.Store, writer *export.Writer) *Pipeline {
	return &Pipeline{store: st, writer: writer}
}

// Run builds the panel and feature snapshots for one snapshot date from
// whatever the store currently holds.
func (p *Pipeline) Run(ctx context.Context, snapshot string) error {
	panelRows, err := p.RunPanel(ctx, snapshot)
	if err != nil {
		return err
	}
	return p.buildFeatures(panelRows, snapshot)
}

// RunPanel builds and stores the panel snapshot only.
func (p *Pipeline) RunPanel(ctx context.Context, snapshot string) ([]models.PanelRow, error) {
	grid, err := p.buildGrid()
	if err != nil {
		return nil, err
	}
	return p.buildPanel(grid, snapshot)
}

// RunFeatures builds the feature snapshot from an already stored panel
// snapshot.
func (p *Pipeline) RunFeatures(ctx context.Context, snapshot string) error {
	panelRows, err := p.store.GetPanelSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("load panel snapshot %s: %w", snapshot, err)
	}
	if len(panelRows) == 0 {
		return fmt.Errorf("no panel snapshot for %s, run the panel stage first", snapshot)
	}
	return p.buildFeatures(panelRows, snapshot)
}

// buildGrid aligns every stored macro series onto the weekly grid.
func (p *Pipeline) buildGrid() ([]models.MacroRow, error) {
	defer stageTimer("align")()

	names := []string{
		align.SeriesUsdPerEur,
		align.SeriesBrentUsdPerBbl,
		align.SeriesDieselUsdPerGal,
		align.SeriesPPIGlass,
		align.SeriesPPIPlasticBottles,
		align.SeriesPPISteel,
		align.SeriesFBX,
	}

	weekly := make(map[string][]models.WeeklyPoint, len(names))
	for _, name := range names {
		points, err := p.store.GetSeries(name)
		if err != nil {
			return nil, fmt.Errorf("load series %s: %w", name, err)
		}
		if len(points) == 0 {
			log.Printf("pipeline: series %s has no points", name)
			continue
		}
		weekly[name] = align.WeeklyMean(points)
	}

	grid := align.BuildGrid(weekly)
	align.DeriveOceanProxy(grid)
	return grid, nil
}

func (p *Pipeline) buildPanel(grid []models.MacroRow, snapshot string) ([]models.PanelRow, error) {
	defer stageTimer("panel")()

	spot, err := p.store.GetSpotPrices()
	if err != nil {
		return nil, fmt.Errorf("load spot prices: %w", err)
	}
	tariffs, err := p.store.GetTariffs()
	if err != nil {
		return nil, fmt.Errorf("load tariffs: %w", err)
	}

	rows, err := panel.Merge(spot, grid, tariffs, snapshot)
	if err != nil {
		return nil, err
	}
	rows = panel.DeriveCosts(rows)

	if err := p.store.ReplacePanelSnapshot(snapshot, rows); err != nil {
		return nil, fmt.Errorf("store panel snapshot: %w", err)
	}
	if err := p.writer.WritePanel(snapshot, rows); err != nil {
		return nil, fmt.Errorf("export panel: %w", err)
	}
	return rows, nil
}

func (p *Pipeline) buildFeatures(panelRows []models.PanelRow, snapshot string) error {
	defer stageTimer("features")()

	usable, err := features.Filter(panelRows)
	if err != nil {
		return err
	}
	featureRows := features.Build(usable)

	if err := p.store.ReplaceFeatureSnapshot(snapshot, featureRows); err != nil {
		return fmt.Errorf("store feature snapshot: %w", err)
	}
	if err := p.writer.WriteFeatures(snapshot, featureRows); err != nil {
		return fmt.Errorf("export features: %w", err)
	}
	if err := p.writer.WriteModelFeatures(snapshot, featureRows); err != nil {
		return fmt.Errorf("export model features: %w", err)
	}
	return nil
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
