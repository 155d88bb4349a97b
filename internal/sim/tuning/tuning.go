package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/stream"
)

// Sim is the on-disk shape of configs/sim.yaml. Zero values mean "use the default".
type Sim struct {
	WorldID string `yaml:"world_id"`
	Seed    int64  `yaml:"seed"`

	ChunkEdge int    `yaml:"chunk_edge"`
	Rule      string `yaml:"rule"`
	// BirthMaterial is the material of newly born cells.
	BirthMaterial uint8 `yaml:"birth_material"`

	TickRateHz       int `yaml:"tick_rate_hz"`
	MaxStepsPerFrame int `yaml:"max_steps_per_frame"`
	Workers          int `yaml:"workers"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	EventBuffer        int `yaml:"event_buffer"`

	Budget budget.Config `yaml:"budget"`
	Stream stream.Config `yaml:"stream"`
	Planet Planet        `yaml:"planet"`
	Origin Origin        `yaml:"origin"`
}

type Planet struct {
	Enabled      bool     `yaml:"enabled"`
	Center       [3]int64 `yaml:"center"`
	Radius       int64    `yaml:"radius"`
	CrustDepth   int64    `yaml:"crust_depth"`
	SeedBand     int64    `yaml:"seed_band"`
	SeedPermille int      `yaml:"seed_permille"`
	CoreMaterial uint8    `yaml:"core_material"`
	RockMaterial uint8    `yaml:"rock_material"`
	SeedMaterial uint8    `yaml:"seed_material"`
}

type Origin struct {
	CellSize float32 `yaml:"cell_size"`
	// MassRadius and MassWeight shape the local-mass gravity term.
	MassRadius int32   `yaml:"mass_radius"`
	MassWeight float64 `yaml:"mass_weight"`
}

func Defaults() Sim {
	var s Sim
	s.applyDefaults()
	return s
}

func (s *Sim) applyDefaults() {
	if s.WorldID == "" {
		s.WorldID = "world_1"
	}
	if s.ChunkEdge <= 0 {
		s.ChunkEdge = chunk.DefaultEdge
	}
	if s.Rule == "" {
		s.Rule = "B5/S45"
	}
	if s.BirthMaterial == 0 {
		s.BirthMaterial = 1
	}
	if s.TickRateHz <= 0 {
		s.TickRateHz = 60
	}
	if s.MaxStepsPerFrame <= 0 {
		s.MaxStepsPerFrame = 8
	}
	if s.SnapshotEveryTicks < 0 {
		s.SnapshotEveryTicks = 0
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = 1024
	}
	p := &s.Planet
	if p.Radius <= 0 {
		p.Radius = 96
	}
	if p.CrustDepth <= 0 {
		p.CrustDepth = 8
	}
	if p.SeedBand <= 0 {
		p.SeedBand = 4
	}
	if p.SeedPermille <= 0 {
		p.SeedPermille = 150
	}
	if p.CoreMaterial == 0 {
		p.CoreMaterial = 3
	}
	if p.RockMaterial == 0 {
		p.RockMaterial = 2
	}
	if p.SeedMaterial == 0 {
		p.SeedMaterial = s.BirthMaterial
	}
	if s.Origin.CellSize <= 0 {
		s.Origin.CellSize = 1
	}
	if s.Origin.MassRadius <= 0 {
		s.Origin.MassRadius = 1
	}
	if s.Origin.MassWeight <= 0 {
		s.Origin.MassWeight = 0.05
	}
}

func Load(path string) (Sim, error) {
	var s Sim
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("sim.yaml: %w", err)
	}
	s.applyDefaults()
	if s.ChunkEdge > stream.MaxEdge {
		return s, fmt.Errorf("sim.yaml: chunk_edge %d above %d", s.ChunkEdge, stream.MaxEdge)
	}
	if _, err := s.rule(); err != nil {
		return s, fmt.Errorf("sim.yaml: %w", err)
	}
	return s, nil
}

func (s Sim) rule() (cell.Rule, error) {
	r, err := cell.ParseRule(s.Rule)
	if err != nil {
		return r, err
	}
	r.BirthMaterial = s.BirthMaterial
	r.BirthFlags = cell.FlagAutomata
	return r, nil
}

// EngineConfig builds the engine configuration. Budget and stream sections are passed
// through; their own defaults apply inside the engine.
func (s Sim) EngineConfig() (engine.Config, error) {
	s.applyDefaults()
	r, err := s.rule()
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.Config{
		WorldID:            s.WorldID,
		Seed:               s.Seed,
		Edge:               s.ChunkEdge,
		Rule:               r,
		Step:               time.Second / time.Duration(s.TickRateHz),
		MaxStepsPerFrame:   s.MaxStepsPerFrame,
		TickRateHz:         s.TickRateHz,
		Workers:            s.Workers,
		Budget:             s.Budget,
		Stream:             s.Stream,
		CellSize:           s.Origin.CellSize,
		EventBuffer:        s.EventBuffer,
		SnapshotEveryTicks: s.SnapshotEveryTicks,
		Gravity: origin.Gravity{
			Center:     s.Planet.Center,
			ChunkEdge:  s.ChunkEdge,
			MassRadius: s.Origin.MassRadius,
			MassWeight: s.Origin.MassWeight,
		},
	}
	if s.Planet.Enabled {
		p := s.Planet
		cfg.Gen = chunk.PlanetGen{
			Seed:         s.Seed,
			Center:       p.Center,
			Radius:       p.Radius,
			CrustDepth:   p.CrustDepth,
			SeedBand:     p.SeedBand,
			SeedPermille: p.SeedPermille,
			CoreMaterial: p.CoreMaterial,
			RockMaterial: p.RockMaterial,
			SeedMaterial: p.SeedMaterial,
		}
	}
	return cfg, nil
}
