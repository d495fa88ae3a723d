package sampling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kpotier/crystalgen/pkg/cif"
	"github.com/kpotier/crystalgen/pkg/dataset"
	"github.com/kpotier/crystalgen/pkg/metrics"
	"github.com/kpotier/crystalgen/pkg/model"
	"github.com/kpotier/crystalgen/pkg/store"
	"github.com/kpotier/crystalgen/pkg/structure"
	"github.com/kpotier/crystalgen/pkg/util"

	"github.com/pelletier/go-toml"
)

// Type is name of the calculation.
var Type = "sample"

// Datasets are the benchmark datasets that can be named without the .cif
// extension.
var Datasets = []string{"mp-20", "carbon-24", "perov-5"}

// Sample is a structure containing the parameters that can be parsed from a
// TOML configuration file. This structure can be instanced through the New
// method.
// If Systems is empty, the compositions (and the references) come from the
// file Dataset in DatasetPath. Dataset is either a .cif file or one of
// Datasets, a directory holding a test.cif file. CfgStart must be lower than CfgEnd unless
// CfgEnd is 0.
type Sample struct {
	Checkpoint  string `toml:"sample.checkpoint"`
	Output      string `toml:"sample.output"`
	Dataset     string `toml:"sample.dataset"`
	DatasetPath string `toml:"sample.dataset_path"`
	Device      string `toml:"sample.device"`
	Threads     int    `toml:"sample.threads"`

	Model    string  `toml:"sample.model"`
	ModelURL string  `toml:"sample.model_url"`
	Timeout  float64 `toml:"sample.timeout"` // seconds
	Seed     int64   `toml:"sample.seed"`
	Attempts int     `toml:"sample.attempts"`

	BatchSize int      `toml:"sample.batch_size"`
	Shuffle   bool     `toml:"sample.shuffle"`
	CfgStart  int      `toml:"sample.cfg_start"`
	CfgEnd    int      `toml:"sample.cfg_end"`
	Systems   []string `toml:"sample.systems"`
	PerSystem int      `toml:"sample.per_system"`

	Evaluate    bool   `toml:"sample.evaluate"`
	ByStructure bool   `toml:"sample.by_structure"`
	Report      string `toml:"sample.report"`
	Database    string `toml:"sample.database"`

	log     *log.Logger
	sampler model.Sampler
}

// New returns an instance of the Sample structure. It reads and parses the
// configuration file given in argument. The file must be a TOML file. Missing
// parameters take their default values.
func New(path string, log *log.Logger) (*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Sample
	dec := toml.NewDecoder(f)
	err = dec.Decode(&s)
	if err != nil {
		return nil, err
	}
	s.defaults()

	if s.CfgEnd != 0 && s.CfgStart >= s.CfgEnd {
		return nil, errors.New("CfgStart is greater or equal than CfgEnd")
	}
	if s.Threads <= 0 {
		return nil, fmt.Errorf("the number of threads must be positive (got %d)", s.Threads)
	}
	if s.Attempts < 0 {
		return nil, fmt.Errorf("the number of attempts must be positive (got %d)", s.Attempts)
	}
	if s.ByStructure && s.Report == "" {
		return nil, errors.New("ByStructure requires a report file")
	}
	if len(s.Systems) == 0 && !knownDataset(s.Dataset) {
		return nil, fmt.Errorf("dataset `%s` doesn't exist (%s or a .cif file)",
			s.Dataset, strings.Join(Datasets, ", "))
	}

	s.sampler, err = model.New(s.Model, s.Options())
	if err != nil {
		return nil, fmt.Errorf("model.New: %w", err)
	}

	s.log = log
	return &s, nil
}

// defaults fills the parameters left empty.
func (s *Sample) defaults() {
	if s.Output == "" {
		s.Output = "sampling.cif"
	}
	if s.Dataset == "" {
		s.Dataset = "mp-20"
	}
	if s.DatasetPath == "" {
		s.DatasetPath = "./data"
	}
	if s.Device == "" {
		s.Device = "cuda"
	}
	if s.Threads == 0 {
		s.Threads = 8
	}
	if s.Model == "" {
		s.Model = model.KindHTTP
	}
	if s.Attempts == 0 {
		s.Attempts = MaxAttempts
	}
	if s.PerSystem == 0 {
		s.PerSystem = 1
	}
	if s.BatchSize == 0 {
		s.BatchSize = 512
		if len(s.Systems) > 0 {
			s.BatchSize = 128
		}
	}
}

func knownDataset(name string) bool {
	if strings.HasSuffix(name, ".cif") {
		return true
	}
	for _, d := range Datasets {
		if name == d {
			return true
		}
	}
	return false
}

// Options returns the run configuration given to the sampler.
func (s *Sample) Options() model.Options {
	return model.Options{
		Checkpoint: s.Checkpoint,
		Device:     s.Device,
		Threads:    s.Threads,
		Seed:       s.Seed,
		URL:        s.ModelURL,
		Timeout:    time.Duration(s.Timeout * float64(time.Second)),
	}
}

// open returns the dataset to sample.
func (s *Sample) open() (dataset.Dataset, error) {
	opts := dataset.Options{
		BatchSize: s.BatchSize,
		Shuffle:   s.Shuffle,
		Seed:      s.Seed,
		Start:     s.CfgStart,
		End:       s.CfgEnd,
	}

	if len(s.Systems) > 0 {
		return dataset.FromSystems(s.Systems, s.PerSystem, opts)
	}

	path := filepath.Join(s.DatasetPath, s.Dataset)
	if !strings.HasSuffix(s.Dataset, ".cif") {
		path = filepath.Join(path, "test.cif")
	}
	return dataset.OpenCIF(path, opts)
}

// Start performs the calculation. It is a thread blocking method. The
// structures sampled so far are written into Output after every batch. If a
// batch can't be sampled, the error matches ErrExhausted and Output holds
// the previous batches.
func (s *Sample) Start() error {
	ds, err := s.open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	d := Driver{
		Sampler:  s.sampler,
		Attempts: s.Attempts,
		Export:   func(b structure.Batch) error { return cif.WriteFile(s.Output, b) },
		Evaluate: s.Evaluate,
		Log:      s.log,
	}

	t := time.Now()
	res, err := d.Run(context.Background(), ds)
	if err != nil {
		return fmt.Errorf("Run: %w", err)
	}

	rep := report{
		RunID:      uuid.New().String(),
		Structures: res.Pred.Len(),
		Atoms:      res.Pred.Atoms(),
		Batches:    res.Batches,
		Duration:   time.Since(t).String(),
	}

	var met metrics.Result
	if s.Evaluate && res.Reference != nil {
		met, err = metrics.Compare(res.Pred, *res.Reference, s.ByStructure)
		if err != nil {
			return fmt.Errorf("Compare: %w", err)
		}
		rep.Evaluated = true
	}

	if s.Report != "" {
		err = writeReport(s.Report, rep, met)
		if err != nil {
			return fmt.Errorf("writeReport: %w", err)
		}
	}

	if s.Database != "" && rep.Evaluated {
		err = record(s.Database, rep.RunID, Type, res.Pred, *res.Reference)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
	}

	if s.log != nil {
		s.log.Printf("%s: %d structures written into %s (run %s)", Type, rep.Structures, s.Output, rep.RunID)
	}
	return nil
}

// report is the header of the report file.
type report struct {
	RunID      string `toml:"run_id"`
	Structures int    `toml:"structures"`
	Atoms      int    `toml:"atoms"`
	Batches    int    `toml:"batches"`
	Duration   string `toml:"duration"`
	Evaluated  bool   `toml:"evaluated"`
}

// writeReport writes the report and, if any, the errors. Errors computed by
// structure are written as a table.
func writeReport(path string, rep report, met metrics.Result) error {
	out, err := util.Write(path, rep)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	defer out.Close()

	if !rep.Evaluated {
		return nil
	}

	if !met.ByStructure {
		_, err = fmt.Fprintf(out, "%s %g\n%s %g\n%s %g\n",
			metrics.MAEPos, met.Pos[0], metrics.MAELengths, met.Lengths[0], metrics.MAEAngles, met.Angles[0])
		return err
	}

	return util.Table(out, []string{"structure", metrics.MAEPos, metrics.MAELengths, metrics.MAEAngles},
		met.Pos, met.Lengths, met.Angles)
}

// record saves the errors of every structure into the database at path.
func record(path, runID, kind string, pred, ref structure.Batch) error {
	met, err := metrics.Compare(pred, ref, true)
	if err != nil {
		return fmt.Errorf("Compare: %w", err)
	}
	return store.Save(path, runID, kind, pred, met)
}
