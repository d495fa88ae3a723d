// Package evaluate compares generated structures with their references.
package evaluate

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/kpotier/crystalgen/pkg/cif"
	"github.com/kpotier/crystalgen/pkg/metrics"
	"github.com/kpotier/crystalgen/pkg/store"
	"github.com/kpotier/crystalgen/pkg/structure"
	"github.com/kpotier/crystalgen/pkg/util"

	"github.com/pelletier/go-toml"
)

// Type is the type of calculation.
var Type = "evaluate"

// Evaluate is a structure containing the parameters that can be parsed from a
// TOML configuration file. This structure can be instanced through the New
// method.
// FilePred and FileRef must hold the same structures in the same order, with
// the same species.
type Evaluate struct {
	FilePred string `toml:"evaluate.file_pred"`
	FileRef  string `toml:"evaluate.file_ref"`
	FileOut  string `toml:"evaluate.file_out"`

	ByStructure bool   `toml:"evaluate.by_structure"`
	Database    string `toml:"evaluate.database"`

	log *log.Logger
}

// New returns an instance of the Evaluate structure. It reads and parses the
// configuration file given in argument. The file must be a TOML file.
func New(path string, log *log.Logger) (*Evaluate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var e Evaluate
	dec := toml.NewDecoder(f)
	err = dec.Decode(&e)
	if err != nil {
		return nil, err
	}

	if e.FilePred == "" || e.FileRef == "" {
		return nil, errors.New("FilePred and FileRef are required")
	}
	if e.FileOut == "" {
		return nil, errors.New("FileOut is required")
	}

	e.log = log
	return &e, nil
}

// Start performs the calculation. It is a thread blocking method.
func (e *Evaluate) Start() error {
	pred, err := read(e.FilePred)
	if err != nil {
		return fmt.Errorf("read (pred): %w", err)
	}
	ref, err := read(e.FileRef)
	if err != nil {
		return fmt.Errorf("read (ref): %w", err)
	}

	met, err := metrics.Compare(pred, ref, e.ByStructure)
	if err != nil {
		return fmt.Errorf("Compare: %w", err)
	}

	rep := report{
		RunID:      uuid.New().String(),
		Structures: pred.Len(),
		Atoms:      pred.Atoms(),
		Params:     *e,
	}

	out, err := util.Write(e.FileOut, rep)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	defer out.Close()

	if e.ByStructure {
		err = util.Table(out, []string{"structure", metrics.MAEPos, metrics.MAELengths, metrics.MAEAngles},
			met.Pos, met.Lengths, met.Angles)
	} else {
		_, err = fmt.Fprintf(out, "%s %g\n%s %g\n%s %g\n",
			metrics.MAEPos, met.Pos[0], metrics.MAELengths, met.Lengths[0], metrics.MAEAngles, met.Angles[0])
	}
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if e.Database != "" {
		if !met.ByStructure {
			met, err = metrics.Compare(pred, ref, true)
			if err != nil {
				return fmt.Errorf("Compare: %w", err)
			}
		}
		err = store.Save(e.Database, rep.RunID, Type, pred, met)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
	}

	if e.log != nil {
		e.log.Printf("%s: %d structures compared (run %s)", Type, rep.Structures, rep.RunID)
	}
	return out.Close()
}

// report is the header of the output file.
type report struct {
	RunID      string   `toml:"run_id"`
	Structures int      `toml:"structures"`
	Atoms      int      `toml:"atoms"`
	Params     Evaluate `toml:"parameters"`
}

func read(path string) (structure.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return structure.Batch{}, err
	}
	defer f.Close()

	return cif.DecodeBatch(f)
}
