package sampling_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kpotier/crystalgen/pkg/cif"
	"github.com/kpotier/crystalgen/pkg/lattice"
	"github.com/kpotier/crystalgen/pkg/sampling"
	"github.com/kpotier/crystalgen/pkg/store"
	"github.com/kpotier/crystalgen/pkg/structure"
	"github.com/stretchr/testify/require"
)

func writeCfg(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := sampling.New(writeCfg(t, dir, "[sample]\nmodel = \"random\"\nsystems = [\"Li2O\"]\n"), nil)
	require.NoError(t, err)
	require.Equal(t, "sampling.cif", s.Output)
	require.Equal(t, 128, s.BatchSize)
	require.Equal(t, sampling.MaxAttempts, s.Attempts)
	require.Equal(t, 1, s.PerSystem)
	require.Equal(t, "cuda", s.Options().Device)
	require.Equal(t, 8, s.Options().Threads)
}

func TestNewErrors(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"window":       "[sample]\nmodel = \"random\"\ncfg_start = 4\ncfg_end = 2\n",
		"threads":      "[sample]\nmodel = \"random\"\nthreads = -1\n",
		"attempts":     "[sample]\nmodel = \"random\"\nattempts = -2\n",
		"by_structure": "[sample]\nmodel = \"random\"\nby_structure = true\n",
		"model":        "[sample]\nmodel = \"diffusion\"\n",
		"dataset":      "[sample]\nmodel = \"random\"\ndataset = \"mp20\"\n",
	} {
		_, err := sampling.New(writeCfg(t, dir, content), nil)
		require.Error(t, err, name)
	}

	_, err := sampling.New(filepath.Join(dir, "missing.toml"), nil)
	require.Error(t, err)

	_, err = sampling.New(writeCfg(t, dir, "[sample]\nmodel = \"random\"\ndataset = \"perov-5\"\n"), nil)
	require.NoError(t, err)
	_, err = sampling.New(writeCfg(t, dir, "[sample]\nmodel = \"random\"\ndataset = \"mp20\"\nsystems = [\"Si\"]\n"), nil)
	require.NoError(t, err)
}

func TestStartSystems(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "gen.cif")
	report := filepath.Join(dir, "report.txt")
	cfg := fmt.Sprintf(`[sample]
model = "random"
seed = 3
systems = ["Li2O", "NaCl"]
per_system = 3
batch_size = 4
output = %q
report = %q
`, out, report)

	s, err := sampling.New(writeCfg(t, dir, cfg), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	structs, err := cif.Decode(f)
	require.NoError(t, err)
	require.Len(t, structs, 6)
	require.Equal(t, []int{3, 3, 8}, structs[0].Species)
	require.Equal(t, []int{11, 17}, structs[5].Species)

	b, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(b), "structures = 6")
	require.Contains(t, string(b), "batches = 2")
	require.NotContains(t, string(b), "mae_pos")
}

func TestStartEvaluate(t *testing.T) {
	dir := t.TempDir()
	refs := make([]structure.Structure, 5)
	for i := range refs {
		refs[i] = structure.Structure{
			Species: []int{12, 8},
			Frac:    [][3]float64{{0, 0, 0}, {0.5, 0.5, 0.5}},
			Lattice: lattice.Params{Lengths: [3]float64{4.2, 4.2, 4.2}, Angles: [3]float64{90, 90, 90}},
		}
	}
	b, err := structure.FromStructures(refs)
	require.NoError(t, err)
	require.NoError(t, cif.WriteFile(filepath.Join(dir, "ref.cif"), b))

	report := filepath.Join(dir, "report.txt")
	db := filepath.Join(dir, "metrics.db")
	cfg := fmt.Sprintf(`[sample]
model = "random"
dataset = "ref.cif"
dataset_path = %q
output = %q
batch_size = 2
cfg_start = 1
evaluate = true
by_structure = true
report = %q
database = %q
`, dir, filepath.Join(dir, "gen.cif"), report, db)

	s, err := sampling.New(writeCfg(t, dir, cfg), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	content, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(content), "evaluated = true")
	require.Contains(t, string(content), "structure mae_pos mae_lengths mae_angles")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, sampling.Type, runs[0].Kind)

	rows, err := st.Rows(runs[0].ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "Mg1 O1", rows[3].Formula)
}
