package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"colonrate/internal/config"
	"colonrate/internal/errors"
	"colonrate/internal/glm"
	"colonrate/internal/testkit"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSynthetic writes the synthetic table as CI5plus files with one
// registry per region
func writeSynthetic(t *testing.T) (dataFile, registryFile string) {
	t.Helper()
	dir := t.TempDir()
	cfg := testkit.DefaultSyntheticConfig()
	table := testkit.MustGenerate(cfg)

	codes := map[string]string{}
	var reg strings.Builder
	reg.WriteString("registry,name,region\n")
	for i, region := range cfg.Regions() {
		code := fmt.Sprintf("%d", 1000+i)
		codes[region] = code
		fmt.Fprintf(&reg, "%s,Registry %d,%s\n", code, i, region)
	}

	var data strings.Builder
	data.WriteString("registry,sex,cancer,age,year,cases,py\n")
	for _, o := range table {
		sex := "2"
		if o.Sex == "Male" {
			sex = "1"
		}
		fmt.Fprintf(&data, "%s,%s,21,%d,%d,%g,%g\n", codes[o.Region], sex, o.AgeGroup.Code(), o.Period, o.Cases, o.PersonYears)
	}
	data.WriteString("1000,1,18,5,1998,3,1000\n")

	registryFile = filepath.Join(dir, "registry.csv")
	dataFile = filepath.Join(dir, "cases.csv")
	require.NoError(t, os.WriteFile(registryFile, []byte(reg.String()), 0o644))
	require.NoError(t, os.WriteFile(dataFile, []byte(data.String()), 0o644))
	return dataFile, registryFile
}

func TestLoadAndFit(t *testing.T) {
	dataFile, registryFile := writeSynthetic(t)
	cfg := config.Default()
	cfg.Data.DataFile = dataFile
	cfg.Data.RegistryFile = registryFile
	cfg.Data.Cancer = "21"

	logger, hook := test.NewNullLogger()
	svc := NewRateModelService(cfg, logger)

	table, err := svc.LoadTable()
	require.NoError(t, err)
	assert.Len(t, table, len(testkit.MustGenerate(testkit.DefaultSyntheticConfig())))

	result, err := svc.Fit(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, "irls", result.Fitted.Method())
	assert.True(t, result.Fitted.Converged())

	male, ok := result.Report.Term("sex[T.Male]")
	require.True(t, ok)
	assert.InDelta(t, 1.2, male.IRR, 0.1)
	assert.False(t, result.Dispersion.Overdispersed)
	assert.NotEmpty(t, hook.AllEntries())
	assert.Contains(t, string(result.Document().Markdown()), "sex: Male vs Female")
}

func TestFitterSelection(t *testing.T) {
	cfg := config.Default()
	svc := NewRateModelService(cfg, nil)
	assert.Equal(t, "irls", svc.Fitter().Name())

	cfg.Fit.Method = config.MethodBayes
	assert.Equal(t, "bayes", svc.Fitter().Name())

	cfg.Sampler.Hierarchical = true
	_, ok := svc.Fitter().(*glm.Posterior)
	assert.True(t, ok)
	assert.Equal(t, "bayes-hierarchical", svc.Fitter().Name())
}

func TestLoadTableNeedsFiles(t *testing.T) {
	svc := NewRateModelService(config.Default(), nil)
	_, err := svc.LoadTable()
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
