package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colonrate/app"
	"colonrate/domain/incidence"
	"colonrate/internal/config"
	"colonrate/internal/predict"
	"colonrate/internal/profiling"
	"colonrate/internal/report"

	"github.com/spf13/cobra"
)

// dataFlags override the data section of the environment config
type dataFlags struct {
	dataFile     string
	registryFile string
	cancer       string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dataFile, "data", "", "Incidence table (CSV or XLSX); overrides COLONRATE_DATA_FILE")
	cmd.Flags().StringVar(&f.registryFile, "registries", "", "Registry dictionary; overrides COLONRATE_REGISTRY_FILE")
	cmd.Flags().StringVar(&f.cancer, "cancer", "", "Cancer code or label; overrides COLONRATE_CANCER")
}

func (f *dataFlags) apply(cfg *config.Config) {
	if f.dataFile != "" {
		cfg.Data.DataFile = f.dataFile
	}
	if f.registryFile != "" {
		cfg.Data.RegistryFile = f.registryFile
	}
	if f.cancer != "" {
		cfg.Data.Cancer = f.cancer
	}
}

func newDescribeCmd() *cobra.Command {
	var data dataFlags

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Print crude incidence rates by sex, region and age group",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data.apply(cfg)

			table, err := app.NewRateModelService(cfg, logger).LoadTable()
			if err != nil {
				return err
			}
			profile, err := profiling.ProfileTable(table)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		},
	}
	data.register(cmd)
	return cmd
}

func newFitCmd() *cobra.Command {
	var data dataFlags
	var method string
	var seed uint64
	var outDir string

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the rate model and write model.json plus reports",
		Long: `Fit log(E[cases]) = X beta + log(person_years) with a B-spline age term and
treatment-coded sex and region.

Writes to --out:
  model.json       fitted model, input to "colonrate predict"
  report.md        coefficient table and diagnostics
  report.html      the same report rendered to HTML
  report.xlsx      coefficients and crude rates

Example:
  colonrate fit --data ci5plus.csv --registries registry.csv --cancer 21 --method bayes --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data.apply(cfg)
			if cmd.Flags().Changed("method") {
				cfg.Fit.Method = strings.ToLower(method)
			}
			if cmd.Flags().Changed("seed") {
				cfg.Sampler.Seed = seed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runFit(cmd.Context(), cfg, outDir)
		},
	}
	data.register(cmd)
	cmd.Flags().StringVar(&method, "method", config.MethodIRLS, "Estimation method: irls|bayes")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Sampler seed")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	return cmd
}

func runFit(ctx context.Context, cfg *config.Config, outDir string) error {
	svc := app.NewRateModelService(cfg, logger)
	table, err := svc.LoadTable()
	if err != nil {
		return err
	}
	result, err := svc.Fit(ctx, table)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	if err := report.SaveModel(filepath.Join(outDir, "model.json"), result.Fitted); err != nil {
		return err
	}
	doc := result.Document()
	if err := os.WriteFile(filepath.Join(outDir, "report.md"), doc.Markdown(), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "report.html"), doc.HTML(), 0o644); err != nil {
		return err
	}
	if err := doc.SaveXLSX(filepath.Join(outDir, "report.xlsx")); err != nil {
		return err
	}

	logger.WithField("run_id", result.Fitted.RunID()).WithField("out", outDir).Info("fit written")
	for _, t := range result.Report.Contrasts() {
		fmt.Println(t.Sentence())
	}
	return nil
}

func newPredictCmd() *cobra.Command {
	var modelPath string
	var ageGroup string
	var age float64
	var sex string
	var region string
	var personYears float64
	var curve int

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the incidence rate for one covariate combination",
		Long: `Predict from a model written by "colonrate fit". Omitted sex and region take
the reference level and omitted age takes the lower spline boundary.

Example:
  colonrate predict --model out/model.json --sex Male --region "Eastern Asia" --age-group 40-44
  colonrate predict --model out/model.json --sex Female --region "Eastern Europe" --curve 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fitted, err := report.LoadModel(modelPath)
			if err != nil {
				return err
			}
			p := predict.New(fitted)

			var preds []predict.Prediction
			if curve > 0 {
				preds, err = p.AgeCurve(sex, region, p.AgeGrid(curve))
				if err != nil {
					return err
				}
			} else {
				req := predict.Request{Sex: sex, Region: region}
				if ageGroup != "" {
					g, err := incidence.ParseAgeGroup(ageGroup)
					if err != nil {
						return err
					}
					req.AgeGroup = &g
				}
				if cmd.Flags().Changed("age") {
					req.Age = &age
				}
				if cmd.Flags().Changed("person-years") {
					req.PersonYears = &personYears
				}
				pred, err := p.Predict(req)
				if err != nil {
					return err
				}
				preds = append(preds, pred)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(preds)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "model.json", "Fitted model JSON")
	cmd.Flags().StringVar(&ageGroup, "age-group", "", "Age band such as 40-44")
	cmd.Flags().Float64Var(&age, "age", 0, "Continuous age")
	cmd.Flags().StringVar(&sex, "sex", "", "Sex level")
	cmd.Flags().StringVar(&region, "region", "", "Region level")
	cmd.Flags().Float64Var(&personYears, "person-years", 0, "Exposure for expected cases")
	cmd.Flags().IntVar(&curve, "curve", 0, "Evaluate an age curve with this many points instead")
	return cmd
}
