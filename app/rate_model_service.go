package app

import (
	"context"

	"colonrate/adapters/registry"
	"colonrate/domain/design"
	"colonrate/domain/incidence"
	"colonrate/internal/config"
	"colonrate/internal/errors"
	"colonrate/internal/glm"
	"colonrate/internal/interpret"
	"colonrate/internal/profiling"
	"colonrate/internal/report"

	"github.com/sirupsen/logrus"
)

// RateModelService runs the load, build, fit and interpret steps from one config
type RateModelService struct {
	cfg    *config.Config
	logger logrus.FieldLogger
}

// NewRateModelService creates a service; a nil logger uses the logrus standard logger
func NewRateModelService(cfg *config.Config, logger logrus.FieldLogger) *RateModelService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RateModelService{cfg: cfg, logger: logger}
}

// FitResult is everything produced by one fit
type FitResult struct {
	Fitted     *glm.Fitted
	Matrix     *design.Matrix
	Report     interpret.Report
	Profile    *profiling.Profile
	Dispersion profiling.DispersionCheck
}

// Document assembles the renderable report of the fit
func (r *FitResult) Document() report.Document {
	check := r.Dispersion
	return report.Document{
		Model:      r.Report,
		Dispersion: &check,
		Profile:    r.Profile,
	}
}

// LoadTable reads the registry dictionary and incidence file named in the config
func (s *RateModelService) LoadTable() (incidence.Table, error) {
	data := s.cfg.Data
	if data.DataFile == "" {
		return nil, errors.ConfigInvalid("COLONRATE_DATA_FILE is required")
	}
	if data.RegistryFile == "" {
		return nil, errors.ConfigInvalid("COLONRATE_REGISTRY_FILE is required")
	}

	registries, err := registry.LoadRegistries(data.RegistryFile, s.logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load registry dictionary")
	}

	cancer := data.Cancer
	if cancer != "" && data.CancerFile != "" {
		cancers, err := registry.LoadCancers(data.CancerFile, s.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load cancer dictionary")
		}
		if cancer, err = cancers.Resolve(cancer); err != nil {
			return nil, err
		}
	}

	table, err := registry.NewLoader(registries, s.logger).Load(data.DataFile, registry.Filter{
		Cancer: cancer,
		MinAge: data.MinAge,
		MaxAge: data.MaxAge,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load incidence table")
	}
	if data.Aggregate {
		table = table.Aggregate()
	}
	return table, nil
}

// Fitter builds the configured estimation strategy
func (s *RateModelService) Fitter() glm.Fitter {
	irls := glm.DefaultIRLSConfig()
	irls.MaxIter = s.cfg.Fit.MaxIter
	irls.Tolerance = s.cfg.Fit.Tolerance
	irls.Level = s.cfg.Fit.Level

	if s.cfg.Fit.Method != config.MethodBayes {
		return glm.NewIRLS(irls, s.logger)
	}

	post := glm.DefaultPosteriorConfig()
	post.Chains = s.cfg.Sampler.Chains
	post.Draws = s.cfg.Sampler.Draws
	post.Warmup = s.cfg.Sampler.Warmup
	post.Seed = s.cfg.Sampler.Seed
	post.PriorSD = s.cfg.Sampler.PriorSD
	post.MaxRHat = s.cfg.Sampler.MaxRHat
	post.Level = s.cfg.Fit.Level
	if s.cfg.Sampler.Hierarchical {
		post.Hierarchical = []string{incidence.VarRegion}
	}
	return glm.NewPosterior(post, irls, s.logger)
}

// DesignConfig maps the configured spline settings onto the builder config
func (s *RateModelService) DesignConfig() design.Config {
	cfg := design.DefaultConfig()
	cfg.SplineDF = s.cfg.Design.SplineDF
	cfg.SplineDegree = s.cfg.Design.SplineDegree
	return cfg
}

// Fit drops rows without exposure, builds the design and fits the model
func (s *RateModelService) Fit(ctx context.Context, table incidence.Table) (*FitResult, error) {
	inScope, excluded := table.InScope()
	if excluded > 0 {
		s.logger.WithField("excluded", excluded).Warn("rows without positive person-years excluded")
	}

	profile, err := profiling.ProfileTable(inScope)
	if err != nil {
		return nil, err
	}
	profile.Excluded = excluded

	m, err := design.Build(inScope, s.DesignConfig())
	if err != nil {
		return nil, errors.Wrap(err, "failed to build design matrix")
	}

	fitter := s.Fitter()
	fitted, err := fitter.Fit(ctx, m)
	if err != nil {
		return nil, errors.Wrapf(err, "%s fit failed", fitter.Name())
	}

	check := profiling.CheckDispersion(fitted.Diagnostics(), 0)
	if check.Overdispersed {
		s.logger.WithFields(logrus.Fields{
			"ratio":     check.Ratio,
			"pearson_p": check.PearsonP,
		}).Warn("poisson fit is overdispersed")
	}

	return &FitResult{
		Fitted:     fitted,
		Matrix:     m,
		Report:     interpret.Interpret(fitted),
		Profile:    profile,
		Dispersion: check,
	}, nil
}
