package scan

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/MakeNowJust/heredoc"
	"github.com/pkg/errors"
	progressbar "github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/ortelius/pdvd-depscan/internal/cmd/app"
	"github.com/ortelius/pdvd-depscan/model"
)

type options struct {
	version      string
	repoURL      string
	sbomURL      string
	branch       string
	dependencies []string
	file         string
	format       string
	output       string
	failOn       string
	noProgress   bool
}

func NewCmd(shared *app.Options) *cobra.Command {
	opts := &options{format: "json"}

	cmd := &cobra.Command{
		Use:   "scan (<purl> | <ecosystem>:<name>[@<spec>])...",
		Short: "resolve targets and report their vulnerabilities",
		Example: heredoc.Doc(`
			$ depscan scan pkg:pypi/django@1.11
			$ depscan scan pypi:flask --version ">=2.0" --repo https://github.com/pallets/flask
			$ depscan scan npm:app --dep "lodash ^4.17.0" --dep "express 4.17.1"
			$ depscan scan --file targets.yaml --format yaml --fail-on HIGH
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := requests(opts, args)
			if err != nil {
				return err
			}

			a, err := app.New(*shared)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return run(ctx, a, opts, reqs, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.version, "version", "", "", "version or specifier of a single target (e.g. ==1.11, ^4.17.0)")
	cmd.Flags().StringVarP(&opts.repoURL, "repo", "", "", "source repository of a single target, enables the manifest and lockfile tiers")
	cmd.Flags().StringVarP(&opts.sbomURL, "sbom-url", "", "", "pre-generated SBOM of a single target")
	cmd.Flags().StringVarP(&opts.branch, "branch", "", "", "repository branch to read lockfiles from")
	cmd.Flags().StringArrayVarP(&opts.dependencies, "dep", "", nil, "declared direct dependency of a single target, repeatable")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML file listing targets")
	cmd.Flags().StringVarP(&opts.format, "format", "", opts.format, "output format (accepts: [json, yaml])")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write reports to this file instead of stdout")
	cmd.Flags().StringVarP(&opts.failOn, "fail-on", "", "", "exit non-zero when a report's risk level reaches this severity")
	cmd.Flags().BoolVarP(&opts.noProgress, "no-progress", "", false, "hide the progress bar")

	return cmd
}

func requests(opts *options, args []string) ([]model.ScanRequest, error) {
	var reqs []model.ScanRequest
	if opts.file != "" {
		bs, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", opts.file)
		}
		var doc struct {
			Targets []model.ScanRequest `yaml:"targets"`
		}
		if err := yaml.UnmarshalStrict(bs, &doc); err != nil {
			return nil, errors.Wrapf(err, "parse %s", opts.file)
		}
		reqs = append(reqs, doc.Targets...)
	}

	single := len(args) == 1 && opts.file == ""
	if !single && (opts.version != "" || opts.repoURL != "" || opts.sbomURL != "" || opts.branch != "" || len(opts.dependencies) > 0) {
		return nil, errors.New("--version, --repo, --sbom-url, --branch and --dep apply to a single target")
	}
	for _, arg := range args {
		req, err := app.ParseTarget(arg)
		if err != nil {
			return nil, err
		}
		if single {
			if opts.version != "" {
				req.Version = opts.version
			}
			req.RepoURL, req.SBOMURL, req.Branch, req.Dependencies = opts.repoURL, opts.sbomURL, opts.branch, opts.dependencies
		}
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		return nil, errors.New("no targets given")
	}
	return reqs, nil
}

func run(ctx context.Context, a *app.App, opts *options, reqs []model.ScanRequest, stdout, stderr io.Writer) error {
	var threshold model.Severity
	if opts.failOn != "" {
		threshold = model.ParseSeverity(opts.failOn)
		if threshold == model.SeverityUnknown {
			return errors.Errorf("--fail-on %q is not a severity", opts.failOn)
		}
	}

	bar := progressbar.NewOptions(len(reqs),
		progressbar.OptionSetWriter(stderr),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(!opts.noProgress),
	)
	defer bar.Finish()

	reports, err := a.Service.ScanAll(ctx, reqs, func(*model.ScanReport) { _ = bar.Add(1) })
	if err != nil {
		return errors.Wrap(err, "scan")
	}

	out := stdout
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return errors.Wrapf(err, "create %s", opts.output)
		}
		defer f.Close()
		out = f
	}

	var payload any = reports
	if len(reports) == 1 {
		payload = reports[0]
	}
	if err := app.Write(out, opts.format, payload); err != nil {
		return err
	}

	if threshold != "" {
		for _, r := range reports {
			if r.RiskLevel.Rank() >= threshold.Rank() {
				return errors.Errorf("%s: risk level %s reaches %s", r.Target.Key(), r.RiskLevel, threshold)
			}
		}
	}
	return nil
}
