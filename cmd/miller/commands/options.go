package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/burrmill/miller/pkg/engine"
	"github.com/burrmill/miller/pkg/locators"
	"github.com/burrmill/miller/pkg/millfile"
	"github.com/burrmill/miller/pkg/telemetry"
)

// planOptions are the flags shared by the commands that load a plan.
type planOptions struct {
	omitStd bool
	targets string
	force   string
}

func (o *planOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&o.omitStd, "omit-std", "m", false, "omit the standard Millfile chain")
	cmd.Flags().StringVarP(&o.targets, "targets", "t", "",
		"build only these targets, TARGET[,TARGET...]; default is to consider all targets")
	cmd.Flags().StringVarP(&o.force, "force", "f", "",
		"force rebuild of these targets even if current, TARGET[,TARGET...] | *; * rebuilds all")
}

// remoteOptions override the discovered cloud settings.
type remoteOptions struct {
	gsLocation string
	gsSoftware string
	project    string
}

func (o *remoteOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.gsLocation, "gs-location", "", "registry multiregion, e.g. us (optional)")
	cmd.Flags().StringVar(&o.gsSoftware, "gs-software", "", "software bucket, e.g. gs://my-software (optional)")
	cmd.Flags().StringVar(&o.project, "project", "", "Google Cloud project (optional)")
}

// selection is the command line target selection.
type selection struct {
	targets    []string
	force      []string
	rebuildAll bool
}

// splitNames splits a comma-separated list, dropping empty names.
func splitNames(s string) []string {
	var res []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			res = append(res, n)
		}
	}
	return res
}

// parseSelection interprets --targets and --force. "*" for --targets means
// all targets, and "*" for --force rebuilds everything. Forced targets are
// added to an explicit target set.
func parseSelection(targets, force string) (selection, error) {
	var sel selection
	if targets == "*" {
		targets = ""
	}
	sel.rebuildAll = force == "*"
	if sel.rebuildAll {
		if targets != "" {
			return sel, fmt.Errorf("'--targets=%s' makes no sense with '--force=*'", targets)
		}
		return sel, nil
	}
	sel.force = splitNames(force)
	if targets != "" {
		sel.targets = append(splitNames(targets), sel.force...)
	}
	return sel, nil
}

// root returns the installation root: the configured one, or the parent
// of the directory holding the executable.
func (a *app) root() (string, error) {
	if a.cfg.Root != "" {
		return a.cfg.Root, nil
	}
	exe, err := a.executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate the installation root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(filepath.Dir(exe)), nil
}

// millfiles returns the Millfiles to load: unless omitStd, the standard
// chain followed by files.
func (a *app) millfiles(files []string, omitStd bool) ([]string, error) {
	log := a.tel.Logger
	if omitStd {
		if len(files) == 0 {
			return nil, fmt.Errorf("no files to process; some are required with -m/--omit-std")
		}
		return files, nil
	}

	root, err := a.root()
	if err != nil {
		return nil, err
	}
	mainFile := filepath.Join(root, "lib", "build", "Millfile")
	if _, err := os.Stat(mainFile); err != nil {
		return nil, fmt.Errorf("default build file %s was not found", mainFile)
	}
	log.Debugf("using standard build file %s", mainFile)
	std := []string{mainFile}

	userFile := filepath.Join(root, "etc", "build", "Millfile")
	if _, err := os.Stat(userFile); err == nil {
		log.Debugf("using user's augmentation file %s", userFile)
		std = append(std, userFile)
	}
	return append(std, files...), nil
}

// loadPlan reads the Millfiles into a plan and applies the target
// selection.
func (a *app) loadPlan(ctx context.Context, files []string, opts *planOptions) (*engine.BuildPlan, error) {
	sel, err := parseSelection(opts.targets, opts.force)
	if err != nil {
		return nil, err
	}
	files, err = a.millfiles(files, opts.omitStd)
	if err != nil {
		return nil, err
	}

	op := telemetry.StartOperation(ctx, "millfile.parse")
	plan, err := a.parse(op, files, sel)
	op.End(err)
	return plan, err
}

func (a *app) parse(op *telemetry.InstrumentedContext, files []string, sel selection) (*engine.BuildPlan, error) {
	log := op.Logger.Zerolog()
	log.Debug().Strs("files", files).Msg("loading Millfiles")

	plan := engine.NewBuildPlan(engine.WithLogger(log))
	if err := millfile.ParseFiles(log, files, plan.AddDirective); err != nil {
		return nil, err
	}

	if sel.rebuildAll {
		op.Logger.Warn("forcibly rebuilding all targets")
	}
	log.Debug().Strs("targets", sel.targets).Strs("force", sel.force).Bool("rebuild_all", sel.rebuildAll).
		Msg("command line selection")
	if err := plan.Finalize(sel.targets, sel.force, sel.rebuildAll); err != nil {
		return nil, err
	}
	log.Debug().Msgf("load complete. %s", plan)
	return plan, nil
}

// order computes the batches of a loaded plan.
func (a *app) order(ctx context.Context, plan *engine.BuildPlan) ([]engine.Batch, error) {
	op := telemetry.StartOperation(ctx, "plan.order")
	order, err := plan.BuildOrder()
	op.End(err)
	return order, err
}

// locatorOptions merges the command line over the configuration.
func (a *app) locatorOptions(o *remoteOptions) (locators.Options, error) {
	opts := locators.Options{
		Project:          a.cfg.Project,
		GSLocation:       a.cfg.GSLocation,
		GSSoftware:       a.cfg.GSSoftware,
		RegistryHost:     a.cfg.Registry.Host,
		RegistryInsecure: a.cfg.Registry.Insecure,
		WarnThreshold:    a.cfg.Tarballs.WarnThreshold,
		MaxObjects:       a.cfg.Tarballs.MaxObjects,
	}
	if o.project != "" {
		opts.Project = o.project
	}
	if o.gsLocation != "" {
		opts.GSLocation = o.gsLocation
	}
	if o.gsSoftware != "" {
		b, err := locators.SanitizeBucket(o.gsSoftware)
		if err != nil {
			return opts, fmt.Errorf("--gs-software is passed invalid value '%s'", o.gsSoftware)
		}
		opts.GSSoftware = b
	}
	return opts, nil
}

// flatten returns every target name of an order, sorted.
func flatten(order []engine.Batch) []string {
	names := engine.NewStringSet()
	for _, b := range order {
		for _, n := range b {
			names.Add(n)
		}
	}
	return names.Sorted()
}
