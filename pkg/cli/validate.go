package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/plugins"
)

func newValidateCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate table manifests",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
		Out:         out,
	}
	manifest := cmd.Flags.String("manifest", "", "Path to a table manifest")
	dir := cmd.Flags.String("dir", "", "Directory of <table>/"+plugins.ManifestFile+" manifests")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runValidate(out, *manifest, *dir)
	}
	return cmd
}

func runValidate(out io.Writer, manifest, dir string) error {
	var manifests []*plugins.Manifest
	switch {
	case manifest != "":
		m, err := plugins.LoadManifest(manifest)
		if err != nil {
			return err
		}
		manifests = append(manifests, m)
	case dir != "":
		log := logrus.New()
		log.SetOutput(io.Discard)
		found, err := plugins.NewLoader(plugins.NewRegistry[plugins.Row](), log).Discover(context.Background(), []string{dir})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no manifests found in %s", dir)
		}
		manifests = found
	default:
		return fmt.Errorf("manifest or dir is required")
	}

	failed := 0
	for _, m := range manifests {
		errs := plugins.ValidateManifest(m)
		if plugins.HasErrors(errs) {
			failed++
		}
		if len(errs) == 0 {
			fmt.Fprintf(out, "%s: ok\n", m.ID)
			continue
		}
		for _, e := range errs {
			fmt.Fprintf(out, "%s: %s %s\n", m.ID, e.Severity, e.Error())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d manifests are invalid", failed, len(manifests))
	}
	return nil
}
