package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/crucible/pkg/config"
	"github.com/cuemby/crucible/pkg/storage"
	"github.com/cuemby/crucible/pkg/types"
)

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Manage registered packages",
}

var packageApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register a package from a YAML file",
	Long: `Register a package definition directly against the data directory's
task repository. There is no separate manager process to apply against:
crucible is a single binary, so package registration writes straight to
the same store "crucible serve" reads from.

Example:
  crucible package apply -f hello.yaml`,
	RunE: runPackageApply,
}

var packageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks recorded for a stage",
	RunE:  runPackageList,
}

func init() {
	packageApplyCmd.Flags().StringP("file", "f", "", "YAML package definition (required)")
	_ = packageApplyCmd.MarkFlagRequired("file")
	packageListCmd.Flags().String("stage", "", "Stage to list (required)")
	_ = packageListCmd.MarkFlagRequired("stage")

	packageCmd.AddCommand(packageApplyCmd)
	packageCmd.AddCommand(packageListCmd)
}

// packageManifest is the on-disk YAML shape a package is declared in.
type packageManifest struct {
	Name           string             `yaml:"name"`
	Stage          string             `yaml:"stage"`
	Version        string             `yaml:"version"`
	Image          string             `yaml:"image"`
	Runtime        string             `yaml:"runtime"`
	Entrypoint     string             `yaml:"entrypoint"`
	Env            []string           `yaml:"env"`
	TimeoutSeconds *int               `yaml:"timeoutSeconds"`
	Arguments      []argumentManifest `yaml:"arguments"`
	Volumes        []volumeManifest   `yaml:"volumes"`
}

type argumentManifest struct {
	Name     string `yaml:"name"`
	Required bool   `yaml:"required"`
	Default  string `yaml:"default"`
}

type volumeManifest struct {
	Name     string `yaml:"name"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly"`
}

func runPackageApply(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var m packageManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if m.Version == "" {
		m.Version = "default"
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	pkg := &types.Package{
		Name:           m.Name,
		Stage:          m.Stage,
		Version:        m.Version,
		Image:          m.Image,
		Runtime:        types.Runtime(m.Runtime),
		Entrypoint:     m.Entrypoint,
		Env:            m.Env,
		TimeoutSeconds: m.TimeoutSeconds,
	}
	for _, a := range m.Arguments {
		pkg.Arguments = append(pkg.Arguments, types.ArgumentSpec{Name: a.Name, Required: a.Required, Default: a.Default})
	}
	for _, v := range m.Volumes {
		pkg.Volumes = append(pkg.Volumes, &types.VolumeMount{Name: v.Name, Target: v.Target, ReadOnly: v.ReadOnly})
	}

	if err := store.PutPackage(pkg); err != nil {
		return fmt.Errorf("register package: %w", err)
	}

	fmt.Printf("Package registered: %s@%s (%s/%s)\n", pkg.Name, pkg.Version, pkg.Stage, pkg.Runtime)
	return nil
}

func runPackageList(cmd *cobra.Command, args []string) error {
	stage, _ := cmd.Flags().GetString("stage")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.ListByStage(stage)
	if err != nil {
		return fmt.Errorf("list tasks for stage: %w", err)
	}

	fmt.Printf("%-20s %-12s %s\n", "TASK ID", "STATUS", "DEPLOYMENT")
	for _, t := range tasks {
		fmt.Printf("%-20s %-12s %s\n", t.ID, t.Status, t.DeploymentID)
	}
	return nil
}

func openStore() (*storage.BoltStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}
