// Command repo-indexer assembles a validated package set from a release
// tree and maintainer upload areas, and commits the resulting index
// atomically.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/etnz/repo-indexer/commit"
	"github.com/etnz/repo-indexer/hint"
	"github.com/etnz/repo-indexer/maint"
	"github.com/etnz/repo-indexer/manifest"
	"github.com/etnz/repo-indexer/repo"
	"github.com/etnz/repo-indexer/report"
)

const generatorVersion = "1.0.0"

// Config is a business object holding the engine's configuration. All
// filesystem roots and identity fields are explicit; nothing is read
// from ambient process state except the signing key.
type Config struct {
	// ReleaseDir is the published release tree, holding one subtree
	// per architecture.
	ReleaseDir string
	// Release names the distribution in the index header.
	Release string
	// Arches are the architecture subtrees to index.
	Arches []string
	// HomeRoot is the root of the maintainer upload areas.
	HomeRoot string
	// PkgList is the maintainer package-list file.
	PkgList string
	// OrphanMaint, when set, inherits orphaned packages.
	OrphanMaint string
	// VaultDir receives removed artifacts.
	VaultDir string
	// CachePath is the manifest memo cache file.
	CachePath string
	// IndexName is the index file name inside each arch subtree.
	IndexName string
	// Workers bounds the scan fan-out.
	Workers int
	// AllowCurrOverride honors version-forcing hints.
	AllowCurrOverride bool
}

func main() {
	var (
		confPath string
		verbose  int
		dryRun   bool
	)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "repo-indexer",
		Short:         "package repository index engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			switch verbose {
			case 0:
				log = log.Level(zerolog.InfoLevel)
			case 1:
				log = log.Level(zerolog.DebugLevel)
			default:
				log = log.Level(zerolog.TraceLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&confPath, "config", "c", "repo-indexer.yaml", "path to config file")
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "scan, validate and commit a new index generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := decodeConfig(confPath)
			if err != nil {
				return fmt.Errorf("reading config %s: %w", confPath, err)
			}
			return runEngine(cfg, log, dryRun)
		},
	}
	runCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "validate only, commit nothing")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "scan and validate without committing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := decodeConfig(confPath)
			if err != nil {
				return fmt.Errorf("reading config %s: %w", confPath, err)
			}
			return runEngine(cfg, log, true)
		},
	}

	hintCmd := &cobra.Command{
		Use:   "hint <file>...",
		Short: "parse and check hint files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bad := 0
			for _, fn := range args {
				rec, err := hint.ParseFile(fn)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					bad++
					continue
				}
				for _, w := range rec.Warnings {
					fmt.Fprintf(os.Stderr, "%s: %s\n", fn, w)
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d hint file(s) failed to parse", bad)
			}
			return nil
		},
	}

	root.AddCommand(runCmd, validateCmd, hintCmd)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

// runEngine performs one logical run over every configured
// architecture. With dryRun set nothing is committed or promoted.
func runEngine(cfg *Config, log zerolog.Logger, dryRun bool) error {
	auth, err := maint.New(cfg.PkgList, cfg.HomeRoot, cfg.OrphanMaint)
	if err != nil {
		return err
	}
	cache := manifest.LoadCache(cfg.CachePath)

	for _, arch := range cfg.Arches {
		if err := runArch(cfg, log.With().Str("arch", arch).Logger(), auth, cache, arch, dryRun); err != nil {
			return err
		}
	}
	if err := cache.Save(); err != nil {
		log.Warn().Err(err).Msg("could not save manifest cache")
	}
	return nil
}

func runArch(cfg *Config, log zerolog.Logger, auth *maint.Authority, cache *manifest.Cache, arch string, dryRun bool) error {
	rep := report.NewCollector(func(d report.Diagnostic) {
		ev := log.Info()
		switch d.Severity {
		case report.Warning:
			ev = log.Warn()
		case report.Error:
			ev = log.Error()
		}
		ev.Str("scope", d.Scope).Msg(d.Message)
	})

	scanner := &repo.Scanner{Log: log, Reporter: rep, Workers: cfg.Workers}
	releaseRoot := filepath.Join(cfg.ReleaseDir, arch)

	published, err := scanner.Scan(releaseRoot, true)
	if err != nil {
		return err
	}
	trees := []repo.TreeScan{{Result: published}}

	// per-maintainer upload areas mirror the release layout under
	// <home>/<arch>
	var promotions []commit.MoveList
	for _, m := range auth.Maintainers() {
		if m.HomeDir == "" {
			continue
		}
		uploadRoot := filepath.Join(m.HomeDir, arch)
		if _, err := os.Stat(uploadRoot); err != nil {
			continue
		}
		res, err := scanner.Scan(uploadRoot, false)
		if err != nil {
			return err
		}
		trees = append(trees, repo.TreeScan{Maintainer: m.Name, Result: res})

		move := commit.MoveList{FromRoot: uploadRoot, ToRoot: releaseRoot}
		for name, pkg := range res.Packages {
			if auth.Authorized(m.Name, name) {
				move.Paths = append(move.Paths, pkg.Files...)
			}
		}
		if len(move.Paths) > 0 {
			promotions = append(promotions, move)
		}
	}

	builder := &repo.Builder{
		Log:               log,
		Reporter:          rep,
		Resolver:          &repo.Resolver{Log: log, Reporter: rep, Cache: cache},
		Authority:         auth,
		Release:           cfg.Release,
		Arch:              arch,
		GeneratorVersion:  generatorVersion,
		AllowCurrOverride: cfg.AllowCurrOverride,
	}
	set, removals := builder.Build(trees)
	valid := !rep.HasErrors()

	if dryRun {
		if !valid {
			return fmt.Errorf("candidate set for %s is invalid", arch)
		}
		log.Info().Int("packages", len(set.Packages)).Msg("candidate set is valid")
		return nil
	}

	committer := &commit.Committer{
		Log:         log,
		IndexPath:   filepath.Join(releaseRoot, cfg.IndexName),
		ReleaseRoot: releaseRoot,
		VaultDir:    cfg.VaultDir,
	}
	if key := os.Getenv("GPG_PRIVATE_KEY"); key != "" {
		signer, err := commit.NewSigner(key)
		if err != nil {
			return err
		}
		committer.Signer = signer
	}

	committed, err := committer.Commit(set, valid, promotions, removals)
	if err != nil {
		return err
	}
	if committed {
		log.Info().Int("packages", len(set.Packages)).Msg("new generation published")
	}
	return nil
}

func decodeConfig(path string) (*Config, error) {
	// Internal DTOs for YAML deserialization
	type yamlTrees struct {
		Release string `yaml:"release_dir"`
		Homes   string `yaml:"home_dir"`
		Vault   string `yaml:"vault_dir"`
	}
	type yamlMaintainers struct {
		PkgList     string `yaml:"package_list"`
		OrphanMaint string `yaml:"orphan_maintainer"`
	}
	type yamlConfig struct {
		Release           string          `yaml:"release"`
		Arches            []string        `yaml:"arches"`
		Trees             yamlTrees       `yaml:"trees"`
		Maintainers       yamlMaintainers `yaml:"maintainers"`
		Cache             string          `yaml:"cache"`
		IndexName         string          `yaml:"index_name"`
		Workers           int             `yaml:"workers"`
		AllowCurrOverride bool            `yaml:"allow_curr_override"`
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dto yamlConfig
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return nil, err
	}

	// Map DTO to business object
	cfg := &Config{
		ReleaseDir:        dto.Trees.Release,
		Release:           dto.Release,
		Arches:            dto.Arches,
		HomeRoot:          dto.Trees.Homes,
		PkgList:           dto.Maintainers.PkgList,
		OrphanMaint:       dto.Maintainers.OrphanMaint,
		VaultDir:          dto.Trees.Vault,
		CachePath:         dto.Cache,
		IndexName:         dto.IndexName,
		Workers:           dto.Workers,
		AllowCurrOverride: dto.AllowCurrOverride,
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "setup.ini"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "manifest-cache.json"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if len(cfg.Arches) == 0 {
		return nil, fmt.Errorf("config: at least one architecture is required")
	}
	if cfg.ReleaseDir == "" {
		return nil, fmt.Errorf("config: trees.release_dir is required")
	}
	return cfg, nil
}
