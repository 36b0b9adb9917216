package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"recordpatch/internal/artifactstore"
	"recordpatch/internal/patcherr"
)

type Config struct {
	// Inputs holds one binary, or several in batch mode.
	Inputs       []string
	OutputDir    string
	ToolRoot     string
	Disassembler string
	Assembler    string
	TypePrefix   string
	Parallel     int
	Batch        bool
	Artifact     ArtifactConfig
}

type ArtifactConfig struct {
	Enabled bool
	S3      artifactstore.Config
}

// Load reads .env (if present), the environment and the command line.
// Flags win over environment values. defaultToolRoot is used when neither
// names a tool root.
func Load(args []string, defaultToolRoot string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("recordpatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	toolRoot := fs.String("tool-root", "", "directory searched for the IL tools")
	ildasm := fs.String("ildasm", "", "disassembler file name")
	ilasm := fs.String("ilasm", "", "assembler file name")
	prefix := fs.String("prefix", "", "name prefix of the collection types to patch")
	parallel := fs.Int("parallel", 0, "concurrent runs in batch mode")
	batch := fs.Bool("batch", false, "treat the input argument as a comma-separated list of binaries")
	if err := fs.Parse(args); err != nil {
		return nil, patcherr.Wrap(patcherr.KindArgument, "parse arguments", err)
	}

	pos := fs.Args()
	if len(pos) == 0 || strings.TrimSpace(pos[0]) == "" {
		return nil, patcherr.Wrap(patcherr.KindArgument, "parse arguments", errors.New("input binary path not found in args"))
	}
	if len(pos) > 2 {
		return nil, patcherr.New(patcherr.KindArgument, "parse arguments", "unexpected arguments: %s", strings.Join(pos[2:], " "))
	}

	cfg := &Config{
		Batch:        *batch,
		ToolRoot:     firstNonEmpty(*toolRoot, os.Getenv("RECORDPATCH_TOOL_ROOT"), defaultToolRoot),
		Disassembler: firstNonEmpty(*ildasm, os.Getenv("RECORDPATCH_ILDASM"), "ildasm.exe"),
		Assembler:    firstNonEmpty(*ilasm, os.Getenv("RECORDPATCH_ILASM"), "ilasm.exe"),
		TypePrefix:   firstNonEmpty(*prefix, os.Getenv("RECORDPATCH_TYPE_PREFIX"), "Record"),
		Parallel:     resolveParallel(*parallel),
		Artifact:     loadArtifactConfig(),
	}
	if cfg.Batch {
		for _, in := range strings.Split(pos[0], ",") {
			if in = strings.TrimSpace(in); in != "" {
				cfg.Inputs = append(cfg.Inputs, in)
			}
		}
	} else {
		cfg.Inputs = []string{pos[0]}
	}
	if len(cfg.Inputs) == 0 {
		return nil, patcherr.New(patcherr.KindArgument, "parse arguments", "no input binaries given")
	}
	if len(pos) > 1 {
		cfg.OutputDir = strings.TrimSpace(pos[1])
	}
	return cfg, nil
}

func resolveParallel(flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("RECORDPATCH_PARALLEL"))); err == nil && v > 0 {
		return v
	}
	return 4
}

func loadArtifactConfig() ArtifactConfig {
	endpoint := strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
	return ArtifactConfig{
		Enabled: endpoint != "",
		S3: artifactstore.Config{
			Endpoint:  endpoint,
			Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
			AccessKey: strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")),
			Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "recordpatch-artifacts"),
			UseSSL:    resolveUseSSL(),
		},
	}
}

func resolveUseSSL() bool {
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
