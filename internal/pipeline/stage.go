package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"recordpatch/internal/patcherr"
)

const (
	debugExt = ".pdb"
	docExt   = ".xml"
	ilExt    = ".il"
)

// artifacts are the files a run reads and writes.
type artifacts struct {
	Binary string
	Debug  string // empty when there is no debug-symbol file
	Doc    string // empty when there is no documentation file
	IL     string
}

// siblingPath swaps the extension of a binary path.
func siblingPath(binary, ext string) string {
	return strings.TrimSuffix(binary, filepath.Ext(binary)) + ext
}

// intermediatePath places the IL text next to the binary it came from, so
// concurrent runs over different binaries never share a file.
func intermediatePath(binary string) string {
	return siblingPath(binary, ilExt)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// validateInput checks the binary before anything else happens.
func validateInput(input string) (string, error) {
	const op = "validate input"
	if strings.TrimSpace(input) == "" {
		return "", patcherr.New(patcherr.KindArgument, op, "input binary path is required")
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", patcherr.New(patcherr.KindArgument, op, "invalid input path: %v", err).WithPath(input)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", patcherr.New(patcherr.KindArgument, op, "the compiled library was not found").WithPath(abs)
	}
	if info.IsDir() {
		return "", patcherr.New(patcherr.KindArgument, op, "input is a directory").WithPath(abs)
	}
	return abs, nil
}

// stagedBinaryPath is where the binary will be mutated.
func stagedBinaryPath(input, outputDir string) (string, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(outputDir) == "" {
		return abs, nil
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(out, filepath.Base(abs)), nil
}

// stage copies the binary and its optional siblings into outputDir, or uses
// the input in place when outputDir is empty.
func stage(input, outputDir string) (artifacts, error) {
	const op = "stage"
	target, err := stagedBinaryPath(input, outputDir)
	if err != nil {
		return artifacts{}, patcherr.New(patcherr.KindArgument, op, "invalid output directory: %v", err).WithPath(outputDir)
	}

	if target != input {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return artifacts{}, patcherr.Wrap(patcherr.KindIO, op, err)
		}
		// The output directory may be another name for the input's own
		// directory (symlink, case-folding file system). Then the run is in
		// place; copying would truncate the input before reading it.
		if sameFile(input, target) {
			target = input
		} else {
			if err := copyFile(input, target); err != nil {
				return artifacts{}, patcherr.Wrap(patcherr.KindIO, op, err)
			}
			for _, ext := range []string{debugExt, docExt} {
				src := siblingPath(input, ext)
				if !exists(src) || sameFile(src, siblingPath(target, ext)) {
					continue
				}
				if err := copyFile(src, siblingPath(target, ext)); err != nil {
					return artifacts{}, patcherr.Wrap(patcherr.KindIO, op, err)
				}
			}
		}
	}

	a := artifacts{Binary: target, IL: intermediatePath(target)}
	if p := siblingPath(target, debugExt); exists(p) {
		a.Debug = p
	}
	if p := siblingPath(target, docExt); exists(p) {
		a.Doc = p
	}
	return a, nil
}

// sameFile reports whether a and b name one existing file.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
