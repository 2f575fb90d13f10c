// Package bundle archives a profiling run's {.hpm,.hpd,.hpc} file trio
// into a single gzip-compressed tar stream for shipping off-box. It has
// no opinion about the contents beyond their file extensions; it never
// parses the wire formats those files carry.
package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Extensions lists the file suffixes a complete profiling run produces.
// .hpc is optional: a run that was never digested only has the first
// two.
var Extensions = []string{".hpm", ".hpd", ".hpc"}

// Write archives filebase+ext for each extension present in Extensions
// into w as a gzip-compressed tar stream. Missing files (most commonly
// a missing .hpc, for a run that hasn't been digested yet) are skipped.
func Write(w io.Writer, filebase string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, ext := range Extensions {
		name := filebase + ext
		if err := addFile(tw, name); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			tw.Close()
			gz.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		return fmt.Errorf("closing bundle tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing bundle gzip: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = info.Name()
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copying %s into bundle: %w", name, err)
	}
	return nil
}

// Extract reads a gzip-compressed tar stream written by Write and
// restores each member file under destDir, preserving the original
// basenames (filebase+ext).
func Extract(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening bundle gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading bundle tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.OpenFile(destDir+string(os.PathSeparator)+hdr.Name,
			os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("creating %s: %w", hdr.Name, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("extracting %s: %w", hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", hdr.Name, err)
		}
	}
}
