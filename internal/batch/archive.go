package batch

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zombor/scan-ledger/internal/scanning"
)

// maxMemberSize caps the decompressed size of a single archive member.
const maxMemberSize = 64 << 20

// imageTypes maps the extensions recognized as images to their content types.
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// ImageContentType returns the content type for an image file name.
func ImageContentType(name string) (string, bool) {
	ct, ok := imageTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

// safeMember reports whether an archive member name stays inside the archive.
func safeMember(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

// hiddenMember matches resource forks and dot files added by archivers.
func hiddenMember(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), ".")
}

// ExpandArchive writes the image members of a ZIP archive into ws and returns
// them as temporary units in archive order. Other members are skipped.
func ExpandArchive(ws *Workspace, data []byte) ([]scanning.Unit, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// Insecure names still yield a usable reader; safeMember skips them below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnreadable, err)
	}

	var units []scanning.Unit
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || hiddenMember(f.Name) {
			continue
		}
		contentType, ok := ImageContentType(f.Name)
		if !ok {
			slog.Debug("Skipping non-image archive member", "member", f.Name)
			continue
		}
		if !safeMember(f.Name) {
			slog.Warn("Skipping unsafe archive member", "member", f.Name)
			continue
		}
		if f.UncompressedSize64 > maxMemberSize {
			slog.Warn("Skipping oversized archive member", "member", f.Name, "size", f.UncompressedSize64)
			continue
		}

		dest := filepath.Join(ws.Dir, fmt.Sprintf("%03d_%s", len(units)+1, path.Base(f.Name)))
		if err := extractMember(f, dest); err != nil {
			return nil, err
		}
		units = append(units, scanning.Unit{
			Name:        f.Name,
			Path:        dest,
			ContentType: contentType,
			Temporary:   true,
		})
	}

	if len(units) == 0 {
		return nil, ErrArchiveEmpty
	}
	return units, nil
}

func extractMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrArchiveUnreadable, f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, io.LimitReader(rc, maxMemberSize)); err != nil {
		out.Close()
		return fmt.Errorf("%w: reading %s: %v", ErrArchiveUnreadable, f.Name, err)
	}
	return out.Close()
}
