// Package winres builds the resource object linked into the Windows
// executable. It carries the tray logo as the application icon and a
// manifest that opts into common controls v6 and per-monitor DPI awareness.
package winres

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akavel/rsrc/ico"
	"github.com/akavel/rsrc/rsrc"

	"github.com/blarehq/blare/pkg/blare/icon"
)

// Manifest is the application manifest embedded by Embed.
//
//go:embed blare.manifest
var Manifest []byte

// Embed writes a COFF resource object for arch ("386", "amd64", "arm" or
// "arm64") to out. The go tool links any such .syso next to package main.
func Embed(out, arch string) error {
	if err := checkIcon(icon.Logo); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "blare-winres")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	manifestPath := filepath.Join(dir, "blare.manifest")
	iconPath := filepath.Join(dir, "blare.ico")

	if err := os.WriteFile(manifestPath, Manifest, 0o644); err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}
	if err := os.WriteFile(iconPath, icon.Logo, 0o644); err != nil {
		return fmt.Errorf("stage icon: %w", err)
	}

	if err := rsrc.Embed(out, arch, manifestPath, iconPath); err != nil {
		return fmt.Errorf("embed resources for %s: %w", arch, err)
	}
	return nil
}

// checkIcon rejects an icon rsrc would embed as garbage.
func checkIcon(logo []byte) error {
	entries, err := ico.DecodeHeaders(bytes.NewReader(logo))
	if err != nil {
		return fmt.Errorf("decode icon headers: %w", err)
	}
	if len(entries) == 0 {
		return errors.New("icon has no images")
	}

	for i, e := range entries {
		end := uint64(e.ImageOffset) + uint64(e.BytesInRes)
		if e.BytesInRes == 0 || end > uint64(len(logo)) {
			return fmt.Errorf("icon image %d: %d bytes at %d overrun %d byte file", i, e.BytesInRes, e.ImageOffset, len(logo))
		}
	}
	return nil
}
