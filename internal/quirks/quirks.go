// Package quirks holds the compile-time IR-emitter quirk database:
// per-camera UVC extension-unit control parameters, keyed by USB
// (vendor_id, product_id) and compiled into the binary from embedded
// TOML so a PAM context with an unpredictable working directory never
// needs to read a quirk file from disk.
package quirks

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/sovren-software/visage/internal/types"
)

//go:embed data/*.toml
var quirkFiles embed.FS

type quirkFile struct {
	Device struct {
		VendorID  uint16 `toml:"vendor_id"`
		ProductID uint16 `toml:"product_id"`
		Name      string `toml:"name"`
	} `toml:"device"`
	Emitter struct {
		Unit         uint8  `toml:"unit"`
		Selector     uint8  `toml:"selector"`
		ControlBytes []byte `toml:"control_bytes"`
	} `toml:"emitter"`
}

type key struct {
	vendorID, productID uint16
}

// DB is the parsed, in-memory quirk database.
type DB struct {
	entries map[key]types.Quirk
}

// Load parses every embedded TOML quirk file into a DB. A malformed
// embedded file is a build-time defect, not a runtime condition the
// caller can recover from, so Load returns an error rather than
// panicking — the daemon's startup sequence treats it as fatal the
// same way a missing model file is fatal.
func Load() (*DB, error) {
	entries := make(map[key]types.Quirk)

	matches, err := quirkFiles.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("quirks: read embedded dir: %w", err)
	}

	for _, m := range matches {
		if m.IsDir() || !strings.HasSuffix(m.Name(), ".toml") {
			continue
		}
		raw, err := quirkFiles.ReadFile(filepath.Join("data", m.Name()))
		if err != nil {
			return nil, fmt.Errorf("quirks: read %s: %w", m.Name(), err)
		}

		var qf quirkFile
		if err := toml.Unmarshal(raw, &qf); err != nil {
			return nil, fmt.Errorf("quirks: parse %s: %w", m.Name(), err)
		}

		k := key{vendorID: qf.Device.VendorID, productID: qf.Device.ProductID}
		entries[k] = types.Quirk{
			VendorID:     qf.Device.VendorID,
			ProductID:    qf.Device.ProductID,
			Name:         qf.Device.Name,
			Unit:         qf.Emitter.Unit,
			Selector:     qf.Emitter.Selector,
			ControlBytes: qf.Emitter.ControlBytes,
		}
	}

	return &DB{entries: entries}, nil
}

// Lookup returns the quirk entry for (vendorID, productID), if any.
func (db *DB) Lookup(vendorID, productID uint16) (types.Quirk, bool) {
	q, ok := db.entries[key{vendorID: vendorID, productID: productID}]
	return q, ok
}

// Len reports how many quirk entries were compiled in.
func (db *DB) Len() int { return len(db.entries) }

// UsbIDsForDevice resolves the USB (vendor_id, product_id) of the
// device backing a /dev/videoN path by walking
// /sys/class/video4linux/<name>/device to the USB interface directory
// and reading idVendor/idProduct from its parent.
func UsbIDsForDevice(devicePath string) (vendorID, productID uint16, err error) {
	name := filepath.Base(devicePath)
	sysDevice := filepath.Join("/sys/class/video4linux", name, "device")

	usbInterfaceDir, err := filepath.EvalSymlinks(sysDevice)
	if err != nil {
		return 0, 0, fmt.Errorf("quirks: resolve %s: %w", sysDevice, err)
	}

	// The video4linux device symlink usually points at the USB
	// interface directory (e.g. .../1-2:1.0); its parent is the USB
	// device directory carrying idVendor/idProduct.
	parent := filepath.Dir(usbInterfaceDir)

	vid, err := readHexFile(filepath.Join(parent, "idVendor"))
	if err != nil {
		return 0, 0, err
	}
	pid, err := readHexFile(filepath.Join(parent, "idProduct"))
	if err != nil {
		return 0, 0, err
	}
	return vid, pid, nil
}

func readHexFile(path string) (uint16, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("quirks: read %s: %w", path, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("quirks: parse %s: %w", path, err)
	}
	return uint16(v), nil
}
