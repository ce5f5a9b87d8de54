// Package devdir holds a per-run snapshot of the ESM device tree.
//
// The directory is built once per evaluation run from a single device-tree
// fetch and handed to whoever needs name resolution. It is immutable for
// the lifetime of the run; there is no process-wide cache.
package devdir

// Device is one entry of the ESM device tree.
type Device struct {
	Name string

	// DataSourceID is the datasource ID (IPSID) without any mask suffix.
	DataSourceID string

	// TypeID is the ESM device-type descriptor. Receivers report "2".
	TypeID string
}

const receiverTypeID = "2"

// Directory resolves datasource IDs to display names.
type Directory struct {
	byID    map[string]Device
	ordered []Device
}

// New builds a directory from a device-tree snapshot. Later duplicates of
// a datasource ID are ignored.
func New(devices []Device) *Directory {
	d := &Directory{
		byID:    make(map[string]Device, len(devices)),
		ordered: make([]Device, 0, len(devices)),
	}
	for _, dev := range devices {
		if dev.DataSourceID == "" {
			continue
		}
		if _, seen := d.byID[dev.DataSourceID]; seen {
			continue
		}
		d.byID[dev.DataSourceID] = dev
		d.ordered = append(d.ordered, dev)
	}
	return d
}

// Resolve returns the display name for a datasource ID.
func (d *Directory) Resolve(dataSourceID string) (string, bool) {
	dev, ok := d.byID[dataSourceID]
	if !ok {
		return "", false
	}
	return dev.Name, true
}

// Receivers returns the receiver devices in tree order. The config builder
// seeds one query entry per receiver.
func (d *Directory) Receivers() []Device {
	var out []Device
	for _, dev := range d.ordered {
		if dev.TypeID == receiverTypeID {
			out = append(out, dev)
		}
	}
	return out
}

// All returns every device in tree order.
func (d *Directory) All() []Device {
	out := make([]Device, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Len returns the number of distinct datasources in the directory.
func (d *Directory) Len() int { return len(d.byID) }
