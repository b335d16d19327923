package model

// Device is one probeable entry from the inventory store.
// Attributes are immutable within a cycle; the reconciler replaces the
// whole set when the inventory changes.
type Device struct {
	ID            int64  `db:"id" json:"id"`
	IP            string `db:"ip" json:"ip"`
	Hostname      string `db:"hostname" json:"hostname"`
	Merk          string `db:"merk" json:"merk"`
	OS            string `db:"os" json:"os"`
	Kondisi       string `db:"kondisi" json:"kondisi"`
	LokasiID      int64  `db:"id_lokasi" json:"id_lokasi"`
	JenisBarangID int64  `db:"jenis_barang_id" json:"jenis_barang_id"`
}

// DisplayHostname returns the hostname, falling back to the IP when the
// inventory row has no hostname.
func (d Device) DisplayHostname() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.IP
}
