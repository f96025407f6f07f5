package sed

// Annotation is the SED fragment attached to one inventory device.
type Annotation struct {
	IsSED bool   `json:"is_sed"`
	Error string `json:"error,omitempty"`
}

// Fragment maps serial number to annotation.
type Fragment map[string]Annotation

// Aggregate marks every directory device that has an outcome in rs as a SED,
// recording the diagnostic or skip reason for anything that did not succeed.
// Devices without an outcome are left untouched.
func Aggregate(dir *Directory, rs ResultSet) Fragment {
	frag := make(Fragment, len(rs))

	for _, path := range dir.Paths() {
		dev := dir.Get(path)
		if dev.SerialNumber == "" {
			continue
		}
		outcome, ok := rs[dev.SerialNumber]
		if !ok {
			continue
		}

		a := Annotation{IsSED: true}
		if !outcome.OK() {
			a.Error = outcome.Detail
		}

		dev.IsSED = a.IsSED
		dev.Error = a.Error
		frag[dev.SerialNumber] = a
	}

	return frag
}
