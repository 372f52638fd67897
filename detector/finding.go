package detector

// Finding is the result of one detector scanning one target. The zero value
// is the empty Finding: no severity, no summary, no information.
type Finding struct {
	Severity    Severity `json:"severity"`
	Summary     string   `json:"summary,omitempty"`
	Information []string `json:"information,omitempty"`
}

// Empty reports whether nothing matched.
func (f Finding) Empty() bool {
	return f.Summary == "" && len(f.Information) == 0 && f.Severity == SeverityNone
}

func (f *Finding) addInformation(line string) {
	f.Information = append(f.Information, line)
}
