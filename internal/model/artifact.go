package model

type ReportArtifacts struct {
	Dir  string `json:"dir,omitempty"`
	XML  string `json:"xml,omitempty"`
	HTML string `json:"html,omitempty"`
	CSV  string `json:"csv,omitempty"`
}
