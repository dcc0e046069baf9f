package core

// Attachment is a debug artifact written next to the report.
type Attachment struct {
	Name        string `json:"name"`        // screenshot, hierarchy
	ContentType string `json:"contentType"` // MIME type
	Path        string `json:"path"`        // Relative to the output directory
}

// Attachment names
const (
	AttachmentScreenshot = "screenshot"
	AttachmentHierarchy  = "hierarchy"
)

// Content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
)

// NewScreenshotAttachment creates a screenshot attachment.
func NewScreenshotAttachment(path string) Attachment {
	return Attachment{Name: AttachmentScreenshot, ContentType: ContentTypePNG, Path: path}
}

// NewHierarchyAttachment creates a view hierarchy attachment.
func NewHierarchyAttachment(path string) Attachment {
	return Attachment{Name: AttachmentHierarchy, ContentType: ContentTypeJSON, Path: path}
}

// ArtifactConfig controls when artifacts are captured after a command.
type ArtifactConfig struct {
	CaptureOnFailure bool `yaml:"captureOnFailure" json:"captureOnFailure"`
	CaptureOnWarning bool `yaml:"captureOnWarning" json:"captureOnWarning"`
	Screenshot       bool `yaml:"screenshot" json:"screenshot"`
	Hierarchy        bool `yaml:"hierarchy" json:"hierarchy"`
}

// DefaultArtifactConfig captures a screenshot and hierarchy on failure.
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnFailure: true,
		Screenshot:       true,
		Hierarchy:        true,
	}
}

// ShouldCapture returns true if artifacts should be captured for status.
func (c ArtifactConfig) ShouldCapture(status CommandStatus) bool {
	switch status {
	case CommandFailed:
		return c.CaptureOnFailure
	case CommandWarned:
		return c.CaptureOnWarning
	default:
		return false
	}
}
