package models

import (
	"path"
	"strings"
	"time"
)

// Extension is the recognised file extension of an uploaded object
type Extension string

const (
	ExtensionCSV     Extension = "csv"
	ExtensionXLSX    Extension = "xlsx"
	ExtensionPDF     Extension = "pdf"
	ExtensionUnknown Extension = "unknown"
)

// FileKind is the processing path an object is routed to
type FileKind int

const (
	FileKindUnsupported FileKind = iota
	FileKindTabular
	FileKindDocument
)

func (k FileKind) String() string {
	switch k {
	case FileKindTabular:
		return "tabular"
	case FileKindDocument:
		return "document"
	default:
		return "unsupported"
	}
}

// ExtensionOf derives the extension from an object key
func ExtensionOf(key string) Extension {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(key), "."))
	switch Extension(ext) {
	case ExtensionCSV, ExtensionXLSX, ExtensionPDF:
		return Extension(ext)
	default:
		return ExtensionUnknown
	}
}

// Kind resolves the extension to its processing path. This is the only
// place where extensions map to paths.
func (e Extension) Kind() FileKind {
	switch e {
	case ExtensionCSV, ExtensionXLSX:
		return FileKindTabular
	case ExtensionPDF:
		return FileKindDocument
	default:
		return FileKindUnsupported
	}
}

// IngestObject is an uploaded artifact awaiting routing
type IngestObject struct {
	Bucket    string // Raw store bucket the object lives in
	Key       string
	Content   []byte
	Extension Extension
}

// NewIngestObject builds an IngestObject with the extension derived from key
func NewIngestObject(bucket, key string, content []byte) IngestObject {
	return IngestObject{
		Bucket:    bucket,
		Key:       key,
		Content:   content,
		Extension: ExtensionOf(key),
	}
}

// RoutingStatus is the result class of a routing call
type RoutingStatus string

const (
	RoutingSubmitted RoutingStatus = "SUBMITTED"
	RoutingProcessed RoutingStatus = "PROCESSED"
)

// RoutingOutcome describes what the router did with an object
type RoutingOutcome struct {
	Status RoutingStatus `json:"status"`
	JobID  string        `json:"job_id,omitempty"`         // Document path
	Path   string        `json:"processed_file,omitempty"` // Tabular path
	Source string        `json:"file"`
}

// AnalysisJobStatus is the state of an asynchronous document-analysis job
type AnalysisJobStatus string

const (
	AnalysisSubmitted AnalysisJobStatus = "Submitted"
	AnalysisSucceeded AnalysisJobStatus = "Succeeded"
	AnalysisFailed    AnalysisJobStatus = "Failed"
)

// AnalysisJob tracks one document-analysis job until its output is materialized
type AnalysisJob struct {
	JobID        string
	SourceBucket string
	SourceKey    string
	Status       AnalysisJobStatus
	OutputPath   string // Set once the output has been written
	SubmittedAt  time.Time
	CompletedAt  *time.Time
}

// Notification is a terminal status event delivered for an analysis job
type Notification struct {
	JobID  string `json:"JobId"`
	Status string `json:"Status"`
	API    string `json:"API,omitempty"`
}

// NotificationSucceeded is the status value of a successful analysis job
const NotificationSucceeded = "SUCCEEDED"

// CollectionStatus is the result class of a collector call
type CollectionStatus string

const (
	CollectionCollected CollectionStatus = "COLLECTED"
	CollectionSkipped   CollectionStatus = "SKIPPED"
	CollectionFailed    CollectionStatus = "FAILED"
)

// CollectionOutcome describes what the collector did with a notification
type CollectionOutcome struct {
	Status    CollectionStatus `json:"status"`
	Path      string           `json:"path,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Duplicate bool             `json:"duplicate,omitempty"`
}

// Skip reasons reported by the collector
const (
	SkipReasonEmpty = "empty"
)
