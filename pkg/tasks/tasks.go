// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentProcessingTask represents the data structure for a document (re)processing job.
type DocumentProcessingTask struct {
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
	Namespace  string `json:"namespace"`
}
