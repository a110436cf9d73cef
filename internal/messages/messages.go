// Package messages defines the queue envelopes exchanged between the
// pipeline workers, plus the object-key conventions they share.
package messages

import (
	"fmt"
	"strings"
)

// Submission asks the intake worker to start an annotation job.
type Submission struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	InputBucket   string `json:"input_bucket"`
	InputKey      string `json:"input_key"`
	InputFileName string `json:"input_file_name"`
}

// Archive asks the archival worker to migrate a result to cold
// storage after the hot-access window expires.
type Archive struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	HotResultKey string `json:"hot_result_key"`
}

// Restore asks the restore worker to thaw every archived job owned by
// the (now premium) account.
type Restore struct {
	UserID string `json:"user_id"`
}

// Thaw is delivered by the cold store once a retrieval completes. The
// description carries the canonical result key, which encodes the
// original job id.
type Thaw struct {
	RetrievalJobID string `json:"retrieval_job_id"`
	ArchiveID      string `json:"archive_id"`
	Description    string `json:"description"`
}

// CompletionNotice is the fire-and-forget job-completion event
// published to the notification exchange.
type CompletionNotice struct {
	JobID     string `json:"job_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	JobStatus string `json:"job_status"`
}

// BaseName strips the file extension: "sample.vcf" -> "sample".
func BaseName(fileName string) string {
	if i := strings.Index(fileName, "."); i >= 0 {
		return fileName[:i]
	}
	return fileName
}

// ResultKey builds the canonical hot-store key of a result object:
// <prefix><user>/<job>~<base>.annot.vcf
func ResultKey(prefix, userID, jobID, base string) string {
	return fmt.Sprintf("%s%s/%s~%s.annot.vcf", prefix, userID, jobID, base)
}

// LogKey builds the canonical hot-store key of a run log.
func LogKey(prefix, userID, jobID, base string) string {
	return fmt.Sprintf("%s%s/%s~%s.vcf.count.log", prefix, userID, jobID, base)
}

// InputKey builds the canonical hot-store key of an input object.
func InputKey(prefix, userID, jobID, fileName string) string {
	return fmt.Sprintf("%s%s/%s~%s", prefix, userID, jobID, fileName)
}

// JobIDFromDescription recovers the job id from a retrieval
// description, which is the canonical result key: the id sits between
// the last '/' and the '~' separator.
func JobIDFromDescription(desc string) (string, error) {
	start := strings.LastIndex(desc, "/") + 1
	end := strings.Index(desc[start:], "~")
	if end <= 0 {
		return "", fmt.Errorf("no job id in retrieval description %q", desc)
	}
	return desc[start : start+end], nil
}
