package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annolab/annopipe/internal/api/dto"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

// CreateJob handles POST /api/v1/jobs
// Creates the PENDING job record and publishes the submission
// message. The response carries the canonical input-object location
// the client must upload the file to; the intake worker retries the
// download until the object appears.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID := uuid.New().String()
	inputKey := messages.InputKey(h.keyPrefix, req.UserID, jobID, req.InputFileName)
	rec := jobs.Record{
		JobID:         jobID,
		UserID:        req.UserID,
		InputFileName: req.InputFileName,
		HotInputKey:   inputKey,
		SubmitTime:    time.Now().Unix(),
		JobStatus:     jobs.StatusPending,
	}

	if err := h.store.Create(c.Request.Context(), &rec); err != nil {
		h.logger.Error("Failed to create job record", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, err := json.Marshal(messages.Submission{
		JobID:         jobID,
		UserID:        req.UserID,
		InputBucket:   h.inputBucket,
		InputKey:      inputKey,
		InputFileName: req.InputFileName,
	})
	if err != nil {
		h.logger.Error("Failed to marshal submission message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	// Dedup on job id so a retried request cannot enqueue the same
	// submission twice; group per user to keep one account's
	// submissions ordered.
	if err := h.sender.Send(c.Request.Context(), h.submissionQueue, rabbitmq.Publishing{
		Body:     body,
		DedupKey: jobID,
		GroupKey: req.UserID,
	}); err != nil {
		h.logger.Error("Failed to publish submission message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", req.UserID),
		slog.String("input_file", req.InputFileName),
	)

	c.JSON(http.StatusCreated, dto.CreateJobResponse{
		JobID:         rec.JobID,
		UserID:        rec.UserID,
		InputFileName: rec.InputFileName,
		InputBucket:   h.inputBucket,
		InputKey:      rec.HotInputKey,
		JobStatus:     rec.JobStatus,
		SubmitTime:    rec.SubmitTime,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	rec, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(rec))
}

// ListJobs handles GET /api/v1/jobs
// Lists all jobs owned by an account
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	recs, err := h.store.ListByUser(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	jobResponse := make([]dto.JobDTO, len(recs))
	for i := range recs {
		jobResponse[i] = toJobDTO(&recs[i])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobResponse})
}

func toJobDTO(rec *jobs.Record) dto.JobDTO {
	d := dto.JobDTO{
		JobID:         rec.JobID,
		UserID:        rec.UserID,
		InputFileName: rec.InputFileName,
		JobStatus:     rec.JobStatus,
		SubmitTime:    rec.SubmitTime,
	}
	if rec.CompleteTime.Valid {
		d.CompleteTime = rec.CompleteTime.Int64
	}
	if rec.HotResultKey.Valid {
		d.HotResultKey = rec.HotResultKey.String
	}
	if rec.HotLogKey.Valid {
		d.HotLogKey = rec.HotLogKey.String
	}

	switch {
	case rec.Archived():
		d.Storage = "archived"
	case rec.StorageStatus.Valid && rec.StorageStatus.String == jobs.StorageRestored:
		d.Storage = "restored"
	case rec.HotResultKey.Valid:
		d.Storage = "hot"
	}
	return d
}
