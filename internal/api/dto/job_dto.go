package dto

type CreateJobRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	InputFileName string `json:"input_file_name" binding:"required"`
}

type CreateJobResponse struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	InputFileName string `json:"input_file_name"`
	InputBucket   string `json:"input_bucket"`
	InputKey      string `json:"input_key"`
	JobStatus     string `json:"job_status"`
	SubmitTime    int64  `json:"submit_time"`
}

type ListJobsRequest struct {
	UserID string `form:"user_id" binding:"required"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type JobDTO struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	InputFileName string `json:"input_file_name"`
	JobStatus     string `json:"job_status"`
	SubmitTime    int64  `json:"submit_time"`
	CompleteTime  int64  `json:"complete_time,omitempty"`
	HotResultKey  string `json:"hot_result_key,omitempty"`
	HotLogKey     string `json:"hot_log_key,omitempty"`
	// Storage is where the result currently lives: "hot",
	// "archived" or "restored". Empty until the job completes.
	Storage string `json:"storage,omitempty"`
}

type UpgradeAccountResponse struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}
