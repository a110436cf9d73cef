package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/api/dto"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/shared/logger"
	"github.com/annolab/annopipe/shared/rabbitmq"
)

type stubStore struct {
	created []jobs.Record
	records map[string]*jobs.Record
	failErr error
}

func (s *stubStore) Create(_ context.Context, rec *jobs.Record) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.created = append(s.created, *rec)
	return nil
}

func (s *stubStore) Get(_ context.Context, jobID string) (*jobs.Record, error) {
	rec, ok := s.records[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return rec, nil
}

func (s *stubStore) ListByUser(_ context.Context, userID string) ([]jobs.Record, error) {
	var recs []jobs.Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

type stubDirectory struct {
	upgraded []string
	failErr  error
}

func (d *stubDirectory) Upgrade(_ context.Context, userID string) error {
	if d.failErr != nil {
		return d.failErr
	}
	d.upgraded = append(d.upgraded, userID)
	return nil
}

type stubSender struct {
	queues  []string
	pubs    []rabbitmq.Publishing
	failErr error
}

func (s *stubSender) Send(_ context.Context, queue string, p rabbitmq.Publishing) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.queues = append(s.queues, queue)
	s.pubs = append(s.pubs, p)
	return nil
}

type testAPI struct {
	store     *stubStore
	directory *stubDirectory
	sender    *stubSender
	router    *gin.Engine
}

func newTestAPI() *testAPI {
	gin.SetMode(gin.TestMode)

	api := &testAPI{
		store:     &stubStore{records: make(map[string]*jobs.Record)},
		directory: &stubDirectory{},
		sender:    &stubSender{},
	}
	deps := &Dependencies{
		Logger:          logger.NewDefault(),
		Store:           api.store,
		Directory:       api.directory,
		Sender:          api.sender,
		SubmissionQueue: "submission",
		RestoreQueue:    "restore",
		InputBucket:     "inputs",
		KeyPrefix:       "annopipe/",
	}

	r := gin.New()
	jobHandler := NewJobHandler(deps)
	accountHandler := NewAccountHandler(deps)
	r.POST("/api/v1/jobs", jobHandler.CreateJob)
	r.GET("/api/v1/jobs", jobHandler.ListJobs)
	r.GET("/api/v1/jobs/:job_id", jobHandler.GetJob)
	r.POST("/api/v1/accounts/:user_id/upgrade", accountHandler.UpgradeAccount)
	api.router = r
	return api
}

func (api *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodPost, "/api/v1/jobs", dto.CreateJobRequest{
		UserID:        "user-1",
		InputFileName: "sample.vcf",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, resp.JobStatus)
	assert.Equal(t, "inputs", resp.InputBucket)
	assert.Equal(t, messages.InputKey("annopipe/", "user-1", resp.JobID, "sample.vcf"), resp.InputKey)

	require.Len(t, api.store.created, 1)
	assert.Equal(t, resp.JobID, api.store.created[0].JobID)
	assert.Equal(t, jobs.StatusPending, api.store.created[0].JobStatus)

	require.Len(t, api.sender.pubs, 1)
	assert.Equal(t, "submission", api.sender.queues[0])
	assert.Equal(t, resp.JobID, api.sender.pubs[0].DedupKey)
	assert.Equal(t, "user-1", api.sender.pubs[0].GroupKey)

	var sub messages.Submission
	require.NoError(t, json.Unmarshal(api.sender.pubs[0].Body, &sub))
	assert.Equal(t, resp.JobID, sub.JobID)
	assert.Equal(t, resp.InputKey, sub.InputKey)
}

func TestCreateJob_MissingFields(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"user_id": "user-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, api.store.created)
	assert.Empty(t, api.sender.pubs)
}

func TestGetJob(t *testing.T) {
	api := newTestAPI()
	jobID := uuid.New().String()
	api.store.records[jobID] = &jobs.Record{
		JobID:         jobID,
		UserID:        "user-1",
		InputFileName: "sample.vcf",
		JobStatus:     jobs.StatusCompleted,
		SubmitTime:    time.Now().Unix(),
		CompleteTime:  sql.NullInt64{Int64: time.Now().Unix(), Valid: true},
		ArchiveID:     sql.NullString{String: "archive-1", Valid: true},
	}

	w := api.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, jobs.StatusCompleted, resp.JobStatus)
	assert.Equal(t, "archived", resp.Storage)
}

func TestGetJob_NotFound(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJob_InvalidID(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	api := newTestAPI()
	api.store.records["job-1"] = &jobs.Record{JobID: "job-1", UserID: "user-1", JobStatus: jobs.StatusRunning}
	api.store.records["job-2"] = &jobs.Record{JobID: "job-2", UserID: "other", JobStatus: jobs.StatusPending}

	w := api.do(t, http.MethodGet, "/api/v1/jobs?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "job-1", resp.Jobs[0].JobID)
}

func TestListJobs_MissingUserID(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpgradeAccount(t *testing.T) {
	api := newTestAPI()

	w := api.do(t, http.MethodPost, "/api/v1/accounts/user-1/upgrade", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.UpgradeAccountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, accounts.TierPremium, resp.Tier)

	assert.Equal(t, []string{"user-1"}, api.directory.upgraded)

	require.Len(t, api.sender.pubs, 1)
	assert.Equal(t, "restore", api.sender.queues[0])
	var restore messages.Restore
	require.NoError(t, json.Unmarshal(api.sender.pubs[0].Body, &restore))
	assert.Equal(t, "user-1", restore.UserID)
}

func TestUpgradeAccount_NotFound(t *testing.T) {
	api := newTestAPI()
	api.directory.failErr = accounts.ErrAccountNotFound

	w := api.do(t, http.MethodPost, "/api/v1/accounts/ghost/upgrade", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, api.sender.pubs)
}
