package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annolab/annopipe/internal/accounts"
	"github.com/annolab/annopipe/internal/jobs"
	"github.com/annolab/annopipe/internal/messages"
	"github.com/annolab/annopipe/internal/vault"
	"github.com/annolab/annopipe/shared/logger"
)

type restoreEnv struct {
	store  *fakeStore
	vault  *fakeVault
	dir    *fakeDirectory
	worker *Restore
}

func newRestoreEnv() *restoreEnv {
	env := &restoreEnv{
		store: newFakeStore(),
		vault: newFakeVault(),
		dir:   &fakeDirectory{profiles: make(map[string]*accounts.Profile)},
	}
	env.worker = NewRestore(RestoreConfig{
		Queue:     "restore",
		Store:     env.store,
		Vault:     env.vault,
		Directory: env.dir,
		KeyPrefix: "annopipe/",
		Logger:    logger.NewDefault(),
	})
	return env
}

func (env *restoreEnv) archivedJob(t *testing.T, jobID, userID string) string {
	t.Helper()
	archiveID, err := env.vault.Upload(context.Background(), []byte("cold "+jobID))
	require.NoError(t, err)
	env.store.put(&jobs.Record{
		JobID:         jobID,
		UserID:        userID,
		InputFileName: "sample.vcf",
		JobStatus:     jobs.StatusCompleted,
		ArchiveID:     sql.NullString{String: archiveID, Valid: true},
	})
	return archiveID
}

func restoreBody(t *testing.T, userID string) []byte {
	t.Helper()
	body, err := json.Marshal(messages.Restore{UserID: userID})
	require.NoError(t, err)
	return body
}

func TestRestore_InitiatesExpeditedRetrievalPerArchivedJob(t *testing.T) {
	env := newRestoreEnv()
	env.dir.profiles["user-1"] = &accounts.Profile{UserID: "user-1", Tier: accounts.TierPremium}
	a1 := env.archivedJob(t, "job-1", "user-1")
	a2 := env.archivedJob(t, "job-2", "user-1")
	env.archivedJob(t, "job-3", "someone-else")

	err := env.worker.Handle(context.Background(), restoreBody(t, "user-1"))
	require.NoError(t, err)

	require.Len(t, env.vault.initiations, 2)
	archiveIDs := []string{env.vault.initiations[0].archiveID, env.vault.initiations[1].archiveID}
	assert.ElementsMatch(t, []string{a1, a2}, archiveIDs)
	for _, init := range env.vault.initiations {
		assert.Equal(t, vault.TierExpedited, init.tier)
	}
}

func TestRestore_ExpeditedExhausted_FallsBackToStandard(t *testing.T) {
	env := newRestoreEnv()
	env.dir.profiles["user-1"] = &accounts.Profile{UserID: "user-1", Tier: accounts.TierPremium}
	archiveID := env.archivedJob(t, "job-1", "user-1")
	env.vault.noExpeditedCapacity = true

	err := env.worker.Handle(context.Background(), restoreBody(t, "user-1"))
	require.NoError(t, err)

	// Two attempts, exactly one staged retrieval.
	require.Len(t, env.vault.initiations, 2)
	assert.Equal(t, vault.TierExpedited, env.vault.initiations[0].tier)
	assert.Equal(t, vault.TierStandard, env.vault.initiations[1].tier)
	assert.Equal(t, archiveID, env.vault.initiations[1].archiveID)
	assert.Len(t, env.vault.retrievals, 1)
}

func TestRestore_RetrievalDescriptionIsResultKey(t *testing.T) {
	env := newRestoreEnv()
	env.dir.profiles["user-1"] = &accounts.Profile{UserID: "user-1", Tier: accounts.TierPremium}
	env.archivedJob(t, "job-1", "user-1")

	require.NoError(t, env.worker.Handle(context.Background(), restoreBody(t, "user-1")))

	require.Len(t, env.vault.initiations, 1)
	desc := env.vault.initiations[0].description
	assert.Equal(t, "annopipe/user-1/job-1~sample.annot.vcf", desc)

	jobID, err := messages.JobIDFromDescription(desc)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestRestore_NonPremiumAccount_Skipped(t *testing.T) {
	env := newRestoreEnv()
	env.dir.profiles["user-1"] = &accounts.Profile{UserID: "user-1", Tier: accounts.TierFree}
	env.archivedJob(t, "job-1", "user-1")

	err := env.worker.Handle(context.Background(), restoreBody(t, "user-1"))
	require.NoError(t, err)
	assert.Empty(t, env.vault.initiations)
}

func TestRestore_NoArchivedJobs_NoOp(t *testing.T) {
	env := newRestoreEnv()
	env.dir.profiles["user-1"] = &accounts.Profile{UserID: "user-1", Tier: accounts.TierPremium}

	err := env.worker.Handle(context.Background(), restoreBody(t, "user-1"))
	require.NoError(t, err)
	assert.Empty(t, env.vault.initiations)
}

func TestRestore_DirectoryOutage_Retryable(t *testing.T) {
	env := newRestoreEnv()
	env.dir.failErr = errors.New("directory unavailable")

	err := env.worker.Handle(context.Background(), restoreBody(t, "user-1"))
	require.Error(t, err)
	assert.True(t, jobs.IsRetryable(err))
}
