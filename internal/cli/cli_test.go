package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/shareingest/internal/config"
	"github.com/raphaelgruber/shareingest/internal/ledger"
	"github.com/raphaelgruber/shareingest/internal/mount"
	"github.com/raphaelgruber/shareingest/internal/service"
	"github.com/raphaelgruber/shareingest/internal/share"
)

func withConfig(t *testing.T, c config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestCredentialsFromStdin(t *testing.T) {
	withConfig(t, config.Config{SMBUser: "svc", SMBDomain: "CORP", SMBPassword: "from-env"})

	f := credentialFlags{user: "alice", passwordStdin: true}
	creds, err := f.resolve(strings.NewReader("s3cret\r\nignored\n"), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, share.Credentials{User: "alice", Domain: "CORP", Password: "s3cret"}, creds)
}

func TestCredentialsFallBackToConfig(t *testing.T) {
	withConfig(t, config.Config{SMBUser: "svc", SMBPassword: "from-env"})

	creds, err := credentialFlags{}.resolve(strings.NewReader(""), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "svc", creds.User)
	assert.Equal(t, "from-env", creds.Password)
}

func TestCredentialsNoPromptWithoutTerminal(t *testing.T) {
	withConfig(t, config.Config{})

	var prompt bytes.Buffer
	creds, err := credentialFlags{user: "alice"}.resolve(strings.NewReader("unused\n"), &prompt)
	require.NoError(t, err)
	assert.Empty(t, creds.Password)
	assert.Empty(t, prompt.String())
}

func TestLedgerCommand(t *testing.T) {
	dir := t.TempDir()
	withConfig(t, config.Config{LedgerDir: dir})

	spec, err := share.ParseSpec("//nas/docs")
	require.NoError(t, err)
	store := ledger.NewStore(dir, nil)
	require.NoError(t, store.Checkpoint(spec.Key(), []ledger.FileRecord{
		{Path: "a.pdf", Processed: true, Hash: ledger.IdentityToken("a.pdf")},
		{Path: "b.txt"},
		{Path: "c.exe"},
	}))

	prevPending := ledgerPending
	ledgerPending = true
	t.Cleanup(func() { ledgerPending = prevPending })

	var out bytes.Buffer
	ledgerCmd.SetOut(&out)
	require.NoError(t, runLedger(ledgerCmd, []string{"//nas/docs"}))

	got := out.String()
	assert.Contains(t, got, "Files:       3")
	assert.Contains(t, got, "Processed:   1")
	assert.Contains(t, got, "Pending:     1")
	assert.Contains(t, got, "Unsupported: 1")
	assert.Contains(t, got, "- b.txt")
	assert.NotContains(t, got, "- c.exe")
}

func TestLedgerCommandWithoutLedger(t *testing.T) {
	withConfig(t, config.Config{LedgerDir: t.TempDir()})

	var out bytes.Buffer
	ledgerCmd.SetOut(&out)
	require.NoError(t, runLedger(ledgerCmd, []string{"//nas/docs"}))
	assert.Contains(t, out.String(), "No ledger for")
}

func TestLedgerCommandRejectsBadSpec(t *testing.T) {
	withConfig(t, config.Config{LedgerDir: t.TempDir()})

	err := runLedger(ledgerCmd, []string{"nas/docs"})
	assert.ErrorIs(t, err, share.ErrInvalidSpec)
}

func TestRenderSummary(t *testing.T) {
	result := "processed 2 of 3 files in 1 batches (1 failed, 0 trashed, 0 batch timeouts)"
	job := service.Job{
		ID:     "abcd1234",
		Status: service.JobStatusCompleted,
		Result: &result,
		Stats:  service.Stats{Total: 3, Batches: 1, BatchesDone: 1, Transferred: 2, Failed: 1},
	}

	got := renderSummary(defaultTheme, job)
	assert.Contains(t, got, "Completed")
	assert.Contains(t, got, result)
	assert.Contains(t, got, "Files transferred: 2")
	assert.Contains(t, got, "Failed:            1")
	assert.NotContains(t, got, "Trashed")
}

func TestJobError(t *testing.T) {
	msg := "connect: refused"
	assert.NoError(t, jobError(service.Job{Status: service.JobStatusInterrupted}))
	err := jobError(service.Job{ID: "j1", Status: service.JobStatusFailed, Result: &msg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect: refused")
}

func TestRenderMounts(t *testing.T) {
	got := renderMounts(defaultTheme, []mount.Record{
		{MountPoint: "/mnt/a", TargetPath: "//nas/docs", Status: mount.StatusMounted, ListName: "weekly", MountTime: time.Now()},
		{MountPoint: "/mnt/b", TargetPath: "//nas/other", Status: mount.StatusFailed, Error: "permission denied", MountTime: time.Now()},
	})

	assert.Contains(t, got, "/mnt/a -> //nas/docs")
	assert.Contains(t, got, "List: weekly")
	assert.Contains(t, got, "Error: permission denied")
}

type fakeSource struct {
	jobs    []service.Job
	calls   int
	stopped bool
}

func (f *fakeSource) GetStatus(string) (service.Job, error) {
	j := f.jobs[min(f.calls, len(f.jobs)-1)]
	f.calls++
	return j, nil
}

func (f *fakeSource) RequestStop(string) error {
	f.stopped = true
	return nil
}

func TestWaitForJobReturnsTerminal(t *testing.T) {
	src := &fakeSource{jobs: []service.Job{
		{Status: service.JobStatusRunning},
		{Status: service.JobStatusCompleted},
	}}

	job, err := waitForJob(src, "j1", func() {})
	require.NoError(t, err)
	assert.Equal(t, service.JobStatusCompleted, job.Status)
	assert.False(t, src.stopped)
}

func TestProgressModelStopsOnQ(t *testing.T) {
	src := &fakeSource{jobs: []service.Job{{Status: service.JobStatusRunning}}}
	m := newProgressModel(src, "j1")

	next, _ := m.Update(jobUpdateMsg{job: service.Job{Status: service.JobStatusRunning, Progress: 50}})
	m = next.(progressModel)
	assert.Contains(t, m.renderContent(), "Press q")

	next, _ = m.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	m = next.(progressModel)
	assert.True(t, src.stopped)
	assert.True(t, m.stopping)
	assert.False(t, m.done)
	assert.Contains(t, m.renderContent(), "Stopping after the current batch")

	next, _ = m.Update(jobUpdateMsg{job: service.Job{Status: service.JobStatusInterrupted}})
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.False(t, m.aborted)
	assert.Contains(t, m.renderContent(), "Interrupted")
}
