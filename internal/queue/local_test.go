package queue

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xxxsen/romget/internal/model"
	"github.com/xxxsen/romget/internal/pathguard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type outcome struct {
	mu        sync.Mutex
	installed []Result
	canceled  int
	failed    []error
}

func (o *outcome) attach(job *Job) *Job {
	job.OnInstalled = func(_ context.Context, res Result) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.installed = append(o.installed, res)
	}
	job.OnCanceled = func(context.Context) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.canceled++
	}
	job.OnFailed = func(_ context.Context, err error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.failed = append(o.failed, err)
	}
	return job
}

func (o *outcome) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.installed) + o.canceled + len(o.failed)
}

func writeFetcher(content map[string][]byte) Fetcher {
	return FetchFunc(func(_ context.Context, d Download) error {
		data, ok := content[d.FileName]
		if !ok {
			return errors.New("not found on server")
		}
		return os.WriteFile(d.Target, data, 0o644)
	})
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLocalSingleFileInstalled(t *testing.T) {
	dir := t.TempDir()
	q := NewLocal(writeFetcher(map[string][]byte{"game.iso": []byte("iso")}), 2)

	target := filepath.Join(dir, "game", "game.iso")
	o := &outcome{}
	job := o.attach(&Job{
		GameName:    "game",
		AutoExtract: true,
		Downloads: []Download{{
			FileName:   "game.iso",
			InstallDir: filepath.Join(dir, "game"),
			Target:     target,
		}},
		BuildRoms: func(context.Context) ([]model.ResolvedRom, error) {
			return []model.ResolvedRom{{Name: "game", Path: target}}, nil
		},
	})
	q.Enqueue(job)
	q.Wait()

	assert.NotEmpty(t, job.ID)
	require.Len(t, o.installed, 1)
	assert.Equal(t, []model.ResolvedRom{{Name: "game", Path: target}}, o.installed[0].Roms)
	assert.Equal(t, 1, o.calls())
	assert.FileExists(t, target)
}

func TestLocalExtractsArchive(t *testing.T) {
	dir := t.TempDir()
	installDir := filepath.Join(dir, "Game")
	archive := zipBytes(t, map[string]string{
		"Game (Disc 1).bin": "d1",
		"Game (Disc 2).bin": "d2",
		"sub/Game.m3u":      "Game (Disc 1).bin\nGame (Disc 2).bin\n",
	})
	q := NewLocal(writeFetcher(map[string][]byte{"Game": archive}), 1)

	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		AutoExtract: true,
		Downloads: []Download{{
			FileName:   "Game",
			InstallDir: installDir,
			Target:     filepath.Join(installDir, "Game.zip"),
			Archive:    true,
		}},
	}))
	q.Wait()

	require.Len(t, o.installed, 1, "failed: %v", o.failed)
	assert.NoFileExists(t, filepath.Join(installDir, "Game.zip"))
	assert.FileExists(t, filepath.Join(installDir, "Game (Disc 1).bin"))
	assert.FileExists(t, filepath.Join(installDir, "sub", "Game.m3u"))
}

func TestLocalWithoutAutoExtractKeepsArchive(t *testing.T) {
	dir := t.TempDir()
	archive := zipBytes(t, map[string]string{"a.bin": "a"})
	q := NewLocal(writeFetcher(map[string][]byte{"Game": archive}), 1)

	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		Downloads: []Download{{
			FileName:   "Game",
			InstallDir: dir,
			Target:     filepath.Join(dir, "Game.zip"),
			Archive:    true,
		}},
	}))
	q.Wait()

	require.Len(t, o.installed, 1)
	assert.FileExists(t, filepath.Join(dir, "Game.zip"))
	assert.NoFileExists(t, filepath.Join(dir, "a.bin"))
}

func TestLocalDetectsSingleFileArchive(t *testing.T) {
	dir := t.TempDir()
	archive := zipBytes(t, map[string]string{"rom.sfc": "rom"})
	q := NewLocal(writeFetcher(map[string][]byte{"rom.zip": archive}), 1)

	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		AutoExtract: true,
		Downloads: []Download{{
			FileName:   "rom.zip",
			InstallDir: dir,
			Target:     filepath.Join(dir, "rom.zip"),
		}},
	}))
	q.Wait()

	require.Len(t, o.installed, 1)
	assert.FileExists(t, filepath.Join(dir, "rom.sfc"))
	assert.NoFileExists(t, filepath.Join(dir, "rom.zip"))
}

func TestLocalTransferFailure(t *testing.T) {
	dir := t.TempDir()
	q := NewLocal(writeFetcher(nil), 1)

	built := false
	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		Downloads: []Download{{FileName: "missing.iso", InstallDir: dir, Target: filepath.Join(dir, "missing.iso")}},
		BuildRoms: func(context.Context) ([]model.ResolvedRom, error) {
			built = true
			return nil, nil
		},
	}))
	q.Wait()

	require.Len(t, o.failed, 1)
	assert.Contains(t, o.failed[0].Error(), "not found on server")
	assert.False(t, built)
	assert.Equal(t, 1, o.calls())
}

func TestLocalResolveFailure(t *testing.T) {
	dir := t.TempDir()
	q := NewLocal(writeFetcher(map[string][]byte{"a.bin": []byte("a")}), 1)

	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		Downloads: []Download{{FileName: "a.bin", InstallDir: dir, Target: filepath.Join(dir, "a.bin")}},
		BuildRoms: func(context.Context) ([]model.ResolvedRom, error) {
			return nil, pathguard.ErrUnsafePath
		},
	}))
	q.Wait()

	require.Len(t, o.failed, 1)
	assert.ErrorIs(t, o.failed[0], pathguard.ErrUnsafePath)
}

func TestLocalUnsupportedArchiveWithBuiltInTool(t *testing.T) {
	dir := t.TempDir()
	q := NewLocal(writeFetcher(map[string][]byte{"g": []byte("Rar!\x1A\x07\x00rest")}), 1)

	o := &outcome{}
	q.Enqueue(o.attach(&Job{
		AutoExtract: true,
		Downloads:   []Download{{FileName: "g", InstallDir: dir, Target: filepath.Join(dir, "g.zip"), Archive: true}},
	}))
	q.Wait()

	require.Len(t, o.failed, 1)
	assert.ErrorIs(t, o.failed[0], ErrUnsupportedArchive)
}

func TestLocalCancel(t *testing.T) {
	dir := t.TempDir()
	started := make(chan struct{})
	q := NewLocal(FetchFunc(func(ctx context.Context, d Download) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), 1)

	o := &outcome{}
	job := o.attach(&Job{
		ID:        "job-1",
		Downloads: []Download{{FileName: "a.bin", InstallDir: dir, Target: filepath.Join(dir, "a.bin")}},
	})
	q.Enqueue(job)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}
	assert.True(t, q.Cancel("job-1"))
	q.Wait()

	assert.Equal(t, 1, o.canceled)
	assert.Equal(t, 1, o.calls())
	assert.False(t, q.Cancel("job-1"))
}

func TestLocalCancelAll(t *testing.T) {
	dir := t.TempDir()
	var started sync.WaitGroup
	started.Add(2)
	q := NewLocal(FetchFunc(func(ctx context.Context, d Download) error {
		started.Done()
		<-ctx.Done()
		return ctx.Err()
	}), 2)

	outcomes := []*outcome{{}, {}}
	for i, o := range outcomes {
		name := filepath.Join(dir, string(rune('a'+i))+".bin")
		q.Enqueue(o.attach(&Job{
			Downloads: []Download{{FileName: filepath.Base(name), InstallDir: dir, Target: name}},
		}))
	}
	started.Wait()
	assert.Equal(t, 2, q.CancelAll())
	q.Wait()

	for _, o := range outcomes {
		assert.Equal(t, 1, o.canceled)
		assert.Equal(t, 1, o.calls())
	}
}

func TestLocalRunsManyJobsOnce(t *testing.T) {
	dir := t.TempDir()
	q := NewLocal(FetchFunc(func(_ context.Context, d Download) error {
		return os.WriteFile(d.Target, []byte(d.FileName), 0o644)
	}), 3)

	outcomes := make([]*outcome, 10)
	for i := range outcomes {
		outcomes[i] = &outcome{}
		name := filepath.Join(dir, string(rune('a'+i))+".bin")
		q.Enqueue(outcomes[i].attach(&Job{
			Downloads: []Download{{FileName: filepath.Base(name), InstallDir: dir, Target: name}},
		}))
	}
	q.Wait()

	for i, o := range outcomes {
		assert.Equal(t, 1, o.calls(), "job %d", i)
		assert.Len(t, o.installed, 1, "job %d", i)
	}
}

func TestIsArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	ok, err := IsArchive(write("a.zip", zipBytes(t, map[string]string{"x": "y"})))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsArchive(write("a.iso", []byte("PK\x03\x04 iso lookalike")))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsArchive(write("a.rar", []byte("Rar!\x1A\x07\x00")))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsArchive(write("tiny.bin", []byte("P")))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = IsArchive(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestBuiltinExtractorCorrupt7z(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "broken.7z")
	require.NoError(t, os.WriteFile(archive, []byte("7z\xBC\xAF\x27\x1Cgarbage"), 0o644))

	err := NewExtractor(ArchiveOptions{}).Extract(context.Background(), archive, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedArchive)
}

func TestZipExtractorRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"../evil.txt": "x"}), 0o644))

	out := filepath.Join(dir, "out")
	err := NewExtractor(ArchiveOptions{}).Extract(context.Background(), archive, out)
	assert.ErrorIs(t, err, pathguard.ErrUnsafePath)
	assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
}
