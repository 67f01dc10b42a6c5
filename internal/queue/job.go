package queue

import (
	"context"

	"github.com/xxxsen/romget/internal/model"
)

// ArchiveOptions selects the archive tool used for extraction.
type ArchiveOptions struct {
	Use7z    bool
	PathTo7z string
}

// Download is one file the queue must transfer.
type Download struct {
	ID         string
	RomID      int64
	FileName   string
	InstallDir string
	Target     string
	Archive    bool
}

// Result is handed to Job.OnInstalled.
type Result struct {
	Roms []model.ResolvedRom
}

// Job is one install request. Exactly one of OnInstalled, OnCanceled and
// OnFailed is called, once, from a queue goroutine. BuildRoms runs after
// every download and extraction succeeded and before OnInstalled.
type Job struct {
	ID          string
	GameID      string
	GameName    string
	GameIDs     []string
	DstPath     string
	AutoExtract bool
	Archive     ArchiveOptions
	Downloads   []Download

	BuildRoms   func(ctx context.Context) ([]model.ResolvedRom, error)
	OnInstalled func(ctx context.Context, res Result)
	OnCanceled  func(ctx context.Context)
	OnFailed    func(ctx context.Context, err error)
}

// Queue accepts install jobs. Enqueue never blocks and reports nothing;
// outcomes arrive through the job callbacks.
type Queue interface {
	Enqueue(job *Job)
}
