// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/archive"
	"github.com/netSkope/phantom-qa-tool/internal/config"
	"github.com/netSkope/phantom-qa-tool/internal/flatten"
	applog "github.com/netSkope/phantom-qa-tool/internal/log"
	"github.com/netSkope/phantom-qa-tool/internal/metrics"
	"github.com/netSkope/phantom-qa-tool/internal/record"
	"github.com/netSkope/phantom-qa-tool/internal/store"
	"github.com/netSkope/phantom-qa-tool/internal/webservice"
	"go.uber.org/zap"
)

// ResultFile is the document an analysis leaves in its result folder.
const ResultFile = "result.json"

// Stage names used for logging and metrics.
const (
	StageValidate = "validate"
	StageArchive  = "archive"
	StageUpload   = "upload"
	StageMirror   = "mirror"
	StageDocument = "document"
	StageResults  = "results"
	StageFlatten  = "flatten"
	StageNumeric  = "number1ds"
	StageTextual  = "string1ds"
)

// ErrBusy is returned when Run is called while another run is in flight.
var ErrBusy = &apperr.Error{
	Kind: apperr.KindValidation,
	Op:   "publish",
	Err:  errors.New("a publish run is already in progress"),
}

// LogFunc receives human-readable progress messages.
type LogFunc func(string)

// Transport is the web service client used by the pipeline.
type Transport interface {
	PostJSON(ctx context.Context, payload any, url string) (webservice.Response, error)
	UploadFile(ctx context.Context, filePath, url string) (webservice.Response, error)
}

// Mirror stores a copy of the upload archive.
type Mirror interface {
	UploadArchive(ctx context.Context, archivePath, site, device string) (string, error)
}

// Journal records the start and outcome of every run.
type Journal interface {
	Start(ctx context.Context, run store.Run) error
	Finish(ctx context.Context, run store.Run) error
}

// Request selects the result folder to publish and the combination it belongs to.
type Request struct {
	ResultFolder string `json:"result_folder"`
	SiteID       string `json:"site"`
	DeviceID     string `json:"device"`
	PhantomID    string `json:"phantom"`
}

// Result describes a publish run. Fields are filled as stages complete, so a
// failed run still reports how far it got.
type Result struct {
	RunID        string    `json:"run_id"`
	ArchivePath  string    `json:"archive_path,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	MirrorKey    string    `json:"mirror_key,omitempty"`
	DocumentID   string    `json:"document_id,omitempty"`
	NumericCount int       `json:"numeric_count"`
	TextualCount int       `json:"textual_count"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMirror copies each uploaded archive with m.
func WithMirror(m Mirror) Option {
	return func(p *Publisher) {
		p.mirror = m
	}
}

// WithJournal records runs in j.
func WithJournal(j Journal) Option {
	return func(p *Publisher) {
		p.journal = j
	}
}

// WithMetrics observes runs with r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Publisher) {
		p.metrics = r
	}
}

// Publisher runs the publish pipeline. At most one run is active at a time.
type Publisher struct {
	transport  Transport
	baseURL    string
	tempFolder string
	app        string

	mirror  Mirror
	journal Journal
	metrics *metrics.Recorder
	logger  *zap.Logger

	running atomic.Bool
	newID   func() string
	now     func() time.Time
}

// New creates a publisher for the web service configured in cfg.
func New(cfg *config.Config, transport Transport, logger *zap.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		transport:  transport,
		baseURL:    cfg.WebserviceURL,
		tempFolder: cfg.TempFolder,
		app:        record.AppIdentifier(cfg.AppName, cfg.AppVersion),
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Busy reports whether a run is in flight.
func (p *Publisher) Busy() bool {
	return p.running.Load()
}

// Run publishes one result folder. Completed stages are not rolled back when a
// later stage fails. The archive is left in the temp folder if its upload
// fails and removed as soon as the upload succeeds.
func (p *Publisher) Run(ctx context.Context, req Request, logf LogFunc) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.running.Store(false)

	if p.metrics != nil {
		p.metrics.SetInFlight(true)
		defer p.metrics.SetInFlight(false)
	}

	res := &Result{RunID: p.newID(), StartedAt: p.now()}
	logger := p.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("site", req.SiteID),
		zap.String("device", req.DeviceID),
		zap.String("phantom", req.PhantomID))
	say := applog.Tee(logger, logf)

	p.journalStart(ctx, logger, req, res)

	err := p.run(ctx, req, res, say, logger)
	res.FinishedAt = p.now()

	outcome := metrics.OutcomeSucceeded
	if err != nil {
		outcome = metrics.OutcomeFailed
		say(fmt.Sprintf("Error: %v", err))
		logger.Error("Publish run failed",
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Error(err))
	} else {
		say("Publish completed.")
		logger.Info("Publish run completed",
			zap.String("file_name", res.FileName),
			zap.Int("numeric", res.NumericCount),
			zap.Int("textual", res.TextualCount),
			zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	}
	if p.metrics != nil {
		p.metrics.RunFinished(req.PhantomID, outcome)
	}
	p.journalFinish(logger, req, res, err)

	return res, err
}

func (p *Publisher) run(ctx context.Context, req Request, res *Result, say LogFunc, logger *zap.Logger) error {
	var (
		endpoints   webservice.Endpoints
		archivePath string
		doc         *flatten.Document
		numeric     []record.ExportRecord
		textual     []record.ExportRecord
	)

	steps := []struct {
		name string
		fn   func() error
	}{
		{StageValidate, func() error {
			say(fmt.Sprintf("Checking result folder: %s", req.ResultFolder))
			var err error
			if err = validateRequest(req); err != nil {
				return err
			}
			endpoints, err = webservice.NewEndpoints(p.baseURL, req.PhantomID)
			if err != nil {
				return err
			}
			info, err := os.Stat(req.ResultFolder)
			if err != nil || !info.IsDir() {
				return apperr.Validation("publish", "result folder not found: %s", req.ResultFolder)
			}
			say("Result folder found.")
			return nil
		}},
		{StageArchive, func() error {
			say(fmt.Sprintf("Zipping result folder: %s", req.ResultFolder))
			path, err := archive.ZipFolder(req.ResultFolder, record.KeyPrefix(req.PhantomID), p.tempFolder)
			if err != nil {
				return fmt.Errorf("failed to archive result folder: %w", err)
			}
			archivePath = path
			res.ArchivePath = path
			say(fmt.Sprintf("Result folder zipped at: %s", path))
			return nil
		}},
		{StageUpload, func() error {
			say(fmt.Sprintf("Uploading zip file: %s to %s", archivePath, endpoints.Upload))
			resp, err := p.transport.UploadFile(ctx, archivePath, endpoints.Upload)
			if err != nil {
				say(fmt.Sprintf("Upload failed, zip file kept at %s", archivePath))
				return fmt.Errorf("failed to upload archive: %w", err)
			}
			say("Zip file uploaded successfully.")

			// once uploaded the archive goes, whatever happens next
			p.releaseArchive(ctx, req, res, say, logger)

			name, ok := resp.String("fileName")
			if !ok {
				return apperr.Data("publish", errors.New("upload response has no fileName"))
			}
			res.FileName = name
			return nil
		}},
		{StageDocument, func() error {
			path := filepath.Join(req.ResultFolder, ResultFile)
			say(fmt.Sprintf("Reading %s from %s", ResultFile, req.ResultFolder))
			if _, err := os.Stat(path); err != nil {
				return apperr.Validation("publish", "the %s file does not exist, run the analysis first", ResultFile)
			}
			d, err := flatten.ReadDocument(path)
			if err != nil {
				return fmt.Errorf("failed to read result document: %w", err)
			}
			d.Set("file", res.FileName)
			doc = d
			say(fmt.Sprintf("Read %d values from %s.", flatten.LeafCount(d), ResultFile))
			return nil
		}},
		{StageResults, func() error {
			say(fmt.Sprintf("Sending %s to %s...", ResultFile, endpoints.Results))
			resp, err := p.transport.PostJSON(ctx, doc, endpoints.Results)
			if err != nil {
				return fmt.Errorf("failed to post result document: %w", err)
			}
			if id, ok := resp.String("_id"); ok {
				res.DocumentID = id
				say(fmt.Sprintf("Result document stored with id %s", id))
			} else {
				say("Result document stored.")
			}
			return nil
		}},
		{StageFlatten, func() error {
			say("Collecting numbers and strings from the result file...")
			var err error
			numeric, textual, err = p.records(doc, req)
			if err != nil {
				return err
			}
			res.NumericCount = len(numeric)
			res.TextualCount = len(textual)
			say(fmt.Sprintf("Collected %d numeric and %d textual values.", len(numeric), len(textual)))
			return nil
		}},
		{StageNumeric, func() error {
			say(fmt.Sprintf("Posting %d number1d records to %s", len(numeric), endpoints.Number1Ds))
			if _, err := p.transport.PostJSON(ctx, numeric, endpoints.Number1Ds); err != nil {
				return fmt.Errorf("failed to post number1ds: %w", err)
			}
			if p.metrics != nil {
				p.metrics.RecordsPosted(flatten.Numeric.String(), len(numeric))
			}
			say("Post succeeded!")
			return nil
		}},
		{StageTextual, func() error {
			say(fmt.Sprintf("Posting %d string1d records to %s", len(textual), endpoints.String1Ds))
			if _, err := p.transport.PostJSON(ctx, textual, endpoints.String1Ds); err != nil {
				return fmt.Errorf("failed to post string1ds: %w", err)
			}
			if p.metrics != nil {
				p.metrics.RecordsPosted(flatten.Textual.String(), len(textual))
			}
			say("Post succeeded!")
			return nil
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish cancelled before %s: %w", step.name, err)
		}
		start := time.Now()
		err := step.fn()
		elapsed := time.Since(start)
		if p.metrics != nil {
			p.metrics.ObserveStage(step.name, elapsed)
		}
		if err != nil {
			return err
		}
		logger.Debug("Stage completed", zap.String("stage", step.name), zap.Duration("elapsed", elapsed))
	}
	return nil
}

// releaseArchive mirrors the uploaded archive when a mirror is configured and
// then removes it. Neither step fails the run.
func (p *Publisher) releaseArchive(ctx context.Context, req Request, res *Result, say LogFunc, logger *zap.Logger) {
	path := res.ArchivePath
	if p.metrics != nil {
		if info, err := os.Stat(path); err == nil {
			p.metrics.ArchiveUploaded(info.Size())
		}
	}

	if p.mirror != nil {
		if err := ctx.Err(); err != nil {
			say(fmt.Sprintf("Warning: S3 mirror skipped: %v", err))
			logger.Warn("Archive mirror skipped", zap.Error(err))
		} else {
			say("Mirroring zip file to S3...")
			start := time.Now()
			key, err := p.mirror.UploadArchive(ctx, path, req.SiteID, req.DeviceID)
			if p.metrics != nil {
				p.metrics.ObserveStage(StageMirror, time.Since(start))
			}
			if err != nil {
				say(fmt.Sprintf("Warning: S3 mirror failed: %v", err))
				logger.Warn("Archive mirror failed", zap.Error(err))
			} else {
				res.MirrorKey = key
				say(fmt.Sprintf("Zip file mirrored to %s", key))
			}
		}
	}

	say(fmt.Sprintf("Removing zip file....%s", path))
	if err := os.Remove(path); err != nil {
		logger.Warn("Failed to remove archive", zap.String("path", path), zap.Error(err))
		return
	}
	res.ArchivePath = ""
}

// records flattens doc and builds both record sets for req.
func (p *Publisher) records(doc *flatten.Document, req Request) (numeric, textual []record.ExportRecord, err error) {
	deviceID, err := record.DeviceIdentifier(req.SiteID, req.DeviceID)
	if err != nil {
		return nil, nil, err
	}
	prefix := record.KeyPrefix(req.PhantomID)

	num, txt := flatten.Flatten(doc)
	if numeric, err = record.Build(num, prefix, deviceID, p.app); err != nil {
		return nil, nil, err
	}
	if textual, err = record.Build(txt, prefix, deviceID, p.app); err != nil {
		return nil, nil, err
	}
	return numeric, textual, nil
}

func validateRequest(req Request) error {
	switch {
	case req.SiteID == "":
		return apperr.Validation("publish", "please select a site")
	case req.DeviceID == "":
		return apperr.Validation("publish", "please select a device")
	case req.PhantomID == "":
		return apperr.Validation("publish", "please select a phantom")
	case req.ResultFolder == "":
		return apperr.Validation("publish", "result folder not found")
	}
	return nil
}

func (p *Publisher) journalStart(ctx context.Context, logger *zap.Logger, req Request, res *Result) {
	if p.journal == nil {
		return
	}
	err := p.journal.Start(ctx, store.Run{
		ID:           res.RunID,
		Site:         req.SiteID,
		Device:       req.DeviceID,
		Phantom:      req.PhantomID,
		ResultFolder: req.ResultFolder,
		StartedAt:    res.StartedAt,
	})
	if err != nil {
		logger.Warn("Failed to record run start", zap.Error(err))
	}
}

func (p *Publisher) journalFinish(logger *zap.Logger, req Request, res *Result, runErr error) {
	if p.journal == nil {
		return
	}
	// identity fields let the journal insert a run whose start was lost
	run := store.Run{
		ID:           res.RunID,
		Site:         req.SiteID,
		Device:       req.DeviceID,
		Phantom:      req.PhantomID,
		ResultFolder: req.ResultFolder,
		StartedAt:    res.StartedAt,
		FileName:     res.FileName,
		DocumentID:   res.DocumentID,
		NumericCount: res.NumericCount,
		TextualCount: res.TextualCount,
		Status:       store.StatusSucceeded,
		FinishedAt:   &res.FinishedAt,
	}
	if runErr != nil {
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	}
	// the run context may already be cancelled
	if err := p.journal.Finish(context.Background(), run); err != nil {
		logger.Warn("Failed to record run outcome", zap.Error(err))
	}
}
