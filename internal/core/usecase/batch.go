package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/notarial-intake/internal/core/domain"
	"github.com/kirillkom/notarial-intake/internal/core/merge"
	"github.com/kirillkom/notarial-intake/internal/core/ports"
	"github.com/kirillkom/notarial-intake/internal/core/wizard"
)

// Share of a document's progress bar spent on page conversion.
const conversionShare = 20

type batch struct {
	id        string
	sessionID string
	req       ports.BatchRequest
	ctx       context.Context
	cancel    context.CancelCauseFunc
	started   time.Time

	// Guarded by the session mutex.
	docs      []*docState
	cancelled bool
	progress  domain.BatchProgress
	skipped   []string

	uploads sync.WaitGroup
}

// docState tracks one uploaded file through the batch. Mutable fields are
// guarded by the session mutex.
type docState struct {
	doc     *domain.ProcessedDocument
	file    domain.RawFile
	pages   []domain.PageImage
	convErr error

	done       int
	failed     int
	lastErr    error
	documentID string
	// pendingText holds page text until the upload returns a document id.
	pendingText map[int]string
}

func (d *docState) finished() bool {
	return d.doc.Processed
}

func (d *docState) updateProgress(now time.Time) {
	total := len(d.pages)
	if total == 0 {
		return
	}
	d.doc.PagesTotal = total
	d.doc.PagesDone = d.done
	d.doc.PagesFailed = d.failed
	d.doc.Progress = conversionShare + (100-conversionShare)*(d.done+d.failed)/total
	d.doc.UpdatedAt = now
	if d.done+d.failed < total {
		return
	}
	d.doc.Processed = true
	if d.done == 0 && d.lastErr != nil {
		d.doc.Error = (&domain.BatchFailedError{Failed: d.failed, Total: total, Cause: d.lastErr}).Error()
	}
}

// markCancelled flips every unprocessed document of the batch to cancelled
// and returns copies of the documents it changed. Caller holds the session
// mutex.
func (b *batch) markCancelled(now time.Time) []domain.ProcessedDocument {
	b.cancelled = true
	var changed []domain.ProcessedDocument
	for _, d := range b.docs {
		if d.finished() {
			continue
		}
		d.doc.Processed = true
		d.doc.Cancelled = true
		d.doc.UpdatedAt = now
		changed = append(changed, d.doc.Clone())
	}
	return changed
}

func (b *batch) documentSnapshot(s *session) []domain.ProcessedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ProcessedDocument, 0, len(b.docs))
	for _, d := range b.docs {
		out = append(out, d.doc.Clone())
	}
	return out
}

// pageTask is one extraction unit in submission order.
type pageTask struct {
	doc     *docState
	page    domain.PageImage
	subtype domain.Subtype
	force   bool
}

type pageOutcome struct {
	result   *domain.ExtractionResult
	cached   bool
	err      error
	duration time.Duration
}

func laneFor(subtype domain.Subtype) string {
	if subtype == domain.SubtypeIdentification {
		return LaneIdentification
	}
	return LaneDocuments
}

func (uc *IntakeUseCase) process(ctx context.Context, s *session, b *batch) (*domain.BatchReport, error) {
	s.run.Lock()
	defer s.run.Unlock()
	defer func() {
		uc.mu.Lock()
		delete(uc.batches, b.id)
		uc.mu.Unlock()
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		b.cancel(nil)
	}()

	uc.logger.Info("batch_started",
		"session_id", s.id,
		"batch_id", b.id,
		"files", len(b.docs),
	)

	uc.startUploads(ctx, s, b)
	tasks := uc.convert(ctx, s, b)
	uc.flagKnownPages(ctx, s, b, tasks)

	s.mu.Lock()
	for _, d := range b.docs {
		if d.convErr != nil {
			b.progress.PagesTotal++
			b.progress.PagesFailed++
		}
	}
	b.progress.BatchID = b.id
	b.progress.Status = domain.BatchRunning
	b.progress.PagesTotal += len(tasks)
	startProgress := b.progress
	s.mu.Unlock()
	uc.publish(ctx, ports.StatusEvent{SessionID: s.id, BatchID: b.id, Progress: &startProgress})

	laneTasks := make([]Task, len(tasks))
	for i, t := range tasks {
		laneTasks[i] = Task{Lane: laneFor(t.subtype)}
	}
	dispatchErr := Dispatch(ctx, uc.lanes, laneTasks,
		func(ctx context.Context, index int, _ Task) pageOutcome {
			return uc.runPage(ctx, s, b, tasks[index])
		},
		func(index int, _ Task, out pageOutcome) {
			uc.applyPage(ctx, s, b, index, tasks[index], out)
		},
	)

	report, err := uc.finish(ctx, s, b, dispatchErr)
	b.uploads.Wait()
	return report, err
}

// convert classifies and splits every file in upload order. A file that
// cannot be split fails as a whole.
func (uc *IntakeUseCase) convert(ctx context.Context, s *session, b *batch) []pageTask {
	var tasks []pageTask
	for _, d := range b.docs {
		if ctx.Err() != nil {
			break
		}
		s.mu.Lock()
		subtype := d.doc.Subtype
		s.mu.Unlock()

		pages, err := uc.deps.Splitter.Split(ctx, d.file, func(percent int) {
			s.mu.Lock()
			if !d.finished() {
				d.doc.Progress = conversionShare * percent / 100
				d.doc.UpdatedAt = uc.now()
			}
			s.mu.Unlock()
		})

		s.mu.Lock()
		if err != nil {
			var convErr *domain.ConversionError
			if !errors.As(err, &convErr) {
				err = &domain.ConversionError{Filename: d.file.Name, Err: err}
			}
			d.convErr = err
			if !d.finished() {
				d.doc.Processed = true
				d.doc.Error = err.Error()
				d.doc.UpdatedAt = uc.now()
			}
			doc := d.doc.Clone()
			s.mu.Unlock()
			uc.logger.Warn("document_conversion_failed", "session_id", s.id, "batch_id", b.id, "file", d.file.Name, "error", err)
			uc.publish(ctx, ports.StatusEvent{SessionID: s.id, BatchID: b.id, Document: &doc})
			continue
		}
		d.pages = pages
		d.doc.PagesTotal = len(pages)
		d.doc.Progress = conversionShare
		d.doc.UpdatedAt = uc.now()
		if len(pages) == 0 && !d.finished() {
			d.doc.Processed = true
		}
		s.mu.Unlock()

		for _, page := range pages {
			tasks = append(tasks, pageTask{doc: d, page: page, subtype: subtype, force: b.req.ForceReprocess})
		}
	}
	return tasks
}

// flagKnownPages asks the service which pages it already processed and
// forces their reprocessing. A re-upload is an explicit request, so the
// pipeline never blocks on an "already processed" prompt.
func (uc *IntakeUseCase) flagKnownPages(ctx context.Context, s *session, b *batch, tasks []pageTask) {
	if uc.deps.CacheChecker == nil || len(tasks) == 0 {
		return
	}
	hashes := make([]string, 0, len(tasks))
	for _, t := range tasks {
		hashes = append(hashes, t.page.Hash())
	}
	known, err := uc.deps.CacheChecker.CheckProcessed(ctx, s.id, hashes)
	if err != nil {
		uc.logger.Warn("cache_check_failed", "session_id", s.id, "batch_id", b.id, "error", err)
		return
	}
	flagged := 0
	for i := range tasks {
		if _, ok := known[hashes[i]]; ok {
			tasks[i].force = true
			flagged++
		}
	}
	if flagged > 0 {
		uc.logger.Info("cache_known_pages", "session_id", s.id, "batch_id", b.id, "pages", flagged)
	}
}

// runPage produces the immutable result for one page and records its
// metrics. It never touches the canonical record except to snapshot it.
func (uc *IntakeUseCase) runPage(ctx context.Context, s *session, b *batch, t pageTask) pageOutcome {
	uc.deps.Metrics.StartPage()
	out := uc.extractPage(ctx, s, b, t)
	uc.deps.Metrics.FinishPage(t.subtype, out.status(), out.duration)
	return out
}

func (o pageOutcome) status() string {
	switch {
	case o.cached:
		return "cached"
	case errors.Is(o.err, domain.ErrExtractionTimeout):
		return "timeout"
	case o.err != nil:
		return "error"
	}
	return "ok"
}

func (uc *IntakeUseCase) extractPage(ctx context.Context, s *session, b *batch, t pageTask) pageOutcome {
	start := uc.now()

	key := domain.FingerprintKey{FileIdentity: t.doc.file.Identity(), PageName: t.page.Name, Subtype: t.subtype}
	if uc.deps.Cache != nil && t.subtype.Cacheable() && !t.force {
		cached, ok, err := uc.deps.Cache.Get(ctx, key)
		switch {
		case err != nil:
			uc.logger.Warn("fingerprint_get_failed", "key", key.String(), "error", err)
		case ok:
			uc.deps.Metrics.CacheHit(t.subtype)
			return pageOutcome{result: cached, cached: true, duration: uc.now().Sub(start)}
		}
	}

	s.mu.Lock()
	snapshot := s.record.Clone()
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, uc.cfg.ExtractionTimeout)
	defer cancel()
	result, err := uc.deps.Extractor.Extract(callCtx, domain.ExtractionRequest{
		SessionID:      s.id,
		CaseID:         b.req.CaseID,
		BatchID:        b.id,
		Subtype:        t.subtype,
		Page:           t.page,
		PageIndex:      t.page.Number,
		Record:         snapshot,
		UserText:       b.req.UserText,
		LastQuestion:   b.req.LastQuestion,
		IncludeRawText: uc.cfg.IncludeRawText,
		ForceReprocess: t.force,
	})
	if err == nil && result == nil {
		err = domain.WrapError(domain.ErrExtractionServer, "extract page", errors.New("empty result"))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, domain.ErrExtractionTimeout) {
			err = domain.WrapError(domain.ErrExtractionTimeout, "extract page", err)
		}
		if errors.Is(err, domain.ErrSessionExpired) {
			b.cancel(err)
		}
		return pageOutcome{err: err, duration: uc.now().Sub(start)}
	}

	if uc.deps.Cache != nil && t.subtype.Cacheable() {
		if err := uc.deps.Cache.Put(ctx, key, result); err != nil {
			uc.logger.Warn("fingerprint_put_failed", "key", key.String(), "error", err)
		}
	}
	return pageOutcome{result: result, duration: uc.now().Sub(start)}
}

// applyPage is called in submission order and is the only place the
// canonical record changes during a batch.
func (uc *IntakeUseCase) applyPage(ctx context.Context, s *session, b *batch, index int, t pageTask, out pageOutcome) {
	s.mu.Lock()
	if b.cancelled || ctx.Err() != nil {
		s.mu.Unlock()
		uc.logger.Info("late_result_discarded", "session_id", s.id, "batch_id", b.id, "page", t.page.Name, "index", index)
		return
	}

	d := t.doc
	var text string
	if out.err != nil {
		d.failed++
		d.lastErr = out.err
		b.progress.PagesFailed++
		if errors.Is(out.err, domain.ErrExtractionTimeout) {
			b.progress.TimedOut++
		}
		uc.logger.Warn("page_extract_failed",
			"session_id", s.id,
			"batch_id", b.id,
			"page", t.page.Name,
			"subtype", string(t.subtype),
			"error", out.err,
		)
	} else {
		report := uc.engine.Apply(s.record, out.result.Update, merge.Source{
			DocumentName: d.file.Name,
			Subtype:      t.subtype,
			PageNumber:   t.page.Number,
		})
		for _, skip := range report.Skipped {
			uc.deps.Metrics.MergeSkip(skip.Entity)
			b.skipped = append(b.skipped, fmt.Sprintf("%s: %s", t.page.Name, skip.Error()))
		}
		if out.result.KnownPriorCase && !b.progress.KnownPriorCase {
			b.progress.KnownPriorCase = true
			uc.logger.Info("known_prior_case", "session_id", s.id, "batch_id", b.id, "page", t.page.Name)
		}
		d.done++
		b.progress.PagesDone++
		d.doc.ExtractedFields = documentFields(s.record, d.file.Name, t.subtype)
		s.snapshot = wizard.Compute(s.record)
		text = out.result.RawText
		if text == "" {
			text = t.page.TextLayer
		}
	}
	d.updateProgress(uc.now())
	b.progress.Percent = percent(b.progress.PagesDone+b.progress.PagesFailed, b.progress.PagesTotal)

	documentID := d.documentID
	if text != "" && documentID == "" {
		d.pendingText[t.page.Number] = text
	}
	doc := d.doc.Clone()
	progress := b.progress
	snap := s.snapshot
	s.mu.Unlock()

	if out.err == nil {
		s.saver.Schedule()
	}
	if text != "" && documentID != "" {
		uc.submitText(ctx, b, documentID, t.page.Number, text)
	}
	uc.publish(ctx, ports.StatusEvent{SessionID: s.id, BatchID: b.id, Document: &doc, Progress: &progress, Wizard: &snap})
}

func documentFields(rec *domain.CaseRecord, name string, subtype domain.Subtype) map[string]any {
	key := domain.NormalizeName(name)
	for _, ref := range rec.ProcessedDocuments {
		if ref.Subtype == subtype && domain.NormalizeName(ref.Name) == key {
			return ref.Clone().ExtractedFields
		}
	}
	return nil
}

func percent(n, total int) int {
	if total <= 0 {
		return 100
	}
	return n * 100 / total
}

// startUploads archives every original concurrently with processing. Page
// text produced before the document id is known is buffered and flushed
// once the upload returns.
func (uc *IntakeUseCase) startUploads(ctx context.Context, s *session, b *batch) {
	if uc.deps.Uploads == nil {
		return
	}
	for _, d := range b.docs {
		s.mu.Lock()
		subtype := d.doc.Subtype
		s.mu.Unlock()
		b.uploads.Add(1)
		go func() {
			defer b.uploads.Done()
			id, err := uc.deps.Uploads.Upload(context.WithoutCancel(ctx), ports.UploadRequest{
				SessionID: s.id,
				CaseID:    b.req.CaseID,
				Subtype:   subtype,
				File:      d.file,
			})
			if err != nil {
				uc.logger.Warn("document_upload_failed", "session_id", s.id, "file", d.file.Name, "error", err)
				return
			}
			s.mu.Lock()
			d.documentID = id
			d.doc.DocumentID = id
			pending := d.pendingText
			d.pendingText = map[int]string{}
			s.mu.Unlock()
			for page, text := range pending {
				uc.submitText(ctx, b, id, page, text)
			}
		}()
	}
}

func (uc *IntakeUseCase) submitText(ctx context.Context, b *batch, documentID string, page int, text string) {
	if err := uc.deps.Uploads.SubmitPageText(context.WithoutCancel(ctx), documentID, page, text); err != nil {
		uc.logger.Warn("page_text_submit_failed", "batch_id", b.id, "document_id", documentID, "page", page, "error", err)
	}
}

// finish settles the batch outcome, flushes the record and publishes the
// final progress.
func (uc *IntakeUseCase) finish(ctx context.Context, s *session, b *batch, dispatchErr error) (*domain.BatchReport, error) {
	cause := context.Cause(ctx)
	now := uc.now()

	s.mu.Lock()
	var resultErr error
	switch {
	case errors.Is(cause, domain.ErrSessionExpired):
		b.progress.Status = domain.BatchAborted
		for _, d := range b.docs {
			if !d.finished() {
				d.doc.Processed = true
				d.doc.Error = domain.ErrSessionExpired.Error()
				d.doc.UpdatedAt = now
			}
		}
		resultErr = domain.WrapError(domain.ErrSessionExpired, "run batch", cause)
	case b.cancelled || dispatchErr != nil:
		b.markCancelled(now)
		b.progress.Status = domain.BatchCancelled
	default:
		var firstErr error
		for _, d := range b.docs {
			if firstErr == nil && d.convErr != nil {
				firstErr = d.convErr
			}
			if firstErr == nil && d.lastErr != nil {
				firstErr = d.lastErr
			}
		}
		p := b.progress
		switch {
		case p.PagesTotal > 0 && p.PagesFailed == p.PagesTotal:
			b.progress.Status = domain.BatchFailed
			resultErr = &domain.BatchFailedError{Failed: p.PagesFailed, Total: p.PagesTotal, Cause: firstErr}
		case p.PagesFailed > 0:
			b.progress.Status = domain.BatchPartial
		default:
			b.progress.Status = domain.BatchCompleted
		}
	}
	b.progress.Percent = percent(b.progress.PagesDone+b.progress.PagesFailed, b.progress.PagesTotal)

	report := &domain.BatchReport{
		BatchID:   b.id,
		SessionID: s.id,
		Progress:  b.progress,
		Record:    s.record.Clone(),
		Wizard:    s.snapshot,
		Skipped:   append([]string(nil), b.skipped...),
	}
	for _, d := range b.docs {
		report.Documents = append(report.Documents, d.doc.Clone())
	}
	if resultErr != nil {
		report.Error = resultErr.Error()
	}
	s.mu.Unlock()

	if err := s.saver.Flush(context.WithoutCancel(ctx)); err != nil {
		uc.logger.Error("record_persist_failed", "session_id", s.id, "batch_id", b.id, "error", err)
	}

	progress := report.Progress
	uc.publish(ctx, ports.StatusEvent{SessionID: s.id, BatchID: b.id, Progress: &progress, Wizard: &report.Wizard})
	uc.deps.Metrics.FinishBatch(progress.Status, now.Sub(b.started))
	uc.logger.Info("batch_finished",
		"session_id", s.id,
		"batch_id", b.id,
		"status", string(progress.Status),
		"pages_total", progress.PagesTotal,
		"pages_done", progress.PagesDone,
		"pages_failed", progress.PagesFailed,
		"timed_out", progress.TimedOut,
		"duration_ms", now.Sub(b.started).Milliseconds(),
	)
	return report, resultErr
}
