package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/slides/v1"

	"github.com/smorand/prompt2slides/internal/parser"
	"github.com/smorand/prompt2slides/internal/results"
	"github.com/smorand/prompt2slides/internal/retry"
)

// presentationURLFormat derives the external URL from a presentation id.
const presentationURLFormat = "https://docs.google.com/presentation/d/%s/edit"

// notesLookupConcurrency bounds the parallel notes-page fetches in Phase 4.
const notesLookupConcurrency = 4

// Config holds builder configuration.
type Config struct {
	Logger *slog.Logger
	// Retryer is applied to idempotent presentation/page fetches only.
	// batchUpdate mutations are never retried: a rate-limited mutation
	// surfaces to the caller instead.
	Retryer *retry.Retryer
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Logger: slog.Default(),
	}
}

// Builder turns parsed slide records into a live Google Slides presentation
// through a phased sequence of remote calls.
type Builder struct {
	config               Config
	slidesServiceFactory SlidesServiceFactory
	store                results.Store
}

// New creates a Builder. A nil factory uses the real Slides API; a nil store
// uses a fresh in-memory result store.
func New(config Config, factory SlidesServiceFactory, store results.Store) *Builder {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if factory == nil {
		factory = NewRealSlidesServiceFactory()
	}
	if store == nil {
		store = results.NewMemoryStore()
	}

	return &Builder{
		config:               config,
		slidesServiceFactory: factory,
		store:                store,
	}
}

// BuildInput is the build request payload.
type BuildInput struct {
	Title           string `json:"title"`
	MarkdownContent string `json:"markdown_content"`
}

// BuildOutput references the stored result and the created deck.
type BuildOutput struct {
	ID              string `json:"id"`
	PresentationID  string `json:"presentation_id"`
	PresentationURL string `json:"presentation_url"`
}

// Build converts markdown into a presentation.
//
// The phases are strictly sequential because each one depends on identifiers
// the previous phase's remote side effects created. Any failure in Phases 1-3
// aborts the build with no result recorded; Phase 4 (speaker notes) degrades
// instead of aborting. Re-running with identical input creates a new
// presentation every time: the Slides API offers no idempotency key, and the
// source system accepted the same behavior.
func (b *Builder) Build(ctx context.Context, tokenSource oauth2.TokenSource, input BuildInput) (*BuildOutput, error) {
	// Validate before any remote call.
	if tokenSource == nil {
		return nil, ErrMissingAccessToken
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, ErrInvalidTitle
	}
	if strings.TrimSpace(input.MarkdownContent) == "" {
		return nil, ErrEmptyMarkdown
	}

	records := parser.Parse(input.MarkdownContent)

	b.config.Logger.Info("building presentation",
		slog.String("title", input.Title),
		slog.Int("slide_count", len(records)),
	)

	slidesService, err := b.slidesServiceFactory(ctx, tokenSource)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create slides service: %v", ErrSlidesAPIError, err)
	}

	// Phase 1: create the shell and record the API-seeded default slide.
	presentationID, defaultSlideID, err := b.createShell(ctx, slidesService, input.Title)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: create one slide shell per record with predictable ids.
	if err := b.createSlideShells(ctx, slidesService, presentationID, len(records)); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 3: resolve placeholders, populate content, drop the default slide.
	if err := b.populateContent(ctx, slidesService, presentationID, defaultSlideID, records); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 4: speaker notes, best effort.
	b.attachSpeakerNotes(ctx, slidesService, presentationID, records)

	// Phase 5: finalize.
	result := &results.PresentationResult{
		ID:              uuid.NewString(),
		Title:           input.Title,
		PresentationID:  presentationID,
		PresentationURL: fmt.Sprintf(presentationURLFormat, presentationID),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Type:            results.ResultTypeSlides,
	}

	if err := b.store.Put(ctx, result); err != nil {
		// The deck exists; losing the lookup record is not worth failing
		// the build over.
		b.config.Logger.Warn("failed to store build result",
			slog.String("result_id", result.ID),
			slog.String("presentation_id", presentationID),
			slog.Any("error", err),
		)
	}

	b.config.Logger.Info("presentation built successfully",
		slog.String("result_id", result.ID),
		slog.String("presentation_id", presentationID),
		slog.Int("slide_count", len(records)),
	)

	return &BuildOutput{
		ID:              result.ID,
		PresentationID:  presentationID,
		PresentationURL: result.PresentationURL,
	}, nil
}

// Store exposes the result store for the retrieval endpoint.
func (b *Builder) Store() results.Store {
	return b.store
}

// createShell issues the create-presentation call and fetches the id of the
// blank slide the API always seeds, which Phase 3 deletes.
func (b *Builder) createShell(ctx context.Context, svc SlidesService, title string) (presentationID, defaultSlideID string, err error) {
	created, err := svc.CreatePresentation(ctx, &slides.Presentation{Title: title})
	if err != nil {
		return "", "", classifyRemoteError(err, ErrBuildFailed)
	}
	presentationID = created.PresentationId

	presentation, err := b.fetchPresentation(ctx, svc, presentationID, "slides.objectId")
	if err != nil {
		return "", "", classifyRemoteError(err, ErrSlidesAPIError)
	}
	if len(presentation.Slides) > 0 {
		defaultSlideID = presentation.Slides[0].ObjectId
	}

	b.config.Logger.Info("presentation shell created",
		slog.String("presentation_id", presentationID),
		slog.String("default_slide_id", defaultSlideID),
	)

	return presentationID, defaultSlideID, nil
}

// createSlideShells batches one createSlide request per record. The batch is
// atomic: it fully applies or the build is treated as failed.
func (b *Builder) createSlideShells(ctx context.Context, svc SlidesService, presentationID string, count int) error {
	requests := buildSlideShellRequests(count)

	b.config.Logger.Info("creating slide shells",
		slog.String("presentation_id", presentationID),
		slog.Int("slide_count", count),
	)

	if _, err := svc.BatchUpdate(ctx, presentationID, requests); err != nil {
		return classifyRemoteError(err, ErrBuildFailed)
	}
	return nil
}

// populateContent resolves the server-assigned placeholder ids, then inserts
// titles, bodies, bullet formatting, and image-prompt boxes, and deletes the
// default slide, all in one batch.
func (b *Builder) populateContent(ctx context.Context, svc SlidesService, presentationID, defaultSlideID string, records []parser.SlideRecord) error {
	presentation, err := b.fetchPresentation(ctx, svc, presentationID,
		"slides(objectId,pageElements(objectId,shape(placeholder(type))))")
	if err != nil {
		return classifyRemoteError(err, ErrSlidesAPIError)
	}

	placeholders := resolvePlaceholders(presentation)

	var requests []*slides.Request
	for i, record := range records {
		slideID := slideObjectID(i)
		ph, ok := placeholders[slideID]
		if !ok {
			b.config.Logger.Warn("created slide missing from fetched presentation",
				slog.String("presentation_id", presentationID),
				slog.String("slide_id", slideID),
			)
			continue
		}

		requests = append(requests, buildContentRequests(record, ph)...)

		if record.ImagePrompt != "" {
			requests = append(requests, buildImagePromptBoxRequests(i, slideID, record.ImagePrompt)...)
		}
	}

	// The seeded default slide goes away exactly once, at the end.
	if defaultSlideID != "" {
		requests = append(requests, &slides.Request{
			DeleteObject: &slides.DeleteObjectRequest{ObjectId: defaultSlideID},
		})
	}

	b.config.Logger.Info("populating slide content",
		slog.String("presentation_id", presentationID),
		slog.String("requests", describeRequests(requests)),
	)

	if _, err := svc.BatchUpdate(ctx, presentationID, requests); err != nil {
		return classifyRemoteError(err, ErrBuildFailed)
	}
	return nil
}

// attachSpeakerNotes resolves each slide's notes-page shape and inserts the
// notes there, falling back to an on-slide text box when the shape cannot be
// located. Everything here is best effort: a deck without notes is still a
// valid deck, so failures are logged and the build continues.
func (b *Builder) attachSpeakerNotes(ctx context.Context, svc SlidesService, presentationID string, records []parser.SlideRecord) {
	hasNotes := false
	for _, record := range records {
		if record.SpeakerNotes != "" {
			hasNotes = true
			break
		}
	}
	if !hasNotes {
		return
	}

	presentation, err := b.fetchPresentation(ctx, svc, presentationID,
		"slides(objectId,slideProperties(notesPage(objectId)))")
	if err != nil {
		b.config.Logger.Warn("failed to fetch notes pages, speaker notes skipped",
			slog.String("presentation_id", presentationID),
			slog.Any("error", err),
		)
		return
	}

	notesPageIDs := make(map[string]string, len(presentation.Slides))
	for _, slide := range presentation.Slides {
		if slide.SlideProperties != nil && slide.SlideProperties.NotesPage != nil {
			notesPageIDs[slide.ObjectId] = slide.SlideProperties.NotesPage.ObjectId
		}
	}

	// The per-slide lookups are independent, so they run concurrently; each
	// goroutine writes only its own index. Lookup failures leave the shape id
	// empty, which routes that slide to the fallback box.
	notesShapeIDs := make([]string, len(records))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(notesLookupConcurrency)

	for i, record := range records {
		if record.SpeakerNotes == "" {
			continue
		}
		notesPageID := notesPageIDs[slideObjectID(i)]
		if notesPageID == "" {
			continue
		}

		group.Go(func() error {
			page, err := b.fetchPage(groupCtx, svc, presentationID, notesPageID)
			if err != nil {
				b.config.Logger.Warn("notes page lookup failed, using fallback box",
					slog.String("presentation_id", presentationID),
					slog.Int("slide", i+1),
					slog.Any("error", err),
				)
				return nil
			}
			notesShapeIDs[i] = findNotesBodyShape(page)
			return nil
		})
	}
	// Lookup goroutines never return errors; Wait is for completion only.
	_ = group.Wait()

	var requests []*slides.Request
	for i, record := range records {
		if record.SpeakerNotes == "" {
			continue
		}
		if notesShapeIDs[i] != "" {
			requests = append(requests, buildNotesInsertRequest(notesShapeIDs[i], record.SpeakerNotes))
		} else {
			requests = append(requests, buildNotesFallbackRequests(i, slideObjectID(i), record.SpeakerNotes)...)
		}
	}

	if len(requests) == 0 {
		return
	}

	b.config.Logger.Info("attaching speaker notes",
		slog.String("presentation_id", presentationID),
		slog.String("requests", describeRequests(requests)),
	)

	if _, err := svc.BatchUpdate(ctx, presentationID, requests); err != nil {
		b.config.Logger.Warn("speaker notes batch failed, deck left without notes",
			slog.String("presentation_id", presentationID),
			slog.Any("error", err),
		)
	}
}

// fetchPresentation reads the presentation, retrying transient failures when
// a retryer is configured. Reads are idempotent, so retrying is safe.
func (b *Builder) fetchPresentation(ctx context.Context, svc SlidesService, presentationID, fields string) (*slides.Presentation, error) {
	if b.config.Retryer == nil {
		return svc.GetPresentation(ctx, presentationID, fields)
	}
	return retry.DoWithResult(ctx, b.config.Retryer, func(ctx context.Context) (*slides.Presentation, int, error) {
		presentation, err := svc.GetPresentation(ctx, presentationID, fields)
		return presentation, statusCodeOf(err), err
	})
}

// fetchPage reads a single page with the same retry policy as fetchPresentation.
func (b *Builder) fetchPage(ctx context.Context, svc SlidesService, presentationID, pageObjectID string) (*slides.Page, error) {
	if b.config.Retryer == nil {
		return svc.GetPage(ctx, presentationID, pageObjectID)
	}
	return retry.DoWithResult(ctx, b.config.Retryer, func(ctx context.Context) (*slides.Page, int, error) {
		page, err := svc.GetPage(ctx, presentationID, pageObjectID)
		return page, statusCodeOf(err), err
	})
}
