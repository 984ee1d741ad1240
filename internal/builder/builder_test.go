package builder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/slides/v1"

	"github.com/smorand/prompt2slides/internal/results"
)

// mockSlidesService implements SlidesService for testing.
type mockSlidesService struct {
	CreatePresentationFunc func(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error)
	GetPresentationFunc    func(ctx context.Context, presentationID, fields string) (*slides.Presentation, error)
	GetPageFunc            func(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error)
	BatchUpdateFunc        func(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error)

	mu         sync.Mutex
	batchCalls [][]*slides.Request
}

func (m *mockSlidesService) CreatePresentation(ctx context.Context, presentation *slides.Presentation) (*slides.Presentation, error) {
	if m.CreatePresentationFunc != nil {
		return m.CreatePresentationFunc(ctx, presentation)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSlidesService) GetPresentation(ctx context.Context, presentationID, fields string) (*slides.Presentation, error) {
	if m.GetPresentationFunc != nil {
		return m.GetPresentationFunc(ctx, presentationID, fields)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSlidesService) GetPage(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error) {
	if m.GetPageFunc != nil {
		return m.GetPageFunc(ctx, presentationID, pageObjectID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSlidesService) BatchUpdate(ctx context.Context, presentationID string, requests []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
	m.mu.Lock()
	m.batchCalls = append(m.batchCalls, requests)
	m.mu.Unlock()

	if m.BatchUpdateFunc != nil {
		return m.BatchUpdateFunc(ctx, presentationID, requests)
	}
	return &slides.BatchUpdatePresentationResponse{}, nil
}

func (m *mockSlidesService) batches() [][]*slides.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// mockTokenSource implements oauth2.TokenSource for testing.
type mockTokenSource struct{}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "test-token"}, nil
}

func testConfig() Config {
	return Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func factoryFor(service SlidesService) SlidesServiceFactory {
	return func(ctx context.Context, ts oauth2.TokenSource) (SlidesService, error) {
		return service, nil
	}
}

// twoSlideService builds a mock that carries a full two-slide build through
// all phases, the second slide carrying speaker notes.
func twoSlideService() *mockSlidesService {
	return &mockSlidesService{
		CreatePresentationFunc: func(ctx context.Context, p *slides.Presentation) (*slides.Presentation, error) {
			return &slides.Presentation{PresentationId: "pres-1", Title: p.Title}, nil
		},
		GetPresentationFunc: func(ctx context.Context, presentationID, fields string) (*slides.Presentation, error) {
			switch {
			case strings.Contains(fields, "placeholder"):
				// Phase 3: created slides with server-assigned placeholders.
				return &slides.Presentation{
					Slides: []*slides.Page{
						{ObjectId: "default-0"},
						{ObjectId: "slide_0", PageElements: []*slides.PageElement{
							{ObjectId: "title-0", Shape: &slides.Shape{Placeholder: &slides.Placeholder{Type: "TITLE"}}},
							{ObjectId: "body-0", Shape: &slides.Shape{Placeholder: &slides.Placeholder{Type: "BODY"}}},
						}},
						{ObjectId: "slide_1", PageElements: []*slides.PageElement{
							{ObjectId: "title-1", Shape: &slides.Shape{Placeholder: &slides.Placeholder{Type: "CENTERED_TITLE"}}},
							{ObjectId: "body-1", Shape: &slides.Shape{Placeholder: &slides.Placeholder{Type: "BODY"}}},
						}},
					},
				}, nil
			case strings.Contains(fields, "notesPage"):
				// Phase 4: notes page ids.
				return &slides.Presentation{
					Slides: []*slides.Page{
						{ObjectId: "slide_0", SlideProperties: &slides.SlideProperties{NotesPage: &slides.Page{ObjectId: "notes-0"}}},
						{ObjectId: "slide_1", SlideProperties: &slides.SlideProperties{NotesPage: &slides.Page{ObjectId: "notes-1"}}},
					},
				}, nil
			default:
				// Phase 1: the API-seeded default slide.
				return &slides.Presentation{
					Slides: []*slides.Page{{ObjectId: "default-0"}},
				}, nil
			}
		},
		GetPageFunc: func(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error) {
			return &slides.Page{
				ObjectId: pageObjectID,
				PageElements: []*slides.PageElement{
					{ObjectId: "notes-shape-" + pageObjectID, Shape: &slides.Shape{Placeholder: &slides.Placeholder{Type: "BODY"}}},
				},
			}, nil
		},
	}
}

const twoSlideMarkdown = `# Intro
- point one
- point two
===SLIDE===
# Details
Plain prose body.
> remember the demo`

func TestBuild_TwoSlideDeck(t *testing.T) {
	service := twoSlideService()
	store := results.NewMemoryStore()
	b := New(testConfig(), factoryFor(service), store)

	output, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "Launch Deck",
		MarkdownContent: twoSlideMarkdown,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if output.PresentationID != "pres-1" {
		t.Errorf("expected presentation ID 'pres-1', got '%s'", output.PresentationID)
	}
	if output.PresentationURL != "https://docs.google.com/presentation/d/pres-1/edit" {
		t.Errorf("unexpected presentation URL: %s", output.PresentationURL)
	}
	if output.ID == "" {
		t.Error("expected a non-empty result id")
	}

	// Shells, content, notes: three batches in that order.
	batches := service.batches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batchUpdate calls, got %d", len(batches))
	}

	shells := batches[0]
	if len(shells) != 2 {
		t.Fatalf("expected 2 createSlide requests, got %d", len(shells))
	}
	for i, req := range shells {
		if req.CreateSlide == nil {
			t.Fatalf("shell request %d is not a createSlide", i)
		}
		if req.CreateSlide.SlideLayoutReference.PredefinedLayout != "TITLE_AND_BODY" {
			t.Errorf("shell %d layout = %s", i, req.CreateSlide.SlideLayoutReference.PredefinedLayout)
		}
		// Insertion skips index 0, still held by the default slide.
		if req.CreateSlide.InsertionIndex != int64(i+1) {
			t.Errorf("shell %d insertion index = %d", i, req.CreateSlide.InsertionIndex)
		}
	}

	content := batches[1]
	var inserts, bullets, deletes int
	for _, req := range content {
		switch {
		case req.InsertText != nil:
			inserts++
		case req.CreateParagraphBullets != nil:
			bullets++
		case req.DeleteObject != nil:
			deletes++
			if req.DeleteObject.ObjectId != "default-0" {
				t.Errorf("deleted object %s, want default-0", req.DeleteObject.ObjectId)
			}
		}
	}
	// Two titles and two bodies.
	if inserts != 4 {
		t.Errorf("expected 4 insertText requests, got %d", inserts)
	}
	// Only the first slide has list markers.
	if bullets != 1 {
		t.Errorf("expected 1 createParagraphBullets request, got %d", bullets)
	}
	if deletes != 1 {
		t.Errorf("expected exactly 1 deleteObject request, got %d", deletes)
	}
	if content[len(content)-1].DeleteObject == nil {
		t.Error("expected the default-slide delete to be the final content request")
	}

	notes := batches[2]
	if len(notes) != 1 {
		t.Fatalf("expected 1 notes request, got %d", len(notes))
	}
	if notes[0].InsertText == nil || notes[0].InsertText.ObjectId != "notes-shape-notes-1" {
		t.Errorf("notes insert went to the wrong shape: %+v", notes[0])
	}
	if notes[0].InsertText.Text != "remember the demo" {
		t.Errorf("unexpected notes text: %q", notes[0].InsertText.Text)
	}

	// The result record is retrievable.
	stored, err := store.Get(context.Background(), output.ID)
	if err != nil {
		t.Fatalf("result not stored: %v", err)
	}
	if stored.PresentationID != "pres-1" || stored.Type != results.ResultTypeSlides {
		t.Errorf("unexpected stored record: %+v", stored)
	}
	if stored.Title != "Launch Deck" {
		t.Errorf("unexpected stored title: %s", stored.Title)
	}
}

func TestBuild_ValidationErrors(t *testing.T) {
	factoryCalls := 0
	factory := func(ctx context.Context, ts oauth2.TokenSource) (SlidesService, error) {
		factoryCalls++
		return &mockSlidesService{}, nil
	}
	b := New(testConfig(), factory, nil)

	tests := []struct {
		name        string
		tokenSource oauth2.TokenSource
		input       BuildInput
		expectedErr error
	}{
		{
			name:        "missing token source",
			tokenSource: nil,
			input:       BuildInput{Title: "T", MarkdownContent: "body"},
			expectedErr: ErrMissingAccessToken,
		},
		{
			name:        "blank title",
			tokenSource: &mockTokenSource{},
			input:       BuildInput{Title: "   ", MarkdownContent: "body"},
			expectedErr: ErrInvalidTitle,
		},
		{
			name:        "blank markdown",
			tokenSource: &mockTokenSource{},
			input:       BuildInput{Title: "T", MarkdownContent: "\n\t "},
			expectedErr: ErrEmptyMarkdown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(context.Background(), tt.tokenSource, tt.input)
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %v", tt.expectedErr, err)
			}
			if !IsValidationError(err) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}

	// Validation failures must not reach the API at all.
	if factoryCalls != 0 {
		t.Errorf("expected no service creation, got %d", factoryCalls)
	}
}

func TestBuild_RateLimitedOnCreate(t *testing.T) {
	service := &mockSlidesService{
		CreatePresentationFunc: func(ctx context.Context, p *slides.Presentation) (*slides.Presentation, error) {
			return nil, &googleapi.Error{Code: 429, Message: "Quota exceeded"}
		},
	}
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: "body",
	})

	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if len(service.batches()) != 0 {
		t.Error("expected no batchUpdate after a failed create")
	}
}

func TestBuild_AccessDeniedOnCreate(t *testing.T) {
	service := &mockSlidesService{
		CreatePresentationFunc: func(ctx context.Context, p *slides.Presentation) (*slides.Presentation, error) {
			return nil, &googleapi.Error{Code: 403, Message: "The caller does not have permission"}
		},
	}
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: "body",
	})

	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestBuild_ShellBatchFailureAborts(t *testing.T) {
	service := twoSlideService()
	service.BatchUpdateFunc = func(ctx context.Context, id string, reqs []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
		return nil, &googleapi.Error{Code: 500, Message: "backend error"}
	}
	store := results.NewMemoryStore()
	b := New(testConfig(), factoryFor(service), store)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: twoSlideMarkdown,
	})

	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("expected ErrBuildFailed, got %v", err)
	}
	// Failed builds leave no result record.
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d records", store.Len())
	}
}

func TestBuild_NotesPageLookupFallsBack(t *testing.T) {
	service := twoSlideService()
	service.GetPageFunc = func(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error) {
		return nil, &googleapi.Error{Code: 404, Message: "notes page not found"}
	}
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: twoSlideMarkdown,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	batches := service.batches()
	notes := batches[len(batches)-1]

	// Fallback: a text box on the slide instead of the notes shape.
	var sawCreateShape bool
	for _, req := range notes {
		if req.CreateShape != nil {
			sawCreateShape = true
			if req.CreateShape.ShapeType != "TEXT_BOX" {
				t.Errorf("fallback shape type = %s", req.CreateShape.ShapeType)
			}
		}
		if req.InsertText != nil && !strings.HasPrefix(req.InsertText.Text, "NOTES: ") {
			t.Errorf("fallback notes text missing prefix: %q", req.InsertText.Text)
		}
	}
	if !sawCreateShape {
		t.Error("expected a fallback text box creation")
	}
}

func TestBuild_NotesBatchFailureIsNotFatal(t *testing.T) {
	service := twoSlideService()
	calls := 0
	service.BatchUpdateFunc = func(ctx context.Context, id string, reqs []*slides.Request) (*slides.BatchUpdatePresentationResponse, error) {
		calls++
		// Third batch is the notes batch.
		if calls == 3 {
			return nil, &googleapi.Error{Code: 500, Message: "backend error"}
		}
		return &slides.BatchUpdatePresentationResponse{}, nil
	}
	store := results.NewMemoryStore()
	b := New(testConfig(), factoryFor(service), store)

	output, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: twoSlideMarkdown,
	})
	if err != nil {
		t.Fatalf("expected success despite notes failure, got %v", err)
	}
	if output.PresentationID != "pres-1" {
		t.Errorf("unexpected presentation id: %s", output.PresentationID)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 stored result, got %d", store.Len())
	}
}

func TestBuild_NoNotesSkipsPhaseEntirely(t *testing.T) {
	service := twoSlideService()
	getPageCalls := 0
	service.GetPageFunc = func(ctx context.Context, presentationID, pageObjectID string) (*slides.Page, error) {
		getPageCalls++
		return nil, errors.New("should not be called")
	}
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: "# One\nbody\n===SLIDE===\n# Two\nmore body",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if getPageCalls != 0 {
		t.Errorf("expected no notes-page lookups, got %d", getPageCalls)
	}
	if len(service.batches()) != 2 {
		t.Errorf("expected 2 batches without notes, got %d", len(service.batches()))
	}
}

func TestBuild_ImagePromptBecomesPlaceholderBox(t *testing.T) {
	service := twoSlideService()
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(context.Background(), &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: "# One\nbody\n!> a whale breaching at sunset\n===SLIDE===\n# Two\nmore",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content := service.batches()[1]
	var sawBox, sawPromptText bool
	for _, req := range content {
		if req.CreateShape != nil && req.CreateShape.ShapeType == "RECTANGLE" {
			sawBox = true
		}
		if req.InsertText != nil && req.InsertText.Text == "IMAGE: a whale breaching at sunset" {
			sawPromptText = true
		}
	}
	if !sawBox {
		t.Error("expected an image prompt rectangle")
	}
	if !sawPromptText {
		t.Error("expected the prompt text insert")
	}
}

func TestBuild_CancelledContextStopsBetweenPhases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	service := twoSlideService()
	service.CreatePresentationFunc = func(_ context.Context, p *slides.Presentation) (*slides.Presentation, error) {
		// Cancel mid-build: the next phase boundary must observe it.
		cancel()
		return &slides.Presentation{PresentationId: "pres-1"}, nil
	}
	b := New(testConfig(), factoryFor(service), nil)

	_, err := b.Build(ctx, &mockTokenSource{}, BuildInput{
		Title:           "T",
		MarkdownContent: "body",
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
